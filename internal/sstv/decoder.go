// Package sstv's decoder.go implements the SstvDecoder pipeline end to end:
// WAV parsing, instantaneous-frequency demodulation (demod.go), VIS
// detection and frequency calibration (vis.go), mode-table lookup
// (modes.go), line scan, color reconstruction, manual PNG encoding
// (png.go), and quality assessment. This is the most algorithmically
// substantial piece of the package, built from the SSTV analog-TV
// transmission format itself rather than adapted from an existing
// implementation.
package sstv

import (
	"encoding/binary"
	"errors"
	"math"
)

// Failure modes. All are surfaced to
// the caller as a nil *DecodeResult plus one of these errors; callers must
// treat that as "no image produced" without aborting the wider pipeline.
var (
	ErrUnsupportedWAV = errors.New("sstv: unsupported wav (must be mono, 16-bit PCM)")
	ErrNoVISFound     = errors.New("sstv: no VIS header found in first 10s")
	ErrUnknownMode    = errors.New("sstv: unrecognized VIS mode code")
	ErrTruncated      = errors.New("sstv: recording ended before expected image length")
	ErrIOError        = errors.New("sstv: i/o error reading wav")
)

// Diagnostics carries everything besides the image itself: the detected
// mode, VIS code, frequency offset, and per-channel quality figures.
type Diagnostics struct {
	Mode            string
	VISCode         byte
	FreqOffsetHz    float64
	ChannelAverages map[string]float64
	Brightness      float64
	Verdict         string
	Warnings        []string
	LinesDecoded    int
	ExpectedLines   int
}

// DecodeResult is the full output of Decode.
type DecodeResult struct {
	Width       int
	Height      int
	RGB         []byte // row-major, 3 bytes/pixel
	PNG         []byte
	Diagnostics Diagnostics
}

// Decode runs the full SstvDecoder pipeline over a WAV file's raw bytes.
func Decode(wavBytes []byte) (*DecodeResult, error) {
	samples, sampleRate, err := parseWAV(wavBytes)
	if err != nil {
		return nil, err
	}
	if sampleRate < 11000 {
		return nil, ErrUnsupportedWAV
	}

	freq := instantaneousFrequency(samples, sampleRate)

	vis, found := detectVIS(freq, sampleRate)
	if !found {
		return nil, ErrNoVISFound
	}

	mode, ok := lookupMode(vis.Code)
	if !ok {
		return nil, ErrUnknownMode
	}

	channels, linesDecoded := scanLines(freq, sampleRate, vis, mode)

	rgb := reconstructColor(mode, channels)

	diag := assessQuality(mode, channels, rgb, vis.FreqOffsetHz, linesDecoded)

	png, err := encodePNG(mode.Width, mode.Height, rgb)
	if err != nil {
		return nil, ErrIOError
	}

	if linesDecoded == 0 {
		return nil, ErrTruncated
	}

	return &DecodeResult{
		Width: mode.Width, Height: mode.Height, RGB: rgb, PNG: png,
		Diagnostics: diag,
	}, nil
}

// parseWAV rejects anything but mono 16-bit PCM.
func parseWAV(data []byte) ([]int16, int, error) {
	if len(data) < 44 {
		return nil, 0, ErrUnsupportedWAV
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, ErrUnsupportedWAV
	}

	var (
		numChannels   uint16
		bitsPerSample uint16
		sampleRate    uint32
		dataOffset    int
		dataSize      uint32
		sawFmt        bool
	)

	pos := 12
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkSize := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		bodyStart := pos + 8

		switch chunkID {
		case "fmt ":
			if bodyStart+16 > len(data) {
				return nil, 0, ErrUnsupportedWAV
			}
			body := data[bodyStart:]
			numChannels = binary.LittleEndian.Uint16(body[2:4])
			sampleRate = binary.LittleEndian.Uint32(body[4:8])
			bitsPerSample = binary.LittleEndian.Uint16(body[14:16])
			sawFmt = true
		case "data":
			dataOffset = bodyStart
			dataSize = chunkSize
		}

		pos = bodyStart + int(chunkSize)
		if chunkSize%2 == 1 {
			pos++ // chunks are word-aligned
		}
	}

	if !sawFmt || dataOffset == 0 {
		return nil, 0, ErrUnsupportedWAV
	}
	if numChannels != 1 || bitsPerSample != 16 {
		return nil, 0, ErrUnsupportedWAV
	}

	end := dataOffset + int(dataSize)
	if end > len(data) {
		end = len(data)
	}
	raw := data[dataOffset:end]
	n := len(raw) / 2
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return samples, int(sampleRate), nil
}

// scannedChannels holds, per named channel ("Y", "Cb", "Cr", "G", "B", "R",
// "Y1", "Y2"), one row of 8-bit samples per decoded line.
type scannedChannels map[string][][]byte

// freqSearchWindowMs bounds how far scanLines looks around the expected
// sync position for the actual 1200 Hz pulse, tolerating modest drift
// between the encoder's and decoder's idea of elapsed time.
const freqSearchWindowMs = 5

// scanLines locates each line's horizontal
// sync pulse, then sample every channel's scan region, mapping frequency
// to an 8-bit pixel value. Returns one row of samples per channel per
// decoded line, and how many lines were actually decoded before the
// recording ran out.
func scanLines(freq []float64, sampleRate int, vis visResult, mode Mode) (scannedChannels, int) {
	pos := vis.EndSample
	offset := vis.FreqOffsetHz

	expectedLines := mode.Height
	if mode.TwoLinePD {
		expectedLines = mode.Height / 2
	}

	result := make(scannedChannels)
	for _, ch := range mode.Channels {
		result[ch.Name] = make([][]byte, 0, expectedLines)
	}

	syncSamples := int(float64(mode.SyncDuration) / 1e9 * float64(sampleRate))
	porchSamples := int(float64(mode.PorchDuration) / 1e9 * float64(sampleRate))
	searchWindow := msToSamples(freqSearchWindowMs, sampleRate)

	decoded := 0
	for line := 0; line < expectedLines; line++ {
		syncPos := locateSync(freq, pos-searchWindow, searchWindow*2, syncSamples, offset)
		if syncPos < 0 || syncPos+syncSamples+porchSamples >= len(freq) {
			break
		}
		pos = syncPos + syncSamples + porchSamples

		lineOK := true
		for _, ch := range mode.Channels {
			name := ch.Name
			if mode.ColorModel == ColorModelRobotYCbCr && name == "C" {
				if line%2 == 0 {
					name = "Cr"
				} else {
					name = "Cb"
				}
				if _, ok := result[name]; !ok {
					result[name] = make([][]byte, 0, expectedLines)
				}
			}

			chanSamples := int(float64(ch.Duration) / 1e9 * float64(sampleRate))
			if pos+chanSamples > len(freq) {
				lineOK = false
				break
			}
			row := sampleChannel(freq, pos, chanSamples, mode.Width, offset)
			result[name] = append(result[name], row)
			pos += chanSamples
		}

		if !lineOK {
			break
		}
		decoded++
	}

	return result, decoded
}

// locateSync searches [from, from+window) for the best-matching 1200 Hz
// pulse of syncSamples length, returning its start index or -1 if nothing
// within tolerance is found. It picks the position whose windowed average
// is closest to 1200 Hz.
func locateSync(freq []float64, from, window, syncSamples int, offset float64) int {
	if from < 0 {
		from = 0
	}
	best := -1
	bestDiff := math.Inf(1)
	step := syncSamples / 8
	if step < 1 {
		step = 1
	}
	for i := from; i < from+window; i += step {
		if i < 0 || i+syncSamples > len(freq) {
			continue
		}
		mean := windowMean(freq, i, syncSamples) - offset
		diff := math.Abs(mean - visTone1200Hz)
		if diff < bestDiff {
			bestDiff = diff
			best = i
		}
	}
	if bestDiff > toneTolerance*2 {
		// Nothing plausible nearby — fall back to "from" so the line scan
		// degrades gracefully (producing noisy pixels) instead of stalling.
		if from+syncSamples <= len(freq) {
			return from
		}
		return -1
	}
	return best
}

// sampleChannel samples width evenly-spaced points across a channel's scan
// region and maps each to an 8-bit pixel value:
// pixel = clamp(((freq-1500)/800)*255, 0, 255).
func sampleChannel(freq []float64, start, length, width int, offset float64) []byte {
	row := make([]byte, width)
	for x := 0; x < width; x++ {
		sampleIdx := start + x*length/width
		if sampleIdx >= len(freq) {
			sampleIdx = len(freq) - 1
		}
		f := freq[sampleIdx] - offset
		v := (f - 1500.0) / 800.0 * 255.0
		row[x] = clamp8(v)
	}
	return row
}

func clamp8(v float64) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
