package sstv

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

// toneGen synthesizes a phase-continuous tone sequence, used to build a
// self-consistent SSTV signal this package's own decoder can round-trip
// against (there is no external reference encoder available, so the test
// plays both roles: encoding a known image into tones, then decoding it
// back).
type toneGen struct {
	sampleRate int
	phase      float64
}

func (g *toneGen) tone(freqHz float64, d time.Duration) []int16 {
	n := int(d.Seconds() * float64(g.sampleRate))
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(16000 * math.Sin(g.phase))
		g.phase += 2 * math.Pi * freqHz / float64(g.sampleRate)
	}
	return out
}

func buildWAV(samples []int16, sampleRate int) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(data)))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], 1) // mono
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	byteRate := uint32(sampleRate * 2)
	binary.LittleEndian.PutUint32(header[28:32], byteRate)
	binary.LittleEndian.PutUint16(header[32:34], 2)
	binary.LittleEndian.PutUint16(header[34:36], 16)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(data)))

	return append(header, data...)
}

// visBits returns the 8 transmitted VIS bits (7 mode bits LSB-first, then
// an even-parity bit), matching the encoding detectVIS expects.
func visBits(code byte) [8]byte {
	var bits [8]byte
	ones := 0
	for b := 0; b < 7; b++ {
		bit := (code >> b) & 1
		bits[b] = bit
		if bit == 1 {
			ones++
		}
	}
	bits[7] = byte(ones % 2)
	return bits
}

func synthesizeSSTV(modeCode byte, sampleRate int, pixelValue byte) []byte {
	mode, ok := lookupMode(modeCode)
	if !ok {
		panic("unknown test mode")
	}

	gen := &toneGen{sampleRate: sampleRate}
	var samples []int16

	samples = append(samples, gen.tone(visTone1900Hz, 300*time.Millisecond)...)
	samples = append(samples, gen.tone(visTone1200Hz, 10*time.Millisecond)...)
	samples = append(samples, gen.tone(visTone1900Hz, 300*time.Millisecond)...)
	samples = append(samples, gen.tone(visTone1200Hz, 30*time.Millisecond)...) // start bit

	bits := visBits(modeCode)
	for _, bit := range bits {
		freq := visTone1100Hz
		if bit == 1 {
			freq = visTone1300Hz
		}
		samples = append(samples, gen.tone(freq, 30*time.Millisecond)...)
	}
	samples = append(samples, gen.tone(visTone1200Hz, 30*time.Millisecond)...) // stop bit

	pixelFreq := 1500.0 + float64(pixelValue)/255.0*800.0

	lines := mode.Height
	if mode.TwoLinePD {
		lines = mode.Height / 2
	}
	for line := 0; line < lines; line++ {
		samples = append(samples, gen.tone(visTone1200Hz, mode.SyncDuration)...)
		samples = append(samples, gen.tone(1500, mode.PorchDuration)...)
		for _, ch := range mode.Channels {
			_ = ch
			samples = append(samples, gen.tone(pixelFreq, ch.Duration)...)
		}
	}

	return buildWAV(samples, sampleRate)
}

// TestDecodeScottieS1RoundTrip verifies that a synthesized uniform-gray
// image decodes with a "good" verdict and channel averages within ±10 of
// the expected value.
func TestDecodeScottieS1RoundTrip(t *testing.T) {
	const sampleRate = 48000
	const pixelValue = 128

	wav := synthesizeSSTV(0x3C, sampleRate, pixelValue)

	result, err := Decode(wav)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if result.Diagnostics.Mode != "Scottie S1" {
		t.Fatalf("expected Scottie S1, got %q", result.Diagnostics.Mode)
	}
	if result.Diagnostics.Verdict != "good" {
		t.Fatalf("expected good verdict, got %q (warnings=%v, brightness=%.1f)",
			result.Diagnostics.Verdict, result.Diagnostics.Warnings, result.Diagnostics.Brightness)
	}

	for _, name := range []string{"G", "B", "R"} {
		avg, ok := result.Diagnostics.ChannelAverages[name]
		if !ok {
			t.Fatalf("missing channel average for %s", name)
		}
		if math.Abs(avg-pixelValue) > 10 {
			t.Fatalf("channel %s average %.1f outside ±10 of expected %d", name, avg, pixelValue)
		}
	}

	if result.Diagnostics.LinesDecoded < int(0.95*float64(result.Diagnostics.ExpectedLines)) {
		t.Fatalf("expected nearly all lines decoded, got %d/%d", result.Diagnostics.LinesDecoded, result.Diagnostics.ExpectedLines)
	}
}

// TestDecodePD90RoundTrip verifies the PD color model's two-line chroma
// subsampling round-trips correctly and, since the VIS code table was once
// scrambled for every PD mode, pins PD-90's code to the standard 0x63.
func TestDecodePD90RoundTrip(t *testing.T) {
	const sampleRate = 48000
	const pixelValue = 128

	mode, ok := lookupMode(0x63)
	if !ok || mode.Name != "PD-90" {
		t.Fatalf("expected VIS code 0x63 to map to PD-90, got %+v (ok=%v)", mode, ok)
	}

	wav := synthesizeSSTV(0x63, sampleRate, pixelValue)

	result, err := Decode(wav)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if result.Diagnostics.Mode != "PD-90" {
		t.Fatalf("expected PD-90, got %q", result.Diagnostics.Mode)
	}
	if result.Diagnostics.VISCode != 0x63 {
		t.Fatalf("expected VIS code 0x63, got 0x%02X", result.Diagnostics.VISCode)
	}

	for _, name := range []string{"Y1", "Y2", "Cr", "Cb"} {
		avg, ok := result.Diagnostics.ChannelAverages[name]
		if !ok {
			t.Fatalf("missing channel average for %s", name)
		}
		if math.Abs(avg-pixelValue) > 10 {
			t.Fatalf("channel %s average %.1f outside ±10 of expected %d", name, avg, pixelValue)
		}
	}

	if result.Diagnostics.LinesDecoded < int(0.95*float64(result.Diagnostics.ExpectedLines)) {
		t.Fatalf("expected nearly all lines decoded, got %d/%d", result.Diagnostics.LinesDecoded, result.Diagnostics.ExpectedLines)
	}
}

// TestDecodeUnsupportedWAVRejectsStereo verifies step 1's stereo/non-16-bit
// rejection.
func TestDecodeUnsupportedWAVRejectsStereo(t *testing.T) {
	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1)
	binary.LittleEndian.PutUint16(header[22:24], 2) // stereo
	binary.LittleEndian.PutUint32(header[24:28], 48000)
	binary.LittleEndian.PutUint16(header[32:34], 4)
	binary.LittleEndian.PutUint16(header[34:36], 16)
	copy(header[36:40], "data")

	_, err := Decode(header)
	if err != ErrUnsupportedWAV {
		t.Fatalf("expected ErrUnsupportedWAV, got %v", err)
	}
}

// TestDecodeNoVISFound verifies a silent/flat recording fails with
// no_vis_found rather than panicking or misdetecting.
func TestDecodeNoVISFound(t *testing.T) {
	samples := make([]int16, 48000*2) // 2s of silence
	wav := buildWAV(samples, 48000)

	_, err := Decode(wav)
	if err != ErrNoVISFound {
		t.Fatalf("expected ErrNoVISFound, got %v", err)
	}
}
