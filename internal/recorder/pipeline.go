package recorder

import (
	"encoding/binary"
	"fmt"
	"os/exec"

	"github.com/milesburton/night-watch/internal/config"
	"github.com/milesburton/night-watch/internal/satellite"
)

// pipeline describes one of the signal-kind recording chains: how to spawn
// the SDR source process, and how to convert
// its raw output into the sample format written to the WAV file.
type pipeline struct {
	command       func(cfg config.ReceiverConfig, sat satellite.Satellite) (name string, args []string)
	numChannels   uint16
	bitsPerSample uint16
	sampleRate    func(sat satellite.Satellite) uint32
	// newConverter returns a fresh, session-scoped converter so stateful
	// filters (de-emphasis, DC blocking) never leak state between recordings.
	newConverter func(sampleRate uint32) func(raw []byte) []byte
}

// selectPipeline picks the recording chain for sat: SSTV uses narrowband FM with a DC-blocking filter, LRPT uses raw
// baseband IQ converted to stereo, and anything else falls back to
// de-emphasized narrowband FM (the Open Question decision recorded in
// DESIGN.md).
func selectPipeline(sat satellite.Satellite) pipeline {
	switch {
	case sat.Kind == satellite.SignalSSTV:
		return sstvFMPipeline()
	case sat.Kind == satellite.SignalLRPT && sat.Demod == satellite.DemodBasebandIQ:
		return lrptBasebandPipeline()
	default:
		return fmNarrowbandPipeline()
	}
}

// sstvFMPipeline demodulates narrowband FM at 48 kHz mono 16-bit, then
// removes DC offset with an order-9 FIR moving-average filter before
// writing samples — SSTV line timing is sensitive to baseline drift.
func sstvFMPipeline() pipeline {
	return pipeline{
		command: func(cfg config.ReceiverConfig, sat satellite.Satellite) (string, []string) {
			return "rtl_fm", rtlFmArgs(cfg, sat.FreqHz, 48000)
		},
		numChannels:   1,
		bitsPerSample: 16,
		sampleRate:    func(satellite.Satellite) uint32 { return 48000 },
		newConverter: func(uint32) func([]byte) []byte {
			return newDCBlockFIR9().apply
		},
	}
}

// fmNarrowbandPipeline demodulates narrowband FM at the satellite's
// configured sample rate with classic de-emphasis applied.
func fmNarrowbandPipeline() pipeline {
	return pipeline{
		command: func(cfg config.ReceiverConfig, sat satellite.Satellite) (string, []string) {
			rate := sat.SampleRate
			if rate == 0 {
				rate = cfg.SampleRate
			}
			return "rtl_fm", rtlFmArgs(cfg, sat.FreqHz, rate)
		},
		numChannels:   1,
		bitsPerSample: 16,
		sampleRate: func(sat satellite.Satellite) uint32 {
			if sat.SampleRate > 0 {
				return uint32(sat.SampleRate)
			}
			return 48000
		},
		newConverter: func(sampleRate uint32) func([]byte) []byte {
			return newEmphasisFilter(float64(sampleRate)).apply
		},
	}
}

// lrptBasebandPipeline captures raw baseband IQ at 1,024,000 Hz for offline
// LRPT decoding. rtl_sdr emits unsigned 8-bit interleaved I/Q; Night Watch
// stores it as signed 16-bit stereo (I on the left channel, Q on the
// right) so the WAV container and downstream tools can use a standard
// reader instead of a bespoke u8-IQ format.
func lrptBasebandPipeline() pipeline {
	return pipeline{
		command: func(cfg config.ReceiverConfig, sat satellite.Satellite) (string, []string) {
			return "rtl_sdr", rtlSdrArgs(cfg, sat.FreqHz, sat.SampleRate)
		},
		numChannels:   2,
		bitsPerSample: 16,
		sampleRate:    func(sat satellite.Satellite) uint32 { return uint32(sat.SampleRate) },
		newConverter: func(uint32) func([]byte) []byte {
			return newIQToStereo16().apply
		},
	}
}

func rtlFmArgs(cfg config.ReceiverConfig, freqHz, sampleRate int) []string {
	return []string{
		"-f", fmt.Sprintf("%d", freqHz),
		"-s", fmt.Sprintf("%d", sampleRate),
		"-g", fmt.Sprintf("%.1f", cfg.Gain),
		"-p", fmt.Sprintf("%d", cfg.PPMCorrection),
		"-d", fmt.Sprintf("%d", cfg.DeviceIndex),
		"-E", "dc",
		"-M", "fm",
		"-",
	}
}

func rtlSdrArgs(cfg config.ReceiverConfig, freqHz, sampleRate int) []string {
	return []string{
		"-f", fmt.Sprintf("%d", freqHz),
		"-s", fmt.Sprintf("%d", sampleRate),
		"-g", fmt.Sprintf("%.1f", cfg.Gain),
		"-p", fmt.Sprintf("%d", cfg.PPMCorrection),
		"-d", fmt.Sprintf("%d", cfg.DeviceIndex),
		"-",
	}
}

// buildCommand constructs the exec.Cmd for a pipeline. Exposed as a
// variable (not a method taking context directly) so tests can stub it out
// without spawning a real subprocess.
var buildCommand = exec.Command

// oddByteCarry buffers a trailing odd byte across Read calls. A subprocess
// pipe read can legitimately return an odd byte count on any call, not
// just at EOF; without carrying that byte forward, every 2-byte-framed
// converter downstream of such a read would desync its sample boundary
// for the rest of the capture.
type oddByteCarry struct {
	pending    byte
	hasPending bool
}

// align prepends any byte carried from the previous call, then, if the
// result is still odd, carries the new trailing byte forward and returns
// an even-length slice.
func (c *oddByteCarry) align(raw []byte) []byte {
	if c.hasPending {
		raw = append([]byte{c.pending}, raw...)
		c.hasPending = false
	}
	if len(raw)%2 != 0 {
		c.pending = raw[len(raw)-1]
		c.hasPending = true
		raw = raw[:len(raw)-1]
	}
	return raw
}

// dcBlockFIR9 is a 9-tap moving-average high-pass filter: y[n] = x[n] -
// mean(x[n-8..n]). SSTV line timing is sensitive to baseline drift, so
// each recording session gets its own filter instance (history must not
// carry over between sessions).
type dcBlockFIR9 struct {
	oddByteCarry
	history [9]int32
	sum     int32
	idx     int
}

func newDCBlockFIR9() *dcBlockFIR9 {
	return &dcBlockFIR9{}
}

// apply filters raw in place of a copy, one little-endian int16 sample at a
// time, carrying any trailing odd byte over to the next call.
func (f *dcBlockFIR9) apply(raw []byte) []byte {
	const taps = 9
	raw = f.align(raw)
	n := len(raw) / 2
	out := make([]byte, n*2)

	for i := 0; i < n; i++ {
		sample := int32(int16(binary.LittleEndian.Uint16(raw[i*2:])))

		f.sum -= f.history[f.idx]
		f.history[f.idx] = sample
		f.sum += sample
		f.idx = (f.idx + 1) % taps

		mean := f.sum / taps
		filtered := sample - mean
		if filtered > 32767 {
			filtered = 32767
		} else if filtered < -32768 {
			filtered = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(filtered)))
	}
	return out
}

// emphasisFilter applies a single-pole low-pass IIR matching the classic
// 75 microsecond FM broadcast de-emphasis curve. A fresh filter is used
// per recording session so its running state never leaks across captures.
type emphasisFilter struct {
	oddByteCarry
	alpha float64
	prev  float64
}

func newEmphasisFilter(sampleRate float64) *emphasisFilter {
	const tauSeconds = 75e-6
	dt := 1.0 / sampleRate
	alpha := dt / (tauSeconds + dt)
	return &emphasisFilter{alpha: alpha}
}

func (f *emphasisFilter) apply(raw []byte) []byte {
	raw = f.align(raw)
	n := len(raw) / 2
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		sample := float64(int16(binary.LittleEndian.Uint16(raw[i*2:])))
		f.prev += f.alpha * (sample - f.prev)
		v := int32(f.prev)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// iqToStereo16 converts unsigned 8-bit interleaved I/Q samples (centered on
// 128, rtl_sdr's native format) to signed 16-bit stereo PCM. Like the FM
// pipelines' filters, it gets a fresh instance per recording session so an
// odd byte carried from one capture never bleeds into the next.
type iqToStereo16 struct {
	oddByteCarry
}

func newIQToStereo16() *iqToStereo16 {
	return &iqToStereo16{}
}

func (c *iqToStereo16) apply(raw []byte) []byte {
	raw = c.align(raw)
	n := len(raw) / 2 // one sample pair -> one stereo frame
	out := make([]byte, n*4)
	for i := 0; i < n; i++ {
		iSample := int16((int32(raw[i*2]) - 128) * 256)
		qSample := int16((int32(raw[i*2+1]) - 128) * 256)
		binary.LittleEndian.PutUint16(out[i*4:], uint16(iSample))
		binary.LittleEndian.PutUint16(out[i*4+2:], uint16(qSample))
	}
	return out
}
