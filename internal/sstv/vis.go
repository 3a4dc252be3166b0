package sstv

import "math"

// VIS tone frequencies.
const (
	visTone1900Hz = 1900.0
	visTone1200Hz = 1200.0
	visTone1100Hz = 1100.0 // logical 0
	visTone1300Hz = 1300.0 // logical 1

	leaderDurationMs = 300
	breakDurationMs  = 10
	bitDurationMs    = 30
	toneTolerance    = 75.0 // Hz, generous enough for a noisy analytic-signal estimate
)

// visResult is what detectVIS finds.
type visResult struct {
	// EndSample is the sample index immediately after the stop bit.
	EndSample int
	Code      byte
	FreqOffsetHz float64
}

// windowMean averages freq over [startSample, startSample+durationSamples).
// Samples outside [0, len(freq)) are ignored.
func windowMean(freq []float64, startSample, durationSamples int) float64 {
	var sum float64
	var n int
	end := startSample + durationSamples
	for i := startSample; i < end; i++ {
		if i < 0 || i >= len(freq) {
			continue
		}
		sum += freq[i]
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func closeTo(v, target, tolerance float64) bool {
	return math.Abs(v-target) <= tolerance
}

func msToSamples(ms int, sampleRate int) int {
	return ms * sampleRate / 1000
}

// detectVIS searches the first ~10s of freq for the VIS leader
// (300ms of 1900 Hz, a 10ms 1200 Hz break, 300ms of 1900 Hz), decodes the following start bit + 8 data bits
// (7 mode bits LSB-first, 1 parity) + stop bit, and returns the sample
// index right after the stop bit plus the 7-bit mode code. Frequency
// calibration is folded in here since the leader's two known tones are
// the calibration reference.
func detectVIS(freq []float64, sampleRate int) (visResult, bool) {
	searchLimit := 10 * sampleRate
	if searchLimit > len(freq) {
		searchLimit = len(freq)
	}

	leaderSamples := msToSamples(leaderDurationMs, sampleRate)
	breakSamples := msToSamples(breakDurationMs, sampleRate)
	bitSamples := msToSamples(bitDurationMs, sampleRate)
	stepSamples := sampleRate / 1000 // scan in 1ms increments

	for start := 0; start+2*leaderSamples+breakSamples < searchLimit; start += stepSamples {
		seg1 := windowMean(freq, start, leaderSamples)
		seg2 := windowMean(freq, start+leaderSamples, breakSamples)
		seg3 := windowMean(freq, start+leaderSamples+breakSamples, leaderSamples)

		if !closeTo(seg1, visTone1900Hz, toneTolerance) ||
			!closeTo(seg2, visTone1200Hz, toneTolerance) ||
			!closeTo(seg3, visTone1900Hz, toneTolerance) {
			continue
		}

		offset := ((seg1 - visTone1900Hz) + (seg3 - visTone1900Hz) + (seg2 - visTone1200Hz)) / 3

		bitsStart := start + 2*leaderSamples + breakSamples
		startBit := windowMean(freq, bitsStart, bitSamples) - offset
		if !closeTo(startBit, visTone1200Hz, toneTolerance) {
			continue
		}

		var code byte
		parityOnes := 0
		ok := true
		for b := 0; b < 8; b++ {
			segStart := bitsStart + bitSamples + b*bitSamples
			tone := windowMean(freq, segStart, bitSamples) - offset
			var bit byte
			switch {
			case closeTo(tone, visTone1300Hz, toneTolerance):
				bit = 1
			case closeTo(tone, visTone1100Hz, toneTolerance):
				bit = 0
			default:
				ok = false
			}
			if !ok {
				break
			}
			if b < 7 {
				code |= bit << b // LSB-first
				if bit == 1 {
					parityOnes++
				}
			} else if bit == 1 {
				parityOnes++
			}
		}
		if !ok {
			continue
		}
		if parityOnes%2 != 0 {
			// Even parity violated; not a real VIS header at this offset.
			continue
		}

		stopBitStart := bitsStart + bitSamples + 8*bitSamples
		stopBit := windowMean(freq, stopBitStart, bitSamples) - offset
		if !closeTo(stopBit, visTone1200Hz, toneTolerance) {
			continue
		}

		return visResult{
			EndSample:    stopBitStart + bitSamples,
			Code:         code,
			FreqOffsetHz: offset,
		}, true
	}

	return visResult{}, false
}
