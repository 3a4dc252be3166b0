package sstv

import "math"

// hilbertTaps is the length of the FIR Hilbert transformer used to build
// the analytic signal. Odd length, centered at zero, Hamming-windowed —
// 65 taps gives a flat response from a few hundred Hz through the SSTV
// subcarrier range (1.1-2.3 kHz) at a 48 kHz sample rate.
const hilbertTaps = 65

// hilbertKernel returns the FIR coefficients for an ideal discrete Hilbert
// transformer windowed by a Hamming window, following the standard
// "2/(pi*n) for odd n, 0 for even n" construction.
func hilbertKernel() []float64 {
	n := hilbertTaps
	half := n / 2
	h := make([]float64, n)
	for i := 0; i < n; i++ {
		k := i - half
		if k%2 == 0 {
			h[i] = 0
			continue
		}
		ideal := 2.0 / (math.Pi * float64(k))
		window := 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
		h[i] = ideal * window
	}
	return h
}

// instantaneousFrequency builds the analytic signal via an FIR Hilbert
// transform, takes the phase difference between consecutive samples, and
// scales to Hz. The Hilbert FIR is applied centered on each sample, so the
// real part is the sample itself and the returned slice is aligned with
// samples; the first and last hilbertTaps/2 values see zero padding.
func instantaneousFrequency(samples []int16, sampleRate int) []float64 {
	kernel := hilbertKernel()
	half := hilbertTaps / 2

	n := len(samples)
	imag := make([]float64, n)
	real := make([]float64, n)

	for i := 0; i < n; i++ {
		var acc float64
		for k := 0; k < hilbertTaps; k++ {
			srcIdx := i - (k - half)
			if srcIdx < 0 || srcIdx >= n {
				continue
			}
			acc += kernel[k] * float64(samples[srcIdx])
		}
		imag[i] = acc
		real[i] = float64(samples[i])
	}

	phase := make([]float64, n)
	for i := 0; i < n; i++ {
		phase[i] = math.Atan2(imag[i], real[i])
	}

	freq := make([]float64, n)
	for i := 1; i < n; i++ {
		diff := phase[i] - phase[i-1]
		// Unwrap into (-pi, pi] so a wraparound doesn't register as a huge
		// frequency spike.
		for diff > math.Pi {
			diff -= 2 * math.Pi
		}
		for diff <= -math.Pi {
			diff += 2 * math.Pi
		}
		freq[i] = diff / (2 * math.Pi) * float64(sampleRate)
	}
	if n > 0 {
		freq[0] = freq[minInt(1, n-1)]
	}

	return freq
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
