package sstv

import "math"

// assessQuality scores a decoded frame's overall reliability.
func assessQuality(mode Mode, channels scannedChannels, rgb []byte, freqOffsetHz float64, linesDecoded int) Diagnostics {
	expectedLines := mode.Height
	if mode.TwoLinePD {
		expectedLines = mode.Height / 2
	}

	channelAverages := channelAverages(channels)

	var sum float64
	var clippedCounts [3]int
	pixelCount := len(rgb) / 3
	for i := 0; i < pixelCount; i++ {
		r, g, b := rgb[i*3], rgb[i*3+1], rgb[i*3+2]
		sum += (float64(r) + float64(g) + float64(b)) / 3
		if r == 255 {
			clippedCounts[0]++
		}
		if g == 255 {
			clippedCounts[1]++
		}
		if b == 255 {
			clippedCounts[2]++
		}
	}
	brightness := 0.0
	if pixelCount > 0 {
		brightness = sum / float64(pixelCount)
	}

	var warnings []string

	for _, c := range clippedCounts {
		if pixelCount > 0 && float64(c)/float64(pixelCount) > 0.05 {
			warnings = append(warnings, "clipped")
			break
		}
	}
	if brightness < 40 {
		warnings = append(warnings, "dark")
	}
	if brightness > 220 {
		warnings = append(warnings, "washed")
	}
	if math.Abs(freqOffsetHz) > 100 {
		warnings = append(warnings, "frequency_offset_large")
	}
	lineRatio := 1.0
	if expectedLines > 0 {
		lineRatio = float64(linesDecoded) / float64(expectedLines)
	}
	if lineRatio < 0.8 {
		warnings = append(warnings, "short_signal")
	}

	verdict := classifyVerdict(warnings, brightness, lineRatio)

	return Diagnostics{
		Mode:            mode.Name,
		VISCode:         mode.Code,
		FreqOffsetHz:    freqOffsetHz,
		ChannelAverages: channelAverages,
		Brightness:      brightness,
		Verdict:         verdict,
		Warnings:        warnings,
		LinesDecoded:    linesDecoded,
		ExpectedLines:   expectedLines,
	}
}

// classifyVerdict applies a verdict ladder: junk
// for badly truncated signals, good for a clean decode with brightness in
// the expected band, acceptable for at most one warning, weak otherwise.
func classifyVerdict(warnings []string, brightness, lineRatio float64) string {
	if lineRatio < 0.4 {
		return "junk"
	}
	if len(warnings) == 0 && brightness >= 60 && brightness <= 180 {
		return "good"
	}
	if len(warnings) <= 1 {
		return "acceptable"
	}
	return "weak"
}

func channelAverages(channels scannedChannels) map[string]float64 {
	out := make(map[string]float64, len(channels))
	for name, rows := range channels {
		var sum float64
		var n int
		for _, row := range rows {
			for _, v := range row {
				sum += float64(v)
				n++
			}
		}
		if n > 0 {
			out[name] = sum / float64(n)
		}
	}
	return out
}
