package sstv

// reconstructColor converts the scanned channel buffers to an 8-bit RGB
// image, row-major, 3 bytes per pixel.
func reconstructColor(mode Mode, channels scannedChannels) []byte {
	switch mode.ColorModel {
	case ColorModelRobotYCbCr:
		return reconstructRobot(mode, channels)
	case ColorModelGBR:
		return reconstructGBR(mode, channels)
	case ColorModelPDYCbCr:
		return reconstructPD(mode, channels)
	default:
		return make([]byte, mode.Width*mode.Height*3)
	}
}

func newNeutralRow(width int) []byte {
	row := make([]byte, width)
	for i := range row {
		row[i] = 128
	}
	return row
}

// reconstructRobot handles both Robot 36 (alternating Cb/Cr, one chroma
// sample per line, the other held from its last transmission) and
// Robot 72 (both chroma channels sent every line). Y uses the studio
// black-16/white-235 range; chroma is treated as centered at 128.
func reconstructRobot(mode Mode, channels scannedChannels) []byte {
	width, height := mode.Width, mode.Height
	rgb := make([]byte, width*height*3)

	yRows := channels["Y"]
	alternating := len(mode.Channels) == 2 // Robot 36's shared "C" channel

	crRows := channels["Cr"]
	cbRows := channels["Cb"]

	lastCr := newNeutralRow(width)
	lastCb := newNeutralRow(width)
	crIdx, cbIdx := 0, 0

	lines := len(yRows)
	if lines > height {
		lines = height
	}

	for i := 0; i < lines; i++ {
		if alternating {
			if i%2 == 0 {
				if crIdx < len(crRows) {
					lastCr = crRows[crIdx]
					crIdx++
				}
			} else {
				if cbIdx < len(cbRows) {
					lastCb = cbRows[cbIdx]
					cbIdx++
				}
			}
		} else {
			if i < len(crRows) {
				lastCr = crRows[i]
			}
			if i < len(cbRows) {
				lastCb = cbRows[i]
			}
		}

		yRow := yRows[i]
		for x := 0; x < width; x++ {
			r, g, b := ycbcrStudioToRGB(yRow[x], lastCb[x], lastCr[x])
			putPixel(rgb, width, x, i, r, g, b)
		}
	}

	return rgb
}

// reconstructGBR handles Martin and Scottie's direct scan order.
func reconstructGBR(mode Mode, channels scannedChannels) []byte {
	width, height := mode.Width, mode.Height
	rgb := make([]byte, width*height*3)

	gRows, bRows, rRows := channels["G"], channels["B"], channels["R"]
	lines := len(gRows)
	if lines > height {
		lines = height
	}

	for i := 0; i < lines; i++ {
		for x := 0; x < width; x++ {
			var r, g, b byte
			if x < len(gRows[i]) {
				g = gRows[i][x]
			}
			if i < len(bRows) && x < len(bRows[i]) {
				b = bRows[i][x]
			}
			if i < len(rRows) && x < len(rRows[i]) {
				r = rRows[i][x]
			}
			putPixel(rgb, width, x, i, r, g, b)
		}
	}

	return rgb
}

// reconstructPD handles PD's 4:2:0 chroma subsampling: one Cb/Cr pair is
// shared by two successive luma lines.
func reconstructPD(mode Mode, channels scannedChannels) []byte {
	width, height := mode.Width, mode.Height
	rgb := make([]byte, width*height*3)

	y1Rows, y2Rows := channels["Y1"], channels["Y2"]
	crRows, cbRows := channels["Cr"], channels["Cb"]

	pairs := len(y1Rows)
	if pairs > height/2 {
		pairs = height / 2
	}

	for p := 0; p < pairs; p++ {
		var cr, cb []byte
		if p < len(crRows) {
			cr = crRows[p]
		} else {
			cr = newNeutralRow(width)
		}
		if p < len(cbRows) {
			cb = cbRows[p]
		} else {
			cb = newNeutralRow(width)
		}

		for _, pair := range []struct {
			row    []byte
			outLine int
		}{
			{y1Rows[p], p * 2},
			{y2Row(y2Rows, p), p*2 + 1},
		} {
			if pair.row == nil {
				continue
			}
			for x := 0; x < width; x++ {
				r, g, b := ycbcrFullToRGB(pair.row[x], cb[x], cr[x])
				putPixel(rgb, width, x, pair.outLine, r, g, b)
			}
		}
	}

	return rgb
}

func y2Row(rows [][]byte, idx int) []byte {
	if idx < len(rows) {
		return rows[idx]
	}
	return nil
}

func putPixel(rgb []byte, width, x, y int, r, g, b byte) {
	offset := (y*width + x) * 3
	rgb[offset] = r
	rgb[offset+1] = g
	rgb[offset+2] = b
}

// ycbcrStudioToRGB converts one pixel using the studio range (black level
// 16, white level 235) Robot uses.
func ycbcrStudioToRGB(y, cb, cr byte) (byte, byte, byte) {
	yp := (float64(y) - 16.0) * 255.0 / 219.0
	return ycbcrCombine(yp, cb, cr)
}

// ycbcrFullToRGB converts one pixel using full-range (0-255) luma, as PD
// modes transmit it.
func ycbcrFullToRGB(y, cb, cr byte) (byte, byte, byte) {
	return ycbcrCombine(float64(y), cb, cr)
}

func ycbcrCombine(yp float64, cb, cr byte) (byte, byte, byte) {
	cbf := float64(cb) - 128
	crf := float64(cr) - 128
	r := yp + 1.402*crf
	g := yp - 0.344136*cbf - 0.714136*crf
	b := yp + 1.772*cbf
	return clamp8(r), clamp8(g), clamp8(b)
}
