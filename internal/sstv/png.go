package sstv

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"hash/crc32"
)

// encodePNG writes an 8-bit RGB, non-interlaced PNG by hand: signature,
// IHDR, one IDAT chunk (filter byte 0 per row followed by the row's RGB
// bytes, DEFLATE level 6), IEND. The standard library's image/png is
// deliberately not used here — the point is the exact byte-level chunk and
// CRC layout the PNG format specifies; hash/crc32's IEEE table is exactly
// the 0xEDB88320 polynomial the format calls for, so it is used directly
// for the per-chunk checksum, and compress/zlib supplies the DEFLATE
// container IDAT's bytes must be wrapped in.
func encodePNG(width, height int, rgb []byte) ([]byte, error) {
	if len(rgb) != width*height*3 {
		panic("encodePNG: rgb buffer does not match width*height*3")
	}

	var out bytes.Buffer
	out.Write([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'})

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], uint32(width))
	binary.BigEndian.PutUint32(ihdr[4:8], uint32(height))
	ihdr[8] = 8  // bit depth
	ihdr[9] = 2  // color type 2: truecolor (RGB)
	ihdr[10] = 0 // compression method
	ihdr[11] = 0 // filter method
	ihdr[12] = 0 // interlace method
	writeChunk(&out, "IHDR", ihdr)

	filtered := make([]byte, 0, height*(1+width*3))
	stride := width * 3
	for y := 0; y < height; y++ {
		filtered = append(filtered, 0) // filter type 0: None
		row := rgb[y*stride : (y+1)*stride]
		filtered = append(filtered, row...)
	}

	var compressed bytes.Buffer
	const deflateLevel6 = 6
	zw, err := zlib.NewWriterLevel(&compressed, deflateLevel6)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(filtered); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	writeChunk(&out, "IDAT", compressed.Bytes())

	writeChunk(&out, "IEND", nil)

	return out.Bytes(), nil
}

// writeChunk appends a length-prefixed, CRC-suffixed PNG chunk to buf.
func writeChunk(buf *bytes.Buffer, chunkType string, data []byte) {
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(data)))
	buf.Write(lenBytes[:])

	typeAndData := make([]byte, 0, 4+len(data))
	typeAndData = append(typeAndData, []byte(chunkType)...)
	typeAndData = append(typeAndData, data...)
	buf.Write(typeAndData)

	crc := crc32.ChecksumIEEE(typeAndData)
	var crcBytes [4]byte
	binary.BigEndian.PutUint32(crcBytes[:], crc)
	buf.Write(crcBytes[:])
}
