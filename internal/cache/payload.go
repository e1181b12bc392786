package cache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/png"

	"github.com/MeKo-Tech/overlay-ocr/internal/ocr"
	"github.com/disintegration/imaging"
)

// Pixel formats recorded in the payload header.
const (
	formatRGBA   byte = 1
	formatNRGBA  byte = 2
	formatGray   byte = 3
	formatRGBA64 byte = 4
	formatPNG    byte = 0xff
)

var payloadMagic = []byte("ocrkey1")

// Payload returns the canonical bytes of img restricted to roi. A header
// with the image bounds, the region, the language and both confidence
// thresholds precedes the pixel data, so equal crops at different offsets or
// recognised under different settings never share a key. Raw pixel rows are used for the common in-memory formats and
// a PNG encoding otherwise.
func Payload(img image.Image, roi *image.Rectangle, s ocr.Settings) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: image is nil", ocr.ErrUnsupportedImage)
	}
	region, ok := ocr.Request{Image: img, ROI: roi}.EffectiveROI()
	if !ok {
		return nil, fmt.Errorf("%w: empty image or region of interest", ocr.ErrUnsupportedImage)
	}

	var buf bytes.Buffer
	buf.Grow(80 + region.Dx()*region.Dy()*4)
	buf.Write(payloadMagic)
	b := img.Bounds()
	for _, v := range []int{b.Min.X, b.Min.Y, b.Max.X, b.Max.Y, region.Min.X, region.Min.Y, region.Max.X, region.Max.Y} {
		_ = binary.Write(&buf, binary.LittleEndian, int32(v)) //nolint:gosec // G115: image coordinates fit in int32
	}
	buf.WriteByte(byte(len(s.Language)))
	buf.WriteString(s.Language)
	_ = binary.Write(&buf, binary.LittleEndian, s.DetectionThreshold)
	_ = binary.Write(&buf, binary.LittleEndian, s.RecognitionThreshold)

	switch m := img.(type) {
	case *image.RGBA:
		buf.WriteByte(formatRGBA)
		writeRows(&buf, m.Pix, m.Stride, m.PixOffset(region.Min.X, region.Min.Y), region.Dx()*4, region.Dy())
	case *image.NRGBA:
		buf.WriteByte(formatNRGBA)
		writeRows(&buf, m.Pix, m.Stride, m.PixOffset(region.Min.X, region.Min.Y), region.Dx()*4, region.Dy())
	case *image.Gray:
		buf.WriteByte(formatGray)
		writeRows(&buf, m.Pix, m.Stride, m.PixOffset(region.Min.X, region.Min.Y), region.Dx(), region.Dy())
	case *image.RGBA64:
		buf.WriteByte(formatRGBA64)
		writeRows(&buf, m.Pix, m.Stride, m.PixOffset(region.Min.X, region.Min.Y), region.Dx()*8, region.Dy())
	default:
		buf.WriteByte(formatPNG)
		enc := png.Encoder{CompressionLevel: png.NoCompression}
		if err := enc.Encode(&buf, imaging.Crop(img, region)); err != nil {
			return nil, fmt.Errorf("%w: %w", ocr.ErrUnsupportedImage, err)
		}
	}
	return buf.Bytes(), nil
}

func writeRows(buf *bytes.Buffer, pix []byte, stride, start, rowLen, rows int) {
	for y := range rows {
		off := start + y*stride
		buf.Write(pix[off : off+rowLen])
	}
}
