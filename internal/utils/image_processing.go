package utils

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// ImageProcessingError represents errors that can occur during image processing.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// ImageNet channel statistics in RGB order.
var (
	ImageNetMean = [3]float32{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Symmetric normalisation to [-1,1].
var (
	HalfMean = [3]float32{0.5, 0.5, 0.5}
	HalfStd  = [3]float32{0.5, 0.5, 0.5}
)

// ResizeToLimit scales img down so that its longer side is at most maxSide,
// preserving aspect ratio. Images that already fit are returned as an NRGBA
// copy at their original size.
func ResizeToLimit(img image.Image, maxSide int) (*image.NRGBA, error) {
	if img == nil {
		return nil, &ImageProcessingError{Operation: "resize", Err: errors.New("input image is nil")}
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, &ImageProcessingError{Operation: "resize", Err: fmt.Errorf("invalid dimensions %dx%d", w, h)}
	}
	if maxSide <= 0 || max(w, h) <= maxSide {
		return imaging.Clone(img), nil
	}
	scale := float64(maxSide) / float64(max(w, h))
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))
	return imaging.Resize(img, nw, nh, imaging.Linear), nil
}

// PadToMultiple pads img on the right and bottom with black so both sides are
// multiples of m.
func PadToMultiple(img image.Image, m int) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	pw, ph := roundUp(w, m), roundUp(h, m)
	if pw == w && ph == h {
		return imaging.Clone(img)
	}
	bg := imaging.New(pw, ph, color.Black)
	return imaging.Paste(bg, img, image.Pt(0, 0))
}

func roundUp(v, m int) int {
	if m <= 1 {
		return v
	}
	return ((v + m - 1) / m) * m
}

// NormalizeInto writes img as an NCHW float tensor in RGB channel order,
// applying (x/255 - mean) / std per channel. buf is reused when large enough.
func NormalizeInto(img image.Image, buf []float32, mean, std [3]float32) ([]float32, int, int, error) {
	if img == nil {
		return nil, 0, 0, &ImageProcessingError{Operation: "normalize", Err: errors.New("input image is nil")}
	}
	src := imaging.Clone(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	if w <= 0 || h <= 0 {
		return nil, 0, 0, &ImageProcessingError{Operation: "normalize", Err: errors.New("invalid image dimensions")}
	}
	plane := w * h
	if cap(buf) < 3*plane {
		buf = make([]float32, 3*plane)
	}
	data := buf[:3*plane]
	for y := range h {
		row := src.Pix[y*src.Stride : y*src.Stride+w*4]
		for x := range w {
			i := y*w + x
			px := row[x*4 : x*4+3]
			for c := range 3 {
				data[c*plane+i] = (float32(px[c])/255 - mean[c]) / std[c]
			}
		}
	}
	return data, w, h, nil
}
