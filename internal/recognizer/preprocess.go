package recognizer

import (
	"errors"
	"image"
	"math"

	"github.com/MeKo-Tech/overlay-ocr/internal/onnx"
	"github.com/MeKo-Tech/overlay-ocr/internal/utils"
	"github.com/disintegration/imaging"
)

// ResizeForRecognition scales patch to height targetH keeping its aspect
// ratio, with the width capped at maxW.
func ResizeForRecognition(patch image.Image, targetH, maxW int) (*image.NRGBA, error) {
	if patch == nil {
		return nil, &utils.ImageProcessingError{Operation: "recognition resize", Err: errors.New("input image is nil")}
	}
	b := patch.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 || targetH <= 0 {
		return nil, &utils.ImageProcessingError{Operation: "recognition resize", Err: errors.New("invalid dimensions")}
	}
	w := int(math.Ceil(float64(targetH) * float64(b.Dx()) / float64(b.Dy())))
	if maxW > 0 && w > maxW {
		w = maxW
	}
	w = max(w, 1)
	return imaging.Resize(patch, w, targetH, imaging.Linear), nil
}

// NormalizeForRecognition converts a resized patch into a [1,3,H,W] tensor
// normalised to [-1,1]. When padMultiple > 1 the width is padded with zeros
// (the normalised mid-grey) to the next multiple.
func NormalizeForRecognition(img *image.NRGBA, padMultiple int) (onnx.Tensor, error) {
	data, w, h, err := utils.NormalizeInto(img, nil, utils.HalfMean, utils.HalfStd)
	if err != nil {
		return onnx.Tensor{}, err
	}
	pw := w
	if padMultiple > 1 {
		pw = ((w + padMultiple - 1) / padMultiple) * padMultiple
	}
	if pw == w {
		return onnx.NewImageTensor(data, 3, h, w)
	}
	padded := make([]float32, 3*h*pw)
	for c := range 3 {
		for y := range h {
			copy(padded[c*h*pw+y*pw:c*h*pw+y*pw+w], data[c*h*w+y*w:c*h*w+y*w+w])
		}
	}
	return onnx.NewImageTensor(padded, 3, h, pw)
}
