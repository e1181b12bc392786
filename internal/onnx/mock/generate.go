// Package mock provides in-memory sessions and synthetic model outputs for
// tests that must not depend on ONNX Runtime or model files.
package mock

import (
	"image"
	"math"

	"github.com/MeKo-Tech/overlay-ocr/internal/onnx"
)

// ProbabilityMap builds a detection output tensor [1,1,h,w] that is 1 inside
// the given rectangles and 0 elsewhere.
func ProbabilityMap(w, h int, rects ...image.Rectangle) onnx.Tensor {
	data := make([]float32, w*h)
	bounds := image.Rect(0, 0, w, h)
	for _, r := range rects {
		r = r.Intersect(bounds)
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				data[y*w+x] = 1
			}
		}
	}
	return onnx.Tensor{Data: data, Shape: []int64{1, 1, int64(h), int64(w)}}
}

// UniformMap builds a detection output tensor filled with value.
func UniformMap(w, h int, value float32) onnx.Tensor {
	data := make([]float32, w*h)
	for i := range data {
		data[i] = value
	}
	return onnx.Tensor{Data: data, Shape: []int64{1, 1, int64(h), int64(w)}}
}

// LogProbSequence builds a recognition output tensor [1,T,classes] whose
// argmax at each timestep is indices[t]. The winning class gets probability p
// and the rest share the remainder; values are natural-log probabilities.
func LogProbSequence(indices []int, classes int, p float64) onnx.Tensor {
	if classes < 2 {
		classes = 2
	}
	rest := math.Log((1 - p) / float64(classes-1))
	win := math.Log(p)
	data := make([]float32, len(indices)*classes)
	for t, idx := range indices {
		row := data[t*classes : (t+1)*classes]
		for c := range row {
			row[c] = float32(rest)
		}
		row[idx] = float32(win)
	}
	return onnx.Tensor{Data: data, Shape: []int64{1, int64(len(indices)), int64(classes)}}
}
