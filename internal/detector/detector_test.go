package detector

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/MeKo-Tech/overlay-ocr/internal/onnx"
	"github.com/MeKo-Tech/overlay-ocr/internal/onnx/mock"
	"github.com/MeKo-Tech/overlay-ocr/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noUnclip() PostProcessOptions {
	return PostProcessOptions{Threshold: 0.3, BoxThreshold: 0.5, MinArea: 4, MinSide: 1}
}

func uniformImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	return img
}

// sessionEcho answers every input with a probability map of the input size
// that is hot inside rects.
func sessionEcho(rects ...image.Rectangle) *mock.Session {
	return &mock.Session{RunFn: func(in onnx.Tensor) (onnx.Tensor, error) {
		h, w := int(in.Shape[2]), int(in.Shape[3])
		return mock.ProbabilityMap(w, h, rects...), nil
	}}
}

func TestPostProcessSingleBlock(t *testing.T) {
	m := mock.ProbabilityMap(64, 32, image.Rect(10, 5, 50, 15))
	regions := PostProcess(m.Data, 64, 32, noUnclip())
	require.Len(t, regions, 1)

	b := utils.BoundingBox(regions[0].Quad[:])
	assert.InDelta(t, 10, b.MinX, 1e-6)
	assert.InDelta(t, 5, b.MinY, 1e-6)
	assert.InDelta(t, 50, b.MaxX, 1e-6)
	assert.InDelta(t, 15, b.MaxY, 1e-6)
	assert.InDelta(t, 1.0, regions[0].Score, 1e-9)

	q := regions[0].Quad
	assert.Less(t, q[0].X, q[1].X, "TL left of TR")
	assert.Less(t, q[0].Y, q[3].Y, "TL above BL")
}

func TestPostProcessUniformMaps(t *testing.T) {
	assert.Empty(t, PostProcess(mock.UniformMap(32, 32, 0).Data, 32, 32, noUnclip()))
	// every pixel hot yields one region covering the map
	all := PostProcess(mock.UniformMap(32, 32, 1).Data, 32, 32, noUnclip())
	assert.Len(t, all, 1)
}

func TestPostProcessFilters(t *testing.T) {
	m := mock.ProbabilityMap(64, 64, image.Rect(0, 0, 2, 1), image.Rect(10, 10, 40, 20))
	opts := noUnclip()
	opts.MinArea = 8
	regions := PostProcess(m.Data, 64, 64, opts)
	require.Len(t, regions, 1, "tiny component dropped")

	// low-scoring component rejected by the box threshold
	low := mock.UniformMap(16, 16, 0.4)
	opts = noUnclip()
	assert.Empty(t, PostProcess(low.Data, 16, 16, opts))
	opts.BoxThreshold = 0.3
	assert.Len(t, PostProcess(low.Data, 16, 16, opts), 1)

	opts = noUnclip()
	opts.MaxCandidates = 1
	two := mock.ProbabilityMap(64, 64, image.Rect(0, 0, 10, 10), image.Rect(30, 30, 40, 40))
	assert.Len(t, PostProcess(two.Data, 64, 64, opts), 1)
}

func TestPostProcessUnclipGrows(t *testing.T) {
	m := mock.ProbabilityMap(128, 64, image.Rect(20, 20, 60, 30))
	opts := noUnclip()
	opts.UnclipRatio = 1.5
	regions := PostProcess(m.Data, 128, 64, opts)
	require.Len(t, regions, 1)
	// area 400, perimeter 100 -> offset 6
	b := utils.BoundingBox(regions[0].Quad[:])
	assert.InDelta(t, 14, b.MinX, 1e-6)
	assert.InDelta(t, 66, b.MaxX, 1e-6)
}

func TestPostProcessSeparatesComponents(t *testing.T) {
	m := mock.ProbabilityMap(64, 64, image.Rect(0, 0, 10, 10), image.Rect(20, 0, 30, 10), image.Rect(0, 30, 10, 40))
	regions := PostProcess(m.Data, 64, 64, noUnclip())
	require.Len(t, regions, 3)
	// raster order: first two on the top row
	assert.Less(t, regions[0].Quad[0].X, regions[1].Quad[0].X)
	assert.Greater(t, regions[2].Quad[0].Y, regions[0].Quad[0].Y)
}

func TestPreprocess(t *testing.T) {
	tensor, meta, err := Preprocess(uniformImage(100, 50, color.White), 960)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 64, 128}, tensor.Shape)
	assert.Equal(t, Meta{100, 50, 100, 50, 128, 64}, meta)
	assert.InDelta(t, (1-0.485)/0.229, tensor.Data[0], 1e-5)

	tensor, meta, err = Preprocess(uniformImage(1920, 1080, color.Black), 960)
	require.NoError(t, err)
	assert.Equal(t, 960, meta.ResizedWidth)
	assert.Equal(t, 540, meta.ResizedHeight)
	assert.Equal(t, 544, meta.PaddedHeight)
	assert.Equal(t, []int64{1, 3, 544, 960}, tensor.Shape)

	_, _, err = Preprocess(nil, 960)
	assert.Error(t, err)
}

func TestMetaScaleToSource(t *testing.T) {
	meta := Meta{SourceWidth: 1920, SourceHeight: 1080, ResizedWidth: 960, ResizedHeight: 540, PaddedWidth: 960, PaddedHeight: 544}
	in := []Region{{Quad: [4]utils.Point{{X: 10, Y: 10}, {X: 110, Y: 10}, {X: 110, Y: 30}, {X: 10, Y: 30}}, Score: 0.9}}
	out := meta.ScaleToSource(in, 960, 544)
	require.Len(t, out, 1)
	assert.InDelta(t, 20, out[0].Quad[0].X, 1e-6)
	assert.InDelta(t, 220, out[0].Quad[1].X, 1e-6)
	assert.InDelta(t, 60, out[0].Quad[2].Y, 1e-6)

	// regions in the padding collapse after clamping and are dropped
	pad := []Region{{Quad: [4]utils.Point{{X: 10, Y: 541}, {X: 50, Y: 541}, {X: 50, Y: 544}, {X: 10, Y: 544}}}}
	meta.SourceHeight, meta.ResizedHeight = 540, 540
	assert.Empty(t, meta.ScaleToSource(pad, 960, 544))
}

func TestDetectUniformImage(t *testing.T) {
	d, err := New(sessionEcho(), DefaultConfig(), nil)
	require.NoError(t, err)
	regions, err := d.Detect(uniformImage(200, 100, color.Gray{Y: 128}), 0.3)
	require.NoError(t, err)
	assert.Empty(t, regions)
}

func TestDetectMapsToSource(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UnclipRatio = 0
	d, err := New(sessionEcho(image.Rect(40, 20, 140, 40)), cfg, nil)
	require.NoError(t, err)

	regions, err := d.Detect(uniformImage(300, 120, color.White), 0.3)
	require.NoError(t, err)
	require.Len(t, regions, 1)
	b := utils.BoundingBox(regions[0].Quad[:])
	assert.InDelta(t, 40, b.MinX, 1e-6)
	assert.InDelta(t, 140, b.MaxX, 1e-6)
	assert.InDelta(t, 40, b.MaxY, 1e-6)
}

func TestDetectErrors(t *testing.T) {
	_, err := New(nil, DefaultConfig(), nil)
	assert.Error(t, err)

	bad := DefaultConfig()
	bad.MaxSideLen = 0
	_, err = New(&mock.Session{}, bad, nil)
	assert.Error(t, err)

	failing := &mock.Session{RunFn: func(onnx.Tensor) (onnx.Tensor, error) { return onnx.Tensor{}, errors.New("gpu lost") }}
	d, err := New(failing, DefaultConfig(), nil)
	require.NoError(t, err)
	_, err = d.Detect(uniformImage(64, 64, color.White), 0.3)
	assert.ErrorContains(t, err, "gpu lost")

	wrongShape := &mock.Session{RunFn: func(onnx.Tensor) (onnx.Tensor, error) {
		return onnx.Tensor{Data: []float32{1}, Shape: []int64{1}}, nil
	}}
	d, _ = New(wrongShape, DefaultConfig(), nil)
	_, err = d.Detect(uniformImage(64, 64, color.White), 0.3)
	assert.Error(t, err)
}

func TestProbabilityMapSizeRank3(t *testing.T) {
	w, h, err := probabilityMapSize(onnx.Tensor{Data: make([]float32, 12), Shape: []int64{1, 3, 4}})
	require.NoError(t, err)
	assert.Equal(t, 4, w)
	assert.Equal(t, 3, h)
}
