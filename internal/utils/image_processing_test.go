package utils

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestResizeToLimit(t *testing.T) {
	out, err := ResizeToLimit(solid(2000, 1000, color.White), 960)
	require.NoError(t, err)
	assert.Equal(t, 960, out.Bounds().Dx())
	assert.Equal(t, 480, out.Bounds().Dy())

	small, err := ResizeToLimit(solid(100, 50, color.White), 960)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 100, 50), small.Bounds())

	_, err = ResizeToLimit(nil, 960)
	var ipe *ImageProcessingError
	assert.ErrorAs(t, err, &ipe)
}

func TestPadToMultiple(t *testing.T) {
	out := PadToMultiple(solid(100, 33, color.White), 32)
	assert.Equal(t, image.Rect(0, 0, 128, 64), out.Bounds())
	r, g, b, _ := out.At(127, 63).RGBA()
	assert.Zero(t, r+g+b, "padding must be black")
	r, _, _, _ = out.At(0, 0).RGBA()
	assert.NotZero(t, r)

	same := PadToMultiple(solid(64, 32, color.White), 32)
	assert.Equal(t, image.Rect(0, 0, 64, 32), same.Bounds())
}

func TestNormalizeInto(t *testing.T) {
	img := solid(4, 2, color.RGBA{R: 255, G: 0, B: 128, A: 255})
	data, w, h, err := NormalizeInto(img, nil, HalfMean, HalfStd)
	require.NoError(t, err)
	assert.Equal(t, 4, w)
	assert.Equal(t, 2, h)
	require.Len(t, data, 24)
	assert.InDelta(t, 1.0, data[0], 1e-6)
	assert.InDelta(t, -1.0, data[8], 1e-6)
	assert.InDelta(t, (128.0/255-0.5)/0.5, data[16], 1e-6)

	buf := make([]float32, 100)
	data, _, _, err = NormalizeInto(img, buf, ImageNetMean, ImageNetStd)
	require.NoError(t, err)
	assert.Len(t, data, 24)
	assert.InDelta(t, (1-0.485)/0.229, data[0], 1e-5)

	_, _, _, err = NormalizeInto(nil, nil, HalfMean, HalfStd)
	assert.Error(t, err)
}

func TestCropImageRect(t *testing.T) {
	img := solid(50, 50, color.White)
	c := CropImageRect(img, image.Rect(40, 40, 80, 80))
	assert.Equal(t, image.Rect(0, 0, 10, 10), c.Bounds())

	empty := CropImageRect(img, image.Rect(100, 100, 120, 120))
	assert.True(t, empty.Bounds().Empty())
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(8, 6, color.Black)))
	path := filepath.Join(dir, "shot.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	img, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())

	_, err = LoadImage(filepath.Join(dir, "shot.gif"))
	assert.Error(t, err)
	_, err = LoadImage("")
	assert.Error(t, err)
	_, err = DecodeImage(bytes.NewReader([]byte("not an image")))
	assert.Error(t, err)
}

func TestParseRect(t *testing.T) {
	r, err := ParseRect("10, 20, 30, 40")
	require.NoError(t, err)
	assert.Equal(t, image.Rect(10, 20, 40, 60), r)

	_, err = ParseRect("1,2,0,4")
	assert.Error(t, err)
	_, err = ParseRect("garbage")
	assert.Error(t, err)
}
