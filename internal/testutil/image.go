// Package testutil provides synthetic screenshots and a scriptable provider
// for tests of the recognition layers.
package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Common screenshot sizes.
var (
	SmallSize = image.Pt(320, 240)
	HDSize    = image.Pt(1280, 720)
	FHDSize   = image.Pt(1920, 1080)
)

// Game UI colours used by the synthetic screenshots.
var (
	DialogBackground = color.RGBA{R: 16, G: 24, B: 48, A: 255}
	DialogText       = color.RGBA{R: 240, G: 240, B: 240, A: 255}
)

// Label is a line of text drawn at a position.
type Label struct {
	Text string
	At   image.Point
}

// Uniform returns an RGBA image filled with c.
func Uniform(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

// Screenshot draws labels on a dialog-coloured background. Label positions
// are the top-left corner of the text line.
func Screenshot(size image.Point, labels ...Label) *image.RGBA {
	img := Uniform(size.X, size.Y, DialogBackground)
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: img, Src: &image.Uniform{C: DialogText}, Face: face}
	ascent := face.Metrics().Ascent.Ceil()
	for _, l := range labels {
		d.Dot = fixed.P(l.At.X, l.At.Y+ascent)
		d.DrawString(l.Text)
	}
	return img
}

// Gradient returns an image whose pixels differ by seed, for tests that need
// distinct image content.
func Gradient(w, h int, seed uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			i := img.PixOffset(x, y)
			img.Pix[i] = uint8(x) + seed
			img.Pix[i+1] = uint8(y) ^ seed
			img.Pix[i+2] = uint8(x+y) + seed
			img.Pix[i+3] = 255
		}
	}
	return img
}

// EncodePNG encodes img as PNG.
func EncodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// SavePNG writes img to dir/name and returns the path.
func SavePNG(t *testing.T, img image.Image, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, EncodePNG(t, img), 0o600))
	return path
}
