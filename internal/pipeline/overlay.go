package pipeline

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/MeKo-Tech/overlay-ocr/internal/ocr"
)

// RenderOverlay draws region bounds and contours over a copy of img.
func RenderOverlay(img image.Image, res *ocr.Result, boxColor, contourColor color.Color) *image.RGBA {
	if img == nil {
		return nil
	}
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)
	if res == nil {
		return dst
	}
	if res.ROI != nil {
		drawRect(dst, res.ROI.Intersect(b), contourColor)
	}
	for _, r := range res.Regions {
		drawRect(dst, r.Bounds, boxColor)
		if r.Contour != nil {
			for i := range r.Contour {
				p, q := r.Contour[i], r.Contour[(i+1)%len(r.Contour)]
				drawLine(dst, p, q, contourColor)
			}
		}
	}
	return dst
}

func drawRect(dst *image.RGBA, r image.Rectangle, c color.Color) {
	if r.Empty() {
		return
	}
	for x := r.Min.X; x < r.Max.X; x++ {
		dst.Set(x, r.Min.Y, c)
		dst.Set(x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		dst.Set(r.Min.X, y, c)
		dst.Set(r.Max.X-1, y, c)
	}
}

func drawLine(dst *image.RGBA, p, q ocr.Point, c color.Color) {
	steps := int(math.Ceil(math.Max(math.Abs(q.X-p.X), math.Abs(q.Y-p.Y))))
	if steps == 0 {
		dst.Set(int(math.Round(p.X)), int(math.Round(p.Y)), c)
		return
	}
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		dst.Set(int(math.Round(p.X+t*(q.X-p.X))), int(math.Round(p.Y+t*(q.Y-p.Y))), c)
	}
}

// ParseHexColor parses colors like "#RRGGBB" or "RRGGBB". It returns
// fallback for empty or malformed input.
func ParseHexColor(s string, fallback color.Color) color.Color {
	if s == "" {
		return fallback
	}
	if s[0] == '#' {
		s = s[1:]
	}
	if len(s) != 6 {
		return fallback
	}
	var rv, gv, bv int
	if _, err := fmt.Sscanf(s, "%02x%02x%02x", &rv, &gv, &bv); err != nil {
		return fallback
	}
	return color.RGBA{R: uint8(rv), G: uint8(gv), B: uint8(bv), A: 255} //nolint:gosec // G115: two hex digits fit in a byte
}
