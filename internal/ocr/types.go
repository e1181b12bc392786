package ocr

import (
	"image"
	"math"
	"time"
)

// Direction is the reading direction of a text region.
type Direction string

const (
	DirectionUnknown    Direction = "unknown"
	DirectionHorizontal Direction = "horizontal"
	DirectionVertical   Direction = "vertical"
)

// VerticalAspectRatio is the height/width ratio above which a region is
// classified as vertical text.
const VerticalAspectRatio = 1.5

// DirectionFor classifies a region from its axis-aligned bounds.
func DirectionFor(bounds image.Rectangle) Direction {
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return DirectionUnknown
	}
	if float64(h) > float64(w)*VerticalAspectRatio {
		return DirectionVertical
	}
	return DirectionHorizontal
}

// Point is a sub-pixel image coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Quad is an oriented quadrilateral ordered top-left, top-right,
// bottom-right, bottom-left.
type Quad [4]Point

// Translate returns the quad shifted by (dx, dy).
func (q Quad) Translate(dx, dy float64) Quad {
	var out Quad
	for i, p := range q {
		out[i] = Point{X: p.X + dx, Y: p.Y + dy}
	}
	return out
}

// Bounds returns the smallest integer rectangle containing the quad.
func (q Quad) Bounds() image.Rectangle {
	minX, minY := q[0].X, q[0].Y
	maxX, maxY := q[0].X, q[0].Y
	for _, p := range q[1:] {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return image.Rect(int(math.Floor(minX)), int(math.Floor(minY)), int(math.Ceil(maxX)), int(math.Ceil(maxY)))
}

// TextRegion is one recognised piece of text.
type TextRegion struct {
	Text       string          `json:"text"`
	Bounds     image.Rectangle `json:"bounds"`
	Confidence float64         `json:"confidence"`
	Contour    *Quad           `json:"contour,omitempty"`
	Direction  Direction       `json:"direction"`
}

// Translate returns a copy of the region shifted by (dx, dy).
func (r TextRegion) Translate(dx, dy int) TextRegion {
	out := r
	out.Bounds = r.Bounds.Add(image.Pt(dx, dy))
	if r.Contour != nil {
		q := r.Contour.Translate(float64(dx), float64(dy))
		out.Contour = &q
	}
	return out
}

// Result is the output of one Recognize call. Values are not mutated after
// construction; layers that adjust a result build a new one.
type Result struct {
	Regions  []TextRegion     `json:"regions"`
	Source   image.Image      `json:"-"`
	Elapsed  time.Duration    `json:"elapsed"`
	Language string           `json:"language"`
	ROI      *image.Rectangle `json:"roi,omitempty"`
}

// Text joins the region texts with newlines in detection order.
func (r *Result) Text() string {
	if r == nil || len(r.Regions) == 0 {
		return ""
	}
	n := 0
	for _, reg := range r.Regions {
		n += len(reg.Text) + 1
	}
	buf := make([]byte, 0, n)
	for i, reg := range r.Regions {
		if i > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, reg.Text...)
	}
	return string(buf)
}

// AverageConfidence returns the mean region confidence, or 0 for an empty result.
func (r *Result) AverageConfidence() float64 {
	if r == nil || len(r.Regions) == 0 {
		return 0
	}
	sum := 0.0
	for _, reg := range r.Regions {
		sum += reg.Confidence
	}
	return sum / float64(len(r.Regions))
}

// IoU returns the intersection-over-union of two rectangles.
func IoU(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	ia := float64(inter.Dx() * inter.Dy())
	union := float64(a.Dx()*a.Dy()+b.Dx()*b.Dy()) - ia
	if union <= 0 {
		return 0
	}
	return ia / union
}
