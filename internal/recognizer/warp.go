package recognizer

import (
	"image"
	"image/color"
	"math"

	"github.com/MeKo-Tech/overlay-ocr/internal/utils"
	"github.com/disintegration/imaging"
)

// VerticalCropRatio is the height/width ratio at which a cropped patch is
// rotated to read as a horizontal line.
const VerticalCropRatio = 1.5

// CropQuad warps the quadrilateral q (TL, TR, BR, BL) of img into an upright
// patch. Width and height come from the longer of each pair of opposing edges.
// Patches at least VerticalCropRatio times taller than wide are rotated 90
// degrees counter-clockwise.
func CropQuad(img image.Image, q [4]utils.Point) *image.NRGBA {
	w := int(math.Round(math.Max(q[0].Dist(q[1]), q[3].Dist(q[2]))))
	h := int(math.Round(math.Max(q[0].Dist(q[3]), q[1].Dist(q[2]))))
	w, h = max(w, 1), max(h, 1)

	// work on the quad's bounding box only
	bounds := img.Bounds()
	bb := utils.BoundingBox(q[:])
	area := image.Rect(
		int(math.Floor(bb.MinX))-1, int(math.Floor(bb.MinY))-1,
		int(math.Ceil(bb.MaxX))+1, int(math.Ceil(bb.MaxY))+1,
	).Add(bounds.Min).Intersect(bounds)
	if area.Empty() {
		return imaging.New(w, h, color.Black)
	}
	src := imaging.Crop(img, area)
	off := area.Min.Sub(bounds.Min)
	var local [4]utils.Point
	for i, p := range q {
		local[i] = utils.Point{X: p.X - float64(off.X), Y: p.Y - float64(off.Y)}
	}

	dst := [4]utils.Point{{X: 0, Y: 0}, {X: float64(w), Y: 0}, {X: float64(w), Y: float64(h)}, {X: 0, Y: float64(h)}}
	hm, ok := computeHomography(dst, local)
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	if !ok {
		return imaging.Resize(src, w, h, imaging.Linear)
	}
	for y := range h {
		for x := range w {
			sx, sy := applyHomography(hm, float64(x)+0.5, float64(y)+0.5)
			i := out.PixOffset(x, y)
			bilinear(src, sx-0.5, sy-0.5, out.Pix[i:i+4])
		}
	}

	if float64(h) >= float64(w)*VerticalCropRatio {
		return imaging.Rotate90(out)
	}
	return out
}

// bilinear samples src at (x, y) into px. Samples are clamped to the edge.
func bilinear(src *image.NRGBA, x, y float64, px []uint8) {
	b := src.Bounds()
	maxX, maxY := float64(b.Dx()-1), float64(b.Dy()-1)
	x = utils.ClampFloat(x, 0, maxX)
	y = utils.ClampFloat(y, 0, maxY)
	x0, y0 := int(x), int(y)
	x1, y1 := min(x0+1, b.Dx()-1), min(y0+1, b.Dy()-1)
	fx, fy := x-float64(x0), y-float64(y0)
	p00 := src.PixOffset(x0, y0)
	p10 := src.PixOffset(x1, y0)
	p01 := src.PixOffset(x0, y1)
	p11 := src.PixOffset(x1, y1)
	for c := range 4 {
		top := float64(src.Pix[p00+c]) + (float64(src.Pix[p10+c])-float64(src.Pix[p00+c]))*fx
		bot := float64(src.Pix[p01+c]) + (float64(src.Pix[p11+c])-float64(src.Pix[p01+c]))*fx
		px[c] = uint8(math.Round(utils.ClampFloat(top+(bot-top)*fy, 0, 255)))
	}
}

// computeHomography returns the 3x3 matrix mapping p[i] to q[i], with h22 = 1.
func computeHomography(p, q [4]utils.Point) ([9]float64, bool) {
	var a [8][9]float64
	for i := range 4 {
		X, Y := p[i].X, p[i].Y
		x, y := q[i].X, q[i].Y
		a[2*i] = [9]float64{X, Y, 1, 0, 0, 0, -X * x, -Y * x, x}
		a[2*i+1] = [9]float64{0, 0, 0, X, Y, 1, -X * y, -Y * y, y}
	}
	// Gauss-Jordan elimination with partial pivoting on the augmented matrix.
	for col := range 8 {
		pivot := col
		for r := col + 1; r < 8; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return [9]float64{}, false
		}
		a[col], a[pivot] = a[pivot], a[col]
		div := a[col][col]
		for c := col; c < 9; c++ {
			a[col][c] /= div
		}
		for r := range 8 {
			if r == col || a[r][col] == 0 {
				continue
			}
			f := a[r][col]
			for c := col; c < 9; c++ {
				a[r][c] -= f * a[col][c]
			}
		}
	}
	var h [9]float64
	for i := range 8 {
		h[i] = a[i][8]
	}
	h[8] = 1
	return h, true
}

func applyHomography(h [9]float64, x, y float64) (float64, float64) {
	d := h[6]*x + h[7]*y + h[8]
	if d == 0 {
		return math.Inf(-1), math.Inf(-1)
	}
	return (h[0]*x + h[1]*y + h[2]) / d, (h[3]*x + h[4]*y + h[5]) / d
}
