package utils

import (
	"math"
	"sort"
)

// ConvexHull computes the convex hull of a set of points using the
// monotone chain algorithm. Returns the hull in CCW order without
// duplicating the first point at the end.
func ConvexHull(pts []Point) []Point {
	p := append([]Point(nil), pts...)
	sort.Slice(p, func(i, j int) bool {
		if p[i].X != p[j].X {
			return p[i].X < p[j].X
		}
		return p[i].Y < p[j].Y
	})
	p = dedupSorted(p)
	if len(p) <= 2 {
		return p
	}

	hull := make([]Point, 0, 2*len(p))
	for _, pt := range p {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], pt) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, pt)
	}
	lower := len(hull) + 1
	for i := len(p) - 2; i >= 0; i-- {
		pt := p[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], pt) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, pt)
	}
	return hull[:len(hull)-1]
}

func dedupSorted(p []Point) []Point {
	if len(p) == 0 {
		return p
	}
	out := p[:1]
	for _, pt := range p[1:] {
		if last := out[len(out)-1]; pt != last {
			out = append(out, pt)
		}
	}
	return out
}

func cross(o, a, b Point) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

// PolygonArea returns the absolute area of a simple polygon (shoelace formula).
func PolygonArea(pts []Point) float64 {
	if len(pts) < 3 {
		return 0
	}
	s := 0.0
	for i, p := range pts {
		q := pts[(i+1)%len(pts)]
		s += p.X*q.Y - q.X*p.Y
	}
	return math.Abs(s) / 2
}

// PolygonPerimeter returns the closed perimeter of pts.
func PolygonPerimeter(pts []Point) float64 {
	if len(pts) < 2 {
		return 0
	}
	s := 0.0
	for i, p := range pts {
		s += p.Dist(pts[(i+1)%len(pts)])
	}
	return s
}

// MinimumAreaRectangle computes the minimum-area enclosing rectangle with
// rotating calipers over the convex hull. Degenerate inputs produce a
// rectangle one pixel thick.
func MinimumAreaRectangle(pts []Point) []Point {
	hull := ConvexHull(pts)
	switch len(hull) {
	case 0:
		return nil
	case 1:
		p := hull[0]
		return []Point{p, {p.X + 1, p.Y}, {p.X + 1, p.Y + 1}, {p.X, p.Y + 1}}
	case 2:
		a, b := hull[0], hull[1]
		return []Point{a, b, {b.X, b.Y + 1}, {a.X, a.Y + 1}}
	}

	best := math.Inf(1)
	var corners []Point
	for i := range hull {
		a, b := hull[i], hull[(i+1)%len(hull)]
		l := a.Dist(b)
		if l == 0 {
			continue
		}
		u := Point{X: (b.X - a.X) / l, Y: (b.Y - a.Y) / l}
		v := Point{X: -u.Y, Y: u.X}
		minS, maxS := math.Inf(1), math.Inf(-1)
		minT, maxT := math.Inf(1), math.Inf(-1)
		for _, p := range hull {
			s := p.X*u.X + p.Y*u.Y
			t := p.X*v.X + p.Y*v.Y
			minS, maxS = math.Min(minS, s), math.Max(maxS, s)
			minT, maxT = math.Min(minT, t), math.Max(maxT, t)
		}
		if area := (maxS - minS) * (maxT - minT); area < best {
			best = area
			at := func(s, t float64) Point { return Point{X: u.X*s + v.X*t, Y: u.Y*s + v.Y*t} }
			corners = []Point{at(minS, minT), at(maxS, minT), at(maxS, maxT), at(minS, maxT)}
		}
	}
	return corners
}

// ExpandRectangle grows a rectangle given by four consecutive corners by d
// on every side. The corner order is preserved.
func ExpandRectangle(rect []Point, d float64) []Point {
	if len(rect) != 4 || d == 0 {
		return append([]Point(nil), rect...)
	}
	w := rect[0].Dist(rect[1])
	h := rect[0].Dist(rect[3])
	if w == 0 || h == 0 {
		return append([]Point(nil), rect...)
	}
	u := Point{X: (rect[1].X - rect[0].X) / w, Y: (rect[1].Y - rect[0].Y) / w}
	v := Point{X: (rect[3].X - rect[0].X) / h, Y: (rect[3].Y - rect[0].Y) / h}
	c := Point{X: (rect[0].X + rect[2].X) / 2, Y: (rect[0].Y + rect[2].Y) / 2}
	hw, hh := w/2+d, h/2+d
	at := func(su, sv float64) Point {
		return Point{X: c.X + su*hw*u.X + sv*hh*v.X, Y: c.Y + su*hw*u.Y + sv*hh*v.Y}
	}
	return []Point{at(-1, -1), at(1, -1), at(1, 1), at(-1, 1)}
}

// UnclipDistance is the outward offset used to undo the shrinking applied to
// text kernels by DB-style detectors.
func UnclipDistance(rect []Point, ratio float64) float64 {
	per := PolygonPerimeter(rect)
	if per == 0 || ratio <= 0 {
		return 0
	}
	return PolygonArea(rect) * ratio / per
}

// OrderQuad orders four points as top-left, top-right, bottom-right,
// bottom-left: the two leftmost points give TL (smaller y) and BL, the two
// rightmost give TR and BR.
func OrderQuad(pts []Point) [4]Point {
	var out [4]Point
	if len(pts) != 4 {
		return out
	}
	p := append([]Point(nil), pts...)
	sort.SliceStable(p, func(i, j int) bool { return p[i].X < p[j].X })
	left, right := p[:2], p[2:]
	if left[0].Y <= left[1].Y {
		out[0], out[3] = left[0], left[1]
	} else {
		out[0], out[3] = left[1], left[0]
	}
	if right[0].Y <= right[1].Y {
		out[1], out[2] = right[0], right[1]
	} else {
		out[1], out[2] = right[1], right[0]
	}
	return out
}
