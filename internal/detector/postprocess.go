package detector

import (
	"github.com/MeKo-Tech/overlay-ocr/internal/mempool"
	"github.com/MeKo-Tech/overlay-ocr/internal/utils"
)

// PostProcessOptions controls how a probability map becomes regions.
type PostProcessOptions struct {
	Threshold     float64
	BoxThreshold  float64
	UnclipRatio   float64
	MinArea       int
	MinSide       float64
	MaxCandidates int
}

// component holds per-component statistics gathered during labelling.
type component struct {
	count    int
	sum      float64
	boundary []utils.Point
}

// PostProcess thresholds the probability map, extracts 4-connected
// components and converts each into an unclipped minimum-area rectangle.
// Coordinates are in map pixels; rectangle edges lie on pixel borders.
func PostProcess(prob []float32, w, h int, opts PostProcessOptions) []Region {
	if w <= 0 || h <= 0 || len(prob) < w*h {
		return nil
	}
	mask := binarize(prob, w, h, float32(opts.Threshold))
	defer mempool.PutBool(mask)

	comps := connectedComponents(mask, prob, w, h)
	regions := make([]Region, 0, len(comps))
	for _, c := range comps {
		if opts.MaxCandidates > 0 && len(regions) >= opts.MaxCandidates {
			break
		}
		if r, ok := regionFromComponent(c, opts); ok {
			regions = append(regions, r)
		}
	}
	return regions
}

func regionFromComponent(c component, opts PostProcessOptions) (Region, bool) {
	if c.count == 0 || c.count < opts.MinArea {
		return Region{}, false
	}
	score := c.sum / float64(c.count)
	if score < opts.BoxThreshold {
		return Region{}, false
	}
	rect := utils.MinimumAreaRectangle(c.boundary)
	if len(rect) != 4 {
		return Region{}, false
	}
	if min(rect[0].Dist(rect[1]), rect[0].Dist(rect[3])) < opts.MinSide {
		return Region{}, false
	}
	if d := utils.UnclipDistance(rect, opts.UnclipRatio); d > 0 {
		rect = utils.ExpandRectangle(rect, d)
	}
	return Region{Quad: utils.OrderQuad(rect), Score: score}, true
}

// binarize creates a pooled binary mask from a probability map.
func binarize(prob []float32, w, h int, t float32) []bool {
	mask := mempool.GetBool(w * h)
	for i, p := range prob[:w*h] {
		mask[i] = p >= t
	}
	return mask
}

// connectedComponents labels 4-connected foreground pixels in raster order.
// Boundary pixels contribute their four corners so the hull covers whole pixels.
func connectedComponents(mask []bool, prob []float32, w, h int) []component {
	visited := mempool.GetBool(w * h)
	defer mempool.PutBool(visited)

	inside := func(x, y int) bool {
		return x >= 0 && x < w && y >= 0 && y < h && mask[y*w+x]
	}

	var comps []component
	queue := make([]int, 0, 256)
	for start := range w * h {
		if !mask[start] || visited[start] {
			continue
		}
		var c component
		visited[start] = true
		queue = append(queue[:0], start)
		for len(queue) > 0 {
			i := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y := i%w, i/w
			c.count++
			c.sum += float64(prob[i])

			edge := false
			for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
				nx, ny := x+d[0], y+d[1]
				if !inside(nx, ny) {
					edge = true
					continue
				}
				if ni := ny*w + nx; !visited[ni] {
					visited[ni] = true
					queue = append(queue, ni)
				}
			}
			if edge {
				fx, fy := float64(x), float64(y)
				c.boundary = append(c.boundary,
					utils.Point{X: fx, Y: fy}, utils.Point{X: fx + 1, Y: fy},
					utils.Point{X: fx + 1, Y: fy + 1}, utils.Point{X: fx, Y: fy + 1})
			}
		}
		comps = append(comps, c)
	}
	return comps
}
