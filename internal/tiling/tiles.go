// Package tiling splits large images into overlapping tiles, recognises them
// concurrently through a wrapped ocr.Provider and merges the results.
package tiling

import "image"

// ComputeTiles partitions bounds into a cols x rows grid. The last column
// and row absorb the division remainder, every tile is then grown by overlap
// on each side and clamped to bounds. Tiles are returned row by row.
func ComputeTiles(bounds image.Rectangle, cols, rows, overlap int) []image.Rectangle {
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil
	}
	cols = min(max(cols, 1), w)
	rows = min(max(rows, 1), h)
	overlap = max(overlap, 0)
	tileW, tileH := w/cols, h/rows

	tiles := make([]image.Rectangle, 0, cols*rows)
	for r := range rows {
		y0 := bounds.Min.Y + r*tileH
		y1 := y0 + tileH
		if r == rows-1 {
			y1 = bounds.Max.Y
		}
		for c := range cols {
			x0 := bounds.Min.X + c*tileW
			x1 := x0 + tileW
			if c == cols-1 {
				x1 = bounds.Max.X
			}
			t := image.Rect(x0-overlap, y0-overlap, x1+overlap, y1+overlap).Intersect(bounds)
			tiles = append(tiles, t)
		}
	}
	return tiles
}
