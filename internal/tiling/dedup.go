package tiling

import (
	"cmp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/MeKo-Tech/overlay-ocr/internal/ocr"
	"github.com/arbovm/levenshtein"
)

// Duplicate thresholds for regions found in more than one tile.
const (
	DuplicateIoU         = 0.5
	MaxEditDistanceRatio = 0.2
)

// SimilarText reports whether a and b are the same text read twice: equal,
// one containing the other, or an edit distance of at most 20% of the
// longer string.
func SimilarText(a, b string) bool {
	if a == b {
		return true
	}
	if a == "" || b == "" {
		return false
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	longer := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	return float64(levenshtein.Distance(a, b)) <= MaxEditDistanceRatio*float64(longer)
}

// IsDuplicate reports whether two regions are the same detection.
func IsDuplicate(a, b ocr.TextRegion) bool {
	return ocr.IoU(a.Bounds, b.Bounds) > DuplicateIoU && SimilarText(a.Text, b.Text)
}

// Deduplicate keeps the highest confidence region of every duplicate
// cluster. Survivors keep their input order. It returns the number of
// discarded regions.
func Deduplicate(regions []ocr.TextRegion) ([]ocr.TextRegion, int) {
	if len(regions) < 2 {
		return regions, 0
	}
	order := make([]int, len(regions))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(regions[b].Confidence, regions[a].Confidence)
	})

	kept := make([]int, 0, len(regions))
	for _, i := range order {
		dup := false
		for _, k := range kept {
			if IsDuplicate(regions[i], regions[k]) {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, i)
		}
	}
	slices.Sort(kept)

	out := make([]ocr.TextRegion, len(kept))
	for j, i := range kept {
		out[j] = regions[i]
	}
	return out, len(regions) - len(kept)
}
