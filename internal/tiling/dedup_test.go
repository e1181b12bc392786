package tiling

import (
	"image"
	"testing"

	"github.com/MeKo-Tech/overlay-ocr/internal/ocr"
	"github.com/MeKo-Tech/overlay-ocr/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimilarText(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"Start", "Start", true},
		{"Start Game", "Start", true},
		{"Game", "Start Game", true},
		{"Inventory", "Inventorv", true},
		{"はじめから", "はじめかう", true},
		{"Options", "Credits", false},
		{"", "Start", false},
	}
	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, SimilarText(tt.a, tt.b))
		})
	}
}

func TestDeduplicateIoUAboveThreshold(t *testing.T) {
	a := testutil.Region("Start", image.Rect(0, 0, 100, 100), 0.7)
	b := testutil.Region("Start", image.Rect(25, 0, 125, 100), 0.9)
	require.InDelta(t, 0.6, ocr.IoU(a.Bounds, b.Bounds), 1e-9)

	out, dropped := Deduplicate([]ocr.TextRegion{a, b})
	require.Len(t, out, 1)
	assert.Equal(t, 1, dropped)
	assert.InDelta(t, 0.9, out[0].Confidence, 1e-9)
}

func TestDeduplicateIoUBelowThreshold(t *testing.T) {
	a := testutil.Region("Start", image.Rect(0, 0, 100, 10), 0.7)
	b := testutil.Region("Start", image.Rect(0, 0, 40, 10), 0.9)
	require.InDelta(t, 0.4, ocr.IoU(a.Bounds, b.Bounds), 1e-9)

	out, dropped := Deduplicate([]ocr.TextRegion{a, b})
	assert.Len(t, out, 2)
	assert.Zero(t, dropped)
}

func TestDeduplicateDifferentText(t *testing.T) {
	a := testutil.Region("Start", image.Rect(0, 0, 100, 100), 0.7)
	b := testutil.Region("Quit", image.Rect(0, 0, 100, 100), 0.9)
	out, _ := Deduplicate([]ocr.TextRegion{a, b})
	assert.Len(t, out, 2)
}

func TestDeduplicateKeepsInputOrder(t *testing.T) {
	regions := []ocr.TextRegion{
		testutil.Region("Load", image.Rect(0, 100, 50, 120), 0.8),
		testutil.Region("Save", image.Rect(0, 0, 50, 20), 0.6),
		testutil.Region("Save", image.Rect(1, 0, 51, 20), 0.95),
		testutil.Region("Quit", image.Rect(0, 200, 50, 220), 0.5),
	}
	out, dropped := Deduplicate(regions)
	require.Len(t, out, 3)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, []string{"Load", "Save", "Quit"}, []string{out[0].Text, out[1].Text, out[2].Text})
	assert.InDelta(t, 0.95, out[1].Confidence, 1e-9)
}
