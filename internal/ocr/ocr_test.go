package ocr

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b image.Rectangle
		want float64
	}{
		{"identical", image.Rect(0, 0, 10, 10), image.Rect(0, 0, 10, 10), 1},
		{"disjoint", image.Rect(0, 0, 10, 10), image.Rect(20, 20, 30, 30), 0},
		{"half overlap", image.Rect(0, 0, 10, 10), image.Rect(5, 0, 15, 10), 50.0 / 150.0},
		{"empty", image.Rectangle{}, image.Rect(0, 0, 10, 10), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, IoU(tt.a, tt.b), 1e-9)
			assert.InDelta(t, tt.want, IoU(tt.b, tt.a), 1e-9)
		})
	}
}

func TestDirectionFor(t *testing.T) {
	assert.Equal(t, DirectionHorizontal, DirectionFor(image.Rect(0, 0, 100, 20)))
	assert.Equal(t, DirectionVertical, DirectionFor(image.Rect(0, 0, 20, 100)))
	assert.Equal(t, DirectionHorizontal, DirectionFor(image.Rect(0, 0, 20, 30)))
	assert.Equal(t, DirectionUnknown, DirectionFor(image.Rectangle{}))
}

func TestTextRegionTranslate(t *testing.T) {
	q := Quad{{0, 0}, {10, 0}, {10, 5}, {0, 5}}
	r := TextRegion{Text: "a", Bounds: image.Rect(0, 0, 10, 5), Contour: &q}

	moved := r.Translate(100, 50)

	assert.Equal(t, image.Rect(100, 50, 110, 55), moved.Bounds)
	require.NotNil(t, moved.Contour)
	assert.Equal(t, Point{X: 100, Y: 50}, moved.Contour[0])
	// original untouched
	assert.Equal(t, Point{X: 0, Y: 0}, r.Contour[0])
	assert.Equal(t, image.Rect(100, 50, 110, 55), moved.Contour.Bounds())
}

func TestResultText(t *testing.T) {
	var nilResult *Result
	assert.Empty(t, nilResult.Text())

	r := &Result{Regions: []TextRegion{{Text: "HP", Confidence: 0.8}, {Text: "MP", Confidence: 0.6}}}
	assert.Equal(t, "HP\nMP", r.Text())
	assert.InDelta(t, 0.7, r.AverageConfidence(), 1e-9)
}

func TestRequestEffectiveROI(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 80))

	b, ok := Request{Image: img}.EffectiveROI()
	require.True(t, ok)
	assert.Equal(t, img.Bounds(), b)

	roi := image.Rect(50, 40, 200, 200)
	b, ok = Request{Image: img, ROI: &roi}.EffectiveROI()
	require.True(t, ok)
	assert.Equal(t, image.Rect(50, 40, 100, 80), b)

	outside := image.Rect(200, 200, 300, 300)
	_, ok = Request{Image: img, ROI: &outside}.EffectiveROI()
	assert.False(t, ok)

	_, ok = Request{}.EffectiveROI()
	assert.False(t, ok)
}

func TestProgressReportClamps(t *testing.T) {
	var got []Progress
	f := ProgressFunc(func(p Progress) { got = append(got, p) })
	f.Report(PhaseTextDetection, 1.5, "x")
	f.Report(PhasePreprocessing, -1, "y")
	require.Len(t, got, 2)
	assert.InDelta(t, 1.0, got[0].Fraction, 1e-9)
	assert.InDelta(t, 0.0, got[1].Fraction, 1e-9)

	var none ProgressFunc
	assert.NotPanics(t, func() { none.Report(PhaseCompleted, 1, "") })
}

func TestSettingsValidate(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())

	bad := s
	bad.DetectionThreshold = 1.2
	assert.Error(t, bad.Validate())

	bad = s
	bad.Language = ""
	assert.Error(t, bad.Validate())

	bad = s
	bad.Tiling.MaxParallelism = 0
	assert.Error(t, bad.Validate())

	bad = s
	bad.Tiling.MergePolicy = "sometimes"
	assert.Error(t, bad.Validate())
}

func TestStatsTrackerRecord(t *testing.T) {
	tr := NewStatsTracker()
	assert.Equal(t, int64(0), tr.Snapshot().ProcessedCount)
	assert.Zero(t, tr.Snapshot().MinMs)

	tr.Record(10*time.Millisecond, false)
	tr.Record(30*time.Millisecond, true)
	tr.Record(20*time.Millisecond, true)

	s := tr.Snapshot()
	assert.Equal(t, int64(3), s.ProcessedCount)
	assert.Equal(t, int64(2), s.ErrorCount)
	assert.Equal(t, int64(2), s.ConsecutiveFailureCount)
	assert.InDelta(t, 10.0, s.MinMs, 1e-9)
	assert.InDelta(t, 30.0, s.MaxMs, 1e-9)
	assert.InDelta(t, 20.0, s.AvgMs, 1e-9)
	assert.InDelta(t, 1.0/3.0, s.SuccessRate(), 1e-9)

	tr.Record(5*time.Millisecond, false)
	assert.Equal(t, int64(0), tr.ConsecutiveFailures())

	tr.Record(time.Millisecond, true)
	tr.ResetFailureCounter()
	assert.Equal(t, int64(0), tr.ConsecutiveFailures())
	assert.Equal(t, int64(3), tr.Snapshot().ErrorCount)

	tr.Reset()
	assert.Equal(t, int64(0), tr.Snapshot().ProcessedCount)
}

func TestStatsTrackerConcurrent(t *testing.T) {
	tr := NewStatsTracker()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr.Record(time.Duration(i+1)*time.Millisecond, i%2 == 0)
		}(i)
	}
	wg.Wait()

	s := tr.Snapshot()
	assert.Equal(t, int64(50), s.ProcessedCount)
	assert.Equal(t, int64(25), s.ErrorCount)
	assert.InDelta(t, 1.0, s.MinMs, 1e-9)
	assert.InDelta(t, 50.0, s.MaxMs, 1e-9)
}

func TestErrors(t *testing.T) {
	base := errors.New("boom")
	e := NewError("recognize", "engine", time.Second, base)
	assert.ErrorIs(t, e, base)
	assert.NotEmpty(t, e.RequestID)
	assert.Contains(t, e.Error(), "engine recognize failed")

	var target *Error
	assert.True(t, errors.As(error(e), &target))

	assert.Nil(t, Canceled(base))
	c := Canceled(context.Canceled)
	assert.ErrorIs(t, c, ErrCanceled)
	assert.ErrorIs(t, c, context.Canceled)
	assert.True(t, IsCanceled(c))
	assert.True(t, IsCanceled(context.DeadlineExceeded))
	assert.False(t, IsCanceled(base))
}
