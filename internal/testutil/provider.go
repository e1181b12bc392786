package testutil

import (
	"context"
	"image"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/overlay-ocr/internal/ocr"
)

// FakeProvider is a scriptable ocr.Provider. Without RecognizeFn it returns
// an empty result in Language.
type FakeProvider struct {
	Language    string
	Languages   []string
	RecognizeFn func(ctx context.Context, req ocr.Request) (*ocr.Result, error)
	// InitializeResult is returned by Initialize; nil means true.
	InitializeResult *bool

	calls       atomic.Int64
	initialized atomic.Bool
	closed      atomic.Bool
	stats       statsOnce

	mu       sync.Mutex
	settings ocr.Settings
	requests []ocr.Request
	applied  []ocr.Settings
}

type statsOnce struct {
	once sync.Once
	t    *ocr.StatsTracker
}

func (s *statsOnce) get() *ocr.StatsTracker {
	s.once.Do(func() { s.t = ocr.NewStatsTracker() })
	return s.t
}

var _ ocr.Provider = (*FakeProvider)(nil)

func (f *FakeProvider) Name() string { return "fake" }

func (f *FakeProvider) Initialize(_ context.Context, s ocr.Settings) (bool, error) {
	ok := f.InitializeResult == nil || *f.InitializeResult
	f.mu.Lock()
	f.settings = s
	f.mu.Unlock()
	f.initialized.Store(ok)
	return ok, nil
}

func (f *FakeProvider) IsInitialized() bool { return f.initialized.Load() }

func (f *FakeProvider) Recognize(ctx context.Context, req ocr.Request) (*ocr.Result, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	start := time.Now()
	var res *ocr.Result
	var err error
	if f.RecognizeFn != nil {
		res, err = f.RecognizeFn(ctx, req)
	} else {
		res = &ocr.Result{Source: req.Image, Language: f.Language}
	}
	if !ocr.IsCanceled(err) {
		f.stats.get().Record(time.Since(start), err != nil)
	}
	return res, err
}

func (f *FakeProvider) ApplySettings(_ context.Context, s ocr.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings = s
	f.applied = append(f.applied, s)
	return nil
}

func (f *FakeProvider) Settings() ocr.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings
}

func (f *FakeProvider) AvailableLanguages() []string { return slices.Clone(f.Languages) }

func (f *FakeProvider) IsLanguageAvailable(_ context.Context, code string) (bool, error) {
	return slices.Contains(f.Languages, code), nil
}

func (f *FakeProvider) PerformanceStats() ocr.PerformanceStats { return f.stats.get().Snapshot() }

func (f *FakeProvider) ConsecutiveFailures() int64 { return f.stats.get().ConsecutiveFailures() }

func (f *FakeProvider) ResetFailureCounter() { f.stats.get().ResetFailureCounter() }

func (f *FakeProvider) Close() error {
	f.closed.Store(true)
	return nil
}

// Calls returns the number of Recognize calls.
func (f *FakeProvider) Calls() int64 { return f.calls.Load() }

// Closed reports whether Close was called.
func (f *FakeProvider) Closed() bool { return f.closed.Load() }

// Requests returns the Recognize requests seen so far.
func (f *FakeProvider) Requests() []ocr.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.requests)
}

// Applied returns every settings value passed to ApplySettings.
func (f *FakeProvider) Applied() []ocr.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.applied)
}

// Region builds a text region with bounds r.
func Region(text string, r image.Rectangle, conf float64) ocr.TextRegion {
	return ocr.TextRegion{Text: text, Bounds: r, Confidence: conf, Direction: ocr.DirectionFor(r)}
}
