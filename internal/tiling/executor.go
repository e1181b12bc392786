package tiling

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/overlay-ocr/internal/metrics"
	"github.com/MeKo-Tech/overlay-ocr/internal/ocr"
	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"
)

// Name identifies the executor in logs, errors and metrics.
const Name = "tiling"

// Option customises an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// Executor is an ocr.Provider that splits large images into overlapping
// tiles and recognises them concurrently through the wrapped provider.
// Performance counters and the failure counter belong to the wrapped
// provider, so ProcessedCount counts tiles rather than calls. A best-effort
// batch that returns a result resets the failure counter; the executor only
// adds metrics.
type Executor struct {
	inner  ocr.Provider
	logger *slog.Logger

	mu     sync.RWMutex
	tiling ocr.TilingSettings
}

var _ ocr.Provider = (*Executor)(nil)

// New wraps inner.
func New(inner ocr.Provider, tiling ocr.TilingSettings, opts ...Option) *Executor {
	e := &Executor{inner: inner, tiling: tiling, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("provider", Name)
	return e
}

func (e *Executor) Name() string { return Name }

// Inner returns the wrapped provider.
func (e *Executor) Inner() ocr.Provider { return e.inner }

// Initialize stores the tiling settings and initialises the wrapped provider.
func (e *Executor) Initialize(ctx context.Context, settings ocr.Settings) (bool, error) {
	if err := settings.Tiling.Validate(); err != nil {
		return false, fmt.Errorf("invalid tiling settings: %w", err)
	}
	e.setTiling(settings.Tiling)
	return e.inner.Initialize(ctx, settings)
}

func (e *Executor) IsInitialized() bool { return e.inner.IsInitialized() }

// Recognize passes small images straight through and tiles the rest.
func (e *Executor) Recognize(ctx context.Context, req ocr.Request) (*ocr.Result, error) {
	if err := ocr.Canceled(ctx.Err()); err != nil {
		return nil, err
	}
	t := e.tilingSettings()
	roi, ok := req.EffectiveROI()
	if !t.EnableParallel || !ok || roi.Dx()*roi.Dy() < t.MinImageSizeForParallel {
		return e.inner.Recognize(ctx, req)
	}
	tiles := ComputeTiles(roi, t.TileColumns, t.TileRows, t.TileOverlapPixels)
	if len(tiles) < 2 {
		return e.inner.Recognize(ctx, req)
	}

	start := time.Now()
	res, err := e.executeParallel(ctx, req, tiles, t)
	elapsed := time.Since(start)
	canceled := ocr.IsCanceled(err)
	regions := 0
	if res != nil {
		regions = len(res.Regions)
	}
	metrics.ObserveRecognition(Name, metrics.Outcome(err, canceled), elapsed, regions)
	if err != nil {
		return nil, err
	}
	return res, nil
}

type tileOutcome struct {
	rect image.Rectangle
	res  *ocr.Result
	err  error
}

// executeParallel recognises tiles with at most MaxParallelism concurrent
// calls and merges the results according to the merge policy.
func (e *Executor) executeParallel(ctx context.Context, req ocr.Request, tiles []image.Rectangle, t ocr.TilingSettings) (*ocr.Result, error) {
	start := time.Now()
	policy := t.MergePolicy
	if policy == "" {
		policy = ocr.MergeAllOrNothing
	}
	e.logger.Debug("Recognizing tiles", "tiles", len(tiles), "max_parallelism", t.MaxParallelism, "policy", policy)
	req.Progress.Report(ocr.PhasePreprocessing, 0, fmt.Sprintf("Split image into %d tiles", len(tiles)))

	outcomes := make([]tileOutcome, len(tiles))
	var (
		progressMu sync.Mutex
		done       int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(t.MaxParallelism, 1))
	for i, rect := range tiles {
		g.Go(func() error {
			outcomes[i].rect = rect
			if err := ocr.Canceled(gctx.Err()); err != nil {
				outcomes[i].err = err
				return err
			}
			metrics.TileStarted()
			res, err := e.inner.Recognize(gctx, ocr.Request{
				Image:        imaging.Crop(req.Image, rect),
				WindowHandle: req.WindowHandle,
			})
			metrics.TileFinished(metrics.Outcome(err, ocr.IsCanceled(err)))
			outcomes[i].res, outcomes[i].err = res, err

			progressMu.Lock()
			done++
			req.Progress.Report(ocr.PhaseTextRecognition, float64(done)/float64(len(tiles)),
				fmt.Sprintf("Processed tile %d/%d", done, len(tiles)))
			progressMu.Unlock()

			if err != nil && (policy == ocr.MergeAllOrNothing || ocr.IsCanceled(err)) {
				return fmt.Errorf("tile %d %v: %w", i, rect, err)
			}
			return nil
		})
	}
	err := g.Wait()
	if cerr := ocr.Canceled(ctx.Err()); cerr != nil {
		return nil, cerr
	}
	if err != nil {
		return nil, fmt.Errorf("tiled recognition failed: %w", err)
	}

	req.Progress.Report(ocr.PhasePostProcessing, 1, "Merging tile results")
	merged, lang, failed, firstErr := mergeOutcomes(outcomes)
	if failed == len(tiles) {
		return nil, fmt.Errorf("tiled recognition failed: all %d tiles failed: %w", failed, firstErr)
	}
	if failed > 0 {
		e.logger.Warn("Some tiles failed, returning partial results", "failed", failed, "tiles", len(tiles), "error", firstErr)
		e.inner.ResetFailureCounter()
	}
	regions, dropped := Deduplicate(merged)
	metrics.DuplicatesDropped(dropped)

	res := &ocr.Result{
		Regions:  regions,
		Source:   req.Image,
		Elapsed:  time.Since(start),
		Language: lang,
		ROI:      copyROI(req.ROI),
	}
	req.Progress.Report(ocr.PhaseCompleted, 1, fmt.Sprintf("Found %d text regions", len(regions)))
	e.logger.Debug("Tiled recognition finished", "regions", len(regions), "duplicates", dropped, "elapsed", res.Elapsed)
	return res, nil
}

// mergeOutcomes translates tile regions into image coordinates in tile
// order. The language comes from the first successful tile.
func mergeOutcomes(outcomes []tileOutcome) ([]ocr.TextRegion, string, int, error) {
	var (
		regions  []ocr.TextRegion
		lang     string
		haveLang bool
		failed   int
		firstErr error
	)
	for _, o := range outcomes {
		if o.err != nil || o.res == nil {
			failed++
			if firstErr == nil {
				firstErr = o.err
			}
			continue
		}
		if !haveLang {
			lang, haveLang = o.res.Language, true
		}
		for _, r := range o.res.Regions {
			regions = append(regions, r.Translate(o.rect.Min.X, o.rect.Min.Y))
		}
	}
	return regions, lang, failed, firstErr
}

func copyROI(r *image.Rectangle) *image.Rectangle {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// ApplySettings stores the tiling settings and forwards the rest.
func (e *Executor) ApplySettings(ctx context.Context, settings ocr.Settings) error {
	if err := settings.Tiling.Validate(); err != nil {
		return fmt.Errorf("invalid tiling settings: %w", err)
	}
	if err := e.inner.ApplySettings(ctx, settings); err != nil {
		return err
	}
	e.setTiling(settings.Tiling)
	return nil
}

// Settings returns the wrapped provider's settings with the executor's
// tiling settings.
func (e *Executor) Settings() ocr.Settings {
	s := e.inner.Settings()
	s.Tiling = e.tilingSettings()
	return s
}

func (e *Executor) AvailableLanguages() []string { return e.inner.AvailableLanguages() }

func (e *Executor) IsLanguageAvailable(ctx context.Context, code string) (bool, error) {
	return e.inner.IsLanguageAvailable(ctx, code)
}

// PerformanceStats returns the wrapped provider's counters. Each tile of a
// tiled call is one processed call there.
func (e *Executor) PerformanceStats() ocr.PerformanceStats { return e.inner.PerformanceStats() }

func (e *Executor) ConsecutiveFailures() int64 { return e.inner.ConsecutiveFailures() }

func (e *Executor) ResetFailureCounter() { e.inner.ResetFailureCounter() }

func (e *Executor) Close() error { return e.inner.Close() }

func (e *Executor) setTiling(t ocr.TilingSettings) {
	e.mu.Lock()
	e.tiling = t
	e.mu.Unlock()
}

func (e *Executor) tilingSettings() ocr.TilingSettings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tiling
}
