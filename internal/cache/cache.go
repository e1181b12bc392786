// Package cache memoises whole-image recognition results by content hash.
package cache

import (
	"context"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/overlay-ocr/internal/metrics"
	"github.com/MeKo-Tech/overlay-ocr/internal/ocr"
)

// Name identifies the cache layer in logs, errors and metrics.
const Name = "cache"

// Stats counts cache lookups. TotalRequests includes calls whose image
// could not be hashed.
type Stats struct {
	TotalRequests int64 `json:"total_requests"`
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
}

// HitRate returns Hits / (Hits + Misses), or 0 before the first lookup.
func (s Stats) HitRate() float64 {
	n := s.Hits + s.Misses
	if n == 0 {
		return 0
	}
	return float64(s.Hits) / float64(n)
}

// Option customises a Decorator.
type Option func(*Decorator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Decorator) {
		if l != nil {
			d.logger = l
		}
	}
}

// Decorator is an ocr.Provider that answers repeated images from a Store
// and delegates everything else to the wrapped provider.
type Decorator struct {
	inner  ocr.Provider
	store  Store
	logger *slog.Logger

	total  atomic.Int64
	hits   atomic.Int64
	misses atomic.Int64
}

var _ ocr.Provider = (*Decorator)(nil)

// New wraps inner with store.
func New(inner ocr.Provider, store Store, opts ...Option) *Decorator {
	d := &Decorator{inner: inner, store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("provider", Name)
	return d
}

func (d *Decorator) Name() string { return Name }

// Inner returns the wrapped provider.
func (d *Decorator) Inner() ocr.Provider { return d.inner }

// Recognize returns a cached result for identical image content, otherwise
// delegates and stores the fresh result. Store failures degrade to a miss.
func (d *Decorator) Recognize(ctx context.Context, req ocr.Request) (*ocr.Result, error) {
	if err := ocr.Canceled(ctx.Err()); err != nil {
		return nil, err
	}
	start := time.Now()
	d.total.Add(1)
	payload, err := Payload(req.Image, req.ROI, d.inner.Settings())
	if err != nil {
		metrics.ObserveRecognition(Name, metrics.OutcomeError, time.Since(start), 0)
		return nil, ocr.NewError("recognize", Name, time.Since(start), err)
	}
	key := d.store.Hash(payload)

	cached, ok, err := d.store.Get(ctx, key)
	if err != nil {
		metrics.CacheLookup("error")
		d.logger.Warn("Cache lookup failed, treating as miss", "key", key, "error", err)
		ok = false
	}
	if ok && cached != nil {
		d.hits.Add(1)
		metrics.CacheLookup("hit")
		res := rebind(cached, req)
		req.Progress.Report(ocr.PhaseCompleted, 1, "Result served from cache")
		metrics.ObserveRecognition(Name, metrics.OutcomeSuccess, time.Since(start), len(res.Regions))
		d.logger.Debug("Cache hit", "key", key, "regions", len(res.Regions))
		return res, nil
	}

	d.misses.Add(1)
	metrics.CacheLookup("miss")
	res, err := d.inner.Recognize(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := d.store.Put(ctx, key, res); err != nil {
		d.logger.Warn("Cache store failed", "key", key, "error", err)
	}
	return res, nil
}

// rebind returns a copy of a cached result bound to the caller's image.
func rebind(cached *ocr.Result, req ocr.Request) *ocr.Result {
	res := *cached
	res.Regions = slices.Clone(cached.Regions)
	res.Source = req.Image
	res.ROI = nil
	if req.ROI != nil {
		roi := *req.ROI
		res.ROI = &roi
	}
	return &res
}

// CacheStats returns a snapshot of the lookup counters.
func (d *Decorator) CacheStats() Stats {
	return Stats{TotalRequests: d.total.Load(), Hits: d.hits.Load(), Misses: d.misses.Load()}
}

// ResetCacheStats clears the lookup counters.
func (d *Decorator) ResetCacheStats() {
	d.total.Store(0)
	d.hits.Store(0)
	d.misses.Store(0)
}

func (d *Decorator) Initialize(ctx context.Context, settings ocr.Settings) (bool, error) {
	return d.inner.Initialize(ctx, settings)
}

func (d *Decorator) IsInitialized() bool { return d.inner.IsInitialized() }

func (d *Decorator) ApplySettings(ctx context.Context, settings ocr.Settings) error {
	return d.inner.ApplySettings(ctx, settings)
}

func (d *Decorator) Settings() ocr.Settings { return d.inner.Settings() }

func (d *Decorator) AvailableLanguages() []string { return d.inner.AvailableLanguages() }

func (d *Decorator) IsLanguageAvailable(ctx context.Context, code string) (bool, error) {
	return d.inner.IsLanguageAvailable(ctx, code)
}

func (d *Decorator) PerformanceStats() ocr.PerformanceStats { return d.inner.PerformanceStats() }

func (d *Decorator) ConsecutiveFailures() int64 { return d.inner.ConsecutiveFailures() }

func (d *Decorator) ResetFailureCounter() { d.inner.ResetFailureCounter() }

// Close closes the wrapped provider and, when it has a Close method, the store.
func (d *Decorator) Close() error {
	err := d.inner.Close()
	if c, ok := d.store.(interface{ Close() error }); ok {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
