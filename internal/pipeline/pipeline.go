// Package pipeline composes the recognition stack: a cache decorator over a
// tiled executor over a base provider (the ONNX engine or Tesseract).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/overlay-ocr/internal/cache"
	"github.com/MeKo-Tech/overlay-ocr/internal/engine"
	"github.com/MeKo-Tech/overlay-ocr/internal/ocr"
	"github.com/MeKo-Tech/overlay-ocr/internal/onnx"
	"github.com/MeKo-Tech/overlay-ocr/internal/tesseract"
	"github.com/MeKo-Tech/overlay-ocr/internal/tiling"
)

// Base provider names.
const (
	BackendONNX      = "onnx"
	BackendTesseract = "tesseract"
)

// Cache store names.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// CacheConfig configures the cache decorator.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Backend  string        `mapstructure:"backend" yaml:"backend" json:"backend"`
	Size     int           `mapstructure:"size" yaml:"size" json:"size"`
	RedisURL string        `mapstructure:"redis_url" yaml:"redis_url" json:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl" json:"ttl"`
}

// DefaultCacheConfig returns an enabled in-memory cache.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled: true,
		Backend: StoreMemory,
		Size:    cache.DefaultMemoryEntries,
		TTL:     10 * time.Minute,
	}
}

// Validate checks the cache configuration.
func (c CacheConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Backend {
	case StoreMemory, "":
		if c.Size < 0 {
			return fmt.Errorf("cache size must be >= 0, got %d", c.Size)
		}
	case StoreRedis:
		if c.RedisURL == "" {
			return errors.New("cache redis_url is required for the redis backend")
		}
		if c.TTL < 0 {
			return fmt.Errorf("cache ttl must be >= 0, got %v", c.TTL)
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Backend)
	}
	return nil
}

// Config holds configuration for the whole stack.
type Config struct {
	Backend  string
	Engine   engine.Config
	Settings ocr.Settings
	Cache    CacheConfig
}

// DefaultConfig returns the default stack: ONNX engine, 2x2 tiling and an
// in-memory cache.
func DefaultConfig() Config {
	return Config{
		Backend:  BackendONNX,
		Engine:   engine.DefaultConfig(),
		Settings: ocr.DefaultSettings(),
		Cache:    DefaultCacheConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendONNX, BackendTesseract, "":
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if err := c.Settings.Validate(); err != nil {
		return err
	}
	return c.Cache.Validate()
}

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	cfg     Config
	logger  *slog.Logger
	base    ocr.Provider
	store   cache.Store
	factory onnx.SessionFactory
}

// NewBuilder creates a new pipeline builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithBackend selects the base provider ("onnx" or "tesseract").
func (b *Builder) WithBackend(name string) *Builder {
	if name != "" {
		b.cfg.Backend = name
	}
	return b
}

// WithModelsDir sets the models directory of the ONNX engine.
func (b *Builder) WithModelsDir(dir string) *Builder {
	if dir != "" {
		b.cfg.Engine.ModelsDir = dir
	}
	return b
}

// WithLanguage sets the recognition language.
func (b *Builder) WithLanguage(lang string) *Builder {
	if lang != "" {
		b.cfg.Settings.Language = lang
	}
	return b
}

// WithThresholds sets the detection and recognition thresholds.
func (b *Builder) WithThresholds(detection, recognition float64) *Builder {
	b.cfg.Settings.DetectionThreshold = detection
	b.cfg.Settings.RecognitionThreshold = recognition
	return b
}

// WithGPU toggles CUDA acceleration.
func (b *Builder) WithGPU(enabled bool) *Builder {
	b.cfg.Settings.UseGPU = enabled
	b.cfg.Engine.GPU.UseGPU = enabled
	return b
}

// WithThreads sets the intra-op thread count (if > 0).
func (b *Builder) WithThreads(n int) *Builder {
	if n > 0 {
		b.cfg.Engine.NumThreads = n
	}
	return b
}

// WithTiling replaces the tiling settings.
func (b *Builder) WithTiling(t ocr.TilingSettings) *Builder {
	b.cfg.Settings.Tiling = t
	return b
}

// WithCache replaces the cache configuration.
func (b *Builder) WithCache(c CacheConfig) *Builder {
	b.cfg.Cache = c
	return b
}

// WithCacheStore injects a cache store instead of building one from the
// cache configuration.
func (b *Builder) WithCacheStore(s cache.Store) *Builder {
	b.store = s
	return b
}

// WithBaseProvider injects the innermost provider instead of building the
// configured backend.
func (b *Builder) WithBaseProvider(p ocr.Provider) *Builder {
	b.base = p
	return b
}

// WithSessionFactory replaces the ONNX Runtime session factory of the engine.
func (b *Builder) WithSessionFactory(f onnx.SessionFactory) *Builder {
	b.factory = f
	return b
}

// WithLogger sets the logger passed to every layer.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// Config returns the current configuration.
func (b *Builder) Config() Config { return b.cfg }

// Build validates the configuration and wires the layers. The stack is not
// initialised; call Pipeline.Initialize.
func (b *Builder) Build() (*Pipeline, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	base := b.base
	if base == nil {
		switch b.cfg.Backend {
		case BackendTesseract:
			base = tesseract.New(tesseract.WithLogger(logger))
		default:
			opts := []engine.Option{engine.WithLogger(logger)}
			if b.factory != nil {
				opts = append(opts, engine.WithSessionFactory(b.factory))
			}
			base = engine.New(b.cfg.Engine, opts...)
		}
	}

	p := &Pipeline{cfg: b.cfg, logger: logger, base: base}
	p.tiling = tiling.New(base, b.cfg.Settings.Tiling, tiling.WithLogger(logger))
	p.top = p.tiling

	if b.cfg.Cache.Enabled {
		store := b.store
		if store == nil {
			s, err := newStore(b.cfg.Cache)
			if err != nil {
				return nil, err
			}
			store = s
		}
		p.cache = cache.New(p.tiling, store, cache.WithLogger(logger))
		p.top = p.cache
	}
	logger.Debug("Pipeline built", "backend", base.Name(), "cache", b.cfg.Cache.Enabled,
		"cache_backend", b.cfg.Cache.Backend, "tiling", b.cfg.Settings.Tiling.EnableParallel)
	return p, nil
}

func newStore(c CacheConfig) (cache.Store, error) {
	if c.Backend == StoreRedis {
		s, err := cache.NewRedisStore(c.RedisURL, c.TTL)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis cache: %w", err)
		}
		return s, nil
	}
	s, err := cache.NewMemoryStore(c.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}
	return s, nil
}

// Pipeline is a composed provider stack.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger
	base   ocr.Provider
	tiling *tiling.Executor
	cache  *cache.Decorator
	top    ocr.Provider
}

// Provider returns the outermost layer.
func (p *Pipeline) Provider() ocr.Provider { return p.top }

// Base returns the innermost provider.
func (p *Pipeline) Base() ocr.Provider { return p.base }

// Config returns the configuration the pipeline was built with.
func (p *Pipeline) Config() Config { return p.cfg }

// Initialize initialises the stack with the configured settings. It reports
// false when the base provider's resources are unavailable.
func (p *Pipeline) Initialize(ctx context.Context) (bool, error) {
	ok, err := p.top.Initialize(ctx, p.cfg.Settings)
	if err != nil {
		return false, fmt.Errorf("failed to initialize %s: %w", p.base.Name(), err)
	}
	if !ok {
		p.logger.Warn("OCR provider unavailable", "backend", p.base.Name(), "language", p.cfg.Settings.Language)
	}
	return ok, nil
}

// Recognize runs the request through the whole stack.
func (p *Pipeline) Recognize(ctx context.Context, req ocr.Request) (*ocr.Result, error) {
	return p.top.Recognize(ctx, req)
}

// Stats is a snapshot of the stack counters.
type Stats struct {
	Backend             string               `json:"backend"`
	Language            string               `json:"language"`
	Initialized         bool                 `json:"initialized"`
	Performance         ocr.PerformanceStats `json:"performance"`
	ConsecutiveFailures int64                `json:"consecutive_failures"`
	Cache               *CacheStats          `json:"cache,omitempty"`
}

// CacheStats adds the hit rate to the cache counters.
type CacheStats struct {
	cache.Stats
	HitRate float64 `json:"hit_rate"`
}

// Stats returns the stack counters.
func (p *Pipeline) Stats() Stats {
	s := Stats{
		Backend:             p.base.Name(),
		Language:            p.top.Settings().Language,
		Initialized:         p.top.IsInitialized(),
		Performance:         p.top.PerformanceStats(),
		ConsecutiveFailures: p.top.ConsecutiveFailures(),
	}
	if p.cache != nil {
		cs := p.cache.CacheStats()
		s.Cache = &CacheStats{Stats: cs, HitRate: cs.HitRate()}
	}
	return s
}

// Close releases every layer.
func (p *Pipeline) Close() error {
	return p.top.Close()
}
