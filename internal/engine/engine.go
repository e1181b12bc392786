// Package engine implements ocr.Provider with ONNX detection and recognition
// models: detect text quadrilaterals, read each one with a CTC recognizer and
// report the results in source image coordinates.
package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/overlay-ocr/internal/common"
	"github.com/MeKo-Tech/overlay-ocr/internal/detector"
	"github.com/MeKo-Tech/overlay-ocr/internal/metrics"
	"github.com/MeKo-Tech/overlay-ocr/internal/models"
	"github.com/MeKo-Tech/overlay-ocr/internal/ocr"
	"github.com/MeKo-Tech/overlay-ocr/internal/onnx"
	"github.com/MeKo-Tech/overlay-ocr/internal/recognizer"
	"github.com/MeKo-Tech/overlay-ocr/internal/utils"
	"github.com/disintegration/imaging"
)

// Name identifies the engine in logs, errors and metrics.
const Name = "engine"

// Config holds the model level settings of the engine. Per-call thresholds
// and the language live in ocr.Settings.
type Config struct {
	ModelsDir   string            `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LibraryPath string            `mapstructure:"library_path" yaml:"library_path" json:"library_path"`
	NumThreads  int               `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	GPU         onnx.GPUConfig    `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
	Detector    detector.Config   `mapstructure:"detector" yaml:"detector" json:"detector"`
	Recognizer  recognizer.Config `mapstructure:"recognizer" yaml:"recognizer" json:"recognizer"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		GPU:        onnx.DefaultGPUConfig(),
		Detector:   detector.DefaultConfig(),
		Recognizer: recognizer.DefaultConfig(),
	}
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithResolver replaces the file based model resolver.
func WithResolver(r models.Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithSessionFactory replaces the ONNX Runtime session factory.
func WithSessionFactory(f onnx.SessionFactory) Option {
	return func(e *Engine) { e.factory = f }
}

// Engine is the innermost recognition layer. It owns its sessions; the
// recognizer is swapped under mu when the language changes while the
// detector stays loaded.
type Engine struct {
	config   Config
	resolver models.Resolver
	factory  onnx.SessionFactory
	logger   *slog.Logger
	stats    *ocr.StatsTracker

	mu          sync.RWMutex
	settings    ocr.Settings
	det         *detector.Detector
	rec         *recognizer.Recognizer
	initialized atomic.Bool
}

var _ ocr.Provider = (*Engine)(nil)

// New creates an uninitialised engine.
func New(config Config, opts ...Option) *Engine {
	e := &Engine{
		config:   config,
		logger:   slog.Default(),
		stats:    ocr.NewStatsTracker(),
		settings: ocr.DefaultSettings(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.resolver == nil {
		e.resolver = models.NewFileResolver(config.ModelsDir)
	}
	if e.factory == nil {
		e.factory = onnx.RuntimeFactory{LibraryPath: config.LibraryPath}
	}
	e.factory = onnx.WithCPUFallback(e.factory, e.logger)
	e.logger = e.logger.With("provider", Name)
	return e
}

func (e *Engine) Name() string { return Name }

// Initialize loads the detection model and the recognition model and
// dictionary of settings.Language. Missing files yield (false, nil).
func (e *Engine) Initialize(ctx context.Context, settings ocr.Settings) (bool, error) {
	if err := ocr.Canceled(ctx.Err()); err != nil {
		return false, err
	}
	if err := settings.Validate(); err != nil {
		return false, fmt.Errorf("invalid settings: %w", err)
	}
	e.logger.Info("Initializing OCR engine", "language", settings.Language, "gpu", settings.UseGPU)

	detPath := e.resolver.DetectionModel()
	recPath, dictPath, err := e.languageFiles(settings.Language)
	if err == nil {
		err = models.Exists(detPath, recPath, dictPath)
	}
	if err != nil {
		if errors.Is(err, ocr.ErrModelUnavailable) {
			e.logger.Warn("OCR models unavailable, engine stays uninitialized", "error", err)
			return false, nil
		}
		return false, err
	}

	opts := e.sessionOptions(settings.UseGPU)
	detSession, err := e.factory.NewSession(detPath, opts)
	if err != nil {
		return false, fmt.Errorf("failed to create detection session: %w", err)
	}
	det, err := detector.New(detSession, e.config.Detector, e.logger)
	if err != nil {
		closeQuietly(e.logger, "detection session", detSession)
		return false, err
	}
	rec, err := e.loadRecognizer(settings.Language, recPath, dictPath, opts)
	if err != nil {
		closeQuietly(e.logger, "detector", det)
		return false, err
	}

	e.mu.Lock()
	oldDet, oldRec := e.det, e.rec
	e.det, e.rec, e.settings = det, rec, settings
	e.initialized.Store(true)
	e.mu.Unlock()

	if oldDet != nil {
		closeQuietly(e.logger, "previous detector", oldDet)
	}
	if oldRec != nil {
		closeQuietly(e.logger, "previous recognizer", oldRec)
	}
	e.logger.Info("OCR engine initialized", "language", settings.Language, "charset_size", rec.Charset().Size())
	return true, nil
}

func (e *Engine) IsInitialized() bool { return e.initialized.Load() }

// Recognize runs detection and recognition on the request image. Failures
// are wrapped in *ocr.Error and counted; cancellation is returned as
// ocr.ErrCanceled and not counted.
func (e *Engine) Recognize(ctx context.Context, req ocr.Request) (*ocr.Result, error) {
	if err := ocr.Canceled(ctx.Err()); err != nil {
		metrics.ObserveRecognition(Name, metrics.OutcomeCanceled, 0, 0)
		return nil, err
	}
	start := time.Now()
	res, err := e.recognize(ctx, req)
	elapsed := time.Since(start)

	if cerr := ocr.Canceled(err); cerr != nil {
		metrics.ObserveRecognition(Name, metrics.OutcomeCanceled, elapsed, 0)
		return nil, cerr
	}
	e.stats.Record(elapsed, err != nil)
	if err != nil {
		metrics.ObserveRecognition(Name, metrics.OutcomeError, elapsed, 0)
		e.logger.Error("OCR recognition failed", "error", err, "consecutive_failures", e.stats.ConsecutiveFailures())
		return nil, ocr.NewError("recognize", Name, elapsed, err)
	}
	metrics.ObserveRecognition(Name, metrics.OutcomeSuccess, elapsed, len(res.Regions))
	return res, nil
}

func (e *Engine) recognize(ctx context.Context, req ocr.Request) (*ocr.Result, error) {
	// held for the whole call so a language swap never closes a session in use
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized.Load() || e.det == nil || e.rec == nil {
		return nil, ocr.ErrNotInitialized
	}
	roi, ok := req.EffectiveROI()
	if !ok {
		return nil, fmt.Errorf("%w: empty image or region of interest", ocr.ErrUnsupportedImage)
	}
	settings := e.settings
	timer := common.NewTimer(Name)
	req.Progress.Report(ocr.PhaseInitializing, 0, "Starting OCR")

	req.Progress.Report(ocr.PhasePreprocessing, 0.05, "Preparing image")
	img := req.Image
	if roi != img.Bounds() {
		img = imaging.Crop(img, roi)
	}
	timer.Lap("preprocess")

	req.Progress.Report(ocr.PhaseTextDetection, 0.1, "Detecting text regions")
	found, err := e.det.Detect(img, settings.DetectionThreshold)
	if err != nil {
		return nil, fmt.Errorf("text detection failed: %w", err)
	}
	timer.Lap("detect")

	regions := make([]ocr.TextRegion, 0, len(found))
	for i, r := range found {
		if err := ocr.Canceled(ctx.Err()); err != nil {
			return nil, err
		}
		req.Progress.Report(ocr.PhaseTextRecognition, 0.2+0.7*float64(i)/float64(len(found)),
			fmt.Sprintf("Recognizing region %d/%d", i+1, len(found)))
		text, conf, err := e.rec.Recognize(img, r.Quad)
		if err != nil {
			return nil, fmt.Errorf("text recognition failed for region %d: %w", i, err)
		}
		if text == "" || conf < settings.RecognitionThreshold {
			continue
		}
		regions = append(regions, toTextRegion(r.Quad, roi.Min, req.Image.Bounds(), text, conf))
	}
	timer.Lap("recognize")

	req.Progress.Report(ocr.PhasePostProcessing, 0.95, "Finalizing results")
	res := &ocr.Result{
		Regions:  regions,
		Source:   req.Image,
		Elapsed:  timer.Elapsed(),
		Language: e.rec.Language(),
		ROI:      copyROI(req.ROI),
	}
	req.Progress.Report(ocr.PhaseCompleted, 1, fmt.Sprintf("Found %d text regions", len(regions)))
	e.logger.Debug("OCR recognition finished", "detected", len(found), "kept", len(regions), "timing", timer)
	return res, nil
}

// toTextRegion converts a detected quad local to the processed image into a
// region in full image coordinates.
func toTextRegion(q [4]utils.Point, offset image.Point, full image.Rectangle, text string, conf float64) ocr.TextRegion {
	var quad ocr.Quad
	for i, p := range q {
		quad[i] = ocr.Point{X: p.X + float64(offset.X), Y: p.Y + float64(offset.Y)}
	}
	bounds := quad.Bounds().Intersect(full)
	return ocr.TextRegion{
		Text:       text,
		Bounds:     bounds,
		Confidence: conf,
		Contour:    &quad,
		Direction:  ocr.DirectionFor(bounds),
	}
}

func copyROI(r *image.Rectangle) *image.Rectangle {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// ApplySettings updates thresholds immediately. A language change loads the
// new recognizer outside the lock and swaps it in; the detector is kept. The
// GPU toggle takes effect on the next Initialize.
func (e *Engine) ApplySettings(ctx context.Context, settings ocr.Settings) error {
	if err := ocr.Canceled(ctx.Err()); err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	e.mu.RLock()
	current := e.settings
	var currentLang string
	if e.rec != nil {
		currentLang = e.rec.Language()
	}
	e.mu.RUnlock()

	if !e.initialized.Load() || settings.Language == currentLang {
		e.mu.Lock()
		e.settings = settings
		e.mu.Unlock()
		if settings.UseGPU != current.UseGPU && e.initialized.Load() {
			e.logger.Info("GPU setting changed, takes effect on next initialization", "gpu", settings.UseGPU)
		}
		return nil
	}

	recPath, dictPath, err := e.languageFiles(settings.Language)
	if err == nil {
		err = models.Exists(recPath, dictPath)
	}
	if err != nil {
		return fmt.Errorf("cannot switch language to %q: %w", settings.Language, err)
	}
	rec, err := e.loadRecognizer(settings.Language, recPath, dictPath, e.sessionOptions(current.UseGPU))
	if err != nil {
		return err
	}

	e.mu.Lock()
	old := e.rec
	e.rec = rec
	e.settings = settings
	e.mu.Unlock()

	// the write lock waited for every in-flight call, so old is idle now
	if old != nil {
		closeQuietly(e.logger, "previous recognizer", old)
	}
	metrics.LanguageSwap()
	e.logger.Info("Recognition language switched", "from", currentLang, "to", settings.Language)
	return nil
}

func (e *Engine) Settings() ocr.Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings
}

// AvailableLanguages returns the languages whose recognition files are present.
func (e *Engine) AvailableLanguages() []string {
	var out []string
	for _, lang := range e.resolver.Languages() {
		if models.LanguageAvailable(e.resolver, lang) {
			out = append(out, lang)
		}
	}
	return out
}

func (e *Engine) IsLanguageAvailable(ctx context.Context, code string) (bool, error) {
	if err := ocr.Canceled(ctx.Err()); err != nil {
		return false, err
	}
	return models.LanguageAvailable(e.resolver, code), nil
}

func (e *Engine) PerformanceStats() ocr.PerformanceStats { return e.stats.Snapshot() }

func (e *Engine) ConsecutiveFailures() int64 { return e.stats.ConsecutiveFailures() }

func (e *Engine) ResetFailureCounter() { e.stats.ResetFailureCounter() }

// Close releases both sessions. The engine must be initialised again before use.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.initialized.Store(false)
	var errs []error
	if e.det != nil {
		errs = append(errs, e.det.Close())
		e.det = nil
	}
	if e.rec != nil {
		errs = append(errs, e.rec.Close())
		e.rec = nil
	}
	return errors.Join(errs...)
}

func (e *Engine) languageFiles(lang string) (string, string, error) {
	recPath, err := e.resolver.RecognitionModel(lang)
	if err != nil {
		return "", "", err
	}
	dictPath, err := e.resolver.Dictionary(lang)
	if err != nil {
		return "", "", err
	}
	return recPath, dictPath, nil
}

func (e *Engine) loadRecognizer(lang, recPath, dictPath string, opts onnx.SessionOptions) (*recognizer.Recognizer, error) {
	charset, err := recognizer.LoadCharset(dictPath, e.config.Recognizer.UseSpaceChar)
	if err != nil {
		return nil, fmt.Errorf("failed to load dictionary for %q: %w", lang, err)
	}
	session, err := e.factory.NewSession(recPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create recognition session for %q: %w", lang, err)
	}
	rec, err := recognizer.New(session, charset, lang, e.config.Recognizer)
	if err != nil {
		closeQuietly(e.logger, "recognition session", session)
		return nil, err
	}
	return rec, nil
}

func (e *Engine) sessionOptions(useGPU bool) onnx.SessionOptions {
	return onnx.OptionsFor(useGPU, e.config.GPU, e.config.NumThreads)
}

type closer interface{ Close() error }

func closeQuietly(logger *slog.Logger, what string, c closer) {
	if err := c.Close(); err != nil {
		logger.Warn("error closing "+what, "error", err)
	}
}
