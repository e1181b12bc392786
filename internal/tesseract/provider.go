// Package tesseract implements ocr.Provider on top of the Tesseract engine.
// It is a fallback for machines without ONNX Runtime; the gosseract backend
// is only linked when building with -tags=tesseract.
package tesseract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/overlay-ocr/internal/metrics"
	"github.com/MeKo-Tech/overlay-ocr/internal/ocr"
	"github.com/disintegration/imaging"
)

// Name identifies the provider in logs, errors and metrics.
const Name = "tesseract"

// ErrNoBackend is returned when the binary was built without a Tesseract backend.
var ErrNoBackend = errors.New("tesseract: no backend linked; build with -tags=tesseract")

// Line is one text line reported by a backend, in image coordinates of the
// PNG it was given. Confidence is in [0,1].
type Line struct {
	Text       string
	Box        image.Rectangle
	Confidence float64
}

// Backend runs Tesseract on an encoded image.
type Backend interface {
	Recognize(ctx context.Context, img []byte, language string) ([]Line, error)
	Languages() ([]string, error)
	Close() error
}

// languageCodes maps the ISO codes used by the stack to traineddata names.
var languageCodes = map[string]string{
	"ja":    "jpn",
	"en":    "eng",
	"de":    "deu",
	"fr":    "fra",
	"es":    "spa",
	"ko":    "kor",
	"zh":    "chi_sim",
	"zh-tw": "chi_tra",
	"ru":    "rus",
}

// TraineddataName returns the Tesseract language name for code. Unknown
// codes are passed through so traineddata names can be used directly.
func TraineddataName(code string) string {
	if t, ok := languageCodes[code]; ok {
		return t
	}
	return code
}

// Option customises a Provider.
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithBackend replaces the linked backend.
func WithBackend(b Backend) Option {
	return func(p *Provider) { p.backend = b }
}

// Provider recognises text with Tesseract. Tesseract detects and reads in one
// pass, so detection_threshold is ignored and only recognition_threshold
// filters lines.
type Provider struct {
	logger      *slog.Logger
	stats       *ocr.StatsTracker
	mu          sync.RWMutex
	backend     Backend
	settings    ocr.Settings
	initialized atomic.Bool
}

var _ ocr.Provider = (*Provider)(nil)

// New creates an uninitialised provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		logger:   slog.Default(),
		stats:    ocr.NewStatsTracker(),
		settings: ocr.DefaultSettings(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("provider", Name)
	return p
}

func (p *Provider) Name() string { return Name }

// Initialize links the backend and checks that traineddata for the language
// is installed. Missing backend or language data is reported as (false, nil).
func (p *Provider) Initialize(ctx context.Context, settings ocr.Settings) (bool, error) {
	if err := ocr.Canceled(ctx.Err()); err != nil {
		return false, err
	}
	if err := settings.Validate(); err != nil {
		return false, fmt.Errorf("invalid settings: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backend == nil {
		b, err := newDefaultBackend()
		if err != nil {
			p.logger.Warn("Tesseract backend unavailable", "error", err)
			return false, nil
		}
		p.backend = b
	}
	ok, err := p.hasLanguage(settings.Language)
	if err != nil {
		return false, fmt.Errorf("failed to list tesseract languages: %w", err)
	}
	if !ok {
		p.logger.Warn("Tesseract language data not installed", "language", settings.Language,
			"traineddata", TraineddataName(settings.Language))
		return false, nil
	}
	p.settings = settings
	p.initialized.Store(true)
	p.logger.Info("Tesseract provider initialized", "language", settings.Language)
	return true, nil
}

func (p *Provider) IsInitialized() bool { return p.initialized.Load() }

// Recognize reads text lines from the request image.
func (p *Provider) Recognize(ctx context.Context, req ocr.Request) (*ocr.Result, error) {
	if err := ocr.Canceled(ctx.Err()); err != nil {
		metrics.ObserveRecognition(Name, metrics.OutcomeCanceled, 0, 0)
		return nil, err
	}
	start := time.Now()
	res, err := p.recognize(ctx, req)
	elapsed := time.Since(start)

	if cerr := ocr.Canceled(err); cerr != nil {
		metrics.ObserveRecognition(Name, metrics.OutcomeCanceled, elapsed, 0)
		return nil, cerr
	}
	p.stats.Record(elapsed, err != nil)
	if err != nil {
		metrics.ObserveRecognition(Name, metrics.OutcomeError, elapsed, 0)
		p.logger.Error("OCR recognition failed", "error", err, "consecutive_failures", p.stats.ConsecutiveFailures())
		return nil, ocr.NewError("recognize", Name, elapsed, err)
	}
	res.Elapsed = elapsed
	metrics.ObserveRecognition(Name, metrics.OutcomeSuccess, elapsed, len(res.Regions))
	return res, nil
}

func (p *Provider) recognize(ctx context.Context, req ocr.Request) (*ocr.Result, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.initialized.Load() || p.backend == nil {
		return nil, ocr.ErrNotInitialized
	}
	roi, ok := req.EffectiveROI()
	if !ok {
		return nil, fmt.Errorf("%w: empty image or region of interest", ocr.ErrUnsupportedImage)
	}
	settings := p.settings

	req.Progress.Report(ocr.PhaseInitializing, 0, "Starting OCR")
	req.Progress.Report(ocr.PhasePreprocessing, 0.05, "Preparing image")
	var buf bytes.Buffer
	if err := png.Encode(&buf, imaging.Crop(req.Image, roi)); err != nil {
		return nil, fmt.Errorf("%w: %w", ocr.ErrUnsupportedImage, err)
	}

	req.Progress.Report(ocr.PhaseTextRecognition, 0.1, "Running Tesseract")
	lines, err := p.backend.Recognize(ctx, buf.Bytes(), TraineddataName(settings.Language))
	if err != nil {
		return nil, fmt.Errorf("tesseract failed: %w", err)
	}

	req.Progress.Report(ocr.PhasePostProcessing, 0.95, "Finalizing results")
	full := req.Image.Bounds()
	regions := make([]ocr.TextRegion, 0, len(lines))
	for _, l := range lines {
		if l.Text == "" || l.Confidence < settings.RecognitionThreshold {
			continue
		}
		bounds := l.Box.Add(roi.Min).Intersect(full)
		if bounds.Empty() {
			continue
		}
		regions = append(regions, ocr.TextRegion{
			Text:       l.Text,
			Bounds:     bounds,
			Confidence: l.Confidence,
			Direction:  ocr.DirectionFor(bounds),
		})
	}
	res := &ocr.Result{
		Regions:  regions,
		Source:   req.Image,
		Language: settings.Language,
	}
	if req.ROI != nil {
		r := *req.ROI
		res.ROI = &r
	}
	req.Progress.Report(ocr.PhaseCompleted, 1, fmt.Sprintf("Found %d text regions", len(regions)))
	return res, nil
}

// ApplySettings switches thresholds and language. The language must be
// installed; otherwise the current settings are kept.
func (p *Provider) ApplySettings(ctx context.Context, settings ocr.Settings) error {
	if err := ocr.Canceled(ctx.Err()); err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized.Load() && settings.Language != p.settings.Language {
		ok, err := p.hasLanguage(settings.Language)
		if err != nil {
			return fmt.Errorf("failed to list tesseract languages: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: tesseract language %q", ocr.ErrModelUnavailable, settings.Language)
		}
		metrics.LanguageSwap()
		p.logger.Info("Switched OCR language", "from", p.settings.Language, "to", settings.Language)
	}
	p.settings = settings
	return nil
}

func (p *Provider) Settings() ocr.Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings
}

// AvailableLanguages returns the stack language codes with installed traineddata.
func (p *Provider) AvailableLanguages() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.backend == nil {
		return nil
	}
	installed, err := p.backend.Languages()
	if err != nil {
		p.logger.Warn("Failed to list tesseract languages", "error", err)
		return nil
	}
	out := make([]string, 0, len(languageCodes))
	for code, name := range languageCodes {
		if slices.Contains(installed, name) {
			out = append(out, code)
		}
	}
	slices.Sort(out)
	return out
}

func (p *Provider) IsLanguageAvailable(ctx context.Context, code string) (bool, error) {
	if err := ocr.Canceled(ctx.Err()); err != nil {
		return false, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.backend == nil {
		return false, nil
	}
	return p.hasLanguage(code)
}

func (p *Provider) hasLanguage(code string) (bool, error) {
	installed, err := p.backend.Languages()
	if err != nil {
		return false, err
	}
	return slices.Contains(installed, TraineddataName(code)), nil
}

func (p *Provider) PerformanceStats() ocr.PerformanceStats { return p.stats.Snapshot() }

func (p *Provider) ConsecutiveFailures() int64 { return p.stats.ConsecutiveFailures() }

func (p *Provider) ResetFailureCounter() { p.stats.ResetFailureCounter() }

// Close releases the backend.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initialized.Store(false)
	if p.backend == nil {
		return nil
	}
	err := p.backend.Close()
	p.backend = nil
	return err
}
