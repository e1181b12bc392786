// Package ocr defines the recognition contract shared by every layer of the
// stack: the inference engine, the tiled executor and the cache decorator all
// implement Provider and compose by wrapping one another.
package ocr

import (
	"context"
	"image"
)

// Provider is implemented by every recognition layer.
type Provider interface {
	// Name identifies the layer in logs and metrics.
	Name() string
	// Initialize prepares the provider. It returns false without an error when
	// required resources (for example model files) are unavailable.
	Initialize(ctx context.Context, settings Settings) (bool, error)
	IsInitialized() bool
	Recognize(ctx context.Context, req Request) (*Result, error)
	ApplySettings(ctx context.Context, settings Settings) error
	Settings() Settings
	AvailableLanguages() []string
	IsLanguageAvailable(ctx context.Context, code string) (bool, error)
	PerformanceStats() PerformanceStats
	ConsecutiveFailures() int64
	ResetFailureCounter()
	Close() error
}

// Request carries the per-call inputs of Recognize.
type Request struct {
	Image image.Image
	// WindowHandle identifies the captured game window. It is informational.
	WindowHandle uintptr
	// ROI restricts recognition to a sub-rectangle of Image. Region bounds in the
	// result are still reported in full-image coordinates.
	ROI      *image.Rectangle
	Progress ProgressFunc
}

// Phase names a stage of a recognition call.
type Phase string

const (
	PhaseInitializing    Phase = "initializing"
	PhasePreprocessing   Phase = "preprocessing"
	PhaseTextDetection   Phase = "text_detection"
	PhaseTextRecognition Phase = "text_recognition"
	PhasePostProcessing  Phase = "post_processing"
	PhaseCompleted       Phase = "completed"
)

// Progress is a single progress notification.
type Progress struct {
	Fraction float64 `json:"fraction"`
	Message  string  `json:"message"`
	Phase    Phase   `json:"phase"`
}

// ProgressFunc receives progress notifications. Implementations must return quickly.
type ProgressFunc func(Progress)

// Report invokes the callback if one is set, clamping the fraction to [0,1].
func (f ProgressFunc) Report(phase Phase, fraction float64, msg string) {
	if f == nil {
		return
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	f(Progress{Fraction: fraction, Message: msg, Phase: phase})
}

// EffectiveROI returns the region of the request image that should be
// processed. It reports false when the image is missing or the ROI does not
// overlap the image.
func (r Request) EffectiveROI() (image.Rectangle, bool) {
	if r.Image == nil {
		return image.Rectangle{}, false
	}
	b := r.Image.Bounds()
	if r.ROI != nil {
		b = r.ROI.Intersect(b)
	}
	if b.Empty() {
		return image.Rectangle{}, false
	}
	return b, true
}
