package ocr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotInitialized is returned by Recognize before a successful Initialize.
	ErrNotInitialized = errors.New("ocr provider not initialized")
	// ErrModelUnavailable marks missing model or dictionary files.
	ErrModelUnavailable = errors.New("ocr model unavailable")
	// ErrUnsupportedImage is returned when an image cannot be processed at all.
	ErrUnsupportedImage = errors.New("unsupported image")
	// ErrCanceled wraps context cancellation. Canceled calls are not counted
	// as failures.
	ErrCanceled = errors.New("ocr canceled")
)

// Error describes a failed recognition call.
type Error struct {
	Op        string
	Provider  string
	RequestID string
	Duration  time.Duration
	Err       error
}

// NewError wraps err with a fresh request id.
func NewError(op, provider string, d time.Duration, err error) *Error {
	return &Error{Op: op, Provider: provider, RequestID: uuid.NewString(), Duration: d, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s failed after %v (request %s): %v", e.Provider, e.Op, e.Duration, e.RequestID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Canceled converts a context error into an ErrCanceled chain. It returns nil
// when err is not a cancellation.
func Canceled(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCanceled) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	return nil
}

// IsCanceled reports whether err represents a cancelled call.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
