//go:build !tesseract

package tesseract

func newDefaultBackend() (Backend, error) { return nil, ErrNoBackend }
