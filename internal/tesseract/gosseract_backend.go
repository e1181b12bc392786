//go:build tesseract

package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// newDefaultBackend returns the gosseract backed implementation when the build tag is enabled.
func newDefaultBackend() (Backend, error) {
	return &gosseractBackend{clientFactory: gosseract.NewClient}, nil
}

// gosseractBackend creates a client per call. A gosseract client is not safe
// for concurrent use and tiles arrive in parallel.
type gosseractBackend struct {
	clientFactory func() *gosseract.Client
}

func (b *gosseractBackend) Recognize(ctx context.Context, img []byte, language string) ([]Line, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := b.clientFactory()
	defer func() { _ = c.Close() }()

	if err := c.SetLanguage(language); err != nil {
		return nil, fmt.Errorf("set language: %w", err)
	}
	if err := c.SetPageSegMode(gosseract.PSM_SPARSE_TEXT); err != nil {
		return nil, fmt.Errorf("set page segmentation mode: %w", err)
	}
	if err := c.SetImageFromBytes(img); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("get text lines: %w", err)
	}
	lines := make([]Line, 0, len(boxes))
	for _, bx := range boxes {
		text := strings.TrimSpace(bx.Word)
		if text == "" {
			continue
		}
		lines = append(lines, Line{Text: text, Box: bx.Box, Confidence: bx.Confidence / 100.0})
	}
	return lines, nil
}

func (b *gosseractBackend) Languages() ([]string, error) {
	return gosseract.GetAvailableLanguages()
}

func (b *gosseractBackend) Close() error { return nil }
