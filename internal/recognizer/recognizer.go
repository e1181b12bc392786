// Package recognizer turns detected text quadrilaterals into strings with a
// CTC recognition model.
package recognizer

import (
	"errors"
	"fmt"
	"image"

	"github.com/MeKo-Tech/overlay-ocr/internal/onnx"
	"github.com/MeKo-Tech/overlay-ocr/internal/utils"
)

// Config holds recognition preprocessing settings.
type Config struct {
	ImageHeight      int          `mapstructure:"image_height" yaml:"image_height" json:"image_height"`
	MaxWidth         int          `mapstructure:"max_width" yaml:"max_width" json:"max_width"`
	PadWidthMultiple int          `mapstructure:"pad_width_multiple" yaml:"pad_width_multiple" json:"pad_width_multiple"`
	UseSpaceChar     bool         `mapstructure:"use_space_char" yaml:"use_space_char" json:"use_space_char"`
	Clean            CleanOptions `mapstructure:"-" yaml:"-" json:"-"`
}

// DefaultConfig returns the settings of PP-OCR mobile recognition models.
func DefaultConfig() Config {
	return Config{
		ImageHeight:      48,
		MaxWidth:         320,
		PadWidthMultiple: 0,
		UseSpaceChar:     true,
		Clean:            DefaultCleanOptions(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ImageHeight <= 0 {
		return fmt.Errorf("image_height must be > 0, got %d", c.ImageHeight)
	}
	if c.MaxWidth < 0 || c.PadWidthMultiple < 0 {
		return errors.New("max_width and pad_width_multiple must be >= 0")
	}
	return nil
}

// Recognizer owns a recognition session and its dictionary. The pair is
// immutable; switching language means building a new Recognizer.
type Recognizer struct {
	session  onnx.Session
	charset  *Charset
	language string
	config   Config
}

// New pairs a session with a charset for language.
func New(session onnx.Session, charset *Charset, language string, config Config) (*Recognizer, error) {
	if session == nil {
		return nil, errors.New("recognizer session is nil")
	}
	if charset == nil || charset.Size() == 0 {
		return nil, errors.New("recognizer charset is empty")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid recognizer config: %w", err)
	}
	return &Recognizer{session: session, charset: charset, language: language, config: config}, nil
}

// Language returns the language code this recognizer was built for.
func (r *Recognizer) Language() string { return r.language }

// Session returns the underlying session.
func (r *Recognizer) Session() onnx.Session { return r.session }

// Charset returns the dictionary.
func (r *Recognizer) Charset() *Charset { return r.charset }

// Recognize reads the text inside quad q of img. Quad coordinates are
// relative to img.Bounds().Min.
func (r *Recognizer) Recognize(img image.Image, q [4]utils.Point) (string, float64, error) {
	return r.RecognizePatch(CropQuad(img, q))
}

// RecognizePatch reads an already upright text line image.
func (r *Recognizer) RecognizePatch(patch image.Image) (string, float64, error) {
	resized, err := ResizeForRecognition(patch, r.config.ImageHeight, r.config.MaxWidth)
	if err != nil {
		return "", 0, err
	}
	input, err := NormalizeForRecognition(resized, r.config.PadWidthMultiple)
	if err != nil {
		return "", 0, err
	}
	out, err := r.session.Run(input)
	if err != nil {
		return "", 0, fmt.Errorf("recognition inference failed: %w", err)
	}
	decoded, err := DecodeCTCGreedy(out.Data, out.Shape, BlankIndex)
	if err != nil {
		return "", 0, err
	}
	text := PostProcessText(r.charset.Decode(decoded.Indices), r.config.Clean)
	return text, decoded.Confidence(), nil
}

// Close releases the session.
func (r *Recognizer) Close() error {
	return r.session.Close()
}
