// Package models locates detection and recognition models on disk.
package models

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/MeKo-Tech/overlay-ocr/internal/ocr"
)

// Detection model filename. One detector serves every language.
const DetectionModel = "PP-OCRv5_mobile_det.onnx"

// Directory layout under the models root.
const (
	TypeDetection    = "detection"
	TypeRecognition  = "recognition"
	TypeDictionaries = "dictionaries"
)

// DefaultModelsDir is used when neither configuration nor environment name a directory.
const DefaultModelsDir = "models"

// EnvModelsDir overrides the models directory.
const EnvModelsDir = "OVERLAYOCR_MODELS_DIR"

// LanguageModel names the recognition assets of one language.
type LanguageModel struct {
	Code       string
	Model      string
	Dictionary string
}

// Languages lists the recognition models known to the resolver.
var Languages = map[string]LanguageModel{
	"ja": {Code: "ja", Model: "japan_PP-OCRv4_mobile_rec.onnx", Dictionary: "japan_dict.txt"},
	"en": {Code: "en", Model: "en_PP-OCRv4_mobile_rec.onnx", Dictionary: "en_dict.txt"},
	"zh": {Code: "zh", Model: "PP-OCRv5_mobile_rec.onnx", Dictionary: "ppocr_keys_v1.txt"},
	"ko": {Code: "ko", Model: "korean_PP-OCRv4_mobile_rec.onnx", Dictionary: "korean_dict.txt"},
}

// Resolver maps model roles and languages to file paths.
type Resolver interface {
	DetectionModel() string
	RecognitionModel(lang string) (string, error)
	Dictionary(lang string) (string, error)
	Languages() []string
}

// FileResolver resolves paths under a models directory.
type FileResolver struct {
	Dir string
}

// NewFileResolver returns a resolver for dir, falling back to the
// environment override and then DefaultModelsDir.
func NewFileResolver(dir string) FileResolver {
	return FileResolver{Dir: ModelsDir(dir)}
}

// ModelsDir returns the models directory. Priority: explicit value,
// environment variable, default.
func ModelsDir(dir string) string {
	if dir != "" {
		return dir
	}
	if env := os.Getenv(EnvModelsDir); env != "" {
		return env
	}
	return DefaultModelsDir
}

func (r FileResolver) DetectionModel() string {
	return filepath.Join(r.Dir, TypeDetection, DetectionModel)
}

func (r FileResolver) RecognitionModel(lang string) (string, error) {
	lm, ok := Languages[lang]
	if !ok {
		return "", fmt.Errorf("%w: unsupported language %q", ocr.ErrModelUnavailable, lang)
	}
	return filepath.Join(r.Dir, TypeRecognition, lm.Model), nil
}

func (r FileResolver) Dictionary(lang string) (string, error) {
	lm, ok := Languages[lang]
	if !ok {
		return "", fmt.Errorf("%w: unsupported language %q", ocr.ErrModelUnavailable, lang)
	}
	return filepath.Join(r.Dir, TypeDictionaries, lm.Dictionary), nil
}

// Languages returns the known language codes in sorted order.
func (r FileResolver) Languages() []string {
	out := make([]string, 0, len(Languages))
	for code := range Languages {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Exists reports an ErrModelUnavailable error naming the first missing path.
func Exists(paths ...string) error {
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("%w: %s", ocr.ErrModelUnavailable, p)
		}
		if fi.IsDir() {
			return fmt.Errorf("%w: %s is a directory", ocr.ErrModelUnavailable, p)
		}
	}
	return nil
}

// LanguageAvailable reports whether both recognition files of lang exist.
func LanguageAvailable(r Resolver, lang string) bool {
	model, err := r.RecognitionModel(lang)
	if err != nil {
		return false
	}
	dict, err := r.Dictionary(lang)
	if err != nil {
		return false
	}
	return Exists(model, dict) == nil
}
