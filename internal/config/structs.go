//nolint:lll
package config

import (
	"time"

	"github.com/MeKo-Tech/overlay-ocr/internal/detector"
	"github.com/MeKo-Tech/overlay-ocr/internal/ocr"
	"github.com/MeKo-Tech/overlay-ocr/internal/recognizer"
)

// Config represents the complete configuration for the overlay-ocr application.
// It includes settings for all commands (image, languages, serve) and
// supports loading from configuration files, .env files, environment variables
// and command-line flags.
type Config struct {
	// Global settings
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Base provider: "onnx" or "tesseract"
	Backend string `mapstructure:"backend" yaml:"backend" json:"backend"`

	// ONNX Runtime settings
	Runtime RuntimeConfig `mapstructure:"runtime" yaml:"runtime" json:"runtime"`

	// Recognition settings shared by every layer
	OCR OCRConfig `mapstructure:"ocr" yaml:"ocr" json:"ocr"`

	// Tiled parallel execution
	Tiling ocr.TilingSettings `mapstructure:"tiling" yaml:"tiling" json:"tiling"`

	// Model pre/post-processing
	Detector   detector.Config   `mapstructure:"detector" yaml:"detector" json:"detector"`
	Recognizer recognizer.Config `mapstructure:"recognizer" yaml:"recognizer" json:"recognizer"`

	// Result cache
	Cache CacheConfig `mapstructure:"cache" yaml:"cache" json:"cache"`

	// Output configuration
	Output OutputConfig `mapstructure:"output" yaml:"output" json:"output"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// GPU configuration
	GPU GPUConfig `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// RuntimeConfig contains ONNX Runtime settings.
type RuntimeConfig struct {
	LibraryPath string `mapstructure:"library_path" yaml:"library_path" json:"library_path"`
	NumThreads  int    `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
}

// OCRConfig contains the per-call recognition settings.
type OCRConfig struct {
	Language             string  `mapstructure:"language" yaml:"language" json:"language"`
	DetectionThreshold   float64 `mapstructure:"detection_threshold" yaml:"detection_threshold" json:"detection_threshold"`
	RecognitionThreshold float64 `mapstructure:"recognition_threshold" yaml:"recognition_threshold" json:"recognition_threshold"`
}

// CacheConfig contains result cache settings.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Backend  string        `mapstructure:"backend" yaml:"backend" json:"backend"`
	Size     int           `mapstructure:"size" yaml:"size" json:"size"`
	RedisURL string        `mapstructure:"redis_url" yaml:"redis_url" json:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl" json:"ttl"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format              string `mapstructure:"format" yaml:"format" json:"format"`
	File                string `mapstructure:"file" yaml:"file" json:"file"`
	OverlayDir          string `mapstructure:"overlay_dir" yaml:"overlay_dir" json:"overlay_dir"`
	OverlayBoxColor     string `mapstructure:"overlay_box_color" yaml:"overlay_box_color" json:"overlay_box_color"`
	OverlayContourColor string `mapstructure:"overlay_contour_color" yaml:"overlay_contour_color" json:"overlay_contour_color"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// GPUConfig contains GPU acceleration settings.
type GPUConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device      int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit string `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
}
