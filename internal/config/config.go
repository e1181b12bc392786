package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/overlay-ocr/internal/detector"
	"github.com/MeKo-Tech/overlay-ocr/internal/engine"
	"github.com/MeKo-Tech/overlay-ocr/internal/models"
	"github.com/MeKo-Tech/overlay-ocr/internal/ocr"
	"github.com/MeKo-Tech/overlay-ocr/internal/onnx"
	"github.com/MeKo-Tech/overlay-ocr/internal/pipeline"
	"github.com/MeKo-Tech/overlay-ocr/internal/recognizer"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	settings := ocr.DefaultSettings()
	cacheCfg := pipeline.DefaultCacheConfig()
	return Config{
		ModelsDir: models.DefaultModelsDir,
		LogLevel:  "info",
		Verbose:   false,
		Backend:   pipeline.BackendONNX,
		OCR: OCRConfig{
			Language:             settings.Language,
			DetectionThreshold:   settings.DetectionThreshold,
			RecognitionThreshold: settings.RecognitionThreshold,
		},
		Tiling:     settings.Tiling,
		Detector:   detector.DefaultConfig(),
		Recognizer: recognizer.DefaultConfig(),
		Cache: CacheConfig{
			Enabled: cacheCfg.Enabled,
			Backend: cacheCfg.Backend,
			Size:    cacheCfg.Size,
			TTL:     cacheCfg.TTL,
		},
		Output: OutputConfig{
			Format:              pipeline.FormatText,
			OverlayBoxColor:     "#FF0000",
			OverlayContourColor: "#00FF00",
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
		},
		GPU: GPUConfig{
			Enabled:     false,
			Device:      0,
			MemoryLimit: "auto",
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validFormats := []string{pipeline.FormatText, pipeline.FormatJSON, pipeline.FormatYAML}
	if c.Output.Format != "" && !slices.Contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Runtime.NumThreads < 0 {
		return fmt.Errorf("invalid runtime num_threads: %d (must be >= 0)", c.Runtime.NumThreads)
	}

	if err := c.Detector.Validate(); err != nil {
		return fmt.Errorf("invalid detector config: %w", err)
	}
	if err := c.Recognizer.Validate(); err != nil {
		return fmt.Errorf("invalid recognizer config: %w", err)
	}

	if _, err := parseMemoryLimit(c.GPU.MemoryLimit); err != nil {
		return fmt.Errorf("invalid GPU memory limit: %w", err)
	}
	if c.GPU.Enabled && c.GPU.Device < 0 {
		return fmt.Errorf("invalid GPU device: %d (must be >= 0)", c.GPU.Device)
	}

	// backend, settings, tiling and cache
	return c.ToPipelineConfig().Validate()
}

// ToSettings returns the per-call provider settings.
func (c *Config) ToSettings() ocr.Settings {
	return ocr.Settings{
		Language:             c.OCR.Language,
		DetectionThreshold:   c.OCR.DetectionThreshold,
		RecognitionThreshold: c.OCR.RecognitionThreshold,
		UseGPU:               c.GPU.Enabled,
		Tiling:               c.Tiling,
	}
}

// ToPipelineConfig converts the config to the internal pipeline configuration format.
func (c *Config) ToPipelineConfig() pipeline.Config {
	return pipeline.Config{
		Backend:  c.Backend,
		Engine:   c.toEngineConfig(),
		Settings: c.ToSettings(),
		Cache: pipeline.CacheConfig{
			Enabled:  c.Cache.Enabled,
			Backend:  c.Cache.Backend,
			Size:     c.Cache.Size,
			RedisURL: c.Cache.RedisURL,
			TTL:      c.Cache.TTL,
		},
	}
}

// toEngineConfig converts to engine.Config.
func (c *Config) toEngineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.ModelsDir = c.ModelsDir
	cfg.LibraryPath = c.Runtime.LibraryPath
	cfg.NumThreads = c.Runtime.NumThreads
	cfg.Detector = c.Detector
	clean := cfg.Recognizer.Clean
	cfg.Recognizer = c.Recognizer
	cfg.Recognizer.Clean = clean
	cfg.GPU = c.toGPUConfig()
	return cfg
}

// toGPUConfig converts to onnx.GPUConfig. An invalid memory limit maps to
// no limit; Validate reports it.
func (c *Config) toGPUConfig() onnx.GPUConfig {
	cfg := onnx.DefaultGPUConfig()
	cfg.UseGPU = c.GPU.Enabled
	cfg.DeviceID = c.GPU.Device
	if limit, err := parseMemoryLimit(c.GPU.MemoryLimit); err == nil {
		cfg.MemLimit = limit
	}
	return cfg
}

// parseMemoryLimit parses GPU memory limits like "1GB" or "512MB". Empty and
// "auto" mean no limit.
func parseMemoryLimit(limit string) (uint64, error) {
	if limit == "" || limit == "auto" {
		return 0, nil
	}
	upper := strings.ToUpper(strings.TrimSpace(limit))
	units := []struct {
		suffix string
		factor float64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}
	for _, u := range units {
		if !strings.HasSuffix(upper, u.suffix) {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(upper, u.suffix)), 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid number in memory limit: %s", limit)
		}
		return uint64(n * u.factor), nil
	}
	return 0, fmt.Errorf("memory limit must end with one of: B, KB, MB, GB")
}
