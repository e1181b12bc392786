package ocr

import (
	"errors"
	"fmt"
)

// MergePolicy controls how the tiled executor treats failing tiles.
type MergePolicy string

const (
	// MergeAllOrNothing fails the whole batch when any tile fails.
	MergeAllOrNothing MergePolicy = "all_or_nothing"
	// MergeBestEffort drops failed tiles and merges the rest.
	MergeBestEffort MergePolicy = "best_effort"
)

// Settings configures a provider stack.
type Settings struct {
	Language             string         `mapstructure:"language" yaml:"language" json:"language"`
	DetectionThreshold   float64        `mapstructure:"detection_threshold" yaml:"detection_threshold" json:"detection_threshold"`
	RecognitionThreshold float64        `mapstructure:"recognition_threshold" yaml:"recognition_threshold" json:"recognition_threshold"`
	UseGPU               bool           `mapstructure:"use_gpu" yaml:"use_gpu" json:"use_gpu"`
	Tiling               TilingSettings `mapstructure:"tiling" yaml:"tiling" json:"tiling"`
}

// TilingSettings configures the tiled parallel executor.
type TilingSettings struct {
	EnableParallel bool `mapstructure:"enable_parallel" yaml:"enable_parallel" json:"enable_parallel"`
	// MinImageSizeForParallel is a pixel area (width*height).
	MinImageSizeForParallel int         `mapstructure:"min_image_size_for_parallel" yaml:"min_image_size_for_parallel" json:"min_image_size_for_parallel"`
	TileColumns             int         `mapstructure:"tile_columns" yaml:"tile_columns" json:"tile_columns"`
	TileRows                int         `mapstructure:"tile_rows" yaml:"tile_rows" json:"tile_rows"`
	TileOverlapPixels       int         `mapstructure:"tile_overlap_pixels" yaml:"tile_overlap_pixels" json:"tile_overlap_pixels"`
	MaxParallelism          int         `mapstructure:"max_parallelism" yaml:"max_parallelism" json:"max_parallelism"`
	MergePolicy             MergePolicy `mapstructure:"merge_policy" yaml:"merge_policy" json:"merge_policy"`
}

// DefaultSettings returns settings tuned for 1080p game captures.
func DefaultSettings() Settings {
	return Settings{
		Language:             "ja",
		DetectionThreshold:   0.3,
		RecognitionThreshold: 0.5,
		UseGPU:               false,
		Tiling:               DefaultTilingSettings(),
	}
}

// DefaultTilingSettings returns the default tiling configuration.
func DefaultTilingSettings() TilingSettings {
	return TilingSettings{
		EnableParallel:          true,
		MinImageSizeForParallel: 1280 * 720,
		TileColumns:             2,
		TileRows:                2,
		TileOverlapPixels:       32,
		MaxParallelism:          4,
		MergePolicy:             MergeAllOrNothing,
	}
}

// Validate checks the settings for out-of-range values.
func (s Settings) Validate() error {
	if s.Language == "" {
		return errors.New("language is required")
	}
	if err := validateThreshold("detection_threshold", s.DetectionThreshold); err != nil {
		return err
	}
	if err := validateThreshold("recognition_threshold", s.RecognitionThreshold); err != nil {
		return err
	}
	return s.Tiling.Validate()
}

// Validate checks the tiling settings.
func (t TilingSettings) Validate() error {
	if t.TileColumns < 1 || t.TileRows < 1 {
		return fmt.Errorf("tile grid must be at least 1x1, got %dx%d", t.TileColumns, t.TileRows)
	}
	if t.TileOverlapPixels < 0 {
		return fmt.Errorf("tile_overlap_pixels must be >= 0, got %d", t.TileOverlapPixels)
	}
	if t.MaxParallelism < 1 {
		return fmt.Errorf("max_parallelism must be >= 1, got %d", t.MaxParallelism)
	}
	if t.MinImageSizeForParallel < 0 {
		return fmt.Errorf("min_image_size_for_parallel must be >= 0, got %d", t.MinImageSizeForParallel)
	}
	switch t.MergePolicy {
	case MergeAllOrNothing, MergeBestEffort, "":
	default:
		return fmt.Errorf("unknown merge_policy %q", t.MergePolicy)
	}
	return nil
}

func validateThreshold(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be between 0.0 and 1.0, got %f", name, v)
	}
	return nil
}
