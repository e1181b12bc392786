package detector

import (
	"fmt"
)

// Config holds configuration for the text detector.
type Config struct {
	MaxSideLen    int     `mapstructure:"max_side_len" yaml:"max_side_len" json:"max_side_len"`
	BoxThreshold  float64 `mapstructure:"box_threshold" yaml:"box_threshold" json:"box_threshold"`
	UnclipRatio   float64 `mapstructure:"unclip_ratio" yaml:"unclip_ratio" json:"unclip_ratio"`
	MinArea       int     `mapstructure:"min_area" yaml:"min_area" json:"min_area"`
	MinSide       float64 `mapstructure:"min_side" yaml:"min_side" json:"min_side"`
	MaxCandidates int     `mapstructure:"max_candidates" yaml:"max_candidates" json:"max_candidates"`
}

// DefaultConfig returns the default detector configuration.
func DefaultConfig() Config {
	return Config{
		MaxSideLen:    960,
		BoxThreshold:  0.5,
		UnclipRatio:   1.5,
		MinArea:       16,
		MinSide:       3,
		MaxCandidates: 1000,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxSideLen < 32 {
		return fmt.Errorf("max_side_len must be >= 32, got %d", c.MaxSideLen)
	}
	if c.BoxThreshold < 0 || c.BoxThreshold > 1 {
		return fmt.Errorf("box_threshold must be between 0.0 and 1.0, got %f", c.BoxThreshold)
	}
	if c.UnclipRatio < 0 {
		return fmt.Errorf("unclip_ratio must be >= 0, got %f", c.UnclipRatio)
	}
	if c.MinArea < 0 || c.MinSide < 0 {
		return fmt.Errorf("min_area and min_side must be >= 0")
	}
	return nil
}
