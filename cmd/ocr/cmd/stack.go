package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/overlay-ocr/internal/config"
	"github.com/MeKo-Tech/overlay-ocr/internal/pipeline"
)

// buildPipeline composes the provider stack described by cfg. The stack is
// not initialised.
func buildPipeline(cfg *config.Config) (*pipeline.Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	pl, err := pipeline.NewBuilder().
		WithConfig(cfg.ToPipelineConfig()).
		WithLogger(slog.Default()).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build OCR pipeline: %w", err)
	}
	return pl, nil
}

// openPipeline builds and initialises the stack. With required set an
// unavailable backend is an error; otherwise the stack is returned
// uninitialised and reports so through Stats.
func openPipeline(ctx context.Context, cfg *config.Config, required bool) (*pipeline.Pipeline, error) {
	pl, err := buildPipeline(cfg)
	if err != nil {
		return nil, err
	}
	ok, err := pl.Initialize(ctx)
	if err != nil {
		_ = pl.Close()
		return nil, err
	}
	if !ok && required {
		_ = pl.Close()
		return nil, fmt.Errorf("OCR backend %q is unavailable for language %q (models dir %q); run 'overlay-ocr languages' to list installed languages",
			cfg.Backend, cfg.OCR.Language, cfg.ModelsDir)
	}
	return pl, nil
}

func closePipeline(pl *pipeline.Pipeline) {
	if err := pl.Close(); err != nil {
		slog.Warn("Error closing pipeline", "error", err)
	}
}
