package cmd

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/MeKo-Tech/overlay-ocr/internal/config"
	"github.com/MeKo-Tech/overlay-ocr/internal/ocr"
	"github.com/MeKo-Tech/overlay-ocr/internal/pipeline"
	"github.com/MeKo-Tech/overlay-ocr/internal/utils"
	"github.com/spf13/cobra"
)

var validFormats = []string{pipeline.FormatText, pipeline.FormatJSON, pipeline.FormatYAML}

// imageCmd represents the image command.
var imageCmd = &cobra.Command{
	Use:   "image <file>...",
	Short: "Process images for OCR text detection and recognition",
	Long: `Process one or more screenshots to extract text using OCR.

Supported formats: PNG, JPEG, BMP

Examples:
  overlay-ocr image screenshot.png
  overlay-ocr image *.png --format json
  overlay-ocr image dialog.png --roi 0,600,1280,120 --language en
  overlay-ocr image frame.png --overlay-dir overlays --output results.yaml --format yaml`,
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return errors.New("no input files provided")
		}
		for _, pth := range args {
			if !utils.IsSupportedImage(pth) {
				return fmt.Errorf("unsupported image format: %s", pth)
			}
			if _, err := os.Stat(pth); err != nil {
				return fmt.Errorf("cannot read %s: %w", pth, err)
			}
		}

		cfg := GetConfig()
		if !slices.Contains(validFormats, cfg.Output.Format) {
			return fmt.Errorf("invalid output format: %s (must be one of: %s)",
				cfg.Output.Format, strings.Join(validFormats, ", "))
		}

		var roi *image.Rectangle
		if s, _ := cmd.Flags().GetString("roi"); s != "" {
			r, err := utils.ParseRect(s)
			if err != nil {
				return err
			}
			roi = &r
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		pl, err := openPipeline(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer closePipeline(pl)

		outs := make([]*pipeline.ResultOutput, 0, len(args))
		for _, pth := range args {
			out, err := recognizeFile(ctx, cmd.OutOrStdout(), pl, cfg, pth, roi)
			if err != nil {
				return err
			}
			outs = append(outs, out)
		}
		return writeOutputs(cmd.OutOrStdout(), cfg.Output, outs)
	},
}

// recognizeFile runs one image through the stack and optionally writes an
// overlay next to the other overlays.
func recognizeFile(ctx context.Context, stdout io.Writer, pl *pipeline.Pipeline, cfg *config.Config, pth string, roi *image.Rectangle) (*pipeline.ResultOutput, error) {
	img, err := utils.LoadImage(pth)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", pth, err)
	}
	res, err := pl.Recognize(ctx, ocr.Request{Image: img, ROI: roi})
	if err != nil {
		return nil, fmt.Errorf("OCR failed for %s: %w", pth, err)
	}

	if dir := cfg.Output.OverlayDir; dir != "" {
		outPath, err := saveOverlay(dir, pth, img, res, cfg.Output)
		if err != nil {
			return nil, err
		}
		if _, err := fmt.Fprintf(stdout, "Saved overlay: %s\n", outPath); err != nil {
			return nil, fmt.Errorf("failed to write to stdout: %w", err)
		}
	}

	out, err := pipeline.NewResultOutput(pth, res)
	if err != nil {
		return nil, err
	}
	pipeline.SortRegionsTopLeft(out)
	return out, nil
}

func saveOverlay(dir, pth string, img image.Image, res *ocr.Result, o config.OutputConfig) (string, error) {
	boxCol := pipeline.ParseHexColor(o.OverlayBoxColor, color.RGBA{255, 0, 0, 255})
	contourCol := pipeline.ParseHexColor(o.OverlayContourColor, color.RGBA{0, 255, 0, 255})
	ov := pipeline.RenderOverlay(img, res, boxCol, contourCol)

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create overlay dir: %w", err)
	}
	base := filepath.Base(pth)
	outPath := filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+"_overlay.png")
	f, err := os.Create(outPath) //nolint:gosec // G304: overlay output path is chosen by the user
	if err != nil {
		return "", fmt.Errorf("failed to create overlay: %w", err)
	}
	if err := png.Encode(f, ov); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("failed to encode overlay: %w", err)
	}
	return outPath, f.Close()
}

func writeOutputs(stdout io.Writer, o config.OutputConfig, outs []*pipeline.ResultOutput) error {
	if o.File == "" {
		return pipeline.WriteResults(stdout, o.Format, outs)
	}
	f, err := os.Create(o.File) //nolint:gosec // G304: output path is chosen by the user
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := pipeline.WriteResults(f, o.Format, outs); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write output file: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "Results written to %s\n", o.File)
	return err
}

func init() {
	rootCmd.AddCommand(imageCmd)

	imageCmd.Flags().StringP("format", "f", "text", "output format (text, json, yaml)")
	imageCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	imageCmd.Flags().String("roi", "", "region of interest as x,y,w,h in image pixels")
	imageCmd.Flags().StringP("language", "l", "ja", "recognition language code")
	imageCmd.Flags().Float64("det-threshold", 0.3, "minimum detection confidence (0..1)")
	imageCmd.Flags().Float64("rec-threshold", 0.5, "minimum recognition confidence (0..1)")
	imageCmd.Flags().String("overlay-dir", "", "directory to write overlay images (drawn boxes)")
	imageCmd.Flags().Bool("no-tiling", false, "disable tiled parallel recognition")
	imageCmd.Flags().Int("threads", 0, "ONNX Runtime intra-op threads (0 = runtime default)")
	imageCmd.Flags().Bool("gpu", false, "enable GPU acceleration using CUDA")
	imageCmd.Flags().Int("gpu-device", 0, "CUDA device ID to use")

	bindFlags(imageCmd.Flags(), []flagBinding{
		{"output.format", "format"},
		{"output.file", "output"},
		{"ocr.language", "language"},
		{"ocr.detection_threshold", "det-threshold"},
		{"ocr.recognition_threshold", "rec-threshold"},
		{"output.overlay_dir", "overlay-dir"},
		{"runtime.num_threads", "threads"},
		{"gpu.enabled", "gpu"},
		{"gpu.device", "gpu-device"},
	})

	imageCmd.PreRun = func(cmd *cobra.Command, args []string) {
		if off, _ := cmd.Flags().GetBool("no-tiling"); off {
			GetConfigLoader().Set("tiling.enable_parallel", false)
		}
	}
}
