package cmd

import (
	"context"
	"fmt"

	"github.com/MeKo-Tech/overlay-ocr/internal/pipeline"
	"github.com/spf13/cobra"
)

// languagesCmd lists the recognition languages the configured backend can
// load.
var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List installed recognition languages",
	Long: `List the recognition languages the configured backend can load.

For the ONNX backend a language is installed when its recognition model and
dictionary exist under the models directory. For Tesseract it is installed
when the matching traineddata file is present. The configured language is
marked with '*'.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		pl, err := buildPipeline(cfg)
		if err != nil {
			return err
		}
		defer closePipeline(pl)
		// Tesseract only knows its languages once the library is linked.
		if cfg.Backend == pipeline.BackendTesseract {
			if _, err := pl.Initialize(ctx); err != nil {
				return err
			}
		}

		langs := pl.Provider().AvailableLanguages()
		out := cmd.OutOrStdout()
		if len(langs) == 0 {
			_, err := fmt.Fprintf(out, "No languages installed for backend %s\n", pl.Base().Name())
			return err
		}
		for _, l := range langs {
			marker := " "
			if l == cfg.OCR.Language {
				marker = "*"
			}
			if _, err := fmt.Fprintf(out, "%s %s\n", marker, l); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(languagesCmd)
}
