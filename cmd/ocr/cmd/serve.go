package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/overlay-ocr/internal/server"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for OCR API",
	Long: `Start an HTTP server that recognises screenshots for overlay clients.

The server provides the following endpoints:
  GET  /health        - Health check endpoint
  GET  /v1/languages  - List installed languages
  POST /v1/languages  - Switch the recognition language
  GET  /v1/stats      - Provider and cache statistics
  POST /v1/ocr        - Recognise an uploaded image (multipart "image", optional "roi")
  GET  /v1/ws         - WebSocket with progress events
  GET  /metrics       - Prometheus metrics

Examples:
  overlay-ocr serve
  overlay-ocr serve --port 8080
  overlay-ocr serve --host 0.0.0.0 --port 3000 --backend tesseract`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		sc := cfg.Server
		if sc.Port < 1 || sc.Port > 65535 {
			return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", sc.Port)
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		pl, err := openPipeline(ctx, cfg, false)
		if err != nil {
			return fmt.Errorf("failed to initialize server: %w", err)
		}

		ocrServer := server.NewServer(server.Config{
			Host:         sc.Host,
			Port:         sc.Port,
			CORSOrigin:   sc.CORSOrigin,
			MaxUploadMB:  int64(sc.MaxUploadMB),
			TimeoutSec:   sc.TimeoutSec,
			BoxColor:     cfg.Output.OverlayBoxColor,
			ContourColor: cfg.Output.OverlayContourColor,
		}, pl, slog.Default())

		mux := http.NewServeMux()
		ocrServer.SetupRoutes(mux)

		httpServer := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", sc.Host, sc.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       time.Duration(sc.TimeoutSec) * time.Second,
		}

		go func() {
			slog.Info("Starting OCR server", "host", sc.Host, "port", sc.Port, "backend", cfg.Backend)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server error", "error", err)
				cancel()
			}
		}()

		<-ctx.Done()
		slog.Info("Starting graceful shutdown", "timeout", fmt.Sprintf("%ds", sc.ShutdownTimeout))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(sc.ShutdownTimeout)*time.Second)
		defer shutdownCancel()

		slog.Info("Shutting down HTTP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server shutdown completed")
		}

		slog.Info("Cleaning up server resources")
		if err := ocrServer.Close(); err != nil {
			slog.Error("Server cleanup error", "error", err)
		}

		slog.Info("Graceful shutdown completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 50, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 30, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().String("cache-backend", "memory", "result cache store: memory or redis")
	serveCmd.Flags().String("redis-url", "", "redis URL for the shared result cache")

	bindFlags(serveCmd.Flags(), []flagBinding{
		{"server.host", "host"},
		{"server.port", "port"},
		{"server.cors_origin", "cors-origin"},
		{"server.max_upload_mb", "max-upload-size"},
		{"server.timeout_sec", "timeout"},
		{"server.shutdown_timeout", "shutdown-timeout"},
		{"cache.backend", "cache-backend"},
		{"cache.redis_url", "redis-url"},
	})
}
