package server

import (
	"context"
	"image/color"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/overlay-ocr/internal/ocr"
	"github.com/MeKo-Tech/overlay-ocr/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// stack is the part of *pipeline.Pipeline the server needs.
type stack interface {
	Recognize(ctx context.Context, req ocr.Request) (*ocr.Result, error)
	Provider() ocr.Provider
	Stats() pipeline.Stats
	Close() error
}

var _ stack = (*pipeline.Pipeline)(nil)

// Server holds the HTTP server state and dependencies.
type Server struct {
	stack        stack
	logger       *slog.Logger
	corsOrigin   string
	maxUploadMB  int64
	timeout      time.Duration
	boxColor     color.Color
	contourColor color.Color
}

// Config holds server configuration.
type Config struct {
	Host         string
	Port         int
	CORSOrigin   string
	MaxUploadMB  int64
	TimeoutSec   int
	BoxColor     string
	ContourColor string
}

// Response types for API endpoints.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	Backend     string `json:"backend"`
	Initialized bool   `json:"initialized"`
	Time        string `json:"time"`
}

type LanguagesResponse struct {
	Current   string   `json:"current"`
	Available []string `json:"available"`
}

type LanguageRequest struct {
	Language string `json:"language"`
}

type OCRResponse struct {
	Success   bool                   `json:"success"`
	Result    *pipeline.ResultOutput `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// NewServer creates a server around an already built stack. The stack is
// owned by the server and released by Close.
func NewServer(config Config, st stack, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxUploadMB <= 0 {
		config.MaxUploadMB = 50
	}
	if config.TimeoutSec <= 0 {
		config.TimeoutSec = 30
	}
	if config.CORSOrigin == "" {
		config.CORSOrigin = "*"
	}
	return &Server{
		stack:        st,
		logger:       logger.With("component", "server"),
		corsOrigin:   config.CORSOrigin,
		maxUploadMB:  config.MaxUploadMB,
		timeout:      time.Duration(config.TimeoutSec) * time.Second,
		boxColor:     pipeline.ParseHexColor(config.BoxColor, color.RGBA{255, 0, 0, 255}),
		contourColor: pipeline.ParseHexColor(config.ContourColor, color.RGBA{0, 255, 0, 255}),
	}
}

// Close releases server resources.
func (s *Server) Close() error {
	if s.stack != nil {
		return s.stack.Close()
	}
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/v1/languages", s.corsMiddleware(s.languagesHandler))
	mux.HandleFunc("/v1/stats", s.corsMiddleware(s.statsHandler))
	mux.HandleFunc("/v1/ocr", s.corsMiddleware(s.ocrHandler))
	mux.HandleFunc("/v1/ws", s.ocrWebSocketHandler)
	mux.Handle("/metrics", promhttp.Handler())
}
