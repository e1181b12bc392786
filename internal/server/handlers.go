package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"strings"
	"time"

	"github.com/MeKo-Tech/overlay-ocr/internal/metrics"
	"github.com/MeKo-Tech/overlay-ocr/internal/ocr"
	"github.com/MeKo-Tech/overlay-ocr/internal/pipeline"
	"github.com/MeKo-Tech/overlay-ocr/internal/utils"
	"github.com/MeKo-Tech/overlay-ocr/internal/version"
)

const (
	formatText    = "text"
	formatJSON    = "json"
	formatOverlay = "overlay"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	if s.stack != nil {
		st := s.stack.Stats()
		response.Backend = st.Backend
		response.Initialized = st.Initialized
		if !st.Initialized {
			response.Status = "degraded"
		}
	}
	s.writeJSON(w, http.StatusOK, response)
}

// languagesHandler lists the installed languages on GET and switches the
// recognition language on POST.
func (s *Server) languagesHandler(w http.ResponseWriter, r *http.Request) {
	if s.stack == nil {
		s.writeErrorResponse(w, "OCR provider not initialized", http.StatusServiceUnavailable, requestID(r))
		return
	}
	p := s.stack.Provider()

	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req LanguageRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil || req.Language == "" {
			s.writeErrorResponse(w, "Request body must be {\"language\": \"<code>\"}", http.StatusBadRequest, requestID(r))
			return
		}
		ok, err := p.IsLanguageAvailable(r.Context(), req.Language)
		if err != nil {
			s.writeRecognitionError(w, r, err)
			return
		}
		if !ok {
			s.writeErrorResponse(w, fmt.Sprintf("Language %q is not installed", req.Language), http.StatusNotFound, requestID(r))
			return
		}
		settings := p.Settings()
		settings.Language = req.Language
		if err := p.ApplySettings(r.Context(), settings); err != nil {
			s.writeRecognitionError(w, r, err)
			return
		}
		s.logger.Info("Recognition language changed", "language", req.Language)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, LanguagesResponse{
		Current:   p.Settings().Language,
		Available: p.AvailableLanguages(),
	})
}

// statsHandler returns provider performance and cache counters.
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.stack == nil {
		s.writeErrorResponse(w, "OCR provider not initialized", http.StatusServiceUnavailable, requestID(r))
		return
	}
	s.writeJSON(w, http.StatusOK, s.stack.Stats())
}

// ocrHandler recognises an uploaded screenshot. The multipart form carries
// the image in "image", an optional "roi" as x,y,w,h and an optional
// "format" of json, text or overlay.
func (s *Server) ocrHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge, requestID(r))
		} else {
			s.writeErrorResponse(w, "Failed to parse form data", http.StatusBadRequest, requestID(r))
		}
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeErrorResponse(w, "No image file provided", http.StatusBadRequest, requestID(r))
		return
	}
	defer func() { _ = file.Close() }()
	metrics.UploadSize(header.Size)

	img, err := utils.DecodeImage(file)
	if err != nil {
		s.writeErrorResponse(w, "Invalid image format", http.StatusBadRequest, requestID(r))
		return
	}

	var roi *image.Rectangle
	if v := r.FormValue("roi"); v != "" {
		rect, err := utils.ParseRect(v)
		if err != nil {
			s.writeErrorResponse(w, err.Error(), http.StatusBadRequest, requestID(r))
			return
		}
		roi = &rect
	}

	format := r.FormValue("format")
	if format == "" {
		format = r.URL.Query().Get("format")
	}
	switch format {
	case "", formatJSON, formatText, formatOverlay:
	default:
		s.writeErrorResponse(w, fmt.Sprintf("Unsupported format %q", format), http.StatusBadRequest, requestID(r))
		return
	}

	if s.stack == nil {
		s.writeErrorResponse(w, "OCR provider not initialized", http.StatusServiceUnavailable, requestID(r))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	res, err := s.stack.Recognize(ctx, ocr.Request{Image: img, ROI: roi})
	if err != nil {
		s.writeRecognitionError(w, r, err)
		return
	}

	if format == formatOverlay {
		boxCol := pipeline.ParseHexColor(r.FormValue("box"), s.boxColor)
		contourCol := pipeline.ParseHexColor(r.FormValue("contour"), s.contourColor)
		w.Header().Set("Content-Type", "image/png")
		if err := png.Encode(w, pipeline.RenderOverlay(img, res, boxCol, contourCol)); err != nil {
			s.logger.Error("Error encoding overlay", "error", err)
		}
		return
	}

	out, err := pipeline.NewResultOutput(header.Filename, res)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusInternalServerError, requestID(r))
		return
	}
	pipeline.SortRegionsTopLeft(out)

	if format == formatText {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if _, err := w.Write([]byte(pipeline.ToPlainText(out))); err != nil {
			s.logger.Error("Error writing text response", "error", err)
		}
		return
	}
	s.writeJSON(w, http.StatusOK, OCRResponse{Success: true, Result: out, RequestID: requestID(r)})
}

// statusForError maps a recognition error to an HTTP status.
func statusForError(err error) int {
	switch {
	case ocr.IsCanceled(err):
		return http.StatusRequestTimeout
	case errors.Is(err, ocr.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, ocr.ErrModelUnavailable):
		return http.StatusNotFound
	case errors.Is(err, ocr.ErrUnsupportedImage):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// providerRequestID returns the id a provider attached to err, if any.
func providerRequestID(err error) string {
	var oe *ocr.Error
	if errors.As(err, &oe) {
		return oe.RequestID
	}
	return ""
}

func (s *Server) writeRecognitionError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	id := requestID(r)
	attrs := []any{"error", err, "status", status, "request_id", id}
	if pid := providerRequestID(err); pid != "" {
		attrs = append(attrs, "provider_request_id", pid)
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("OCR request failed", attrs...)
	} else {
		s.logger.Warn("OCR request rejected", attrs...)
	}
	s.writeErrorResponse(w, fmt.Sprintf("OCR processing failed: %v", err), status, id)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Error encoding response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int, requestID string) {
	s.writeJSON(w, statusCode, OCRResponse{Success: false, Error: message, RequestID: requestID})
}
