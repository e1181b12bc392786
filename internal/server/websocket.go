package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"sync"
	"time"

	"github.com/MeKo-Tech/overlay-ocr/internal/metrics"
	"github.com/MeKo-Tech/overlay-ocr/internal/ocr"
	"github.com/MeKo-Tech/overlay-ocr/internal/pipeline"
	"github.com/MeKo-Tech/overlay-ocr/internal/utils"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsWriteWait  = 10 * time.Second
)

// WebSocket upgrader. The overlay client connects from a local page, so any
// origin is accepted.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketOCRRequest is a recognition request sent by the client. Image
// holds the encoded screenshot (base64 in JSON).
type WebSocketOCRRequest struct {
	Type  string        `json:"type"` // "recognize"
	Image []byte        `json:"image,omitempty"`
	ROI   *pipeline.Box `json:"roi,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// WebSocketOCRResponse is a message sent to the client. A request produces
// one "accepted" message, zero or more "progress" messages and then a
// "result" or "error".
type WebSocketOCRResponse struct {
	Type      string                 `json:"type"`
	Status    string                 `json:"status"` // "processing", "completed", "error"
	Progress  float64                `json:"progress,omitempty"`
	Phase     ocr.Phase              `json:"phase,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Result    *pipeline.ResultOutput `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
	ErrorType string                 `json:"error_type,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// lockedWriter serialises writes; progress callbacks may fire from tile
// workers while the connection goroutine is blocked in Recognize.
type lockedWriter struct {
	mu   sync.Mutex
	conn WebSocketConnWriter
}

func (l *lockedWriter) WriteMessage(messageType int, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn.WriteMessage(messageType, data)
}

// ocrWebSocketHandler handles WebSocket connections for streaming OCR.
func (s *Server) ocrWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	metrics.WebSocketOpened()
	defer metrics.WebSocketClosed()

	s.logger.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)
	s.handleWebSocketConnection(r.Context(), conn)
}

// handleWebSocketConnection processes messages until the client goes away.
// Requests on one connection are handled in order.
func (s *Server) handleWebSocketConnection(ctx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			}
		}
	}()

	out := &lockedWriter{conn: conn}
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Error("WebSocket error", "error", err)
			}
			return
		}
		metrics.WebSocketMessage("received", "request")

		if messageType == websocket.TextMessage {
			s.handleWebSocketMessage(ctx, out, data)
		}
	}
}

// handleWebSocketMessage runs one recognition request and streams its
// progress.
func (s *Server) handleWebSocketMessage(ctx context.Context, conn WebSocketConnWriter, data []byte) {
	var req WebSocketOCRRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWebSocketError(conn, "", "invalid_request", fmt.Sprintf("Failed to parse request: %v", err))
		return
	}
	if req.Type != "recognize" {
		s.sendWebSocketError(conn, "", "invalid_request", "Unsupported request type: "+req.Type)
		return
	}
	if len(req.Image) == 0 {
		s.sendWebSocketError(conn, "", "invalid_request", "No image data provided")
		return
	}
	img, err := utils.DecodeImage(bytes.NewReader(req.Image))
	if err != nil {
		s.sendWebSocketError(conn, "", "invalid_request", fmt.Sprintf("Failed to decode image: %v", err))
		return
	}
	var roi *image.Rectangle
	if req.ROI != nil {
		if req.ROI.W <= 0 || req.ROI.H <= 0 {
			s.sendWebSocketError(conn, "", "invalid_request", "roi width and height must be positive")
			return
		}
		r := image.Rect(req.ROI.X, req.ROI.Y, req.ROI.X+req.ROI.W, req.ROI.Y+req.ROI.H)
		roi = &r
	}
	if s.stack == nil {
		s.sendWebSocketError(conn, "", "unavailable", "OCR provider not initialized")
		return
	}

	requestID := uuid.NewString()
	s.sendWebSocketResponse(conn, WebSocketOCRResponse{
		Type:      "accepted",
		Status:    "processing",
		RequestID: requestID,
	})

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := s.stack.Recognize(ctx, ocr.Request{
		Image: img,
		ROI:   roi,
		Progress: func(p ocr.Progress) {
			s.sendWebSocketResponse(conn, WebSocketOCRResponse{
				Type:      "progress",
				Status:    "processing",
				Progress:  p.Fraction,
				Phase:     p.Phase,
				Message:   p.Message,
				RequestID: requestID,
			})
		},
	})
	if err != nil {
		s.logger.Warn("WebSocket OCR request failed", "error", err, "request_id", requestID)
		s.sendWebSocketError(conn, requestID, classifyError(err), fmt.Sprintf("OCR processing failed: %v", err))
		return
	}

	out, err := pipeline.NewResultOutput("", res)
	if err != nil {
		s.sendWebSocketError(conn, requestID, "processing_error", err.Error())
		return
	}
	pipeline.SortRegionsTopLeft(out)
	s.sendWebSocketResponse(conn, WebSocketOCRResponse{
		Type:      "result",
		Status:    "completed",
		Progress:  1.0,
		Result:    out,
		RequestID: requestID,
	})
}

// classifyError names the failure class of a recognition error for clients.
func classifyError(err error) string {
	switch statusForError(err) {
	case http.StatusRequestTimeout:
		return "canceled"
	case http.StatusServiceUnavailable:
		return "unavailable"
	case http.StatusUnprocessableEntity:
		return "unsupported_image"
	case http.StatusNotFound:
		return "model_unavailable"
	default:
		return "processing_error"
	}
}

// sendWebSocketResponse sends a response message over WebSocket.
func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketOCRResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		s.logger.Error("Failed to marshal WebSocket response", "error", err)
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("Failed to send WebSocket message", "error", err)
		return
	}

	metrics.WebSocketMessage("sent", response.Type)
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, requestID, errorType, message string) {
	s.sendWebSocketResponse(conn, WebSocketOCRResponse{
		Type:      "error",
		Status:    "error",
		Error:     message,
		ErrorType: errorType,
		RequestID: requestID,
	})
}
