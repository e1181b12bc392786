package server

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MeKo-Tech/overlay-ocr/internal/ocr"
	"github.com/MeKo-Tech/overlay-ocr/internal/pipeline"
	"github.com/MeKo-Tech/overlay-ocr/internal/testutil"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockWebSocketConn records written messages.
type mockWebSocketConn struct {
	mu   sync.Mutex
	sent []WebSocketOCRResponse
}

func (m *mockWebSocketConn) WriteMessage(_ int, data []byte) error {
	var resp WebSocketOCRResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return err
	}
	m.mu.Lock()
	m.sent = append(m.sent, resp)
	m.mu.Unlock()
	return nil
}

func (m *mockWebSocketConn) messages() []WebSocketOCRResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]WebSocketOCRResponse(nil), m.sent...)
}

func progressProvider() *testutil.FakeProvider {
	return &testutil.FakeProvider{
		Language: "ja",
		RecognizeFn: func(_ context.Context, req ocr.Request) (*ocr.Result, error) {
			req.Progress.Report(ocr.PhaseTextDetection, 0.5, "Detecting text")
			return &ocr.Result{
				Source:   req.Image,
				Language: "ja",
				ROI:      req.ROI,
				Regions:  []ocr.TextRegion{testutil.Region("hello", image.Rect(2, 2, 20, 10), 0.9)},
			}, nil
		},
	}
}

func TestHandleWebSocketMessageStreamsProgress(t *testing.T) {
	s := newTestServer(t, progressProvider())
	conn := &mockWebSocketConn{}
	data, err := json.Marshal(WebSocketOCRRequest{
		Type:  "recognize",
		Image: testutil.EncodePNG(t, testutil.Gradient(40, 30, 1)),
		ROI:   &pipeline.Box{X: 1, Y: 1, W: 30, H: 20},
	})
	require.NoError(t, err)

	s.handleWebSocketMessage(context.Background(), conn, data)

	msgs := conn.messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "accepted", msgs[0].Type)
	assert.Equal(t, "progress", msgs[1].Type)
	assert.Equal(t, ocr.PhaseTextDetection, msgs[1].Phase)
	assert.InDelta(t, 0.5, msgs[1].Progress, 1e-9)
	assert.Equal(t, "result", msgs[2].Type)
	assert.Equal(t, "completed", msgs[2].Status)
	require.NotNil(t, msgs[2].Result)
	assert.Equal(t, "hello", msgs[2].Result.Regions[0].Text)
	require.NotNil(t, msgs[2].Result.ROI)
	assert.Equal(t, pipeline.Box{X: 1, Y: 1, W: 30, H: 20}, *msgs[2].Result.ROI)

	id := msgs[0].RequestID
	assert.NotEmpty(t, id)
	for _, m := range msgs {
		assert.Equal(t, id, m.RequestID)
	}
}

func TestHandleWebSocketMessageRejectsBadRequests(t *testing.T) {
	s := newTestServer(t, progressProvider())
	img := testutil.EncodePNG(t, testutil.Gradient(8, 8, 2))

	tests := []struct {
		name string
		data string
		want string
	}{
		{name: "not json", data: "{", want: "Failed to parse request"},
		{name: "unknown type", data: `{"type":"pdf"}`, want: "Unsupported request type"},
		{name: "no image", data: `{"type":"recognize"}`, want: "No image data"},
		{name: "bad image", data: `{"type":"recognize","image":"aGVsbG8="}`, want: "Failed to decode image"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &mockWebSocketConn{}
			s.handleWebSocketMessage(context.Background(), conn, []byte(tt.data))
			msgs := conn.messages()
			require.Len(t, msgs, 1)
			assert.Equal(t, "error", msgs[0].Type)
			assert.Equal(t, "invalid_request", msgs[0].ErrorType)
			assert.Contains(t, msgs[0].Error, tt.want)
		})
	}

	t.Run("empty roi", func(t *testing.T) {
		conn := &mockWebSocketConn{}
		data, err := json.Marshal(WebSocketOCRRequest{Type: "recognize", Image: img, ROI: &pipeline.Box{W: 0, H: 4}})
		require.NoError(t, err)
		s.handleWebSocketMessage(context.Background(), conn, data)
		msgs := conn.messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "invalid_request", msgs[0].ErrorType)
	})
}

func TestHandleWebSocketMessageReportsRecognitionErrors(t *testing.T) {
	s := newTestServer(t, &testutil.FakeProvider{
		RecognizeFn: func(context.Context, ocr.Request) (*ocr.Result, error) {
			return nil, ocr.NewError("recognize", "fake", 0, errors.Join(ocr.ErrUnsupportedImage, errors.New("tiny")))
		},
	})
	conn := &mockWebSocketConn{}
	data, err := json.Marshal(WebSocketOCRRequest{Type: "recognize", Image: testutil.EncodePNG(t, testutil.Gradient(8, 8, 3))})
	require.NoError(t, err)

	s.handleWebSocketMessage(context.Background(), conn, data)

	msgs := conn.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "error", msgs[1].Type)
	assert.Equal(t, "unsupported_image", msgs[1].ErrorType)
	assert.Equal(t, msgs[0].RequestID, msgs[1].RequestID)
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "canceled", classifyError(ocr.Canceled(context.Canceled)))
	assert.Equal(t, "unavailable", classifyError(ocr.ErrNotInitialized))
	assert.Equal(t, "model_unavailable", classifyError(ocr.ErrModelUnavailable))
	assert.Equal(t, "processing_error", classifyError(errors.New("boom")))
}

func TestWebSocketEndToEnd(t *testing.T) {
	s := newTestServer(t, progressProvider())
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_ = resp.Body.Close()

	req := WebSocketOCRRequest{Type: "recognize", Image: testutil.EncodePNG(t, testutil.Gradient(40, 30, 4))}
	require.NoError(t, conn.WriteJSON(req))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var types []string
	for {
		var msg WebSocketOCRResponse
		require.NoError(t, conn.ReadJSON(&msg))
		types = append(types, msg.Type)
		if msg.Type == "result" || msg.Type == "error" {
			require.Equal(t, "result", msg.Type, msg.Error)
			require.NotNil(t, msg.Result)
			assert.Len(t, msg.Result.Regions, 1)
			break
		}
	}
	assert.Equal(t, []string{"accepted", "progress", "result"}, types)
}
