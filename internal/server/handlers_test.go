package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MeKo-Tech/overlay-ocr/internal/ocr"
	"github.com/MeKo-Tech/overlay-ocr/internal/pipeline"
	"github.com/MeKo-Tech/overlay-ocr/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestServer builds a server over a real pipeline stack with fake as
// its base provider.
func newTestServer(t *testing.T, fake *testutil.FakeProvider) *Server {
	t.Helper()
	p, err := pipeline.NewBuilder().WithBaseProvider(fake).Build()
	require.NoError(t, err)
	_, err = p.Initialize(context.Background())
	require.NoError(t, err)
	s := NewServer(Config{CORSOrigin: "*", MaxUploadMB: 1, TimeoutSec: 5}, p, nil)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func helloProvider() *testutil.FakeProvider {
	return &testutil.FakeProvider{
		Language:  "ja",
		Languages: []string{"en", "ja"},
		RecognizeFn: func(_ context.Context, req ocr.Request) (*ocr.Result, error) {
			return &ocr.Result{
				Source:   req.Image,
				Language: "ja",
				ROI:      req.ROI,
				Regions: []ocr.TextRegion{
					testutil.Region("world", image.Rect(10, 40, 50, 50), 0.8),
					testutil.Region("hello", image.Rect(10, 10, 50, 20), 0.9),
				},
			}, nil
		},
	}
}

func multipartRequest(t *testing.T, img []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if img != nil {
		fw, err := mw.CreateFormFile("image", "shot.png")
		require.NoError(t, err)
		_, err = fw.Write(img)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/v1/ocr", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestServer_HealthHandler(t *testing.T) {
	s := newTestServer(t, helloProvider())

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{name: "GET request success", method: http.MethodGet, expectedStatus: http.StatusOK},
		{name: "POST request not allowed", method: http.MethodPost, expectedStatus: http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(s, httptest.NewRequest(tt.method, "/health", nil))
			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus != http.StatusOK {
				return
			}
			var response HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.Equal(t, "healthy", response.Status)
			assert.Equal(t, "fake", response.Backend)
			assert.True(t, response.Initialized)
			assert.NotEmpty(t, response.Time)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}

func TestServer_HealthDegradedWhenUninitialized(t *testing.T) {
	no := false
	s := newTestServer(t, &testutil.FakeProvider{InitializeResult: &no})

	w := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var response HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "degraded", response.Status)
	assert.False(t, response.Initialized)
}

func TestServer_Languages(t *testing.T) {
	fake := helloProvider()
	s := newTestServer(t, fake)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/v1/languages", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp LanguagesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ja", resp.Current)
	assert.Equal(t, []string{"en", "ja"}, resp.Available)

	w = serve(s, httptest.NewRequest(http.MethodPost, "/v1/languages", strings.NewReader(`{"language":"en"}`)))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "en", resp.Current)
	require.Len(t, fake.Applied(), 1)
	assert.Equal(t, "en", fake.Applied()[0].Language)
}

func TestServer_LanguagesRejectsUnknownAndBadBodies(t *testing.T) {
	s := newTestServer(t, helloProvider())

	w := serve(s, httptest.NewRequest(http.MethodPost, "/v1/languages", strings.NewReader(`{"language":"xx"}`)))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(s, httptest.NewRequest(http.MethodPost, "/v1/languages", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(s, httptest.NewRequest(http.MethodDelete, "/v1/languages", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_Stats(t *testing.T) {
	s := newTestServer(t, helloProvider())
	img := testutil.EncodePNG(t, testutil.Gradient(64, 64, 1))

	for range 2 {
		w := serve(s, multipartRequest(t, img, nil))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := serve(s, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var st pipeline.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "fake", st.Backend)
	require.NotNil(t, st.Cache)
	assert.Equal(t, int64(2), st.Cache.TotalRequests)
	assert.Equal(t, int64(1), st.Cache.Hits)
	assert.InDelta(t, 0.5, st.Cache.HitRate, 1e-9)
}

func TestServer_OCRJSON(t *testing.T) {
	s := newTestServer(t, helloProvider())
	img := testutil.EncodePNG(t, testutil.Gradient(64, 64, 2))

	w := serve(s, multipartRequest(t, img, map[string]string{"roi": "5,5,50,50"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	var resp OCRResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.RequestID)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "shot.png", resp.Result.Source)
	assert.Equal(t, 64, resp.Result.Width)
	require.NotNil(t, resp.Result.ROI)
	assert.Equal(t, pipeline.Box{X: 5, Y: 5, W: 50, H: 50}, *resp.Result.ROI)
	require.Len(t, resp.Result.Regions, 2)
	assert.Equal(t, "hello", resp.Result.Regions[0].Text)
}

func TestServer_OCRText(t *testing.T) {
	s := newTestServer(t, helloProvider())
	img := testutil.EncodePNG(t, testutil.Gradient(64, 64, 3))

	w := serve(s, multipartRequest(t, img, map[string]string{"format": "text"}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "hello\nworld", w.Body.String())
}

func TestServer_OCROverlay(t *testing.T) {
	s := newTestServer(t, helloProvider())
	img := testutil.EncodePNG(t, testutil.Uniform(64, 64, color.White))

	w := serve(s, multipartRequest(t, img, map[string]string{"format": "overlay", "box": "#0000FF"}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	ov, err := png.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 64), ov.Bounds())
	r, g, b, _ := ov.At(10, 15).RGBA()
	assert.Equal(t, [3]uint32{0, 0, 0xffff}, [3]uint32{r, g, b})
}

func TestServer_OCRBadRequests(t *testing.T) {
	s := newTestServer(t, helloProvider())
	img := testutil.EncodePNG(t, testutil.Gradient(32, 32, 4))

	tests := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{name: "wrong method", req: httptest.NewRequest(http.MethodGet, "/v1/ocr", nil), status: http.StatusMethodNotAllowed},
		{name: "no image", req: multipartRequest(t, nil, map[string]string{"format": "json"}), status: http.StatusBadRequest},
		{name: "not an image", req: multipartRequest(t, []byte("nope"), nil), status: http.StatusBadRequest},
		{name: "bad roi", req: multipartRequest(t, img, map[string]string{"roi": "1,2"}), status: http.StatusBadRequest},
		{name: "bad format", req: multipartRequest(t, img, map[string]string{"format": "csv"}), status: http.StatusBadRequest},
		{name: "too large", req: multipartRequest(t, bytes.Repeat([]byte{1}, 2<<20), nil), status: http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(s, tt.req)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestServer_OCRErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "not initialized", err: ocr.ErrNotInitialized, status: http.StatusServiceUnavailable},
		{name: "unsupported image", err: ocr.ErrUnsupportedImage, status: http.StatusUnprocessableEntity},
		{name: "canceled", err: ocr.Canceled(context.DeadlineExceeded), status: http.StatusRequestTimeout},
		{name: "provider error", err: ocr.NewError("recognize", "fake", 0, errors.New("boom")), status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &testutil.FakeProvider{
				RecognizeFn: func(context.Context, ocr.Request) (*ocr.Result, error) { return nil, tt.err },
			})
			img := testutil.EncodePNG(t, testutil.Gradient(32, 32, 5))

			w := serve(s, multipartRequest(t, img, nil))
			assert.Equal(t, tt.status, w.Code)
			var resp OCRResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
}

func TestProviderRequestID(t *testing.T) {
	e := ocr.NewError("recognize", "engine", 0, errors.New("boom"))
	assert.Equal(t, e.RequestID, providerRequestID(e))
	assert.Empty(t, providerRequestID(errors.New("plain")))
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t, helloProvider())
	img := testutil.EncodePNG(t, testutil.Gradient(32, 32, 5))

	w := serve(s, multipartRequest(t, img, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp OCRResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, resp.RequestID, w.Header().Get(RequestIDHeader))

	req := multipartRequest(t, img, nil)
	req.Header.Set(RequestIDHeader, "client-42")
	w = serve(s, req)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "client-42", resp.RequestID)
	assert.Equal(t, "client-42", w.Header().Get(RequestIDHeader))
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, helloProvider())
	w := serve(s, httptest.NewRequest(http.MethodOptions, "/v1/ocr", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, helloProvider())
	_ = serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))

	w := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "overlayocr_http_requests_total")
}

func TestServerCloseReleasesStack(t *testing.T) {
	fake := helloProvider()
	p, err := pipeline.NewBuilder().WithBaseProvider(fake).Build()
	require.NoError(t, err)
	s := NewServer(Config{}, p, nil)
	require.NoError(t, s.Close())
	assert.True(t, fake.Closed())
	assert.Equal(t, int64(50), s.maxUploadMB)
	assert.Equal(t, "*", s.corsOrigin)
}
