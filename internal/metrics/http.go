package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overlayocr_http_requests_total",
			Help: "Total number of HTTP requests by route and status code",
		},
		[]string{"method", "route", "code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "overlayocr_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "overlayocr_upload_size_bytes",
			Help:    "Size of uploaded screenshots in bytes",
			Buckets: prometheus.ExponentialBuckets(16*1024, 4, 7), // 16KiB .. 64MiB
		},
	)

	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "overlayocr_websocket_active_connections",
			Help: "Number of open WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overlayocr_websocket_messages_total",
			Help: "WebSocket messages by direction and type",
		},
		[]string{"direction", "type"}, // direction: sent, received
	)
)

// ObserveHTTP records a finished HTTP request. route is the mux pattern,
// not the raw path, to keep label cardinality bounded.
func ObserveHTTP(method, route string, code int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// UploadSize records the size of an uploaded image.
func UploadSize(n int64) { uploadSizeBytes.Observe(float64(n)) }

// WebSocketOpened and WebSocketClosed track open connections.
func WebSocketOpened() { websocketConnections.Inc() }

func WebSocketClosed() { websocketConnections.Dec() }

// WebSocketMessage counts a message. direction is "sent" or "received".
func WebSocketMessage(direction, msgType string) {
	websocketMessagesTotal.WithLabelValues(direction, msgType).Inc()
}
