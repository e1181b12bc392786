// Package metrics exports Prometheus collectors for the recognition layers.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeCanceled = "canceled"
)

var (
	recognitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overlayocr_recognitions_total",
			Help: "Total number of Recognize calls per provider layer",
		},
		[]string{"layer", "outcome"},
	)

	recognitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "overlayocr_recognition_duration_seconds",
			Help:    "Recognize call duration in seconds per provider layer",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"layer"},
	)

	regionsDetected = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "overlayocr_regions_detected",
			Help:    "Number of text regions returned per call",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
		},
		[]string{"layer"},
	)

	tilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overlayocr_tiles_total",
			Help: "Total number of tiles processed by the tiled executor",
		},
		[]string{"outcome"},
	)

	tilesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "overlayocr_tiles_in_flight",
			Help: "Number of tile recognitions currently running",
		},
	)

	duplicatesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "overlayocr_tile_duplicates_dropped_total",
			Help: "Regions discarded by overlap deduplication",
		},
	)

	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overlayocr_cache_lookups_total",
			Help: "Cache lookups by result",
		},
		[]string{"result"}, // result: hit, miss, error
	)

	languageSwaps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "overlayocr_language_swaps_total",
			Help: "Recognition model reloads caused by a language change",
		},
	)
)

// ObserveRecognition records one Recognize call of a layer.
func ObserveRecognition(layer, outcome string, d time.Duration, regions int) {
	recognitionsTotal.WithLabelValues(layer, outcome).Inc()
	if outcome == OutcomeCanceled {
		return
	}
	recognitionDuration.WithLabelValues(layer).Observe(d.Seconds())
	if outcome == OutcomeSuccess {
		regionsDetected.WithLabelValues(layer).Observe(float64(regions))
	}
}

// Outcome maps an error to an outcome label.
func Outcome(err error, canceled bool) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case canceled:
		return OutcomeCanceled
	default:
		return OutcomeError
	}
}

// TileStarted and TileFinished bracket one tile recognition.
func TileStarted() { tilesInFlight.Inc() }

func TileFinished(outcome string) {
	tilesInFlight.Dec()
	tilesTotal.WithLabelValues(outcome).Inc()
}

// DuplicatesDropped counts regions removed by deduplication.
func DuplicatesDropped(n int) {
	if n > 0 {
		duplicatesDropped.Add(float64(n))
	}
}

// CacheLookup records a cache lookup result: "hit", "miss" or "error".
func CacheLookup(result string) { cacheLookups.WithLabelValues(result).Inc() }

// LanguageSwap records a recognition model reload.
func LanguageSwap() { languageSwaps.Inc() }
