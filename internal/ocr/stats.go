package ocr

import (
	"math"
	"sync/atomic"
	"time"
)

// PerformanceStats is an immutable snapshot of a provider's counters.
// Decorators report the counters of the provider they wrap, so behind a
// tiling executor ProcessedCount and ErrorCount count tiles.
type PerformanceStats struct {
	ProcessedCount          int64     `json:"processed_count"`
	ErrorCount              int64     `json:"error_count"`
	ConsecutiveFailureCount int64     `json:"consecutive_failure_count"`
	MinMs                   float64   `json:"min_ms"`
	MaxMs                   float64   `json:"max_ms"`
	AvgMs                   float64   `json:"avg_ms"`
	StartTime               time.Time `json:"start_time"`
	LastUpdateTime          time.Time `json:"last_update_time"`
}

// SuccessRate returns the fraction of processed calls that succeeded.
func (s PerformanceStats) SuccessRate() float64 {
	if s.ProcessedCount == 0 {
		return 0
	}
	return float64(s.ProcessedCount-s.ErrorCount) / float64(s.ProcessedCount)
}

// StatsTracker accumulates per-call timings with atomics. It is safe for
// concurrent use and scoped to one provider instance.
type StatsTracker struct {
	processed   atomic.Int64
	errors      atomic.Int64
	consecutive atomic.Int64
	totalNs     atomic.Int64
	minNs       atomic.Int64
	maxNs       atomic.Int64
	startNs     atomic.Int64
	lastNs      atomic.Int64
	now         func() time.Time
}

// NewStatsTracker returns a tracker whose start time is now.
func NewStatsTracker() *StatsTracker {
	t := &StatsTracker{now: time.Now}
	t.Reset()
	return t
}

// Record adds one completed call.
func (t *StatsTracker) Record(d time.Duration, failed bool) {
	ns := d.Nanoseconds()
	t.processed.Add(1)
	t.totalNs.Add(ns)
	if failed {
		t.errors.Add(1)
		t.consecutive.Add(1)
	} else {
		t.consecutive.Store(0)
	}
	for {
		cur := t.minNs.Load()
		if ns >= cur || t.minNs.CompareAndSwap(cur, ns) {
			break
		}
	}
	for {
		cur := t.maxNs.Load()
		if ns <= cur || t.maxNs.CompareAndSwap(cur, ns) {
			break
		}
	}
	t.lastNs.Store(t.now().UnixNano())
}

// ConsecutiveFailures returns the number of failures since the last success.
func (t *StatsTracker) ConsecutiveFailures() int64 { return t.consecutive.Load() }

// ResetFailureCounter clears the consecutive failure count.
func (t *StatsTracker) ResetFailureCounter() { t.consecutive.Store(0) }

// Reset clears every counter and restarts the clock.
func (t *StatsTracker) Reset() {
	now := t.now().UnixNano()
	t.processed.Store(0)
	t.errors.Store(0)
	t.consecutive.Store(0)
	t.totalNs.Store(0)
	t.minNs.Store(math.MaxInt64)
	t.maxNs.Store(0)
	t.startNs.Store(now)
	t.lastNs.Store(now)
}

// Snapshot returns the current counters.
func (t *StatsTracker) Snapshot() PerformanceStats {
	processed := t.processed.Load()
	s := PerformanceStats{
		ProcessedCount:          processed,
		ErrorCount:              t.errors.Load(),
		ConsecutiveFailureCount: t.consecutive.Load(),
		StartTime:               time.Unix(0, t.startNs.Load()),
		LastUpdateTime:          time.Unix(0, t.lastNs.Load()),
	}
	if processed > 0 {
		s.MinMs = nsToMs(t.minNs.Load())
		s.MaxMs = nsToMs(t.maxNs.Load())
		s.AvgMs = nsToMs(t.totalNs.Load()) / float64(processed)
	}
	return s
}

func nsToMs(ns int64) float64 { return float64(ns) / float64(time.Millisecond) }
