// Package common provides small helpers shared by the recognition layers.
package common

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Lap is the duration of one named phase.
type Lap struct {
	Phase    string
	Duration time.Duration
}

// Timer measures a call and the phases inside it. It is not safe for
// concurrent use.
type Timer struct {
	name  string
	start time.Time
	last  time.Time
	laps  []Lap
	now   func() time.Time
}

// NewTimer starts a timer named name.
func NewTimer(name string) *Timer {
	return newTimerAt(name, time.Now)
}

func newTimerAt(name string, now func() time.Time) *Timer {
	t := now()
	return &Timer{name: name, start: t, last: t, now: now}
}

// Lap closes the current phase under the given name and returns its duration.
func (t *Timer) Lap(phase string) time.Duration {
	n := t.now()
	d := n.Sub(t.last)
	t.last = n
	t.laps = append(t.laps, Lap{Phase: phase, Duration: d})
	return d
}

// Elapsed returns the time since the timer started.
func (t *Timer) Elapsed() time.Duration { return t.now().Sub(t.start) }

// Name returns the timer name.
func (t *Timer) Name() string { return t.name }

// Laps returns the recorded phases in order.
func (t *Timer) Laps() []Lap { return append([]Lap(nil), t.laps...) }

// LogValue renders the phases as a group of millisecond values.
func (t *Timer) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(t.laps)+1)
	for _, l := range t.laps {
		attrs = append(attrs, slog.Float64(l.Phase+"_ms", ms(l.Duration)))
	}
	attrs = append(attrs, slog.Float64("total_ms", ms(t.Elapsed())))
	return slog.GroupValue(attrs...)
}

func (t *Timer) String() string {
	var b strings.Builder
	b.WriteString(t.name)
	for _, l := range t.laps {
		fmt.Fprintf(&b, " %s=%v", l.Phase, l.Duration)
	}
	fmt.Fprintf(&b, " total=%v", t.Elapsed())
	return b.String()
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
