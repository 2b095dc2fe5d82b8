// Package progress maps per-stage progress onto one 0-100 scale.
package progress

import (
	"math"
	"sync"

	"carbalite/internal/domain"
)

// Span is the sub-range of the global scale owned by one stage.
type Span struct {
	From int
	To   int
}

// Weights is the default stage weighting table.
var Weights = map[domain.Stage]Span{
	domain.StageIdle:        {0, 0},
	domain.StageValidating:  {0, 10},
	domain.StageExtracting:  {10, 50},
	domain.StageDownloading: {50, 90},
	domain.StageConverting:  {90, 100},
	domain.StageCompleted:   {100, 100},
}

// Aggregate converts a stage fraction in [0,1] into a global percentage.
// Out-of-range fractions are clamped; stages without a span (Error) return -1
// so callers keep the last observed value.
func Aggregate(stage domain.Stage, fraction float64) int {
	span, ok := Weights[stage]
	if !ok {
		return -1
	}
	if math.IsNaN(fraction) || fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return span.From + int(math.Floor(fraction*float64(span.To-span.From)))
}

// FromPercent converts a 0-100 value reported by a collaborator into a fraction.
func FromPercent(percent float64) float64 {
	return percent / 100
}

// Tracker enforces monotonic progress within one run.
type Tracker struct {
	mu      sync.Mutex
	current int
}

// Observe records a stage fraction and returns the non-decreasing global value.
func (t *Tracker) Observe(stage domain.Stage, fraction float64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if v := Aggregate(stage, fraction); v > t.current {
		t.current = v
	}
	return t.current
}

// Current returns the last observed global value.
func (t *Tracker) Current() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Reset returns the tracker to zero for a new run.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = 0
}
