package progress

import (
	"math"
	"testing"

	"carbalite/internal/domain"
)

var runOrder = []domain.Stage{
	domain.StageValidating,
	domain.StageExtracting,
	domain.StageDownloading,
	domain.StageConverting,
	domain.StageCompleted,
}

// TestAggregateBoundaries checks the weighting table edges.
func TestAggregateBoundaries(t *testing.T) {
	tests := []struct {
		stage    domain.Stage
		fraction float64
		want     int
	}{
		{domain.StageIdle, 0.7, 0},
		{domain.StageValidating, 0, 0},
		{domain.StageValidating, 1, 10},
		{domain.StageExtracting, 0, 10},
		{domain.StageExtracting, 0.5, 30},
		{domain.StageExtracting, 1, 50},
		{domain.StageDownloading, 0.25, 60},
		{domain.StageConverting, 0.5, 95},
		{domain.StageConverting, 2, 100},
		{domain.StageConverting, -1, 90},
		{domain.StageConverting, math.NaN(), 90},
		{domain.StageCompleted, 0, 100},
		{domain.StageError, 0.5, -1},
	}

	for _, tt := range tests {
		if got := Aggregate(tt.stage, tt.fraction); got != tt.want {
			t.Fatalf("Aggregate(%s, %v) = %d, want %d", tt.stage, tt.fraction, got, tt.want)
		}
	}
}

// TestAggregateMonotonicAcrossRun sweeps every stage in order.
func TestAggregateMonotonicAcrossRun(t *testing.T) {
	last := 0
	for _, stage := range runOrder {
		for i := 0; i <= 100; i++ {
			got := Aggregate(stage, float64(i)/100)
			if got < last {
				t.Fatalf("Aggregate(%s, %d%%) = %d, dropped below %d", stage, i, got, last)
			}
			last = got
		}
	}
	if last != 100 {
		t.Fatalf("final progress = %d, want 100", last)
	}
}

// TestTrackerNeverDecreases feeds out-of-order fractions.
func TestTrackerNeverDecreases(t *testing.T) {
	var tr Tracker
	if got := tr.Observe(domain.StageExtracting, 0.5); got != 30 {
		t.Fatalf("observe = %d, want 30", got)
	}
	if got := tr.Observe(domain.StageExtracting, 0.1); got != 30 {
		t.Fatalf("late smaller value = %d, want 30", got)
	}
	if got := tr.Observe(domain.StageError, 0); got != 30 {
		t.Fatalf("error stage = %d, want 30", got)
	}
	if got := tr.Observe(domain.StageDownloading, 0); got != 50 {
		t.Fatalf("next stage = %d, want 50", got)
	}

	tr.Reset()
	if tr.Current() != 0 {
		t.Fatalf("after reset = %d, want 0", tr.Current())
	}
}

// TestFromPercent converts remote percentages.
func TestFromPercent(t *testing.T) {
	if got := FromPercent(40); got != 0.4 {
		t.Fatalf("FromPercent(40) = %v, want 0.4", got)
	}
}
