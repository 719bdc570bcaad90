package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunStatusTerminal(t *testing.T) {
	assert.False(t, RunStatusQueued.Terminal())
	assert.False(t, RunStatusRunning.Terminal())
	assert.True(t, RunStatusComplete.Terminal())
	assert.True(t, RunStatusFailed.Terminal())
}

func TestRunDuration(t *testing.T) {
	start := time.Now().Add(-2 * time.Minute)
	end := start.Add(90 * time.Second)

	r := &Run{StartedAt: start, FinishedAt: &end}
	assert.Equal(t, 90*time.Second, r.Duration())

	// Unfinished run measures from start to now.
	open := &Run{StartedAt: start}
	assert.Greater(t, open.Duration(), time.Minute)
}

func TestRunReportDegraded(t *testing.T) {
	tests := []struct {
		name   string
		report RunReport
		want   bool
	}{
		{"clean", RunReport{CellCount: 100, ScoredCells: 100}, false},
		{"touches boundary", RunReport{TouchesBoundary: true}, true},
		{"filtered rows", RunReport{FilteredRows: 12}, true},
		{"skipped cells", RunReport{SkippedCells: 3}, true},
		{"low count cells", RunReport{LowCountCells: 8}, true},
		{"partial coverage", RunReport{FractionValid: map[string]float64{"soil_ph": 0.4}}, true},
		{"full coverage", RunReport{FractionValid: map[string]float64{"soil_ph": 1.0}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.report.Degraded())
		})
	}
}

func TestStepKey(t *testing.T) {
	s := &StepRecord{Step: StepClip, Dataset: "soil_moisture"}
	assert.Equal(t, "clip:soil_moisture", s.StepKey())

	agg := &StepRecord{Step: StepAggregate}
	assert.Equal(t, "aggregate", agg.StepKey())
}
