package model

import "time"

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusComplete || s == RunStatusFailed
}

// StepStatus represents the current state of a pipeline step.
type StepStatus string

const (
	StepStatusRunning  StepStatus = "running"
	StepStatusComplete StepStatus = "complete"
	StepStatusFailed   StepStatus = "failed"
	StepStatusSkipped  StepStatus = "skipped"
)

// Pipeline step names. Per-dataset steps carry a dataset qualifier in
// their StepRecord; run-wide steps leave it empty.
const (
	StepClip      = "clip"
	StepTable     = "table"
	StepIndex     = "index"
	StepAggregate = "aggregate"
	StepScore     = "score"
)

// Run represents a single pipeline run over one AOI.
type Run struct {
	ID         string     `json:"id"`
	AOI        string     `json:"aoi"` // "full_extent" or "lat_lon_radius"
	Resolution int        `json:"resolution"`
	Status     RunStatus  `json:"status"`
	Report     *RunReport `json:"report,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Duration returns the run's wall time, or time since start for a run
// that has not finished.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// RunReport accumulates per-run diagnostics and degradation flags.
// Degraded-but-successful runs complete and carry these flags instead of
// failing (partial AOI coverage, filtered rows, sparse cells).
type RunReport struct {
	Datasets        []string           `json:"datasets"`
	TouchesBoundary bool               `json:"touches_boundary"`
	FractionValid   map[string]float64 `json:"fraction_valid,omitempty"`
	FilteredRows    int                `json:"filtered_rows"`
	SkippedCells    int                `json:"skipped_cells"`
	LowCountCells   int                `json:"low_count_cells"`
	CellCount       int                `json:"cell_count"`
	ScoredCells     int                `json:"scored_cells"`
	CacheHits       int                `json:"cache_hits"`
	CacheMisses     int                `json:"cache_misses"`
}

// Degraded reports whether any degradation flag is set.
func (r *RunReport) Degraded() bool {
	if r.TouchesBoundary || r.FilteredRows > 0 || r.SkippedCells > 0 || r.LowCountCells > 0 {
		return true
	}
	for _, f := range r.FractionValid {
		if f < 1.0 {
			return true
		}
	}
	return false
}

// StepRecord tracks completion of one pipeline step, optionally scoped to
// a dataset for the parallel per-raster stages.
type StepRecord struct {
	RunID      string     `json:"run_id"`
	Step       string     `json:"step"`
	Dataset    string     `json:"dataset,omitempty"`
	Status     StepStatus `json:"status"`
	DurationMS int64      `json:"duration_ms"`
}

// StepKey identifies a step within a run for resume bookkeeping.
func (s *StepRecord) StepKey() string {
	if s.Dataset == "" {
		return s.Step
	}
	return s.Step + ":" + s.Dataset
}

// Artifact records an output file produced by a run.
type Artifact struct {
	RunID string `json:"run_id"`
	Kind  string `json:"kind"` // aggregates_csv, scores_csv, geojson, xlsx
	Path  string `json:"path"`
	Bytes int64  `json:"bytes"`
}
