// Package monitoring snapshots run history and cache usage for the
// status command and the background alert checker.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cerrado-geo/soilhex-cli/internal/cache"
	"github.com/cerrado-geo/soilhex-cli/internal/model"
	"github.com/cerrado-geo/soilhex-cli/internal/store"
)

// FamilyUsage sizes one cache family.
type FamilyUsage struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

// LastRun summarizes the most recent run in the window.
type LastRun struct {
	ID         string    `json:"id"`
	AOI        string    `json:"aoi"`
	Resolution int       `json:"resolution"`
	Status     string    `json:"status"`
	Degraded   bool      `json:"degraded"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

// MetricsSnapshot holds a point-in-time view of pipeline and cache health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsQueued   int     `json:"runs_queued"`
	RunsRunning  int     `json:"runs_running"`
	RunsDegraded int     `json:"runs_degraded"`
	FailRate     float64 `json:"fail_rate"`
	AvgRunMS     int64   `json:"avg_run_ms"`
	CellsScored  int     `json:"cells_scored"`

	// Cache usage across all AOIs, not just the window.
	CacheEntries  int                    `json:"cache_entries"`
	CacheBytes    int64                  `json:"cache_bytes"`
	CacheByFamily map[string]FamilyUsage `json:"cache_by_family"`

	LastRun *LastRun `json:"last_run,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the run store and the artifact cache.
type Collector struct {
	store store.Store
	cache *cache.Manager
}

// NewCollector creates a new metrics collector. A nil cache manager
// skips cache usage collection.
func NewCollector(st store.Store, cm *cache.Manager) *Collector {
	return &Collector{store: st, cache: cm}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		CacheByFamily: make(map[string]FamilyUsage, len(cache.Families)),
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	// Runs within the window, newest first.
	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		StartedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var totalWall time.Duration
	var timedRuns int

	for i := range runs {
		r := &runs[i]
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusQueued:
			snap.RunsQueued++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
		if r.FinishedAt != nil {
			totalWall += r.Duration()
			timedRuns++
		}
		if r.Report != nil {
			if r.Report.Degraded() {
				snap.RunsDegraded++
			}
			snap.CellsScored += r.Report.ScoredCells
		}
	}

	finished := snap.RunsComplete + snap.RunsFailed
	if finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if timedRuns > 0 {
		snap.AvgRunMS = totalWall.Milliseconds() / int64(timedRuns)
	}
	if len(runs) > 0 {
		newest := &runs[0]
		snap.LastRun = &LastRun{
			ID:         newest.ID,
			AOI:        newest.AOI,
			Resolution: newest.Resolution,
			Status:     string(newest.Status),
			Degraded:   newest.Report != nil && newest.Report.Degraded(),
			StartedAt:  newest.StartedAt,
			DurationMS: newest.Duration().Milliseconds(),
		}
	}

	// Cache usage.
	if c.cache != nil {
		families, err := c.cache.Stats()
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: cache stats")
		}
		for family, fs := range families {
			snap.CacheByFamily[string(family)] = FamilyUsage{Entries: fs.Entries, Bytes: fs.Bytes}
			snap.CacheEntries += fs.Entries
			snap.CacheBytes += fs.Bytes
		}
	}

	return snap, nil
}
