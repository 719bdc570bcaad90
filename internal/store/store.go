// Package store persists run history so interrupted pipelines can resume
// and past runs stay inspectable from the CLI and the preview server.
package store

import (
	"context"
	"time"

	"github.com/cerrado-geo/soilhex-cli/internal/model"
)

// RunFilter narrows ListRuns.
type RunFilter struct {
	Status       model.RunStatus
	AOI          string
	StartedAfter time.Time
	Limit        int
	Offset       int
}

// Store is the persistence interface for run history.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, aoi string, resolution int) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, report *model.RunReport, runErr error) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	CountRuns(ctx context.Context, status model.RunStatus) (int, error)

	// Steps, keyed run+step+dataset for resume bookkeeping
	RecordStep(ctx context.Context, rec model.StepRecord) error
	CompletedSteps(ctx context.Context, runID string) (map[string]bool, error)

	// Artifacts
	AddArtifact(ctx context.Context, art model.Artifact) error
	Artifacts(ctx context.Context, runID string) ([]model.Artifact, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
