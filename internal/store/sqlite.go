package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/cerrado-geo/soilhex-cli/internal/model"
)

// ErrRunNotFound is returned for lookups of run ids the store has never
// seen. Callers map it to a user-facing message or a 404.
var ErrRunNotFound = eris.New("store: run not found")

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode. The pipeline and the preview server may hold the file open at the
// same time, hence the busy timeout.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "store: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "store: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	aoi         TEXT NOT NULL,
	resolution  INTEGER NOT NULL,
	status      TEXT NOT NULL DEFAULT 'queued',
	report      TEXT,
	error       TEXT,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS run_steps (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	step        TEXT NOT NULL,
	dataset     TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, step, dataset)
);

CREATE TABLE IF NOT EXISTS artifacts (
	run_id TEXT NOT NULL REFERENCES runs(id),
	kind   TEXT NOT NULL,
	path   TEXT NOT NULL,
	bytes  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, kind)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_aoi ON runs(aoi);
CREATE INDEX IF NOT EXISTS idx_run_steps_run_id ON run_steps(run_id);
CREATE INDEX IF NOT EXISTS idx_artifacts_run_id ON artifacts(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "store: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, aoi string, resolution int) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, aoi, resolution, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, aoi, resolution, string(model.RunStatusQueued), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: insert run")
	}

	return &model.Run{
		ID:         id,
		AOI:        aoi,
		Resolution: resolution,
		Status:     model.RunStatusQueued,
		StartedAt:  now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ? WHERE id = ?`,
		string(status), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "store: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

// CompleteRun finalizes a run. A nil runErr marks it complete; otherwise
// the run is failed and the error text preserved.
func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, report *model.RunReport, runErr error) error {
	status := model.RunStatusComplete
	errText := ""
	if runErr != nil {
		status = model.RunStatusFailed
		errText = runErr.Error()
	}

	var reportJSON sql.NullString
	if report != nil {
		b, err := json.Marshal(report)
		if err != nil {
			return eris.Wrap(err, "store: marshal report")
		}
		reportJSON = sql.NullString{String: string(b), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, report = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), reportJSON, errText, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "store: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, aoi, resolution, status, report, error, started_at, finished_at
		 FROM runs WHERE id = ?`,
		runID,
	)
	run, err := scanRun(row)
	if eris.Is(err, ErrRunNotFound) {
		return nil, eris.Wrapf(ErrRunNotFound, "run %s", runID)
	}
	return run, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, aoi, resolution, status, report, error, started_at, finished_at
	          FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.AOI != "" {
		query += ` AND aoi = ?`
		args = append(args, filter.AOI)
	}
	if !filter.StartedAfter.IsZero() {
		query += ` AND started_at >= ?`
		args = append(args, filter.StartedAfter.UTC())
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "store: list runs iterate")
}

func (s *SQLiteStore) CountRuns(ctx context.Context, status model.RunStatus) (int, error) {
	query := `SELECT COUNT(*) FROM runs`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "store: count runs")
	}
	return n, nil
}

// RecordStep upserts a step record. Resumed runs re-record steps they
// replay, so the newest status and duration win.
func (s *SQLiteStore) RecordStep(ctx context.Context, rec model.StepRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_steps (run_id, step, dataset, status, duration_ms)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, step, dataset) DO UPDATE SET
		   status = excluded.status,
		   duration_ms = excluded.duration_ms`,
		rec.RunID, rec.Step, rec.Dataset, string(rec.Status), rec.DurationMS,
	)
	return eris.Wrapf(err, "store: record step %s for run %s", rec.StepKey(), rec.RunID)
}

// CompletedSteps returns the step keys a run has already finished.
func (s *SQLiteStore) CompletedSteps(ctx context.Context, runID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step, dataset FROM run_steps WHERE run_id = ? AND status = ?`,
		runID, string(model.StepStatusComplete),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "store: completed steps for run %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	done := make(map[string]bool)
	for rows.Next() {
		var rec model.StepRecord
		if err := rows.Scan(&rec.Step, &rec.Dataset); err != nil {
			return nil, eris.Wrap(err, "store: scan step")
		}
		done[rec.StepKey()] = true
	}
	return done, eris.Wrap(rows.Err(), "store: completed steps iterate")
}

func (s *SQLiteStore) AddArtifact(ctx context.Context, art model.Artifact) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (run_id, kind, path, bytes)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(run_id, kind) DO UPDATE SET
		   path = excluded.path,
		   bytes = excluded.bytes`,
		art.RunID, art.Kind, art.Path, art.Bytes,
	)
	return eris.Wrapf(err, "store: add %s artifact for run %s", art.Kind, art.RunID)
}

func (s *SQLiteStore) Artifacts(ctx context.Context, runID string) ([]model.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, kind, path, bytes FROM artifacts WHERE run_id = ? ORDER BY kind`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "store: artifacts for run %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var arts []model.Artifact
	for rows.Next() {
		var a model.Artifact
		if err := rows.Scan(&a.RunID, &a.Kind, &a.Path, &a.Bytes); err != nil {
			return nil, eris.Wrap(err, "store: scan artifact")
		}
		arts = append(arts, a)
	}
	return arts, eris.Wrap(rows.Err(), "store: artifacts iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "store: rows affected")
	}
	if n == 0 {
		return eris.Errorf("store: %s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var reportJSON, errText sql.NullString
	var finishedAt sql.NullTime

	err := row.Scan(&r.ID, &r.AOI, &r.Resolution, &r.Status, &reportJSON, &errText,
		&r.StartedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan run")
	}

	if reportJSON.Valid && reportJSON.String != "" {
		r.Report = &model.RunReport{}
		if err := json.Unmarshal([]byte(reportJSON.String), r.Report); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal report")
		}
	}
	if errText.Valid {
		r.Error = errText.String
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		r.FinishedAt = &t
	}
	return &r, nil
}
