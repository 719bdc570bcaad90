package export

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/cerrado-geo/soilhex-cli/internal/db"
	"github.com/cerrado-geo/soilhex-cli/internal/hexgrid"
	"github.com/cerrado-geo/soilhex-cli/internal/model"
	"github.com/cerrado-geo/soilhex-cli/internal/scorer"
)

const (
	scoresTable      = "soilhex.hex_scores"
	publishBatchSize = 2000
)

// publishColumns feed the COPY stage; cell_id is the conflict key.
var publishColumns = []string{
	"cell_id",
	"geom",
	"point_count",
	"moisture",
	"soc",
	"ph",
	"temperature",
	"suitability",
	"grade",
	"low_count",
}

// publishUpdateCols adds updated_at to the rewritten set. It is not a
// copied column, so EXCLUDED carries its default and the merge refreshes
// the timestamp on every republish.
var publishUpdateCols = []string{
	"geom",
	"point_count",
	"moisture",
	"soc",
	"ph",
	"temperature",
	"suitability",
	"grade",
	"low_count",
	"updated_at",
}

// publishSchema holds the published layer. Geometries are EWKB bytes in
// WGS84; PostGIS consumers read them with ST_GeomFromEWKB.
var publishSchema = []string{
	`CREATE SCHEMA IF NOT EXISTS soilhex`,
	`CREATE TABLE IF NOT EXISTS soilhex.hex_scores (
		cell_id     TEXT PRIMARY KEY,
		geom        BYTEA NOT NULL,
		point_count INTEGER NOT NULL,
		moisture    DOUBLE PRECISION,
		soc         DOUBLE PRECISION,
		ph          DOUBLE PRECISION,
		temperature DOUBLE PRECISION,
		suitability DOUBLE PRECISION NOT NULL,
		grade       TEXT NOT NULL,
		low_count   BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_hex_scores_grade ON soilhex.hex_scores (grade)`,
}

// EnsureSchema creates the soilhex schema and the hex_scores table.
func EnsureSchema(ctx context.Context, pool db.Pool) error {
	for _, stmt := range publishSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return eris.Wrap(err, "export: ensure hex_scores schema")
		}
	}
	return nil
}

// Publish upserts the scored layer into soilhex.hex_scores in batches.
// Re-publishing a run replaces its cells in place; cells from earlier
// runs that the new layer does not cover are left untouched.
func Publish(ctx context.Context, pool db.Pool, scores []scorer.CellScore) (int64, error) {
	if len(scores) == 0 {
		return 0, eris.New("export: no scored cells to publish")
	}

	log := zap.L().With(
		zap.String("component", "export.publish"),
		zap.Int("cells", len(scores)),
	)

	var total int64
	for i := 0; i < len(scores); i += publishBatchSize {
		end := i + publishBatchSize
		if end > len(scores) {
			end = len(scores)
		}

		rows, err := publishRows(scores[i:end])
		if err != nil {
			return total, err
		}

		n, err := db.BulkUpsert(ctx, pool, db.UpsertConfig{
			Table:        scoresTable,
			Columns:      publishColumns,
			ConflictKeys: []string{"cell_id"},
			UpdateCols:   publishUpdateCols,
		}, rows)
		if err != nil {
			return total, eris.Wrapf(err, "export: publish batch %d-%d", i, end)
		}
		total += n

		log.Debug("batch published",
			zap.Int("batch_start", i),
			zap.Int("batch_end", end),
			zap.Int64("batch_rows", n),
		)
	}

	log.Info("scored layer published", zap.Int64("rows", total))
	return total, nil
}

// publishRows encodes one COPY row per scored cell, boundary polygon
// included as EWKB.
func publishRows(scores []scorer.CellScore) ([][]any, error) {
	rows := make([][]any, 0, len(scores))
	for _, sc := range scores {
		poly, err := hexgrid.BoundaryPolygon(sc.Cell)
		if err != nil {
			return nil, eris.Wrapf(err, "export: publish row for %s", sc.CellID)
		}
		geomBytes, err := ewkb.Marshal(poly, ewkb.NDR)
		if err != nil {
			return nil, eris.Wrapf(err, "export: encode geometry for %s", sc.CellID)
		}

		rows = append(rows, []any{
			sc.CellID,
			geomBytes,
			sc.PointCount,
			sc.Inputs[model.PropMoisture],
			sc.Inputs[model.PropSOC],
			sc.Inputs[model.PropPH],
			sc.Inputs[model.PropTemperature],
			sc.Suitability,
			string(sc.Grade),
			sc.LowCount,
		})
	}
	return rows, nil
}

// PublishedCells reports how many cells the published layer holds, all
// runs combined.
func PublishedCells(ctx context.Context, pool db.Pool) (int64, error) {
	var n int64
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM soilhex.hex_scores").Scan(&n); err != nil {
		return 0, eris.Wrap(err, "export: count published cells")
	}
	return n, nil
}
