package export

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/cerrado-geo/soilhex-cli/internal/hexgrid"
	"github.com/cerrado-geo/soilhex-cli/internal/model"
	"github.com/cerrado-geo/soilhex-cli/internal/scorer"
)

// scoreColumns defines the ordered score CSV output columns.
var scoreColumns = []string{
	"cell_id",
	"suitability",
	"suitability_0_10",
	"grade",
	"moisture_score",
	"soc_score",
	"ph_score",
	"temperature_score",
	"soil_quality_index",
	"point_count",
	"low_count",
}

// aggregateColumns builds the aggregate CSV header: fixed identity
// columns followed by one mean column per dataset key.
func aggregateColumns(keys []string) []string {
	cols := append([]string{}, "cell_id", "lon", "lat", "point_count")
	return append(cols, keys...)
}

// WriteAggregatesCSV writes one row per surviving hex cell with its
// centroid, point count, and per-dataset means. A dataset with no valid
// sample in a cell leaves that column empty rather than writing a NaN.
func WriteAggregatesCSV(path string, aggs []hexgrid.Aggregate, keys []string) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrapf(err, "export: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(aggregateColumns(keys)); err != nil {
		return 0, eris.Wrap(err, "export: write aggregate header")
	}
	for _, agg := range aggs {
		row := []string{
			agg.Cell.String(),
			formatFloat(agg.Lon),
			formatFloat(agg.Lat),
			strconv.Itoa(agg.PointCount),
		}
		for _, key := range keys {
			if v, ok := agg.Means[key]; ok {
				row = append(row, formatFloat(v))
			} else {
				row = append(row, "")
			}
		}
		if err := w.Write(row); err != nil {
			return 0, eris.Wrapf(err, "export: write aggregate row %s", agg.Cell.String())
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, eris.Wrap(err, "export: flush aggregate csv")
	}
	if err := f.Close(); err != nil {
		return 0, eris.Wrapf(err, "export: close %s", path)
	}
	return fileSize(path)
}

// WriteScoresCSV writes the scored table: suitability, grade, and the
// per-property sub-scores for every graded cell.
func WriteScoresCSV(path string, scores []scorer.CellScore) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrapf(err, "export: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(scoreColumns); err != nil {
		return 0, eris.Wrap(err, "export: write score header")
	}
	for _, sc := range scores {
		row := []string{
			sc.CellID,
			formatFloat(sc.Suitability),
			formatFloat(sc.Rescaled),
			string(sc.Grade),
			strconv.Itoa(sc.Subscores[model.PropMoisture]),
			strconv.Itoa(sc.Subscores[model.PropSOC]),
			strconv.Itoa(sc.Subscores[model.PropPH]),
			strconv.Itoa(sc.Subscores[model.PropTemperature]),
			formatFloat(sc.QualityIndex),
			strconv.Itoa(sc.PointCount),
			strconv.FormatBool(sc.LowCount),
		}
		if err := w.Write(row); err != nil {
			return 0, eris.Wrapf(err, "export: write score row %s", sc.CellID)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, eris.Wrap(err, "export: flush score csv")
	}
	if err := f.Close(); err != nil {
		return 0, eris.Wrapf(err, "export: close %s", path)
	}
	return fileSize(path)
}
