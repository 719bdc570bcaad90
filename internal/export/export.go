// Package export writes run products: the aggregate and score tables as
// CSV, a two-sheet XLSX workbook, a GeoJSON layer for mapping, and the
// published Postgres layer web maps read from.
package export

import (
	"os"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/cerrado-geo/soilhex-cli/internal/hexgrid"
)

// Artifact kinds recorded against a run.
const (
	KindAggregatesCSV = "aggregates_csv"
	KindScoresCSV     = "scores_csv"
	KindWorkbook      = "xlsx"
	KindGeoJSON       = "geojson"
)

// DatasetKeys returns the union of dataset keys present across the
// aggregates, sorted so every export lists value columns in the same
// order regardless of which datasets a run happened to include.
func DatasetKeys(aggs []hexgrid.Aggregate) []string {
	seen := make(map[string]bool)
	for _, agg := range aggs {
		for key := range agg.Means {
			seen[key] = true
		}
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// formatFloat renders a value with the minimal digits that round-trip,
// keeping repeated exports byte identical.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// fileSize stats a freshly written artifact for the run record.
func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, eris.Wrapf(err, "export: stat %s", path)
	}
	return info.Size(), nil
}
