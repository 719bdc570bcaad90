// Package hexgrid maps point tables onto the H3 hierarchical hex grid and
// aggregates them per cell. Indexing and aggregation are separate phases:
// per-dataset tables are indexed independently (parallelizable), then
// merged on cell id. Cell boundary polygons are generated only for
// surviving aggregated cells, never per point; at typical resolutions that
// is about a hundredth of the geometry objects a per-point pass would
// materialize.
package hexgrid

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	h3 "github.com/uber/h3-go/v4"

	"github.com/cerrado-geo/soilhex-cli/internal/table"
)

// IndexedTable is a point table with one H3 cell per surviving record.
type IndexedTable struct {
	Key        string
	Units      string
	Resolution int
	// Records and Cells are parallel slices.
	Records []table.PointRecord
	Cells   []h3.Cell
	// FilteredRows counts records dropped for NaN or out-of-range
	// coordinates before indexing.
	FilteredRows int
}

// Index assigns a hex cell to every record with a usable coordinate.
// Records with NaN or out-of-range coordinates are filtered first and
// reported in FilteredRows; NaN values pass through, only coordinates are
// vetted here. The whole table is mapped in one pass over the slice.
func Index(t *table.Table, resolution int) (*IndexedTable, error) {
	if resolution < 0 || resolution > 15 {
		return nil, eris.Errorf("hexgrid: resolution %d not in [0, 15]", resolution)
	}
	if len(t.Records) == 0 {
		return nil, eris.Errorf("hexgrid: table %s has no records to index", t.Key)
	}

	out := &IndexedTable{
		Key:        t.Key,
		Units:      t.Units,
		Resolution: resolution,
		Records:    make([]table.PointRecord, 0, len(t.Records)),
		Cells:      make([]h3.Cell, 0, len(t.Records)),
	}

	for _, rec := range t.Records {
		if math.IsNaN(rec.Lat) || math.IsNaN(rec.Lon) ||
			rec.Lat < -90 || rec.Lat > 90 || rec.Lon < -180 || rec.Lon > 180 {
			out.FilteredRows++
			continue
		}
		cell, err := h3.LatLngToCell(h3.NewLatLng(rec.Lat, rec.Lon), resolution)
		if err != nil {
			return nil, eris.Wrapf(err, "hexgrid: index (%.6f, %.6f) at resolution %d",
				rec.Lat, rec.Lon, resolution)
		}
		out.Records = append(out.Records, rec)
		out.Cells = append(out.Cells, cell)
	}

	if len(out.Records) == 0 {
		return nil, eris.Errorf("hexgrid: table %s has no valid coordinates", t.Key)
	}
	return out, nil
}

// Aggregate is one surviving hex cell: mean value per dataset, the
// centroid of its member points, and how many points landed in it.
type Aggregate struct {
	Cell       h3.Cell
	Lon        float64
	Lat        float64
	PointCount int
	// Means holds the per-dataset mean, keyed by dataset key. A dataset
	// whose every sample in this cell was NaN is absent from the map.
	Means map[string]float64
}

// cellAccum collects running sums for one cell during the merge.
type cellAccum struct {
	lonSum, latSum float64
	coordN         int
	valSum         map[string]float64
	valN           map[string]int
	perKeyRows     map[string]int
}

// Merge joins indexed tables on cell id and computes per-cell means.
// NaN values are excluded from means; a cell's point count is the largest
// per-dataset membership, which equals the shared count when every layer
// shares the source grid. Output is sorted by cell id.
func Merge(tables []*IndexedTable) ([]Aggregate, error) {
	if len(tables) == 0 {
		return nil, eris.New("hexgrid: no indexed tables to merge")
	}

	accums := make(map[h3.Cell]*cellAccum)
	for _, t := range tables {
		for i, rec := range t.Records {
			cell := t.Cells[i]
			acc := accums[cell]
			if acc == nil {
				acc = &cellAccum{
					valSum:     make(map[string]float64),
					valN:       make(map[string]int),
					perKeyRows: make(map[string]int),
				}
				accums[cell] = acc
			}

			acc.lonSum += rec.Lon
			acc.latSum += rec.Lat
			acc.coordN++
			acc.perKeyRows[t.Key]++
			if !math.IsNaN(rec.Value) {
				acc.valSum[t.Key] += rec.Value
				acc.valN[t.Key]++
			}
		}
	}

	out := make([]Aggregate, 0, len(accums))
	for cell, acc := range accums {
		agg := Aggregate{
			Cell:  cell,
			Lon:   acc.lonSum / float64(acc.coordN),
			Lat:   acc.latSum / float64(acc.coordN),
			Means: make(map[string]float64, len(acc.valSum)),
		}
		for _, n := range acc.perKeyRows {
			if n > agg.PointCount {
				agg.PointCount = n
			}
		}
		for key, n := range acc.valN {
			if n > 0 {
				agg.Means[key] = acc.valSum[key] / float64(n)
			}
		}
		out = append(out, agg)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Cell < out[j].Cell })
	return out, nil
}
