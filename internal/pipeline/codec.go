package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
	h3 "github.com/uber/h3-go/v4"

	"github.com/cerrado-geo/soilhex-cli/internal/clip"
	"github.com/cerrado-geo/soilhex-cli/internal/hexgrid"
	"github.com/cerrado-geo/soilhex-cli/internal/model"
	"github.com/cerrado-geo/soilhex-cli/internal/table"
)

// Cache entry artifact names. Entries are plain files on purpose: the
// cache directory is user territory, and a point table that opens in
// standard tools beats an opaque binary blob.
const (
	clipRasterFile  = "clipped.nc"
	coverageFile    = "coverage.json"
	tableMetaFile   = "table.json"
	tablePointsFile = "points.csv"
	indexMetaFile   = "index.json"
	indexCellsFile  = "cells.csv"
	aggregatesFile  = "aggregates.csv"
)

// formatFloat renders the shortest decimal that parses back to the same
// float64, so a value survives any number of cache round trips bit for bit.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "pipeline: encode %s", filepath.Base(path))
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return eris.Wrapf(err, "pipeline: write %s", path)
	}
	return nil
}

func writeCoverage(path string, cov clip.Coverage) error {
	return writeJSON(path, cov)
}

func readCoverage(path string) (clip.Coverage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return clip.Coverage{}, eris.Wrapf(err, "pipeline: read %s", path)
	}
	var cov clip.Coverage
	if err := json.Unmarshal(raw, &cov); err != nil {
		return clip.Coverage{}, eris.Wrapf(err, "pipeline: parse %s", path)
	}
	return cov, nil
}

// tableMeta is the sidecar for a cached point table. Rows lets the reader
// catch a hand-truncated CSV that still passes the cache's size check.
type tableMeta struct {
	Key          string         `json:"key"`
	Property     model.Property `json:"property"`
	Units        string         `json:"units"`
	NodataPixels int            `json:"nodata_pixels"`
	Rows         int            `json:"rows"`
}

// writeTable stages a flattened table as a JSON sidecar plus a CSV body
// and returns the artifact names.
func writeTable(dir string, t *table.Table) ([]string, error) {
	meta := tableMeta{
		Key:          t.Key,
		Property:     t.Property,
		Units:        t.Units,
		NodataPixels: t.NodataPixels,
		Rows:         len(t.Records),
	}
	if err := writeJSON(filepath.Join(dir, tableMetaFile), meta); err != nil {
		return nil, err
	}

	f, err := os.Create(filepath.Join(dir, tablePointsFile))
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: create %s", tablePointsFile)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write([]string{"lon", "lat", "value"}); err != nil {
		return nil, eris.Wrap(err, "pipeline: write points header")
	}
	for _, rec := range t.Records {
		row := []string{formatFloat(rec.Lon), formatFloat(rec.Lat), formatFloat(rec.Value)}
		if err := w.Write(row); err != nil {
			return nil, eris.Wrap(err, "pipeline: write point row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, eris.Wrapf(err, "pipeline: flush %s", tablePointsFile)
	}
	if err := f.Close(); err != nil {
		return nil, eris.Wrapf(err, "pipeline: close %s", tablePointsFile)
	}
	return []string{tableMetaFile, tablePointsFile}, nil
}

func readTable(metaPath, pointsPath string) (*table.Table, error) {
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read %s", metaPath)
	}
	var meta tableMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, eris.Wrapf(err, "pipeline: parse %s", metaPath)
	}

	f, err := os.Open(pointsPath)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: open %s", pointsPath)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = 3
	if _, err := r.Read(); err != nil {
		return nil, eris.Wrapf(err, "pipeline: read %s header", pointsPath)
	}

	t := &table.Table{
		Key:          meta.Key,
		Property:     meta.Property,
		Units:        meta.Units,
		NodataPixels: meta.NodataPixels,
		Records:      make([]table.PointRecord, 0, meta.Rows),
	}
	for {
		row, err := r.Read()
		if eris.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: read %s", pointsPath)
		}
		rec, err := parsePoint(row)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: %s row %d", pointsPath, len(t.Records)+1)
		}
		t.Records = append(t.Records, rec)
	}
	if len(t.Records) != meta.Rows {
		return nil, eris.Errorf("pipeline: %s holds %d rows, metadata says %d",
			pointsPath, len(t.Records), meta.Rows)
	}
	return t, nil
}

func parsePoint(row []string) (table.PointRecord, error) {
	lon, err := strconv.ParseFloat(row[0], 64)
	if err != nil {
		return table.PointRecord{}, eris.Wrapf(err, "lon %q", row[0])
	}
	lat, err := strconv.ParseFloat(row[1], 64)
	if err != nil {
		return table.PointRecord{}, eris.Wrapf(err, "lat %q", row[1])
	}
	val, err := strconv.ParseFloat(row[2], 64)
	if err != nil {
		return table.PointRecord{}, eris.Wrapf(err, "value %q", row[2])
	}
	return table.PointRecord{Lon: lon, Lat: lat, Value: val}, nil
}

// indexMeta is the sidecar for a cached hex-indexed table.
type indexMeta struct {
	Key          string `json:"key"`
	Units        string `json:"units"`
	Resolution   int    `json:"resolution"`
	FilteredRows int    `json:"filtered_rows"`
	Rows         int    `json:"rows"`
}

// writeIndexed stages an indexed table. Cells are stored as H3 hex
// strings next to their records so the parallel slices rebuild exactly.
func writeIndexed(dir string, it *hexgrid.IndexedTable) ([]string, error) {
	meta := indexMeta{
		Key:          it.Key,
		Units:        it.Units,
		Resolution:   it.Resolution,
		FilteredRows: it.FilteredRows,
		Rows:         len(it.Records),
	}
	if err := writeJSON(filepath.Join(dir, indexMetaFile), meta); err != nil {
		return nil, err
	}

	f, err := os.Create(filepath.Join(dir, indexCellsFile))
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: create %s", indexCellsFile)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write([]string{"cell", "lon", "lat", "value"}); err != nil {
		return nil, eris.Wrap(err, "pipeline: write cells header")
	}
	for i, rec := range it.Records {
		row := []string{
			it.Cells[i].String(),
			formatFloat(rec.Lon),
			formatFloat(rec.Lat),
			formatFloat(rec.Value),
		}
		if err := w.Write(row); err != nil {
			return nil, eris.Wrap(err, "pipeline: write cell row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, eris.Wrapf(err, "pipeline: flush %s", indexCellsFile)
	}
	if err := f.Close(); err != nil {
		return nil, eris.Wrapf(err, "pipeline: close %s", indexCellsFile)
	}
	return []string{indexMetaFile, indexCellsFile}, nil
}

func readIndexed(metaPath, cellsPath string) (*hexgrid.IndexedTable, error) {
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read %s", metaPath)
	}
	var meta indexMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, eris.Wrapf(err, "pipeline: parse %s", metaPath)
	}

	f, err := os.Open(cellsPath)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: open %s", cellsPath)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = 4
	if _, err := r.Read(); err != nil {
		return nil, eris.Wrapf(err, "pipeline: read %s header", cellsPath)
	}

	it := &hexgrid.IndexedTable{
		Key:          meta.Key,
		Units:        meta.Units,
		Resolution:   meta.Resolution,
		FilteredRows: meta.FilteredRows,
		Records:      make([]table.PointRecord, 0, meta.Rows),
		Cells:        make([]h3.Cell, 0, meta.Rows),
	}
	for {
		row, err := r.Read()
		if eris.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: read %s", cellsPath)
		}
		id, err := strconv.ParseUint(row[0], 16, 64)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: %s cell id %q", cellsPath, row[0])
		}
		rec, err := parsePoint(row[1:])
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: %s row %d", cellsPath, len(it.Records)+1)
		}
		it.Cells = append(it.Cells, h3.Cell(id))
		it.Records = append(it.Records, rec)
	}
	if len(it.Records) != meta.Rows {
		return nil, eris.Errorf("pipeline: %s holds %d rows, metadata says %d",
			cellsPath, len(it.Records), meta.Rows)
	}
	return it, nil
}

// ReadAggregates parses the aggregate table artifact back into memory.
// The CSV is the same shape the aggregates export writes, so a cache hit
// hands the scorer exactly the values a fresh merge would.
func ReadAggregates(path string) ([]hexgrid.Aggregate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read %s header", path)
	}
	if len(header) < 4 || header[0] != "cell_id" {
		return nil, eris.Errorf("pipeline: %s is not an aggregate table", path)
	}
	keys := header[4:]

	var out []hexgrid.Aggregate
	for {
		row, err := r.Read()
		if eris.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: read %s", path)
		}
		id, err := strconv.ParseUint(row[0], 16, 64)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: %s cell id %q", path, row[0])
		}
		lon, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: %s lon %q", path, row[1])
		}
		lat, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: %s lat %q", path, row[2])
		}
		count, err := strconv.Atoi(row[3])
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: %s point count %q", path, row[3])
		}

		agg := hexgrid.Aggregate{
			Cell:       h3.Cell(id),
			Lon:        lon,
			Lat:        lat,
			PointCount: count,
			Means:      make(map[string]float64, len(keys)),
		}
		// An empty cell means the dataset had no valid sample there.
		for i, key := range keys {
			if row[4+i] == "" {
				continue
			}
			v, err := strconv.ParseFloat(row[4+i], 64)
			if err != nil {
				return nil, eris.Wrapf(err, "pipeline: %s %s mean %q", path, key, row[4+i])
			}
			agg.Means[key] = v
		}
		out = append(out, agg)
	}
	return out, nil
}
