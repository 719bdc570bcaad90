package pipeline

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	h3 "github.com/uber/h3-go/v4"

	"github.com/cerrado-geo/soilhex-cli/internal/clip"
	"github.com/cerrado-geo/soilhex-cli/internal/export"
	"github.com/cerrado-geo/soilhex-cli/internal/hexgrid"
	"github.com/cerrado-geo/soilhex-cli/internal/model"
	"github.com/cerrado-geo/soilhex-cli/internal/table"
)

func TestFormatFloat_ExactRoundTrip(t *testing.T) {
	values := []float64{
		0,
		0.1,
		-13.000001,
		55.000001192092896, // float32(0.55) scaled by 100
		1.0 / 3.0,
		math.MaxFloat64,
		math.SmallestNonzeroFloat64,
	}
	for _, v := range values {
		got, err := strconv.ParseFloat(formatFloat(v), 64)
		require.NoError(t, err)
		assert.Equal(t, v, got, "value %v", v)
	}
}

func TestCoverage_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), coverageFile)
	cov := clip.Coverage{
		Clipped:             true,
		TouchesBoundary:     true,
		CirclePixels:        120,
		ValidPixels:         97,
		FractionValidPixels: 97.0 / 120.0,
	}

	require.NoError(t, writeCoverage(path, cov))
	got, err := readCoverage(path)
	require.NoError(t, err)
	assert.Equal(t, cov, got)
}

func TestReadCoverage_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), coverageFile)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := readCoverage(path)
	require.Error(t, err)
}

func pointsTable() *table.Table {
	return &table.Table{
		Key:          "moisture",
		Property:     model.PropMoisture,
		Units:        "%",
		NodataPixels: 3,
		Records: []table.PointRecord{
			{Lon: -56.475, Lat: -13.475, Value: 55.000001192092896},
			{Lon: -56.425, Lat: -13.475, Value: 0.1},
			{Lon: -56.375, Lat: -13.475, Value: math.NaN()},
		},
	}
}

func TestTable_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := pointsTable()

	names, err := writeTable(dir, src)
	require.NoError(t, err)
	assert.Equal(t, []string{tableMetaFile, tablePointsFile}, names)

	got, err := readTable(filepath.Join(dir, tableMetaFile), filepath.Join(dir, tablePointsFile))
	require.NoError(t, err)

	assert.Equal(t, src.Key, got.Key)
	assert.Equal(t, src.Property, got.Property)
	assert.Equal(t, src.Units, got.Units)
	assert.Equal(t, src.NodataPixels, got.NodataPixels)
	require.Len(t, got.Records, len(src.Records))
	for i, rec := range src.Records {
		assert.Equal(t, rec.Lon, got.Records[i].Lon)
		assert.Equal(t, rec.Lat, got.Records[i].Lat)
		if math.IsNaN(rec.Value) {
			assert.True(t, math.IsNaN(got.Records[i].Value))
		} else {
			assert.Equal(t, rec.Value, got.Records[i].Value)
		}
	}
}

func TestReadTable_TruncatedRows(t *testing.T) {
	dir := t.TempDir()
	_, err := writeTable(dir, pointsTable())
	require.NoError(t, err)

	pointsPath := filepath.Join(dir, tablePointsFile)
	raw, err := os.ReadFile(pointsPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	truncated := strings.Join(lines[:len(lines)-1], "\n") + "\n"
	require.NoError(t, os.WriteFile(pointsPath, []byte(truncated), 0o644))

	_, err = readTable(filepath.Join(dir, tableMetaFile), pointsPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metadata says")
}

func TestReadTable_MalformedRow(t *testing.T) {
	dir := t.TempDir()
	_, err := writeTable(dir, pointsTable())
	require.NoError(t, err)

	pointsPath := filepath.Join(dir, tablePointsFile)
	require.NoError(t, os.WriteFile(pointsPath,
		[]byte("lon,lat,value\n-56.475,-13.475,fifty\n"), 0o644))

	_, err = readTable(filepath.Join(dir, tableMetaFile), pointsPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"fifty"`)
}

func indexedTable(t *testing.T) *hexgrid.IndexedTable {
	t.Helper()
	src := pointsTable()
	src.Records = src.Records[:2] // drop the NaN record
	it, err := hexgrid.Index(src, 7)
	require.NoError(t, err)
	it.FilteredRows = 1
	return it
}

func TestIndexed_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := indexedTable(t)

	names, err := writeIndexed(dir, src)
	require.NoError(t, err)
	assert.Equal(t, []string{indexMetaFile, indexCellsFile}, names)

	got, err := readIndexed(filepath.Join(dir, indexMetaFile), filepath.Join(dir, indexCellsFile))
	require.NoError(t, err)

	assert.Equal(t, src.Key, got.Key)
	assert.Equal(t, src.Units, got.Units)
	assert.Equal(t, src.Resolution, got.Resolution)
	assert.Equal(t, src.FilteredRows, got.FilteredRows)
	assert.Equal(t, src.Records, got.Records)
	assert.Equal(t, src.Cells, got.Cells)
}

func TestReadIndexed_BadCellID(t *testing.T) {
	dir := t.TempDir()
	_, err := writeIndexed(dir, indexedTable(t))
	require.NoError(t, err)

	cellsPath := filepath.Join(dir, indexCellsFile)
	require.NoError(t, os.WriteFile(cellsPath,
		[]byte("cell,lon,lat,value\nnot-a-cell,-56.475,-13.475,55\n"), 0o644))

	_, err = readIndexed(filepath.Join(dir, indexMetaFile), cellsPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cell id")
}

func TestReadAggregates_RoundTrip(t *testing.T) {
	cellA, err := h3.LatLngToCell(h3.NewLatLng(-13.0, -56.0), 7)
	require.NoError(t, err)
	cellB, err := h3.LatLngToCell(h3.NewLatLng(-13.2, -56.2), 7)
	require.NoError(t, err)

	aggs := []hexgrid.Aggregate{
		{
			Cell: cellA, Lon: -56.0, Lat: -13.0, PointCount: 4,
			Means: map[string]float64{"moisture": 55.000001192092896, "soc_b0": 5},
		},
		{
			Cell: cellB, Lon: -56.2, Lat: -13.2, PointCount: 1,
			// soc_b0 absent: its column stays empty for this cell.
			Means: map[string]float64{"moisture": 41.25},
		},
	}
	path := filepath.Join(t.TempDir(), aggregatesFile)
	_, err = export.WriteAggregatesCSV(path, aggs, export.DatasetKeys(aggs))
	require.NoError(t, err)

	got, err := ReadAggregates(path)
	require.NoError(t, err)
	assert.Equal(t, aggs, got)
}

func TestReadAggregates_WrongHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.csv")
	require.NoError(t, os.WriteFile(path, []byte("lon,lat,value\n-56,-13,1\n"), 0o644))

	_, err := ReadAggregates(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an aggregate table")
}

func TestReadAggregates_BadRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), aggregatesFile)
	require.NoError(t, os.WriteFile(path,
		[]byte("cell_id,lon,lat,point_count,moisture\n87zzzz,-56,-13,4,55\n"), 0o644))

	_, err := ReadAggregates(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cell id")
}
