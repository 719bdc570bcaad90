package raster

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRaster() *Raster {
	return &Raster{
		Name:   "soil_moisture_res_250_sm_surface",
		Var:    "sm_surface",
		Units:  "m3/m3",
		Nodata: -9999,
		Grid:   Grid{X0: -57.0, Y0: -14.0, Dx: 0.5, Dy: 0.5, NX: 4, NY: 3},
		Data: []float32{
			0.10, 0.20, 0.30, 0.40,
			0.15, -9999, 0.35, 0.45,
			0.12, 0.22, 0.32, -9999,
		},
	}
}

func TestWriteOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "soil_moisture_res_250_sm_surface.nc")

	src := testRaster()
	require.NoError(t, Write(path, src))

	got, err := Open(path)
	require.NoError(t, err)

	assert.Equal(t, src.Grid, got.Grid)
	assert.Equal(t, "sm_surface", got.Var)
	assert.Equal(t, "m3/m3", got.Units)
	assert.InDelta(t, -9999.0, got.Nodata, 1e-9)
	assert.Equal(t, src.Data, got.Data)
	assert.Equal(t, "soil_moisture_res_250_sm_surface", got.Name)
	assert.Equal(t, path, got.Path)
	assert.False(t, got.ModTime.IsZero())
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.nc"))
	require.Error(t, err)
}

func TestOpen_NotARaster(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "garbage.nc")
	require.NoError(t, writeFile(path, []byte("not netcdf")))

	_, err := Open(path)
	require.Error(t, err)
}

func TestWrite_LengthMismatch(t *testing.T) {
	r := testRaster()
	r.Data = r.Data[:5]

	err := Write(filepath.Join(t.TempDir(), "bad.nc"), r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "5 values")
}

func TestGrid_CellCenter(t *testing.T) {
	g := Grid{X0: -57.0, Y0: -14.0, Dx: 0.5, Dy: 0.5, NX: 4, NY: 3}

	lon, lat := g.CellCenter(0, 0)
	assert.InDelta(t, -56.75, lon, 1e-9)
	assert.InDelta(t, -13.75, lat, 1e-9)

	lon, lat = g.CellCenter(3, 2)
	assert.InDelta(t, -55.25, lon, 1e-9)
	assert.InDelta(t, -12.75, lat, 1e-9)
}

func TestGrid_Bounds(t *testing.T) {
	g := Grid{X0: -57.0, Y0: -14.0, Dx: 0.5, Dy: 0.5, NX: 4, NY: 3}
	b := g.Bounds()

	assert.InDelta(t, -57.0, b.MinLon, 1e-9)
	assert.InDelta(t, -14.0, b.MinLat, 1e-9)
	assert.InDelta(t, -55.0, b.MaxLon, 1e-9)
	assert.InDelta(t, -12.5, b.MaxLat, 1e-9)
}

func TestGrid_Index(t *testing.T) {
	g := Grid{NX: 4, NY: 3}
	assert.Equal(t, 0, g.Index(0, 0))
	assert.Equal(t, 3, g.Index(3, 0))
	assert.Equal(t, 4, g.Index(0, 1))
	assert.Equal(t, 11, g.Index(3, 2))
	assert.Equal(t, 12, g.NumCells())
}

func TestRaster_IsNodata(t *testing.T) {
	r := testRaster()
	assert.True(t, r.IsNodata(-9999))
	assert.False(t, r.IsNodata(0.2))

	r.Nodata = math.NaN()
	assert.True(t, r.IsNodata(math.NaN()))
	assert.False(t, r.IsNodata(-9999))
}

func TestRaster_At(t *testing.T) {
	r := testRaster()
	assert.InDelta(t, 0.10, r.At(0, 0), 1e-6)
	assert.InDelta(t, 0.45, r.At(3, 1), 1e-6)
}

func TestRaster_Clone(t *testing.T) {
	r := testRaster()
	c := r.Clone()

	c.Data[0] = 99
	assert.InDelta(t, 0.10, r.At(0, 0), 1e-6)
	assert.InDelta(t, 99.0, c.At(0, 0), 1e-6)
}
