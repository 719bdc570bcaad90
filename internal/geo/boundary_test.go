package geo

import (
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func TestPolygonToMultiPolygon_SingleRing(t *testing.T) {
	poly := &shp.Polygon{
		NumParts: 1,
		Parts:    []int32{0},
		Points: []shp.Point{
			{X: -57.0, Y: -14.0},
			{X: -55.0, Y: -14.0},
			{X: -55.0, Y: -12.0},
			{X: -57.0, Y: -12.0},
			{X: -57.0, Y: -14.0}, // closed ring
		},
	}

	mp := polygonToMultiPolygon(poly)
	require.NotNil(t, mp)
	assert.Equal(t, 1, mp.NumPolygons())
	assert.Equal(t, 4326, mp.SRID())

	flat := mp.Polygon(0).LinearRing(0).FlatCoords()
	assert.Equal(t, []float64{-57, -14, -55, -14, -55, -12, -57, -12, -57, -14}, flat)
}

func TestPolygonToMultiPolygon_MultiPart(t *testing.T) {
	poly := &shp.Polygon{
		NumParts: 2,
		Parts:    []int32{0, 5},
		Points: []shp.Point{
			// Part 1
			{X: -57.0, Y: -14.0},
			{X: -55.0, Y: -14.0},
			{X: -55.0, Y: -12.0},
			{X: -57.0, Y: -12.0},
			{X: -57.0, Y: -14.0},
			// Part 2
			{X: -60.0, Y: -10.0},
			{X: -59.0, Y: -10.0},
			{X: -59.0, Y: -9.0},
			{X: -60.0, Y: -9.0},
			{X: -60.0, Y: -10.0},
		},
	}

	mp := polygonToMultiPolygon(poly)
	require.NotNil(t, mp)
	assert.Equal(t, 2, mp.NumPolygons())
}

func TestPolygonToMultiPolygon_Empty(t *testing.T) {
	assert.Nil(t, polygonToMultiPolygon(nil))
	assert.Nil(t, polygonToMultiPolygon(&shp.Polygon{}))
}

func TestBoundary_Contains(t *testing.T) {
	mp := geom.NewMultiPolygon(geom.XY)
	require.NoError(t, mp.Push(geom.NewPolygonFlat(geom.XY, []float64{
		-57, -14, -55, -14, -55, -12, -57, -12, -57, -14,
	}, []int{10})))

	b := &Boundary{Name: "Mato Grosso", Geom: mp}

	assert.True(t, b.Contains(-56.0, -13.0))
	assert.False(t, b.Contains(-54.0, -13.0))
}

func TestBoundary_BBox(t *testing.T) {
	mp := geom.NewMultiPolygon(geom.XY)
	require.NoError(t, mp.Push(geom.NewPolygonFlat(geom.XY, []float64{
		-57, -14, -55, -14, -55, -12, -57, -12, -57, -14,
	}, []int{10})))

	b := &Boundary{Geom: mp}
	box := b.BBox()

	assert.Equal(t, BBox{MinLon: -57, MinLat: -14, MaxLon: -55, MaxLat: -12}, box)
}

func TestLoadBoundary_MissingFile(t *testing.T) {
	_, err := LoadBoundary(filepath.Join(t.TempDir(), "nope.shp"))
	require.Error(t, err)
}
