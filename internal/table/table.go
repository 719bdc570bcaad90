// Package table flattens rasters into point-sample tables. Each surviving
// pixel becomes one (lon, lat, value) record with the value normalized to
// the property's canonical unit, so downstream stages never see source
// encodings.
package table

import (
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cerrado-geo/soilhex-cli/internal/model"
	"github.com/cerrado-geo/soilhex-cli/internal/raster"
)

// NodataPolicy controls what happens to nodata pixels.
type NodataPolicy string

const (
	// PolicySkip drops nodata pixels from the table.
	PolicySkip NodataPolicy = "skip"
	// PolicyNaN keeps nodata pixels as NaN-valued records.
	PolicyNaN NodataPolicy = "nan"
)

// ParsePolicy validates a policy string from config or flags.
func ParsePolicy(s string) (NodataPolicy, error) {
	switch NodataPolicy(s) {
	case PolicySkip, PolicyNaN:
		return NodataPolicy(s), nil
	default:
		return "", eris.Errorf("table: unknown nodata policy %q (use skip or nan)", s)
	}
}

// PointRecord is one pixel sample at its cell-center coordinate.
type PointRecord struct {
	Lon   float64
	Lat   float64
	Value float64
}

// Table is a flattened raster layer. Records are in row-major grid order,
// so converting the same raster twice yields identical tables.
type Table struct {
	Key      string // dataset key, the value column name downstream
	Property model.Property
	Units    string // canonical unit after normalization
	Records  []PointRecord
	// NodataPixels counts pixels the policy dropped or NaN-ed.
	NodataPixels int
}

// canonicalUnits per property after normalization.
var canonicalUnits = map[model.Property]string{
	model.PropMoisture:    "%",
	model.PropSOC:         "%",
	model.PropPH:          "pH",
	model.PropTemperature: "degC",
}

// Convert flattens one raster into a table, applying the nodata policy
// and normalizing values from the source encoding declared in the file's
// units attribute. An unrecognized encoding is passed through unchanged
// with a warning rather than dropped.
func Convert(ds model.Dataset, r *raster.Raster, policy NodataPolicy) (*Table, error) {
	if policy != PolicySkip && policy != PolicyNaN {
		return nil, eris.Errorf("table: unknown nodata policy %q", policy)
	}

	apply, canon, known := normalization(ds.Property, r.Units)
	if !known {
		zap.L().Warn("table: unrecognized source units, passing values through",
			zap.String("dataset", ds.Key()),
			zap.String("units", r.Units),
		)
	}

	t := &Table{
		Key:      ds.Key(),
		Property: ds.Property,
		Units:    canon,
		Records:  make([]PointRecord, 0, r.Grid.NumCells()),
	}

	for iy := 0; iy < r.Grid.NY; iy++ {
		for ix := 0; ix < r.Grid.NX; ix++ {
			v := r.At(ix, iy)
			lon, lat := r.Grid.CellCenter(ix, iy)

			if r.IsNodata(v) {
				t.NodataPixels++
				if policy == PolicySkip {
					continue
				}
				t.Records = append(t.Records, PointRecord{Lon: lon, Lat: lat, Value: math.NaN()})
				continue
			}

			t.Records = append(t.Records, PointRecord{Lon: lon, Lat: lat, Value: apply(v)})
		}
	}

	return t, nil
}

// normalization returns the conversion for a property's source encoding,
// the canonical unit label, and whether the encoding was recognized.
func normalization(p model.Property, units string) (func(float64) float64, string, bool) {
	identity := func(v float64) float64 { return v }
	canon := canonicalUnits[p]

	if units == canon {
		return identity, canon, true
	}

	switch p {
	case model.PropMoisture:
		if units == "m3/m3" {
			return func(v float64) float64 { return v * 100 }, canon, true
		}
	case model.PropSOC:
		if units == "g/kg" {
			return func(v float64) float64 { return v / 10 }, canon, true
		}
	case model.PropPH:
		// SoilGrids convention stores pH scaled by ten.
		if units == "pH*10" {
			return func(v float64) float64 { return v * 0.1 }, canon, true
		}
	case model.PropTemperature:
		if units == "K" {
			return func(v float64) float64 { return v - 273.15 }, canon, true
		}
	}

	return identity, canon, false
}
