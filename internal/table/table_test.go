package table

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cerrado-geo/soilhex-cli/internal/model"
	"github.com/cerrado-geo/soilhex-cli/internal/raster"
)

func smallRaster(varName, units string, data []float32) *raster.Raster {
	return &raster.Raster{
		Name:   "test",
		Var:    varName,
		Units:  units,
		Nodata: -9999,
		Grid:   raster.Grid{X0: -57.0, Y0: -14.0, Dx: 0.5, Dy: 0.5, NX: 2, NY: 2},
		Data:   data,
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("skip")
	require.NoError(t, err)
	assert.Equal(t, PolicySkip, p)

	p, err = ParsePolicy("nan")
	require.NoError(t, err)
	assert.Equal(t, PolicyNaN, p)

	_, err = ParsePolicy("drop")
	require.Error(t, err)
}

func TestConvert_SkipPolicy(t *testing.T) {
	r := smallRaster("sm_surface", "m3/m3", []float32{0.10, -9999, 0.30, 0.40})
	ds := model.Dataset{Property: model.PropMoisture}

	tb, err := Convert(ds, r, PolicySkip)
	require.NoError(t, err)

	assert.Equal(t, "moisture", tb.Key)
	assert.Equal(t, "%", tb.Units)
	assert.Equal(t, 1, tb.NodataPixels)
	require.Len(t, tb.Records, 3)

	// Row-major order, first record is cell (0, 0).
	first := tb.Records[0]
	assert.InDelta(t, -56.75, first.Lon, 1e-9)
	assert.InDelta(t, -13.75, first.Lat, 1e-9)
	assert.InDelta(t, 10.0, first.Value, 1e-4)
}

func TestConvert_NaNPolicy(t *testing.T) {
	r := smallRaster("sm_surface", "m3/m3", []float32{0.10, -9999, 0.30, 0.40})
	ds := model.Dataset{Property: model.PropMoisture}

	tb, err := Convert(ds, r, PolicyNaN)
	require.NoError(t, err)

	assert.Equal(t, 1, tb.NodataPixels)
	require.Len(t, tb.Records, 4)
	assert.True(t, math.IsNaN(tb.Records[1].Value))
	assert.InDelta(t, 30.0, tb.Records[2].Value, 1e-4)
}

func TestConvert_UnknownPolicy(t *testing.T) {
	r := smallRaster("sm_surface", "m3/m3", []float32{0.1, 0.2, 0.3, 0.4})
	_, err := Convert(model.Dataset{Property: model.PropMoisture}, r, NodataPolicy("zero"))
	require.Error(t, err)
}

func TestConvert_Normalization(t *testing.T) {
	tests := []struct {
		name     string
		property model.Property
		units    string
		raw      float32
		want     float64
		wantUnit string
	}{
		{"moisture m3/m3 to percent", model.PropMoisture, "m3/m3", 0.25, 25.0, "%"},
		{"soc g/kg to percent", model.PropSOC, "g/kg", 8.0, 0.8, "%"},
		{"ph descaled", model.PropPH, "pH*10", 65.0, 6.5, "pH"},
		{"temperature kelvin to celsius", model.PropTemperature, "K", 293.15, 20.0, "degC"},
		{"moisture already percent", model.PropMoisture, "%", 25.0, 25.0, "%"},
		{"temperature already celsius", model.PropTemperature, "degC", 20.0, 20.0, "degC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := smallRaster("v", tt.units, []float32{tt.raw, tt.raw, tt.raw, tt.raw})
			tb, err := Convert(model.Dataset{Property: tt.property}, r, PolicySkip)
			require.NoError(t, err)

			assert.Equal(t, tt.wantUnit, tb.Units)
			require.Len(t, tb.Records, 4)
			assert.InDelta(t, tt.want, tb.Records[0].Value, 1e-3)
		})
	}
}

func TestConvert_UnknownUnitsPassThrough(t *testing.T) {
	r := smallRaster("v", "furlongs", []float32{1, 2, 3, 4})
	tb, err := Convert(model.Dataset{Property: model.PropMoisture}, r, PolicySkip)
	require.NoError(t, err)

	// Values untouched, but the table still claims the canonical unit.
	assert.Equal(t, "%", tb.Units)
	assert.InDelta(t, 1.0, tb.Records[0].Value, 1e-9)
}

func TestConvert_Restartable(t *testing.T) {
	r := smallRaster("sm_surface", "m3/m3", []float32{0.10, -9999, 0.30, 0.40})
	ds := model.Dataset{Property: model.PropMoisture}

	a, err := Convert(ds, r, PolicySkip)
	require.NoError(t, err)
	b, err := Convert(ds, r, PolicySkip)
	require.NoError(t, err)

	assert.Equal(t, a.Records, b.Records)
	assert.Equal(t, a.NodataPixels, b.NodataPixels)
}

func TestConvert_DepthBandKey(t *testing.T) {
	r := smallRaster("soc", "g/kg", []float32{5, 5, 5, 5})
	ds := model.Dataset{Property: model.PropSOC, Band: model.DepthB10}

	tb, err := Convert(ds, r, PolicySkip)
	require.NoError(t, err)
	assert.Equal(t, "soc_b10", tb.Key)
}
