package aoi

import (
	"math"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cerrado-geo/soilhex-cli/internal/config"
)

func testResolver() *Resolver {
	return NewResolver(
		config.RegionConfig{
			Name:        "mato-grosso",
			MinLat:      -18,
			MaxLat:      -7,
			MinLon:      -65,
			MaxLon:      -50,
			MinRadiusKM: 1,
			MaxRadiusKM: 500,
		},
		config.HexConfig{Resolution: 7, FullExtentResolution: 5},
	)
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }

func TestResolve_NoCoordinatesIsFullExtent(t *testing.T) {
	a, err := testResolver().Resolve(Request{})
	require.NoError(t, err)
	assert.True(t, a.IsFullExtent())
	assert.Equal(t, KindFullExtent, a.Kind)
}

func TestResolve_ValidCircle(t *testing.T) {
	a, err := testResolver().Resolve(Request{
		Lat:      ptrFloat64(-13.0),
		Lon:      ptrFloat64(-56.0),
		RadiusKM: ptrFloat64(100.0),
	})
	require.NoError(t, err)

	assert.Equal(t, KindCircle, a.Kind)
	assert.InDelta(t, -13.0, a.Lat, 1e-9)
	assert.InDelta(t, -56.0, a.Lon, 1e-9)
	assert.InDelta(t, 100.0, a.RadiusKM, 1e-9)
}

func TestResolve_DefaultRadius(t *testing.T) {
	a, err := testResolver().Resolve(Request{
		Lat: ptrFloat64(-13.0),
		Lon: ptrFloat64(-56.0),
	})
	require.NoError(t, err)
	assert.InDelta(t, DefaultRadiusKM, a.RadiusKM, 1e-9)
}

func TestResolve_PartialCoordinates(t *testing.T) {
	r := testResolver()

	_, err := r.Resolve(Request{Lat: ptrFloat64(-13.0)})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInvalidCoordinate))

	_, err = r.Resolve(Request{Lon: ptrFloat64(-56.0)})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInvalidCoordinate))
}

func TestResolve_InvalidCoordinates(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
	}{
		{"lat too high", 91.0, -55.0},
		{"lat too low", -91.0, -55.0},
		{"lon too high", -12.0, 181.0},
		{"lon too low", -12.0, -181.0},
		{"lat NaN", math.NaN(), -55.0},
		{"lon NaN", -12.0, math.NaN()},
		{"lat Inf", math.Inf(1), -55.0},
	}

	r := testResolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(Request{Lat: ptrFloat64(tt.lat), Lon: ptrFloat64(tt.lon)})
			require.Error(t, err)
			assert.True(t, eris.Is(err, ErrInvalidCoordinate))
			assert.False(t, eris.Is(err, ErrOutOfRegion))
		})
	}
}

func TestResolve_OutOfRegion(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
	}{
		{"south of region", -20.0, -55.0},
		{"west of region", -12.0, -70.0},
		{"east of region", -12.0, -40.0},
		{"equator", 0.0, 0.0},
	}

	r := testResolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(Request{Lat: ptrFloat64(tt.lat), Lon: ptrFloat64(tt.lon)})
			require.Error(t, err)
			assert.True(t, eris.Is(err, ErrOutOfRegion))
			assert.Contains(t, err.Error(), "mato-grosso")
		})
	}
}

func TestResolve_RegionEdgeInclusive(t *testing.T) {
	a, err := testResolver().Resolve(Request{
		Lat: ptrFloat64(-18.0),
		Lon: ptrFloat64(-65.0),
	})
	require.NoError(t, err)
	assert.Equal(t, KindCircle, a.Kind)
}

func TestResolve_RadiusBounds(t *testing.T) {
	tests := []struct {
		name   string
		radius float64
		ok     bool
	}{
		{"minimum", 1.0, true},
		{"maximum", 500.0, true},
		{"typical", 100.0, true},
		{"too small", 0.5, false},
		{"zero", 0.0, false},
		{"negative", -10.0, false},
		{"too large", 600.0, false},
		{"NaN", math.NaN(), false},
	}

	r := testResolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(Request{
				Lat:      ptrFloat64(-13.0),
				Lon:      ptrFloat64(-56.0),
				RadiusKM: ptrFloat64(tt.radius),
			})
			if tt.ok {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, eris.Is(err, ErrInvalidCoordinate))
			}
		})
	}
}

func TestCacheKeyPart(t *testing.T) {
	assert.Equal(t, "full_extent", FullExtent().CacheKeyPart())
	assert.Equal(t, "-13.000000_-56.000000_100.00", Circle(-13, -56, 100).CacheKeyPart())
	assert.Equal(t, "-12.345679_-55.500000_42.50", Circle(-12.3456789, -55.5, 42.5).CacheKeyPart())
}

func TestParseCacheKeyPart_RoundTrip(t *testing.T) {
	for _, a := range []AreaOfInterest{
		FullExtent(),
		Circle(-13, -56, 100),
		Circle(-12.345679, -55.5, 42.5),
	} {
		got, err := ParseCacheKeyPart(a.CacheKeyPart())
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}
}

func TestParseCacheKeyPart_Malformed(t *testing.T) {
	for _, s := range []string{"", "circle", "-13_-56", "-13_-56_abc", "-13_-56_100_7"} {
		_, err := ParseCacheKeyPart(s)
		require.Error(t, err, s)
		assert.True(t, eris.Is(err, ErrInvalidCoordinate))
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "full extent", FullExtent().String())
	assert.Equal(t, "circle(-13.000000, -56.000000, 100.00km)", Circle(-13, -56, 100).String())
}

func TestRing(t *testing.T) {
	assert.Nil(t, FullExtent().Ring(64))

	ring := Circle(-13, -56, 100).Ring(64)
	require.NotNil(t, ring)
	assert.GreaterOrEqual(t, ring.LinearRing(0).NumCoords(), 65)
}

func TestHexResolution(t *testing.T) {
	r := testResolver()

	res, err := r.HexResolution(Circle(-13, -56, 100), nil)
	require.NoError(t, err)
	assert.Equal(t, 7, res)

	res, err = r.HexResolution(FullExtent(), nil)
	require.NoError(t, err)
	assert.Equal(t, 5, res)

	res, err = r.HexResolution(Circle(-13, -56, 100), ptrInt(9))
	require.NoError(t, err)
	assert.Equal(t, 9, res)

	_, err = r.HexResolution(FullExtent(), ptrInt(16))
	require.Error(t, err)

	_, err = r.HexResolution(FullExtent(), ptrInt(-1))
	require.Error(t, err)
}
