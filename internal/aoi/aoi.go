// Package aoi validates area-of-interest requests against the configured
// region and normalizes them into a value the rest of the pipeline can
// carry around. An AOI is either the full region extent or a geodesic
// circle centered on a user-supplied coordinate.
package aoi

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/cerrado-geo/soilhex-cli/internal/config"
	"github.com/cerrado-geo/soilhex-cli/internal/geo"
)

// Validation failures are never retried, only surfaced. Callers branch on
// these with eris.Is.
var (
	ErrInvalidCoordinate = eris.New("aoi: invalid coordinate")
	ErrOutOfRegion       = eris.New("aoi: coordinates outside region bounds")
)

// DefaultRadiusKM is used when a circle request omits the radius.
const DefaultRadiusKM = 100.0

// Kind discriminates the two AOI shapes.
type Kind string

const (
	KindFullExtent Kind = "full_extent"
	KindCircle     Kind = "circle"
)

// AreaOfInterest is a validated analysis area. Zero value is not valid;
// construct through Resolver.Resolve.
type AreaOfInterest struct {
	Kind     Kind    `json:"kind"`
	Lat      float64 `json:"lat,omitempty"`
	Lon      float64 `json:"lon,omitempty"`
	RadiusKM float64 `json:"radius_km,omitempty"`
}

// FullExtent returns the whole-region AOI.
func FullExtent() AreaOfInterest {
	return AreaOfInterest{Kind: KindFullExtent}
}

// Circle returns a circular AOI without validation. Prefer Resolver.Resolve
// for user input.
func Circle(lat, lon, radiusKM float64) AreaOfInterest {
	return AreaOfInterest{Kind: KindCircle, Lat: lat, Lon: lon, RadiusKM: radiusKM}
}

// IsFullExtent reports whether the AOI covers the whole region.
func (a AreaOfInterest) IsFullExtent() bool {
	return a.Kind == KindFullExtent
}

// CacheKeyPart renders the AOI as a stable path-safe token. Circle AOIs
// use fixed precision so the same request always lands on the same cache
// entry: 6 decimals for the center, 2 for the radius.
func (a AreaOfInterest) CacheKeyPart() string {
	if a.IsFullExtent() {
		return "full_extent"
	}
	return fmt.Sprintf("%.6f_%.6f_%.2f", a.Lat, a.Lon, a.RadiusKM)
}

// ParseCacheKeyPart inverts CacheKeyPart. Run records carry the token, so
// resuming a run recovers its AOI from the store instead of requiring the
// coordinates again.
func ParseCacheKeyPart(s string) (AreaOfInterest, error) {
	if s == "full_extent" {
		return FullExtent(), nil
	}
	parts := strings.Split(s, "_")
	if len(parts) != 3 {
		return AreaOfInterest{}, eris.Wrapf(ErrInvalidCoordinate, "malformed aoi key %q", s)
	}
	vals := make([]float64, 3)
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return AreaOfInterest{}, eris.Wrapf(ErrInvalidCoordinate, "malformed aoi key %q", s)
		}
		vals[i] = v
	}
	return Circle(vals[0], vals[1], vals[2]), nil
}

// Ring builds the AOI's geodesic circle polygon. Returns nil for the full
// extent, which downstream treats as pass-through.
func (a AreaOfInterest) Ring(segments int) *geom.Polygon {
	if a.IsFullExtent() {
		return nil
	}
	return geo.CircleRing(a.Lat, a.Lon, a.RadiusKM, segments)
}

func (a AreaOfInterest) String() string {
	if a.IsFullExtent() {
		return "full extent"
	}
	return fmt.Sprintf("circle(%.6f, %.6f, %.2fkm)", a.Lat, a.Lon, a.RadiusKM)
}

// Request is an unvalidated AOI request from a CLI or web front end.
// Nil fields were not supplied.
type Request struct {
	Lat      *float64
	Lon      *float64
	RadiusKM *float64
	// Resolution overrides the configured hex resolution when set.
	Resolution *int
}

// Resolver validates requests against one region's bounds. It is immutable
// after construction and safe for concurrent use.
type Resolver struct {
	region config.RegionConfig
	hex    config.HexConfig
}

// NewResolver builds a resolver over the configured region.
func NewResolver(region config.RegionConfig, hex config.HexConfig) *Resolver {
	return &Resolver{region: region, hex: hex}
}

// Bounds returns the region bounding box the resolver validates against.
func (r *Resolver) Bounds() geo.BBox {
	return geo.BBox{
		MinLon: r.region.MinLon,
		MinLat: r.region.MinLat,
		MaxLon: r.region.MaxLon,
		MaxLat: r.region.MaxLat,
	}
}

// Resolve validates a request and returns the AOI it describes. Omitted
// coordinates mean the full region. Validation order: coordinate range,
// then region bounds, then radius. Out-of-range input fails with an
// explicit bound in the message; nothing is ever clamped.
func (r *Resolver) Resolve(req Request) (AreaOfInterest, error) {
	if req.Lat == nil && req.Lon == nil {
		return FullExtent(), nil
	}
	if req.Lat == nil || req.Lon == nil {
		return AreaOfInterest{}, eris.Wrap(ErrInvalidCoordinate,
			"lat and lon must be supplied together")
	}

	lat, lon := *req.Lat, *req.Lon

	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return AreaOfInterest{}, eris.Wrapf(ErrInvalidCoordinate,
			"lat %v not in [-90, 90]", lat)
	}
	if math.IsNaN(lon) || math.IsInf(lon, 0) || lon < -180 || lon > 180 {
		return AreaOfInterest{}, eris.Wrapf(ErrInvalidCoordinate,
			"lon %v not in [-180, 180]", lon)
	}

	if !r.Bounds().Contains(lon, lat) {
		return AreaOfInterest{}, eris.Wrapf(ErrOutOfRegion,
			"(%.6f, %.6f) not in %s lat [%.2f, %.2f] lon [%.2f, %.2f]",
			lat, lon, r.region.Name,
			r.region.MinLat, r.region.MaxLat, r.region.MinLon, r.region.MaxLon)
	}

	radius := DefaultRadiusKM
	if req.RadiusKM != nil {
		radius = *req.RadiusKM
	}
	if math.IsNaN(radius) || radius < r.region.MinRadiusKM || radius > r.region.MaxRadiusKM {
		return AreaOfInterest{}, eris.Wrapf(ErrInvalidCoordinate,
			"radius %v km not in [%.1f, %.1f]", radius,
			r.region.MinRadiusKM, r.region.MaxRadiusKM)
	}

	return Circle(lat, lon, radius), nil
}

// HexResolution picks the hex resolution for a run: the request override
// when present, otherwise the configured default for the AOI kind. The
// full extent aggregates at a coarser resolution than a circle because it
// covers two orders of magnitude more area.
func (r *Resolver) HexResolution(a AreaOfInterest, override *int) (int, error) {
	res := r.hex.Resolution
	if a.IsFullExtent() {
		res = r.hex.FullExtentResolution
	}
	if override != nil {
		res = *override
	}
	if res < 0 || res > 15 {
		return 0, eris.Wrapf(ErrInvalidCoordinate, "hex resolution %d not in [0, 15]", res)
	}
	return res, nil
}
