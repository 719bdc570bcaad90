package geo

import (
	"math"

	"github.com/twpayne/go-geom"
)

const earthRadiusKM = 6371.0

// BBox is a WGS84 bounding box.
type BBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

// Contains reports whether the point lies inside the box (edges inclusive).
func (b BBox) Contains(lon, lat float64) bool {
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

// Intersects reports whether the two boxes share any area.
func (b BBox) Intersects(o BBox) bool {
	return b.MinLon <= o.MaxLon && b.MaxLon >= o.MinLon &&
		b.MinLat <= o.MaxLat && b.MaxLat >= o.MinLat
}

// Within reports whether b lies entirely inside o.
func (b BBox) Within(o BBox) bool {
	return b.MinLon >= o.MinLon && b.MaxLon <= o.MaxLon &&
		b.MinLat >= o.MinLat && b.MaxLat <= o.MaxLat
}

// HaversineKM returns the great-circle distance between two points in km.
func HaversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	return earthRadiusKM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// destination returns the point distKM away from (lat, lon) along the
// given initial bearing (degrees clockwise from north).
func destination(lat, lon, bearingDeg, distKM float64) (dlat, dlon float64) {
	phi := lat * math.Pi / 180
	lambda := lon * math.Pi / 180
	theta := bearingDeg * math.Pi / 180
	delta := distKM / earthRadiusKM

	phi2 := math.Asin(math.Sin(phi)*math.Cos(delta) +
		math.Cos(phi)*math.Sin(delta)*math.Cos(theta))
	lambda2 := lambda + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(phi),
		math.Cos(delta)-math.Sin(phi)*math.Sin(phi2))

	return phi2 * 180 / math.Pi, lambda2 * 180 / math.Pi
}

// CircleRing builds a closed geodesic ring of the given radius around a
// center, as a WGS84 polygon. Every vertex lies radiusKM from the center,
// so the ring is distance-true without a projection round trip. segments
// controls vertex count; values below 8 are raised to 8.
func CircleRing(lat, lon, radiusKM float64, segments int) *geom.Polygon {
	if segments < 8 {
		segments = 8
	}

	flat := make([]float64, 0, (segments+1)*2)
	for i := 0; i < segments; i++ {
		bearing := float64(i) * 360.0 / float64(segments)
		plat, plon := destination(lat, lon, bearing, radiusKM)
		flat = append(flat, plon, plat)
	}
	// Close the ring.
	flat = append(flat, flat[0], flat[1])

	return geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)}).SetSRID(4326)
}

// RingBBox returns the bounding box of a polygon's outer ring.
func RingBBox(p *geom.Polygon) BBox {
	b := p.Bounds()
	return BBox{
		MinLon: b.Min(0),
		MinLat: b.Min(1),
		MaxLon: b.Max(0),
		MaxLat: b.Max(1),
	}
}

// PointInPolygon reports whether (lon, lat) lies inside the polygon's
// outer ring by even-odd ray casting. Holes are not considered; boundary
// points count as inside.
func PointInPolygon(lon, lat float64, p *geom.Polygon) bool {
	if p == nil || p.NumLinearRings() == 0 {
		return false
	}
	return pointInRing(lon, lat, p.LinearRing(0).FlatCoords())
}

// PointInMultiPolygon reports whether (lon, lat) lies inside any member
// polygon's outer ring.
func PointInMultiPolygon(lon, lat float64, mp *geom.MultiPolygon) bool {
	if mp == nil {
		return false
	}
	for i := 0; i < mp.NumPolygons(); i++ {
		if PointInPolygon(lon, lat, mp.Polygon(i)) {
			return true
		}
	}
	return false
}

// pointInRing runs the even-odd rule over a flat [x0 y0 x1 y1 ...] ring.
func pointInRing(x, y float64, flat []float64) bool {
	n := len(flat) / 2
	if n < 3 {
		return false
	}

	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		xi, yi := flat[2*i], flat[2*i+1]
		xj, yj := flat[2*j], flat[2*j+1]

		if (yi > y) != (yj > y) {
			cross := (xj-xi)*(y-yi)/(yj-yi) + xi
			if x == cross {
				return true // on the edge
			}
			if x < cross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}
