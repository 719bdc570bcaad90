package geo

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
)

// nameFields are the DBF attributes tried, in order, when labelling a
// boundary record. IBGE municipal and state shapefiles carry NM_MUN and
// NM_UF respectively.
var nameFields = []string{"nm_mun", "nm_uf", "name", "nome"}

// Boundary is a named administrative outline loaded from a shapefile.
type Boundary struct {
	Name string
	Geom *geom.MultiPolygon
}

// BBox returns the bounding box of the boundary geometry.
func (b *Boundary) BBox() BBox {
	bounds := b.Geom.Bounds()
	return BBox{
		MinLon: bounds.Min(0),
		MinLat: bounds.Min(1),
		MaxLon: bounds.Max(0),
		MaxLat: bounds.Max(1),
	}
}

// Contains reports whether the point falls inside the boundary.
func (b *Boundary) Contains(lon, lat float64) bool {
	return PointInMultiPolygon(lon, lat, b.Geom)
}

// LoadBoundary reads polygon records from a shapefile and merges them
// into one multipolygon. DBF attributes are decoded from Latin-1, which
// is what Brazilian agency shapefiles ship with. Non-polygon records are
// skipped with a count.
func LoadBoundary(shpPath string) (*Boundary, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: open boundary shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}

	merged := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	var name string
	var skipped int

	for reader.Next() {
		_, shape := reader.Shape()

		poly, ok := shape.(*shp.Polygon)
		if !ok || poly == nil {
			skipped++
			continue
		}

		mp := polygonToMultiPolygon(poly)
		if mp == nil {
			skipped++
			continue
		}
		for i := 0; i < mp.NumPolygons(); i++ {
			if err := merged.Push(mp.Polygon(i)); err != nil {
				skipped++
			}
		}

		if name == "" {
			name = recordName(reader, fieldIdx)
		}
	}

	if skipped > 0 {
		zap.L().Debug("geo: skipped boundary records",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}

	if merged.NumPolygons() == 0 {
		return nil, eris.Errorf("geo: no polygon records in %s", shpPath)
	}

	return &Boundary{Name: name, Geom: merged}, nil
}

// polygonToMultiPolygon converts a shapefile Polygon to a geom.MultiPolygon,
// one member polygon per part.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		var end int32
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		} else {
			end = int32(len(p.Points))
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		ring := geom.NewLinearRingFlat(geom.XY, flat)
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			zap.L().Debug("geo: skipping malformed polygon ring", zap.Int32("part", i), zap.Error(err))
			continue
		}

		if err := mp.Push(poly); err != nil {
			zap.L().Debug("geo: skipping malformed polygon part", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// recordName pulls the first non-empty name attribute from the current
// record, decoding it from Latin-1.
func recordName(reader *shp.Reader, fieldIdx map[string]int) string {
	for _, field := range nameFields {
		idx, ok := fieldIdx[field]
		if !ok {
			continue
		}
		raw := strings.TrimRight(reader.Attribute(idx), "\x00")
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		decoded, err := charmap.ISO8859_1.NewDecoder().String(raw)
		if err != nil {
			return raw
		}
		return decoded
	}
	return ""
}
