package hexgrid

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	h3 "github.com/uber/h3-go/v4"
)

// BoundaryPolygon returns a cell's outline as a closed WGS84 polygon.
// Called once per aggregated cell, after the merge; nothing in this
// package builds boundaries for raw points.
func BoundaryPolygon(cell h3.Cell) (*geom.Polygon, error) {
	b, err := h3.CellToBoundary(cell)
	if err != nil {
		return nil, eris.Wrapf(err, "hexgrid: boundary of %s", cell.String())
	}
	if len(b) < 3 {
		return nil, eris.Errorf("hexgrid: degenerate boundary for %s", cell.String())
	}

	flat := make([]float64, 0, (len(b)+1)*2)
	for _, ll := range b {
		flat = append(flat, ll.Lng, ll.Lat)
	}
	flat = append(flat, b[0].Lng, b[0].Lat)

	return geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)}).SetSRID(4326), nil
}

// CellCenter returns a cell's own center coordinate, as opposed to the
// centroid of the points that landed in it.
func CellCenter(cell h3.Cell) (lon, lat float64, err error) {
	ll, err := h3.CellToLatLng(cell)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "hexgrid: center of %s", cell.String())
	}
	return ll.Lng, ll.Lat, nil
}
