// Package clip restricts rasters to an area of interest. The full extent
// passes through untouched; a circle AOI crops the grid to the circle's
// bounding window and masks cells outside the ring to nodata.
package clip

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/cerrado-geo/soilhex-cli/internal/aoi"
	"github.com/cerrado-geo/soilhex-cli/internal/geo"
	"github.com/cerrado-geo/soilhex-cli/internal/raster"
)

// ErrEmptyClip marks an AOI with zero valid pixels. Partial overlap is
// tolerated and reported through Coverage instead.
var ErrEmptyClip = eris.New("clip: area of interest has no valid pixels")

// ringSegments is the vertex count for AOI circle rings. 64 keeps the
// worst-case chord error under 0.2% of the radius.
const ringSegments = 64

// Coverage reports how much of the requested circle carried data. An AOI
// reaching past the raster's edge is expected near the region border, so
// it degrades the coverage numbers instead of failing the clip.
type Coverage struct {
	// Clipped is false for the full-extent pass-through, which skips
	// coverage accounting entirely.
	Clipped bool `json:"clipped"`
	// TouchesBoundary is set when any cell of the circle falls outside
	// the raster extent.
	TouchesBoundary bool `json:"touches_boundary"`
	// CirclePixels counts grid cells whose center lies in the circle,
	// including cells beyond the raster's edge.
	CirclePixels int `json:"circle_pixels"`
	// ValidPixels counts in-circle cells that carry data.
	ValidPixels int `json:"valid_pixels"`
	// FractionValidPixels is ValidPixels over CirclePixels; 1.0 for the
	// pass-through.
	FractionValidPixels float64 `json:"fraction_valid_pixels"`
}

// Result is a clipped raster plus its coverage report. The raster is
// never mutated after creation.
type Result struct {
	Raster   *raster.Raster
	Coverage Coverage
}

// Apply clips a raster to an AOI. The full extent returns the input
// raster unchanged. A circle yields a cropped copy whose out-of-circle
// cells are nodata; the only hard failure is a circle with zero valid
// pixels.
func Apply(r *raster.Raster, area aoi.AreaOfInterest) (*Result, error) {
	if area.IsFullExtent() {
		return &Result{
			Raster:   r,
			Coverage: Coverage{Clipped: false, FractionValidPixels: 1.0},
		}, nil
	}

	ring := area.Ring(ringSegments)
	ringBox := geo.RingBBox(ring)
	g := r.Grid

	if !g.Bounds().Intersects(ringBox) {
		return nil, eris.Wrapf(ErrEmptyClip,
			"%s lies entirely outside raster %s extent lon [%.4f, %.4f] lat [%.4f, %.4f]",
			area, r.Name,
			g.Bounds().MinLon, g.Bounds().MaxLon, g.Bounds().MinLat, g.Bounds().MaxLat)
	}

	// Virtual index window covering the circle, deliberately unclamped:
	// cells past the raster edge still count toward CirclePixels so the
	// coverage fraction reflects how much of the request left the data.
	ix0 := int(math.Floor((ringBox.MinLon - g.X0) / g.Dx))
	ix1 := int(math.Ceil((ringBox.MaxLon - g.X0) / g.Dx))
	iy0 := int(math.Floor((ringBox.MinLat - g.Y0) / g.Dy))
	iy1 := int(math.Ceil((ringBox.MaxLat - g.Y0) / g.Dy))

	// Clamped window is the output grid.
	cx0, cx1 := clampRange(ix0, ix1, g.NX)
	cy0, cy1 := clampRange(iy0, iy1, g.NY)

	out := raster.Raster{
		Name:    r.Name,
		Var:     r.Var,
		Units:   r.Units,
		Nodata:  r.Nodata,
		ModTime: r.ModTime,
		Grid: raster.Grid{
			X0: g.X0 + float64(cx0)*g.Dx,
			Y0: g.Y0 + float64(cy0)*g.Dy,
			Dx: g.Dx,
			Dy: g.Dy,
			NX: cx1 - cx0,
			NY: cy1 - cy0,
		},
	}
	out.Data = make([]float32, out.Grid.NumCells())
	fill := float32(r.Nodata)
	if math.IsNaN(r.Nodata) {
		fill = float32(math.NaN())
	}
	for i := range out.Data {
		out.Data[i] = fill
	}

	cov := Coverage{Clipped: true}
	for iy := iy0; iy < iy1; iy++ {
		for ix := ix0; ix < ix1; ix++ {
			lon, lat := g.CellCenter(ix, iy)
			if !geo.PointInPolygon(lon, lat, ring) {
				continue
			}
			cov.CirclePixels++

			if ix < 0 || ix >= g.NX || iy < 0 || iy >= g.NY {
				cov.TouchesBoundary = true
				continue
			}

			v := r.At(ix, iy)
			out.Data[out.Grid.Index(ix-cx0, iy-cy0)] = r.Data[g.Index(ix, iy)]
			if !r.IsNodata(v) {
				cov.ValidPixels++
			}
		}
	}

	if cov.ValidPixels == 0 {
		return nil, eris.Wrapf(ErrEmptyClip, "%s over raster %s", area, r.Name)
	}
	cov.FractionValidPixels = float64(cov.ValidPixels) / float64(cov.CirclePixels)

	return &Result{Raster: &out, Coverage: cov}, nil
}

func clampRange(lo, hi, n int) (int, int) {
	if lo < 0 {
		lo = 0
	}
	if hi > n {
		hi = n
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}
