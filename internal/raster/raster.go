// Package raster reads and writes the NetCDF grids the pipeline consumes.
//
// Files follow a fixed layout: dimensions "y" then "x", one float32 data
// variable spanning both, and global attributes x0/y0/dx/dy (grid origin
// and cell size, WGS84 degrees), nx/ny, and nodata. y0 is the southern
// edge of row 0; rows ascend northward. The variable carries a "units"
// attribute with the source encoding (m3/m3, g/kg, pH*10, K).
package raster

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ctessum/cdf"
	"github.com/rotisserie/eris"

	"github.com/cerrado-geo/soilhex-cli/internal/geo"
)

// coordVars are variable names that never hold layer data.
var coordVars = map[string]bool{"x": true, "y": true, "lat": true, "lon": true}

// Grid is a regular WGS84 cell grid. X0/Y0 are the west and south edges
// of cell (0, 0); Dx/Dy are positive cell sizes in degrees.
type Grid struct {
	X0, Y0 float64
	Dx, Dy float64
	NX, NY int
}

// Bounds returns the grid's outer edges.
func (g Grid) Bounds() geo.BBox {
	return geo.BBox{
		MinLon: g.X0,
		MinLat: g.Y0,
		MaxLon: g.X0 + float64(g.NX)*g.Dx,
		MaxLat: g.Y0 + float64(g.NY)*g.Dy,
	}
}

// CellCenter returns the center coordinate of cell (ix, iy).
func (g Grid) CellCenter(ix, iy int) (lon, lat float64) {
	return g.X0 + (float64(ix)+0.5)*g.Dx, g.Y0 + (float64(iy)+0.5)*g.Dy
}

// Index maps cell (ix, iy) to its position in the row-major data slice.
func (g Grid) Index(ix, iy int) int {
	return iy*g.NX + ix
}

// NumCells returns the total cell count.
func (g Grid) NumCells() int {
	return g.NX * g.NY
}

// Raster is one layer held in memory: grid metadata plus row-major
// float32 values. Data is never shared between rasters; Clone copies.
type Raster struct {
	Name    string // file stem, carries the dataset identity keywords
	Var     string
	Units   string
	Nodata  float64
	Grid    Grid
	Data    []float32
	Path    string
	ModTime time.Time // source mtime, for cache keys
}

// At returns the value of cell (ix, iy).
func (r *Raster) At(ix, iy int) float64 {
	return float64(r.Data[r.Grid.Index(ix, iy)])
}

// IsNodata reports whether a value is the nodata marker.
func (r *Raster) IsNodata(v float64) bool {
	if math.IsNaN(r.Nodata) {
		return math.IsNaN(v)
	}
	return float32(v) == float32(r.Nodata)
}

// Clone returns a deep copy sharing no data with the receiver.
func (r *Raster) Clone() *Raster {
	out := *r
	out.Data = make([]float32, len(r.Data))
	copy(out.Data, r.Data)
	return &out
}

// Open reads a raster file into memory.
func Open(path string) (*Raster, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: open %s", path)
	}
	defer func() { _ = fh.Close() }()

	info, err := fh.Stat()
	if err != nil {
		return nil, eris.Wrapf(err, "raster: stat %s", path)
	}

	f, err := cdf.Open(fh)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: parse %s", path)
	}

	var g Grid
	if g.X0, err = attrFloat(f.Header, "", "x0"); err != nil {
		return nil, eris.Wrapf(err, "raster: %s", path)
	}
	if g.Y0, err = attrFloat(f.Header, "", "y0"); err != nil {
		return nil, eris.Wrapf(err, "raster: %s", path)
	}
	if g.Dx, err = attrFloat(f.Header, "", "dx"); err != nil {
		return nil, eris.Wrapf(err, "raster: %s", path)
	}
	if g.Dy, err = attrFloat(f.Header, "", "dy"); err != nil {
		return nil, eris.Wrapf(err, "raster: %s", path)
	}

	varName, err := dataVariable(f.Header)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: %s", path)
	}

	lengths := f.Header.Lengths(varName)
	if len(lengths) != 2 {
		return nil, eris.Errorf("raster: %s: variable %s has %d dims, want 2",
			path, varName, len(lengths))
	}
	g.NY, g.NX = lengths[0], lengths[1]
	if g.NX <= 0 || g.NY <= 0 || g.Dx <= 0 || g.Dy <= 0 {
		return nil, eris.Errorf("raster: %s: degenerate grid %dx%d dx=%v dy=%v",
			path, g.NX, g.NY, g.Dx, g.Dy)
	}

	nodata, err := attrFloat(f.Header, "", "nodata")
	if err != nil {
		// Files without an explicit marker use NaN.
		nodata = math.NaN()
	}

	units := ""
	if u, ok := f.Header.GetAttribute(varName, "units").(string); ok {
		units = u
	}

	data := make([]float32, g.NumCells())
	if _, err := f.Reader(varName, nil, nil).Read(data); err != nil {
		return nil, eris.Wrapf(err, "raster: read %s from %s", varName, path)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &Raster{
		Name:    stem,
		Var:     varName,
		Units:   units,
		Nodata:  nodata,
		Grid:    g,
		Data:    data,
		Path:    path,
		ModTime: info.ModTime(),
	}, nil
}

// Write persists a raster to path. The caller owns atomicity; Write
// truncates and writes in place.
func Write(path string, r *Raster) error {
	if len(r.Data) != r.Grid.NumCells() {
		return eris.Errorf("raster: write %s: %d values for %dx%d grid",
			path, len(r.Data), r.Grid.NX, r.Grid.NY)
	}

	h := cdf.NewHeader([]string{"y", "x"}, []int{r.Grid.NY, r.Grid.NX})
	h.AddAttribute("", "crs", "EPSG:4326")
	h.AddAttribute("", "x0", []float64{r.Grid.X0})
	h.AddAttribute("", "y0", []float64{r.Grid.Y0})
	h.AddAttribute("", "dx", []float64{r.Grid.Dx})
	h.AddAttribute("", "dy", []float64{r.Grid.Dy})
	h.AddAttribute("", "nx", []int32{int32(r.Grid.NX)})
	h.AddAttribute("", "ny", []int32{int32(r.Grid.NY)})
	h.AddAttribute("", "nodata", []float64{r.Nodata})
	h.AddVariable(r.Var, []string{"y", "x"}, []float32{0})
	h.AddAttribute(r.Var, "units", r.Units)
	h.Define()

	fh, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "raster: create %s", path)
	}
	defer func() { _ = fh.Close() }()

	f, err := cdf.Create(fh, h)
	if err != nil {
		return eris.Wrapf(err, "raster: write header %s", path)
	}

	end := f.Header.Lengths(r.Var)
	start := make([]int, len(end))
	if _, err := f.Writer(r.Var, start, end).Write(r.Data); err != nil {
		return eris.Wrapf(err, "raster: write %s to %s", r.Var, path)
	}
	if err := cdf.UpdateNumRecs(fh); err != nil {
		return eris.Wrapf(err, "raster: finalize %s", path)
	}
	return nil
}

// attrFloat pulls a scalar numeric attribute out of a cdf header.
func attrFloat(h *cdf.Header, v, name string) (float64, error) {
	switch a := h.GetAttribute(v, name).(type) {
	case []float64:
		if len(a) > 0 {
			return a[0], nil
		}
	case []float32:
		if len(a) > 0 {
			return float64(a[0]), nil
		}
	case []int32:
		if len(a) > 0 {
			return float64(a[0]), nil
		}
	}
	return 0, eris.Errorf("missing attribute %q", name)
}

// dataVariable picks the single 2-D data variable out of the header.
func dataVariable(h *cdf.Header) (string, error) {
	var candidates []string
	for _, v := range h.Variables() {
		if coordVars[v] {
			continue
		}
		if len(h.Lengths(v)) == 2 {
			candidates = append(candidates, v)
		}
	}
	switch len(candidates) {
	case 1:
		return candidates[0], nil
	case 0:
		return "", eris.New("no 2-D data variable")
	default:
		return "", eris.Errorf("ambiguous data variables %v", candidates)
	}
}
