// Package raster holds the in-memory raster grid, the artifact codecs
// (Arc/Info ASCII grid, NPY, NPZ bundles), resampling onto target grids,
// and the Euclidean distance transform.
//
// A Raster is source-side data: georeferenced in WGS84 degrees with
// image-style row order (row 0 at the NORTHERN edge), the way every
// supported interchange format stores it. Target-side data is a
// domain.Layer (row 0 south); ToLayer owns the flip between the two
// conventions.
package raster

import (
	"fmt"
	"math"

	"github.com/couchcryptid/terrain-fusion/internal/domain"
)

// Method selects the interpolation used when sampling between cells.
type Method int

const (
	// Bilinear blends the four surrounding cell centers. Voids propagate:
	// one NaN support makes the sample NaN.
	Bilinear Method = iota
	// Nearest returns the closest cell center's value unchanged.
	Nearest
)

func (m Method) String() string {
	if m == Nearest {
		return "nearest"
	}
	return "bilinear"
}

// Raster is a banded, WGS84-georeferenced grid. Data is band-major then
// row-major with row 0 at the northern edge. Void cells hold NaN.
type Raster struct {
	Bands int
	Rows  int
	Cols  int

	West  float64
	South float64
	East  float64
	North float64

	Data []float64
}

// New allocates a zero-filled raster over the given envelope.
func New(bands, rows, cols int, west, south, east, north float64) (*Raster, error) {
	if bands < 1 || rows < 1 || cols < 1 {
		return nil, fmt.Errorf("raster dimensions must be positive, got %dx%dx%d", bands, rows, cols)
	}
	if east <= west || north <= south {
		return nil, fmt.Errorf("raster envelope is inverted: west=%g east=%g south=%g north=%g", west, east, south, north)
	}
	return &Raster{
		Bands: bands, Rows: rows, Cols: cols,
		West: west, South: south, East: east, North: north,
		Data: make([]float64, bands*rows*cols),
	}, nil
}

// CellWidth returns the east-west cell extent in degrees.
func (r *Raster) CellWidth() float64 { return (r.East - r.West) / float64(r.Cols) }

// CellHeight returns the north-south cell extent in degrees.
func (r *Raster) CellHeight() float64 { return (r.North - r.South) / float64(r.Rows) }

// At returns the value at (band, row, col), row 0 north.
func (r *Raster) At(band, row, col int) float64 {
	return r.Data[(band*r.Rows+row)*r.Cols+col]
}

// Set stores a value at (band, row, col).
func (r *Raster) Set(band, row, col int, v float64) {
	r.Data[(band*r.Rows+row)*r.Cols+col] = v
}

// Contains reports whether a coordinate falls inside the envelope.
func (r *Raster) Contains(lat, lon float64) bool {
	return lat >= r.South && lat <= r.North && lon >= r.West && lon <= r.East
}

// Sample interpolates one band at a geographic coordinate. Coordinates
// outside the envelope return NaN. Cells are area pixels: the value is
// registered at the cell center.
func (r *Raster) Sample(band int, lat, lon float64, method Method) float64 {
	if !r.Contains(lat, lon) {
		return math.NaN()
	}
	// Fractional position in cell-center coordinates.
	fc := (lon-r.West)/r.CellWidth() - 0.5
	fr := (r.North-lat)/r.CellHeight() - 0.5

	if method == Nearest {
		row := clampInt(int(math.Round(fr)), 0, r.Rows-1)
		col := clampInt(int(math.Round(fc)), 0, r.Cols-1)
		return r.At(band, row, col)
	}

	r0 := clampInt(int(math.Floor(fr)), 0, r.Rows-1)
	c0 := clampInt(int(math.Floor(fc)), 0, r.Cols-1)
	r1 := clampInt(r0+1, 0, r.Rows-1)
	c1 := clampInt(c0+1, 0, r.Cols-1)

	tr := clampFloat(fr-float64(r0), 0, 1)
	tc := clampFloat(fc-float64(c0), 0, 1)

	v00 := r.At(band, r0, c0)
	v01 := r.At(band, r0, c1)
	v10 := r.At(band, r1, c0)
	v11 := r.At(band, r1, c1)

	top := v00*(1-tc) + v01*tc
	bottom := v10*(1-tc) + v11*tc
	return top*(1-tr) + bottom*tr
}

// ToLayer resamples every band onto the target grid. Each target cell
// center is inverse-projected from UTM to WGS84 and sampled with the given
// method; cells outside the source envelope come back NaN.
func (r *Raster) ToLayer(name string, spec domain.GridSpec, method Method) domain.Layer {
	layer := domain.NewLayer(name, r.Bands, spec.Rows, spec.Cols)
	for row := 0; row < spec.Rows; row++ {
		for col := 0; col < spec.Cols; col++ {
			x, y := spec.CellCenter(row, col)
			lat, lon := domain.UTMToLatLon(x, y, spec.EPSG)
			for band := 0; band < r.Bands; band++ {
				layer.Set(band, row, col, r.Sample(band, lat, lon, method))
			}
		}
	}
	return layer
}

// ToMaskLayer resamples band 0 and thresholds the result at 0.5, mapping
// voids to 0. Used for binary occupancy rasters.
func (r *Raster) ToMaskLayer(name string, spec domain.GridSpec, method Method) domain.Layer {
	layer := r.ToLayer(name, spec, method)
	for i, v := range layer.Data {
		if math.IsNaN(v) || v < 0.5 {
			layer.Data[i] = 0
		} else {
			layer.Data[i] = 1
		}
	}
	return layer
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
