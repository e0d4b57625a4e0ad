package domain

import (
	"fmt"
	"math"
)

// GridSpec pins the target raster for one harmonization request. Origin is
// the UTM southwest corner of the region; rows and cols are ceil-divided so
// the grid always covers the full extent.
type GridSpec struct {
	OriginX  float64 `json:"origin_x"`
	OriginY  float64 `json:"origin_y"`
	CellSize float64 `json:"cell_size"`
	Rows     int     `json:"rows"`
	Cols     int     `json:"cols"`
	EPSG     int     `json:"epsg"`
}

// NewGridSpec computes the grid for a region at the requested resolution.
func NewGridSpec(region Region, resolution float64) (GridSpec, error) {
	if resolution <= 0 || math.IsNaN(resolution) {
		return GridSpec{}, &ValidationError{Field: "resolution", Msg: fmt.Sprintf("resolution must be positive, got %g", resolution)}
	}
	bounds := region.UTMBounds()
	return GridSpec{
		OriginX:  bounds.MinX,
		OriginY:  bounds.MinY,
		CellSize: resolution,
		Rows:     int(math.Ceil(bounds.Height() / resolution)),
		Cols:     int(math.Ceil(bounds.Width() / resolution)),
		EPSG:     region.EPSG(),
	}, nil
}

// CellCenter returns the UTM coordinate of a cell center. Row 0 is the
// southern edge.
func (g GridSpec) CellCenter(row, col int) (x, y float64) {
	x = g.OriginX + (float64(col)+0.5)*g.CellSize
	y = g.OriginY + (float64(row)+0.5)*g.CellSize
	return x, y
}

func (g GridSpec) String() string {
	return fmt.Sprintf("GridSpec(%dx%d @ %gm, EPSG:%d)", g.Rows, g.Cols, g.CellSize, g.EPSG)
}

// Layer is a named array conforming to a GridSpec: Bands x Rows x Cols in a
// flat band-major buffer, row 0 at the southern edge. Scalar layers have
// Bands == 1; embeddings carry 64. Void cells hold NaN.
type Layer struct {
	Name  string
	Bands int
	Rows  int
	Cols  int
	Data  []float64
}

// NewLayer allocates a zero-filled layer.
func NewLayer(name string, bands, rows, cols int) Layer {
	return Layer{Name: name, Bands: bands, Rows: rows, Cols: cols, Data: make([]float64, bands*rows*cols)}
}

// NewLayerFor allocates a zero-filled single-band layer matching the spec.
func NewLayerFor(name string, spec GridSpec) Layer {
	return NewLayer(name, 1, spec.Rows, spec.Cols)
}

// At returns the value at (band, row, col). No bounds checking beyond the
// slice's own; callers index within the declared shape.
func (l Layer) At(band, row, col int) float64 {
	return l.Data[(band*l.Rows+row)*l.Cols+col]
}

// Set stores a value at (band, row, col).
func (l *Layer) Set(band, row, col int, v float64) {
	l.Data[(band*l.Rows+row)*l.Cols+col] = v
}

// Fill sets every cell in every band to v.
func (l *Layer) Fill(v float64) {
	for i := range l.Data {
		l.Data[i] = v
	}
}

// Conforms reports whether the layer's rows/cols match the spec. Band count
// is a per-layer property and deliberately not part of the check.
func (l Layer) Conforms(spec GridSpec) bool {
	return l.Rows == spec.Rows && l.Cols == spec.Cols && len(l.Data) == l.Bands*l.Rows*l.Cols
}

// ValidMask returns one bool per cell, true where band 0 holds a finite
// value. Quality scoring consumes this to handle partial coverage.
func (l Layer) ValidMask() []bool {
	mask := make([]bool, l.Rows*l.Cols)
	for i := 0; i < l.Rows*l.Cols; i++ {
		v := l.Data[i]
		mask[i] = !math.IsNaN(v) && !math.IsInf(v, 0)
	}
	return mask
}
