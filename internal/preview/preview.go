// Package preview renders harmonized layers as PNG heatmaps, for a
// quick visual check of a run without GIS tooling.
package preview

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/couchcryptid/terrain-fusion/internal/domain"
)

// Render writes a PNG heatmap of the layer's band 0 across the grid's
// UTM extent. Void cells draw at the low end of the color ramp.
func Render(layer domain.Layer, spec domain.GridSpec, title, path string) error {
	return render(layer, nil, nil, spec, title, path)
}

// RenderWithContours draws the base heatmap plus iso-lines of the
// overlay layer at the given levels. Contouring a distance field at a
// few meters traces the features themselves.
func RenderWithContours(base, overlay domain.Layer, levels []float64, spec domain.GridSpec, title, path string) error {
	return render(base, &overlay, levels, spec, title, path)
}

func render(base domain.Layer, overlay *domain.Layer, levels []float64, spec domain.GridSpec, title, path string) error {
	if base.Rows == 0 || base.Cols == 0 {
		return fmt.Errorf("preview: layer %q has no cells", base.Name)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "easting (m)"
	p.Y.Label.Text = "northing (m)"

	hm := plotter.NewHeatMap(newLayerGrid(base, spec), palette.Heat(12, 1))
	if hm.Min == hm.Max {
		// A constant layer still renders; widen the range so the color
		// lookup stays in bounds.
		hm.Max = hm.Min + 1
	}
	p.Add(hm)

	if overlay != nil {
		p.Add(plotter.NewContour(newLayerGrid(*overlay, spec), levels, monoPalette{color.White}))
	}

	if err := p.Save(8*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("preview: save %s: %w", path, err)
	}
	return nil
}

// layerGrid adapts band 0 of a layer to the plotter grid interface,
// mapping cells to their UTM centers. Non-finite cells read as the
// layer's finite minimum.
type layerGrid struct {
	layer domain.Layer
	spec  domain.GridSpec
	void  float64
}

func newLayerGrid(l domain.Layer, spec domain.GridSpec) layerGrid {
	void := math.Inf(1)
	for _, v := range l.Data[:l.Rows*l.Cols] {
		if !math.IsNaN(v) && !math.IsInf(v, 0) && v < void {
			void = v
		}
	}
	if math.IsInf(void, 1) {
		void = 0
	}
	return layerGrid{layer: l, spec: spec, void: void}
}

func (g layerGrid) Dims() (c, r int) { return g.layer.Cols, g.layer.Rows }

func (g layerGrid) X(c int) float64 {
	x, _ := g.spec.CellCenter(0, c)
	return x
}

func (g layerGrid) Y(r int) float64 {
	_, y := g.spec.CellCenter(r, 0)
	return y
}

func (g layerGrid) Z(c, r int) float64 {
	v := g.layer.At(0, r, c)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return g.void
	}
	return v
}

// monoPalette is a single-color palette for contour overlays.
type monoPalette struct{ c color.Color }

func (p monoPalette) Colors() []color.Color { return []color.Color{p.c} }
