// Package terrain derives slope, aspect, curvature, roughness, and the
// topographic position and wetness indexes from a harmonized elevation
// layer. All kernels replicate border samples, so outputs keep the
// input shape and finite input never yields NaN or Inf.
package terrain

import (
	"log/slog"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/terrain-fusion/internal/domain"
	"github.com/couchcryptid/terrain-fusion/internal/observability"
)

// Layer names produced by Analyze, in output order.
const (
	LayerSlope     = "slope"
	LayerAspect    = "aspect"
	LayerCurvature = "curvature"
	LayerRoughness = "roughness"
	LayerTPI       = "tpi"
	LayerTWI       = "twi"
)

// tanBetaFloor bounds the wetness index on flat terrain, where tan of
// the slope angle reaches zero.
const tanBetaFloor = 0.001

// Analyzer computes derived terrain layers from elevation.
type Analyzer struct {
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates an Analyzer.
func New(logger *slog.Logger, metrics *observability.Metrics) *Analyzer {
	return &Analyzer{logger: logger, metrics: metrics}
}

// Analyze derives the six terrain layers from band 0 of the elevation
// layer. cellSize is the grid spacing in meters.
//
// Slope is degrees from horizontal via a 3x3 Sobel gradient normalized
// by 8*cellSize. Aspect is the downslope compass direction (0 north,
// 90 east) in [0,360), 0 on flat cells. Curvature is the discrete
// Laplacian over cellSize squared. Roughness is the 3x3 population
// standard deviation. TPI subtracts the 3x3 neighborhood mean; the
// wetness index is ln(alpha/tan(slope)) with a 5x5 TPI catchment proxy
// for alpha.
func (a *Analyzer) Analyze(elev domain.Layer, cellSize float64) []domain.Layer {
	start := domain.Clock().Now()

	f := newField(elev)
	slope := domain.NewLayer(LayerSlope, 1, f.rows, f.cols)
	aspect := domain.NewLayer(LayerAspect, 1, f.rows, f.cols)
	curvature := domain.NewLayer(LayerCurvature, 1, f.rows, f.cols)
	roughness := domain.NewLayer(LayerRoughness, 1, f.rows, f.cols)
	tpi := domain.NewLayer(LayerTPI, 1, f.rows, f.cols)
	twi := domain.NewLayer(LayerTWI, 1, f.rows, f.cols)

	w3 := make([]float64, 0, 9)
	w5 := make([]float64, 0, 25)

	for r := 0; r < f.rows; r++ {
		for c := 0; c < f.cols; c++ {
			i := r*f.cols + c
			z := f.data[i]

			dx, dy := f.gradient(r, c, cellSize)
			slopeRad := math.Atan(math.Hypot(dx, dy))
			slope.Data[i] = degrees(slopeRad)
			aspect.Data[i] = aspectDegrees(dx, dy)

			lap := f.at(r+1, c) + f.at(r-1, c) + f.at(r, c+1) + f.at(r, c-1) - 4*z
			curvature.Data[i] = lap / (cellSize * cellSize)

			w3 = f.window(r, c, 1, w3)
			roughness.Data[i] = stat.PopStdDev(w3, nil)
			tpi.Data[i] = z - stat.Mean(w3, nil)

			w5 = f.window(r, c, 2, w5)
			alpha := math.Max(1, z-stat.Mean(w5, nil)+1)
			tanBeta := math.Max(math.Tan(slopeRad), tanBetaFloor)
			twi.Data[i] = math.Log(alpha / tanBeta)
		}
	}

	elapsed := domain.Clock().Now().Sub(start)
	a.metrics.TerrainDuration.Observe(elapsed.Seconds())
	a.logger.Info("terrain analysis complete",
		"rows", f.rows, "cols", f.cols, "cell_size", cellSize, "duration", elapsed)

	return []domain.Layer{slope, aspect, curvature, roughness, tpi, twi}
}

// aspectDegrees converts a gradient into the downslope compass heading.
// dy points north (row 0 is the southern edge), so a surface rising
// northward drains south, 180.
func aspectDegrees(dx, dy float64) float64 {
	if dx == 0 && dy == 0 {
		return 0
	}
	return math.Mod(degrees(math.Atan2(-dx, -dy))+360, 360)
}

func degrees(rad float64) float64 { return rad * 180 / math.Pi }

// field wraps one elevation band with edge-replicated sampling.
type field struct {
	rows, cols int
	data       []float64
}

func newField(l domain.Layer) field {
	return field{rows: l.Rows, cols: l.Cols, data: l.Data[:l.Rows*l.Cols]}
}

func (f field) at(r, c int) float64 {
	if r < 0 {
		r = 0
	} else if r >= f.rows {
		r = f.rows - 1
	}
	if c < 0 {
		c = 0
	} else if c >= f.cols {
		c = f.cols - 1
	}
	return f.data[r*f.cols+c]
}

// gradient returns the Sobel derivative pair at a cell, dx eastward and
// dy northward, in elevation units per meter.
func (f field) gradient(r, c int, cellSize float64) (dx, dy float64) {
	east := f.at(r+1, c+1) + 2*f.at(r, c+1) + f.at(r-1, c+1)
	west := f.at(r+1, c-1) + 2*f.at(r, c-1) + f.at(r-1, c-1)
	north := f.at(r+1, c-1) + 2*f.at(r+1, c) + f.at(r+1, c+1)
	south := f.at(r-1, c-1) + 2*f.at(r-1, c) + f.at(r-1, c+1)
	dx = (east - west) / (8 * cellSize)
	dy = (north - south) / (8 * cellSize)
	return dx, dy
}

// window collects the square neighborhood of the given radius into buf.
func (f field) window(r, c, radius int, buf []float64) []float64 {
	buf = buf[:0]
	for dr := -radius; dr <= radius; dr++ {
		for dc := -radius; dc <= radius; dc++ {
			buf = append(buf, f.at(r+dr, c+dc))
		}
	}
	return buf
}
