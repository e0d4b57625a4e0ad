package raster_test

import (
	"math"
	"testing"

	"github.com/couchcryptid/terrain-fusion/internal/domain"
	"github.com/couchcryptid/terrain-fusion/internal/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Validation(t *testing.T) {
	_, err := raster.New(0, 10, 10, -93.3, 44.9, -93.1, 45.1)
	assert.Error(t, err)
	_, err = raster.New(1, 10, 10, -93.1, 44.9, -93.3, 45.1)
	assert.Error(t, err, "inverted envelope must be rejected")

	r, err := raster.New(2, 4, 5, -93.3, 44.9, -93.1, 45.1)
	require.NoError(t, err)
	assert.Len(t, r.Data, 2*4*5)
	assert.InDelta(t, 0.04, r.CellWidth(), 1e-12)
	assert.InDelta(t, 0.05, r.CellHeight(), 1e-12)
}

func TestSample_NearestAndBilinear(t *testing.T) {
	// 2x2 grid over a 2x2 degree box; centers at (0.5, 0.5) offsets.
	r, err := raster.New(1, 2, 2, 0, 0, 2, 2)
	require.NoError(t, err)
	// Row 0 is north: top-left=1, top-right=2, bottom-left=3, bottom-right=4.
	r.Set(0, 0, 0, 1)
	r.Set(0, 0, 1, 2)
	r.Set(0, 1, 0, 3)
	r.Set(0, 1, 1, 4)

	// Exactly on the top-left cell center (lat 1.5, lon 0.5).
	assert.Equal(t, 1.0, r.Sample(0, 1.5, 0.5, raster.Nearest))
	assert.InDelta(t, 1.0, r.Sample(0, 1.5, 0.5, raster.Bilinear), 1e-12)

	// Grid midpoint blends all four equally.
	assert.InDelta(t, 2.5, r.Sample(0, 1.0, 1.0, raster.Bilinear), 1e-12)

	// Nearest at the midpoint snaps to one of the four, not a blend.
	v := r.Sample(0, 0.9, 1.1, raster.Nearest)
	assert.Equal(t, 4.0, v)

	// Outside the envelope.
	assert.True(t, math.IsNaN(r.Sample(0, 2.5, 0.5, raster.Bilinear)))
	assert.True(t, math.IsNaN(r.Sample(0, 1.5, -0.5, raster.Nearest)))
}

func TestSample_VoidPropagation(t *testing.T) {
	r, err := raster.New(1, 2, 2, 0, 0, 2, 2)
	require.NoError(t, err)
	r.Set(0, 0, 0, math.NaN())
	r.Set(0, 0, 1, 2)
	r.Set(0, 1, 0, 3)
	r.Set(0, 1, 1, 4)

	// Any bilinear sample touching the void support is void.
	assert.True(t, math.IsNaN(r.Sample(0, 1.0, 1.0, raster.Bilinear)))
	// Nearest away from the void is unaffected.
	assert.Equal(t, 4.0, r.Sample(0, 0.5, 1.5, raster.Nearest))
}

func TestToLayer_ShapeAndOrientation(t *testing.T) {
	region, err := domain.NewRegion(44.97, 44.99, -93.28, -93.25)
	require.NoError(t, err)
	spec, err := domain.NewGridSpec(region, 50)
	require.NoError(t, err)

	// Source raster whose value is its latitude, padded past the region so
	// resampling never runs off the edge.
	src, err := raster.New(1, 40, 40, -93.30, 44.95, -93.23, 45.01)
	require.NoError(t, err)
	for row := 0; row < src.Rows; row++ {
		lat := src.North - (float64(row)+0.5)*src.CellHeight()
		for col := 0; col < src.Cols; col++ {
			src.Set(0, row, col, lat)
		}
	}

	layer := src.ToLayer("elevation", spec, raster.Bilinear)
	require.True(t, layer.Conforms(spec))
	assert.Equal(t, 1, layer.Bands)

	// Layer row 0 is the SOUTH edge: its latitude value must be below the
	// top row's.
	south := layer.At(0, 0, layer.Cols/2)
	north := layer.At(0, layer.Rows-1, layer.Cols/2)
	require.False(t, math.IsNaN(south))
	require.False(t, math.IsNaN(north))
	assert.Less(t, south, north)
	assert.InDelta(t, 44.97, south, 0.002)
	assert.InDelta(t, 44.99, north, 0.002)
}

func TestToLayer_MultiBand(t *testing.T) {
	region, err := domain.NewRegion(44.97, 44.99, -93.28, -93.25)
	require.NoError(t, err)
	spec, err := domain.NewGridSpec(region, 100)
	require.NoError(t, err)

	src, err := raster.New(3, 20, 20, -93.30, 44.95, -93.23, 45.01)
	require.NoError(t, err)
	for b := 0; b < 3; b++ {
		for i := 0; i < 20*20; i++ {
			src.Data[b*400+i] = float64(b + 1)
		}
	}

	layer := src.ToLayer("embeddings", spec, raster.Nearest)
	assert.Equal(t, 3, layer.Bands)
	require.True(t, layer.Conforms(spec))
	assert.Equal(t, 1.0, layer.At(0, 2, 2))
	assert.Equal(t, 2.0, layer.At(1, 2, 2))
	assert.Equal(t, 3.0, layer.At(2, 2, 2))
}

func TestToMaskLayer_Threshold(t *testing.T) {
	region, err := domain.NewRegion(44.97, 44.99, -93.28, -93.25)
	require.NoError(t, err)
	spec, err := domain.NewGridSpec(region, 100)
	require.NoError(t, err)

	src, err := raster.New(1, 20, 20, -93.30, 44.95, -93.23, 45.01)
	require.NoError(t, err)
	for col := 0; col < 20; col++ {
		for row := 0; row < 20; row++ {
			if col >= 10 {
				src.Set(0, row, col, 1)
			}
		}
	}

	mask := src.ToMaskLayer("building_mask", spec, raster.Bilinear)
	for _, v := range mask.Data {
		assert.True(t, v == 0 || v == 1, "mask values must be binary, got %g", v)
	}
	// The eastern half of the region lies over the filled columns.
	assert.Equal(t, 1.0, mask.At(0, spec.Rows/2, spec.Cols-1))
	assert.Equal(t, 0.0, mask.At(0, spec.Rows/2, 0))
}
