package raster_test

import (
	"math"
	"testing"

	"github.com/couchcryptid/terrain-fusion/internal/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceTransform_SinglePoint(t *testing.T) {
	const rows, cols = 7, 7
	mask := make([]bool, rows*cols)
	mask[3*cols+3] = true

	d := raster.DistanceTransform(mask, rows, cols)

	assert.Equal(t, 0.0, d[3*cols+3])
	assert.InDelta(t, 1.0, d[3*cols+4], 1e-12)
	assert.InDelta(t, 2.0, d[3*cols+1], 1e-12)
	assert.InDelta(t, math.Sqrt2, d[2*cols+2], 1e-12)
	assert.InDelta(t, math.Sqrt(9+9), d[0], 1e-12)
}

func TestDistanceTransform_StraightLine(t *testing.T) {
	// Vertical feature line at column 2: the distance along any horizontal
	// transect must be 0 on the line and strictly increase away from it.
	const rows, cols = 5, 10
	mask := make([]bool, rows*cols)
	for r := 0; r < rows; r++ {
		mask[r*cols+2] = true
	}

	d := raster.DistanceTransform(mask, rows, cols)

	for r := 0; r < rows; r++ {
		assert.Equal(t, 0.0, d[r*cols+2])
		for c := 3; c < cols; c++ {
			assert.Greater(t, d[r*cols+c], d[r*cols+c-1],
				"distance must strictly increase moving away from the feature (row %d col %d)", r, c)
		}
		assert.InDelta(t, float64(cols-1-2), d[r*cols+cols-1], 1e-12)
	}
}

func TestDistanceTransform_EmptyMask(t *testing.T) {
	d := raster.DistanceTransform(make([]bool, 12), 3, 4)
	for _, v := range d {
		assert.Equal(t, raster.NoFeature, v)
	}
}

func TestDistanceTransform_FullMask(t *testing.T) {
	mask := make([]bool, 9)
	for i := range mask {
		mask[i] = true
	}
	d := raster.DistanceTransform(mask, 3, 3)
	for _, v := range d {
		assert.Equal(t, 0.0, v)
	}
}

func TestDistanceTransform_TwoFeatures(t *testing.T) {
	// Midpoint between two features belongs to whichever is nearer; the
	// exact midpoint is equidistant.
	const rows, cols = 1, 9
	mask := make([]bool, cols)
	mask[0] = true
	mask[8] = true

	d := raster.DistanceTransform(mask, rows, cols)
	require.Len(t, d, 9)
	assert.Equal(t, 0.0, d[0])
	assert.Equal(t, 0.0, d[8])
	assert.InDelta(t, 4.0, d[4], 1e-12)
	assert.InDelta(t, 2.0, d[2], 1e-12)
	assert.InDelta(t, 3.0, d[5], 1e-12)
}
