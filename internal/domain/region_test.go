package domain_test

import (
	"math"
	"testing"

	"github.com/couchcryptid/terrain-fusion/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Minneapolis test fixture used throughout: centroid near (44.98, -93.265),
// UTM zone 15 north.
func minneapolis(t *testing.T) domain.Region {
	t.Helper()
	r, err := domain.NewRegion(44.9, 45.1, -93.4, -93.1)
	require.NoError(t, err)
	return r
}

func TestNewRegion_Validation(t *testing.T) {
	tests := []struct {
		name                           string
		latMin, latMax, lonMin, lonMax float64
		wantField                      string
	}{
		{"latitude out of range", -91, 45, -93, -92, "lat_min"},
		{"latitude above pole", 44, 95, -93, -92, "lat_min"},
		{"longitude out of range", 44, 45, -181, -92, "lon_min"},
		{"inverted latitudes", 45.1, 44.9, -93, -92, "lat_min"},
		{"equal latitudes", 45, 45, -93, -92, "lat_min"},
		{"inverted longitudes", 44, 45, -92, -93, "lon_min"},
		{"nan bound", math.NaN(), 45, -93, -92, "lat_min"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := domain.NewRegion(tt.latMin, tt.latMax, tt.lonMin, tt.lonMax)
			require.Error(t, err)

			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestNewRegion_ValidBounds(t *testing.T) {
	r, err := domain.NewRegion(44.9, 45.1, -93.4, -93.1)
	require.NoError(t, err)

	assert.Equal(t, 44.9, r.LatMin())
	assert.Equal(t, 45.1, r.LatMax())
	assert.Equal(t, -93.4, r.LonMin())
	assert.Equal(t, -93.1, r.LonMax())

	lat, lon := r.Centroid()
	assert.InDelta(t, 45.0, lat, 1e-9)
	assert.InDelta(t, -93.25, lon, 1e-9)
}

func TestRegion_UTMZoneAndEPSG(t *testing.T) {
	tests := []struct {
		name                           string
		latMin, latMax, lonMin, lonMax float64
		wantZone, wantEPSG             int
	}{
		{"minneapolis", 44.9, 45.1, -93.4, -93.1, 15, 32615},
		{"cape town (southern)", -34.0, -33.8, 18.3, 18.5, 34, 32734},
		{"greenwich", 51.4, 51.6, -0.1, 0.1, 31, 32631},
		{"tokyo", 35.6, 35.7, 139.6, 139.8, 54, 32654},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := domain.NewRegion(tt.latMin, tt.latMax, tt.lonMin, tt.lonMax)
			require.NoError(t, err)
			assert.Equal(t, tt.wantZone, r.UTMZone())
			assert.Equal(t, tt.wantEPSG, r.EPSG())
		})
	}
}

func TestRegion_EPSGIsPureFunctionOfCentroid(t *testing.T) {
	// Differently sized boxes sharing a centroid must agree on the zone.
	narrow, err := domain.NewRegion(44.99, 45.01, -93.26, -93.24)
	require.NoError(t, err)
	wide, err := domain.NewRegion(44.5, 45.5, -93.75, -92.75)
	require.NoError(t, err)

	assert.Equal(t, narrow.EPSG(), wide.EPSG())
}

func TestRegion_UTMBounds_KnownCoordinates(t *testing.T) {
	// Reference values for (44.9778, -93.2650), zone 15N: easting ~479.1 km,
	// northing ~4980.5 km (surveyed Minneapolis coordinates).
	r, err := domain.NewRegion(44.9777, 44.9779, -93.2651, -93.2649)
	require.NoError(t, err)

	b := r.UTMBounds()
	assert.InDelta(t, 479100, (b.MinX+b.MaxX)/2, 200)
	assert.InDelta(t, 4980510, (b.MinY+b.MaxY)/2, 200)
	assert.Greater(t, b.Width(), 0.0)
	assert.Greater(t, b.Height(), 0.0)
}

func TestRegion_DimensionsMatchGroundDistance(t *testing.T) {
	// 0.2 deg of latitude is ~22.2 km; 0.3 deg of longitude at 45N is
	// ~23.6 km. The projected bbox must land close to both.
	r := minneapolis(t)
	assert.InDelta(t, 22250, r.HeightMeters(), 200)
	assert.InDelta(t, 23650, r.WidthMeters(), 250)
	assert.InDelta(t, 22.2*23.6, r.AreaKm2(), 15)
}

func TestRegion_Key(t *testing.T) {
	a, err := domain.NewRegion(44.97, 44.99, -93.28, -93.25)
	require.NoError(t, err)
	b, err := domain.NewRegion(44.97, 44.99, -93.28, -93.25)
	require.NoError(t, err)
	c, err := domain.NewRegion(44.97, 44.99, -93.28, -93.26)
	require.NoError(t, err)

	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
	assert.Equal(t, "44.970000_44.990000_-93.280000_-93.250000", a.Key())
}

func TestRegion_Subdivide_ExactCover(t *testing.T) {
	r := minneapolis(t)
	parent := r.UTMBounds()

	tiles, err := r.Subdivide(5000)
	require.NoError(t, err)
	require.NotEmpty(t, tiles)

	nx := int(math.Ceil(parent.Width() / 5000))
	ny := int(math.Ceil(parent.Height() / 5000))
	assert.Len(t, tiles, nx*ny)

	// Row-major from the southwest corner.
	assert.Equal(t, 0, tiles[0].X)
	assert.Equal(t, 0, tiles[0].Y)
	assert.Equal(t, 1, tiles[1].X)
	assert.Equal(t, 0, tiles[1].Y)

	var area float64
	for _, tile := range tiles {
		area += tile.Rect.Width() * tile.Rect.Height()

		// No tile escapes the parent extent.
		assert.GreaterOrEqual(t, tile.Rect.MinX, parent.MinX-1e-6)
		assert.LessOrEqual(t, tile.Rect.MaxX, parent.MaxX+1e-6)
		assert.GreaterOrEqual(t, tile.Rect.MinY, parent.MinY-1e-6)
		assert.LessOrEqual(t, tile.Rect.MaxY, parent.MaxY+1e-6)
	}
	assert.InEpsilon(t, parent.Width()*parent.Height(), area, 1e-9,
		"tile areas must sum exactly to the parent area")

	// Neighbors share edges: east edge of (0,0) is west edge of (1,0).
	assert.Equal(t, tiles[0].Rect.MaxX, tiles[1].Rect.MinX)
	// North edge of row 0 is south edge of row 1.
	assert.Equal(t, tiles[0].Rect.MaxY, tiles[nx].Rect.MinY)
}

func TestRegion_Subdivide_ClipsLastRowAndColumn(t *testing.T) {
	r := minneapolis(t)
	parent := r.UTMBounds()

	tiles, err := r.Subdivide(10000)
	require.NoError(t, err)

	last := tiles[len(tiles)-1]
	assert.Equal(t, parent.MaxX, last.Rect.MaxX)
	assert.Equal(t, parent.MaxY, last.Rect.MaxY)
	assert.LessOrEqual(t, last.Rect.Width(), 10000.0)
	assert.LessOrEqual(t, last.Rect.Height(), 10000.0)
}

func TestRegion_Subdivide_TileRegionsAreValid(t *testing.T) {
	r := minneapolis(t)
	tiles, err := r.Subdivide(8000)
	require.NoError(t, err)

	for _, tile := range tiles {
		assert.Less(t, tile.Region.LatMin(), tile.Region.LatMax())
		assert.Less(t, tile.Region.LonMin(), tile.Region.LonMax())
		// Tile envelopes stay within a rounding hair of the parent.
		assert.GreaterOrEqual(t, tile.Region.LatMin(), r.LatMin()-1e-4)
		assert.LessOrEqual(t, tile.Region.LatMax(), r.LatMax()+1e-4)
	}
}

func TestRegion_Subdivide_InvalidTileSize(t *testing.T) {
	r := minneapolis(t)
	_, err := r.Subdivide(0)
	require.Error(t, err)
	_, err = r.Subdivide(-100)
	require.Error(t, err)
}

func TestNewGridSpec(t *testing.T) {
	// End-to-end sizing check: a ~2.2 x 2.4 km box at 10 m resolution.
	r, err := domain.NewRegion(44.97, 44.99, -93.28, -93.25)
	require.NoError(t, err)

	spec, err := domain.NewGridSpec(r, 10)
	require.NoError(t, err)

	assert.Equal(t, 32615, spec.EPSG)
	assert.Equal(t, 10.0, spec.CellSize)
	assert.InDelta(t, 222, spec.Rows, 15)
	assert.InDelta(t, 237, spec.Cols, 15)

	bounds := r.UTMBounds()
	assert.Equal(t, bounds.MinX, spec.OriginX)
	assert.Equal(t, bounds.MinY, spec.OriginY)

	// ceil: the grid covers at least the full extent.
	assert.GreaterOrEqual(t, float64(spec.Rows)*spec.CellSize, bounds.Height())
	assert.GreaterOrEqual(t, float64(spec.Cols)*spec.CellSize, bounds.Width())
	assert.Less(t, (float64(spec.Rows)-1)*spec.CellSize, bounds.Height())
}

func TestNewGridSpec_InvalidResolution(t *testing.T) {
	r := minneapolis(t)
	_, err := domain.NewGridSpec(r, 0)
	require.Error(t, err)
	_, err = domain.NewGridSpec(r, -5)
	require.Error(t, err)
}

func TestGridSpec_CellCenter(t *testing.T) {
	spec := domain.GridSpec{OriginX: 1000, OriginY: 2000, CellSize: 10, Rows: 5, Cols: 5, EPSG: 32615}

	x, y := spec.CellCenter(0, 0)
	assert.Equal(t, 1005.0, x)
	assert.Equal(t, 2005.0, y)

	x, y = spec.CellCenter(4, 2)
	assert.Equal(t, 1025.0, x)
	assert.Equal(t, 2045.0, y)
}
