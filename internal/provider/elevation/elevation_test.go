package elevation

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/terrain-fusion/internal/cache"
	"github.com/couchcryptid/terrain-fusion/internal/domain"
	"github.com/couchcryptid/terrain-fusion/internal/httputil"
	"github.com/couchcryptid/terrain-fusion/internal/observability"
	"github.com/couchcryptid/terrain-fusion/internal/raster"
)

// --- helpers ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastPolicy() httputil.RetryPolicy {
	return httputil.RetryPolicy{
		MaxAttempts:   3,
		BaseWait:      time.Millisecond,
		MaxWait:       4 * time.Millisecond,
		RateLimitWait: time.Millisecond,
	}
}

func makeAdapter(t *testing.T, mock *httputil.MockHTTPClient) *Adapter {
	t.Helper()
	store, err := cache.NewStore(t.TempDir(), discardLogger(), observability.NewMetricsForTesting())
	require.NoError(t, err)
	client := httputil.NewClient(mock, fastPolicy(), "elevation", discardLogger(), observability.NewMetricsForTesting())
	return New("https://tiles.test/skadi", "", client, store, discardLogger())
}

func makeRegion(t *testing.T, latMin, latMax, lonMin, lonMax float64) domain.Region {
	t.Helper()
	r, err := domain.NewRegion(latMin, latMax, lonMin, lonMax)
	require.NoError(t, err)
	return r
}

// gzipHGT builds a gzipped square big-endian int16 tile.
func gzipHGT(t *testing.T, side int, sample func(row, col int) int16) []byte {
	t.Helper()
	raw := make([]byte, side*side*2)
	for r := 0; r < side; r++ {
		for c := 0; c < side; c++ {
			binary.BigEndian.PutUint16(raw[2*(r*side+c):], uint16(sample(r, c)))
		}
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write(raw)
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

// --- tests ---

func TestTileNaming(t *testing.T) {
	tests := []struct {
		id   tileID
		name string
		path string
	}{
		{tileID{44, -94}, "N44W094", "N44/N44W094.hgt.gz"},
		{tileID{-34, 18}, "S34E018", "S34/S34E018.hgt.gz"},
		{tileID{0, 0}, "N00E000", "N00/N00E000.hgt.gz"},
		{tileID{-1, -1}, "S01W001", "S01/S01W001.hgt.gz"},
		{tileID{7, 137}, "N07E137", "N07/N07E137.hgt.gz"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.name, tt.id.Name())
		assert.Equal(t, tt.path, tt.id.Path())
	}
}

func TestTilesCovering(t *testing.T) {
	one := tilesCovering(makeRegion(t, 44.1, 44.2, -93.9, -93.8))
	assert.Equal(t, []tileID{{44, -94}}, one)

	lonSpan := tilesCovering(makeRegion(t, 44.1, 44.2, -94.05, -93.95))
	assert.Equal(t, []tileID{{44, -95}, {44, -94}}, lonSpan)

	corner := tilesCovering(makeRegion(t, 44.95, 45.05, -94.05, -93.95))
	assert.Len(t, corner, 4)
}

func TestDecodeHGT(t *testing.T) {
	side := 3
	raw := make([]byte, side*side*2)
	for i := 0; i < side*side; i++ {
		binary.BigEndian.PutUint16(raw[2*i:], uint16(int16(100+i)))
	}
	// One void sample.
	voidSample := int16(hgtVoid)
	binary.BigEndian.PutUint16(raw[2*4:], uint16(voidSample))

	tile, err := decodeHGT(tileID{44, -94}, raw)
	require.NoError(t, err)
	assert.Equal(t, 3, tile.Rows)
	assert.Equal(t, 3, tile.Cols)

	// Samples are point-registered: the NW corner sample sits exactly at
	// (45, -94).
	assert.InDelta(t, 100, tile.Sample(0, 45.0, -94.0, raster.Nearest), 1e-9)
	assert.InDelta(t, 102, tile.Sample(0, 45.0, -93.0, raster.Nearest), 1e-9)
	assert.InDelta(t, 106, tile.Sample(0, 44.0, -94.0, raster.Nearest), 1e-9)
	assert.True(t, math.IsNaN(tile.At(0, 1, 1)), "void sample must decode to NaN")
}

func TestDecodeHGTRejectsBadPayloads(t *testing.T) {
	_, err := decodeHGT(tileID{44, -94}, []byte{1, 2, 3})
	assert.Error(t, err)

	// Twelve samples are not a square grid.
	_, err = decodeHGT(tileID{44, -94}, make([]byte, 24))
	assert.Error(t, err)

	_, err = decodeHGT(tileID{44, -94}, nil)
	assert.Error(t, err)
}

func TestFetchBuildsMosaicAndCaches(t *testing.T) {
	side := 121
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, gzipHGT(t, side, func(row, col int) int16 {
		return int16(200 + row)
	}))

	a := makeAdapter(t, mock)
	region := makeRegion(t, 44.1, 44.2, -93.9, -93.8)

	result := a.Fetch(context.Background(), region, 50)
	require.True(t, result.OK(), "fetch failed: %v", result.Err)
	assert.Equal(t, "elevation", result.Provider)

	req := mock.GetRequest(0)
	require.NotNil(t, req)
	assert.Equal(t, "https://tiles.test/skadi/N44/N44W094.hgt.gz", req.URL.String())

	mosaic, err := raster.LoadNPZ(result.Artifact)
	require.NoError(t, err)
	assert.Equal(t, 1, mosaic.Bands)
	center := mosaic.Sample(0, 44.15, -93.85, raster.Nearest)
	assert.GreaterOrEqual(t, center, 200.0)
	assert.LessOrEqual(t, center, float64(200+side))

	// Second fetch is served from the mosaic cache without any request.
	before := mock.RequestCount()
	again := a.Fetch(context.Background(), region, 50)
	require.True(t, again.OK())
	assert.Equal(t, result.Artifact, again.Artifact)
	assert.Equal(t, before, mock.RequestCount())
}

func TestFetchMissingTilesAreNoData(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusNotFound, nil)

	a := makeAdapter(t, mock)
	result := a.Fetch(context.Background(), makeRegion(t, 44.1, 44.2, -93.9, -93.8), 50)

	assert.Equal(t, domain.StatusNoData, result.Status)
	assert.NoError(t, result.Err)
	assert.Equal(t, 1, mock.RequestCount(), "404 must not be retried")
}

func TestFetchPartialCoverage(t *testing.T) {
	side := 121
	mock := httputil.NewMockHTTPClient()
	// Western tile is ocean, eastern tile has data.
	mock.AddResponse(http.StatusNotFound, nil)
	mock.AddResponse(http.StatusOK, gzipHGT(t, side, func(row, col int) int16 { return 350 }))

	a := makeAdapter(t, mock)
	region := makeRegion(t, 44.1, 44.2, -94.05, -93.95)

	result := a.Fetch(context.Background(), region, 50)
	require.True(t, result.OK(), "fetch failed: %v", result.Err)

	mosaic, err := raster.LoadNPZ(result.Artifact)
	require.NoError(t, err)

	west := mosaic.Sample(0, 44.15, -94.04, raster.Nearest)
	east := mosaic.Sample(0, 44.15, -93.96, raster.Nearest)
	assert.True(t, math.IsNaN(west), "missing tile cells must stay void")
	assert.InDelta(t, 350, east, 1e-9)
}

func TestFetchAuthFailure(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusUnauthorized, nil)

	a := makeAdapter(t, mock)
	result := a.Fetch(context.Background(), makeRegion(t, 44.1, 44.2, -93.9, -93.8), 50)

	assert.Equal(t, domain.StatusFailure, result.Status)
	assert.True(t, domain.IsKind(result.Err, domain.KindAuthInvalid))
	assert.Equal(t, 1, mock.RequestCount())
}

func TestResampleToGrid(t *testing.T) {
	side := 121
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, gzipHGT(t, side, func(row, col int) int16 { return 500 }))

	a := makeAdapter(t, mock)
	region := makeRegion(t, 44.1, 44.2, -93.9, -93.8)

	result := a.Fetch(context.Background(), region, 50)
	require.True(t, result.OK(), "fetch failed: %v", result.Err)

	spec, err := domain.NewGridSpec(region, 50)
	require.NoError(t, err)

	layer, err := a.ResampleToGrid(result.Artifact, spec)
	require.NoError(t, err)
	assert.Equal(t, "elevation", layer.Name)
	assert.Equal(t, spec.Rows, layer.Rows)
	assert.Equal(t, spec.Cols, layer.Cols)

	// Interior of a constant tile resamples to the constant.
	assert.InDelta(t, 500, layer.At(0, layer.Rows/2, layer.Cols/2), 1e-6)
}

func TestValidateCredentials(t *testing.T) {
	a := makeAdapter(t, httputil.NewMockHTTPClient())
	assert.True(t, a.ValidateCredentials())
}

func TestCacheKeyIncludesResolution(t *testing.T) {
	a := makeAdapter(t, httputil.NewMockHTTPClient())
	region := makeRegion(t, 44.1, 44.2, -93.9, -93.8)
	assert.NotEqual(t, a.CacheKey(region, 50), a.CacheKey(region, 30))
}
