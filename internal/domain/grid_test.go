package domain_test

import (
	"math"
	"testing"

	"github.com/couchcryptid/terrain-fusion/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayer_AtSet(t *testing.T) {
	l := domain.NewLayer("elevation", 1, 3, 4)
	l.Set(0, 2, 3, 251.5)

	assert.Equal(t, 251.5, l.At(0, 2, 3))
	assert.Equal(t, 0.0, l.At(0, 0, 0))
	assert.Len(t, l.Data, 12)
}

func TestLayer_BandedIndexing(t *testing.T) {
	l := domain.NewLayer("embeddings", 3, 2, 2)
	l.Set(2, 1, 1, 7)
	l.Set(0, 0, 0, 1)

	assert.Equal(t, 7.0, l.At(2, 1, 1))
	assert.Equal(t, 7.0, l.Data[3*2*2-1], "band-major layout puts the last band's last cell at the end")
	assert.Equal(t, 1.0, l.Data[0])
}

func TestLayer_Conforms(t *testing.T) {
	spec := domain.GridSpec{Rows: 3, Cols: 4, CellSize: 10, EPSG: 32615}

	assert.True(t, domain.NewLayer("a", 1, 3, 4).Conforms(spec))
	assert.True(t, domain.NewLayer("b", 64, 3, 4).Conforms(spec), "band count is free")
	assert.False(t, domain.NewLayer("c", 1, 4, 4).Conforms(spec))
	assert.False(t, domain.NewLayer("d", 1, 3, 5).Conforms(spec))
}

func TestLayer_ValidMask(t *testing.T) {
	l := domain.NewLayer("elevation", 1, 2, 2)
	l.Set(0, 0, 1, math.NaN())
	l.Set(0, 1, 0, math.Inf(1))

	mask := l.ValidMask()
	require.Len(t, mask, 4)
	assert.True(t, mask[0])
	assert.False(t, mask[1])
	assert.False(t, mask[2])
	assert.True(t, mask[3])
}

func TestLayer_Fill(t *testing.T) {
	l := domain.NewLayer("road_distance", 1, 2, 2)
	l.Fill(1e6)
	for i := range l.Data {
		assert.Equal(t, 1e6, l.Data[i])
	}
}

func TestFetchResult_Constructors(t *testing.T) {
	ok := domain.Succeed("elevation", "/cache/elevation/abc.npy")
	assert.True(t, ok.OK())
	assert.Equal(t, domain.StatusSuccess, ok.Status)
	assert.Equal(t, "/cache/elevation/abc.npy", ok.Artifact)
	assert.Empty(t, ok.Reason())

	nd := domain.NoData("vector")
	assert.False(t, nd.OK())
	assert.Equal(t, domain.StatusNoData, nd.Status)
	assert.NoError(t, nd.Err)

	fail := domain.Fail("embedding", assert.AnError)
	assert.False(t, fail.OK())
	assert.Equal(t, domain.StatusFailure, fail.Status)
	assert.Equal(t, assert.AnError.Error(), fail.Reason())
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "ok", domain.StatusSuccess.String())
	assert.Equal(t, "noData", domain.StatusNoData.String())
	assert.Equal(t, "error", domain.StatusFailure.String())
}
