package harmonize_test

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/terrain-fusion/internal/domain"
	"github.com/couchcryptid/terrain-fusion/internal/harmonize"
	"github.com/couchcryptid/terrain-fusion/internal/observability"
	"github.com/couchcryptid/terrain-fusion/internal/provider"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- mocks ---

// stubAdapter resamples to a fixed layer. Fetch is never exercised by the
// harmonizer; it exists to satisfy the interface.
type stubAdapter struct {
	name  string
	layer domain.Layer
	err   error
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Fetch(context.Context, domain.Region, float64) domain.FetchResult {
	return domain.NoData(s.name)
}

func (s *stubAdapter) ValidateCredentials() bool { return true }

func (s *stubAdapter) CacheKey(domain.Region, float64) string { return "stub" }

func (s *stubAdapter) ResampleToGrid(string, domain.GridSpec) (domain.Layer, error) {
	if s.err != nil {
		return domain.Layer{}, s.err
	}
	return s.layer, nil
}

// multiStub adds the multi-layer and fill surfaces.
type multiStub struct {
	stubAdapter
	layers []domain.Layer
	fill   []domain.Layer
}

func (m *multiStub) ResampleAllToGrid(string, domain.GridSpec) ([]domain.Layer, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.layers, nil
}

func (m *multiStub) NoDataLayers(domain.GridSpec) []domain.Layer { return m.fill }

// fillStub is a single-layer adapter with its own empty rendition.
type fillStub struct {
	stubAdapter
	fill []domain.Layer
}

func (f *fillStub) NoDataLayers(domain.GridSpec) []domain.Layer { return f.fill }

// --- helpers ---

func testSpec(rows, cols int) domain.GridSpec {
	return domain.GridSpec{OriginX: 0, OriginY: 0, CellSize: 10, Rows: rows, Cols: cols, EPSG: 32615}
}

func filledLayer(name string, bands int, spec domain.GridSpec, v float64) domain.Layer {
	l := domain.NewLayer(name, bands, spec.Rows, spec.Cols)
	l.Fill(v)
	return l
}

func newHarmonizer(adapters ...provider.Adapter) *harmonize.Harmonizer {
	return harmonize.New(adapters, discardLogger(), observability.NewMetricsForTesting())
}

// fullStack builds elevation, embedding, and vector adapters whose
// resample output covers the grid completely.
func fullStack(spec domain.GridSpec) (*stubAdapter, *fillStub, *multiStub) {
	elev := &stubAdapter{name: provider.NameElevation, layer: filledLayer("elevation", 1, spec, 250)}
	embed := &fillStub{
		stubAdapter: stubAdapter{name: provider.NameEmbedding, layer: filledLayer("embedding", 2, spec, 0.5)},
		fill:        []domain.Layer{domain.NewLayer("embedding", 2, spec.Rows, spec.Cols)},
	}
	vec := &multiStub{
		stubAdapter: stubAdapter{name: provider.NameVector},
		layers: []domain.Layer{
			filledLayer("road_distance", 1, spec, 40),
			filledLayer("landuse", 1, spec, 7),
		},
		fill: []domain.Layer{
			filledLayer("road_distance", 1, spec, 1e6),
			domain.NewLayerFor("landuse", spec),
		},
	}
	return elev, embed, vec
}

func successResults(providers ...string) map[string]domain.FetchResult {
	results := make(map[string]domain.FetchResult, len(providers))
	for _, p := range providers {
		results[p] = domain.Succeed(p, "/tmp/"+p+".npz")
	}
	return results
}

// --- collection ---

func TestCollection_AddLayers(t *testing.T) {
	spec := testSpec(3, 4)
	coll := harmonize.NewCollection(spec)

	require.NoError(t, coll.AddLayers(
		domain.NewLayerFor("elevation", spec),
		domain.NewLayer("embedding", 64, 3, 4),
	))

	assert.Equal(t, 2, coll.Len())
	_, ok := coll.Layer("elevation")
	assert.True(t, ok)
}

func TestCollection_AddLayers_ShapeMismatch(t *testing.T) {
	spec := testSpec(3, 4)
	coll := harmonize.NewCollection(spec)
	require.NoError(t, coll.AddLayers(domain.NewLayerFor("elevation", spec)))

	err := coll.AddLayers(domain.NewLayer("rogue", 1, 4, 4))

	var mismatch *domain.ShapeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "rogue", mismatch.Layer)
	assert.Equal(t, 3, mismatch.WantRows)
	assert.Equal(t, 4, mismatch.GotRows)
	assert.Equal(t, 1, coll.Len(), "collection must be unchanged")
}

func TestCollection_AddLayers_AllOrNothing(t *testing.T) {
	spec := testSpec(3, 4)
	coll := harmonize.NewCollection(spec)

	err := coll.AddLayers(
		domain.NewLayerFor("good", spec),
		domain.NewLayer("bad", 1, 3, 5),
	)

	require.Error(t, err)
	assert.Equal(t, 0, coll.Len(), "a conforming layer in the same call must not land either")
}

// --- harmonizer ---

func TestHarmonizer_Run_AllSourcesSucceed(t *testing.T) {
	spec := testSpec(4, 4)
	elev, embed, vec := fullStack(spec)
	h := newHarmonizer(elev, embed, vec)

	result, err := h.Run(spec, successResults(
		provider.NameElevation, provider.NameEmbedding, provider.NameVector))
	require.NoError(t, err)

	assert.ElementsMatch(t,
		[]string{"elevation", "embedding", "road_distance", "landuse", "quality"},
		result.LayerNames())

	quality, ok := result.Layer("quality")
	require.True(t, ok)
	for i, v := range quality.Data {
		assert.Equal(t, 1.0, v, "cell %d", i)
	}

	wantStatuses := map[string]harmonize.SourceStatus{
		provider.NameElevation: {Status: domain.StatusSuccess},
		provider.NameEmbedding: {Status: domain.StatusSuccess},
		provider.NameVector:    {Status: domain.StatusSuccess},
	}
	if diff := cmp.Diff(wantStatuses, result.Statuses); diff != "" {
		t.Fatalf("statuses mismatch (-want +got):\n%s", diff)
	}
	assert.NoError(t, h.CheckReadiness(context.Background()))
}

func TestHarmonizer_Run_ElevationOnlyScoresQuarter(t *testing.T) {
	spec := testSpec(4, 5)
	elev, embed, vec := fullStack(spec)
	h := newHarmonizer(elev, embed, vec)

	results := successResults(provider.NameElevation)
	results[provider.NameEmbedding] = domain.Fail(provider.NameEmbedding,
		domain.Classifyf(domain.KindAuthInvalid, "embedding.init", "token rejected"))
	results[provider.NameVector] = domain.NoData(provider.NameVector)

	result, err := h.Run(spec, results)
	require.NoError(t, err)

	quality, ok := result.Layer("quality")
	require.True(t, ok)
	for _, v := range quality.Data {
		assert.Equal(t, 0.25, v)
	}

	assert.Equal(t, domain.StatusFailure, result.Statuses[provider.NameEmbedding].Status)
	assert.Contains(t, result.Statuses[provider.NameEmbedding].Reason, "token rejected")
	assert.Equal(t, domain.StatusNoData, result.Statuses[provider.NameVector].Status)
}

func TestHarmonizer_Run_VectorNoDataFillsSentinel(t *testing.T) {
	spec := testSpec(3, 3)
	elev, embed, vec := fullStack(spec)
	h := newHarmonizer(elev, embed, vec)

	results := successResults(provider.NameElevation, provider.NameEmbedding)
	results[provider.NameVector] = domain.NoData(provider.NameVector)

	result, err := h.Run(spec, results)
	require.NoError(t, err)

	road, ok := result.Layer("road_distance")
	require.True(t, ok)
	for _, v := range road.Data {
		assert.Equal(t, 1e6, v, "empty vector source fills distances with the sentinel, not zero")
	}
	landuse, ok := result.Layer("landuse")
	require.True(t, ok)
	for _, v := range landuse.Data {
		assert.Equal(t, 0.0, v)
	}
}

func TestHarmonizer_Run_PartialElevationCoverage(t *testing.T) {
	spec := testSpec(2, 2)
	elev, embed, vec := fullStack(spec)
	elev.layer.Set(0, 1, 1, math.NaN()) // void at a tile edge
	h := newHarmonizer(elev, embed, vec)

	result, err := h.Run(spec, successResults(
		provider.NameElevation, provider.NameEmbedding, provider.NameVector))
	require.NoError(t, err)

	quality, _ := result.Layer("quality")
	assert.Equal(t, 1.0, quality.At(0, 0, 0))
	assert.Equal(t, 0.75, quality.At(0, 1, 1), "void elevation cell loses only its weight")
}

func TestHarmonizer_Run_ShapeMismatchAborts(t *testing.T) {
	spec := testSpec(4, 4)
	rogue := &stubAdapter{name: provider.NameElevation, layer: domain.NewLayer("elevation", 1, 5, 4)}
	h := newHarmonizer(rogue)

	_, err := h.Run(spec, successResults(provider.NameElevation))

	var mismatch *domain.ShapeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Error(t, h.CheckReadiness(context.Background()), "an aborted run must not mark readiness")
}

func TestHarmonizer_ProcessFetchResult_ResampleError(t *testing.T) {
	spec := testSpec(2, 2)
	corrupt := &stubAdapter{
		name: provider.NameElevation,
		err:  domain.Classifyf(domain.KindCacheCorrupt, "elevation.resample", "truncated artifact"),
	}
	h := newHarmonizer(corrupt)

	layers, status := h.ProcessFetchResult(domain.Succeed(provider.NameElevation, "/tmp/x.npz"), spec)

	assert.Equal(t, domain.StatusFailure, status.Status)
	assert.Contains(t, status.Reason, "truncated artifact")
	require.Len(t, layers, 1)
	assert.Equal(t, "elevation", layers[0].Name)
	for _, v := range layers[0].Data {
		assert.Equal(t, 0.0, v)
	}
}

func TestHarmonizer_ProcessFetchResult_UnknownProvider(t *testing.T) {
	spec := testSpec(2, 2)
	h := newHarmonizer()

	layers, status := h.ProcessFetchResult(domain.Succeed("mystery", "/tmp/x.npz"), spec)

	assert.Equal(t, domain.StatusFailure, status.Status)
	assert.Contains(t, status.Reason, "no adapter registered")
	require.Len(t, layers, 1)
	assert.Equal(t, "mystery", layers[0].Name)
}

func TestHarmonizer_CheckReadiness_BeforeFirstRun(t *testing.T) {
	h := newHarmonizer()
	assert.Error(t, h.CheckReadiness(context.Background()))
}

func TestSourceStatus_String(t *testing.T) {
	ok := harmonize.SourceStatus{Status: domain.StatusSuccess}
	failed := harmonize.SourceStatus{Status: domain.StatusFailure, Reason: "boom"}

	assert.Equal(t, "ok", ok.String())
	assert.Equal(t, "error: boom", failed.String())
}
