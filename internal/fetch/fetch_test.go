package fetch_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/terrain-fusion/internal/domain"
	"github.com/couchcryptid/terrain-fusion/internal/fetch"
	"github.com/couchcryptid/terrain-fusion/internal/observability"
	"github.com/couchcryptid/terrain-fusion/internal/provider"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- mocks ---

// fakeAdapter scripts one provider's fetch behavior.
type fakeAdapter struct {
	name         string
	result       domain.FetchResult
	missingCreds bool
	panicMsg     string
	fetchHook    func()
	fetchCalls   atomic.Int32
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Fetch(context.Context, domain.Region, float64) domain.FetchResult {
	f.fetchCalls.Add(1)
	if f.fetchHook != nil {
		f.fetchHook()
	}
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.result
}

func (f *fakeAdapter) ValidateCredentials() bool { return !f.missingCreds }

func (f *fakeAdapter) CacheKey(domain.Region, float64) string { return "fake" }

func (f *fakeAdapter) ResampleToGrid(string, domain.GridSpec) (domain.Layer, error) {
	return domain.Layer{}, nil
}

// --- helpers ---

func testRegion(t *testing.T) domain.Region {
	t.Helper()
	region, err := domain.NewRegion(44.40, 44.46, -72.10, -72.02)
	require.NoError(t, err)
	return region
}

func newOrchestrator(maxConcurrent int, adapters ...provider.Adapter) *fetch.Orchestrator {
	return fetch.NewOrchestrator(adapters, maxConcurrent, discardLogger(), observability.NewMetricsForTesting())
}

// --- tests ---

func TestRun_EveryAdapterReported(t *testing.T) {
	ok := &fakeAdapter{name: "elevation", result: domain.Succeed("elevation", "/tmp/elev.npz")}
	empty := &fakeAdapter{name: "vector", result: domain.NoData("vector")}
	broken := &fakeAdapter{name: "embedding", result: domain.Fail("embedding", errors.New("quota exhausted"))}

	res := newOrchestrator(0, ok, empty, broken).Run(context.Background(), testRegion(t), 10)

	require.Len(t, res.Results, 3)
	assert.Equal(t, domain.StatusSuccess, res.Results["elevation"].Status)
	assert.Equal(t, "/tmp/elev.npz", res.Results["elevation"].Artifact)
	assert.Equal(t, domain.StatusNoData, res.Results["vector"].Status)
	assert.Equal(t, domain.StatusFailure, res.Results["embedding"].Status)

	errs := res.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "quota exhausted", errs["embedding"])
}

func TestRun_AllSuccessHasNoErrors(t *testing.T) {
	a := &fakeAdapter{name: "elevation", result: domain.Succeed("elevation", "/tmp/a")}
	b := &fakeAdapter{name: "vector", result: domain.Succeed("vector", "/tmp/b")}

	res := newOrchestrator(0, a, b).Run(context.Background(), testRegion(t), 10)

	assert.Empty(t, res.Errors())
}

func TestRun_PanickingAdapterBecomesFailure(t *testing.T) {
	bad := &fakeAdapter{name: "embedding", panicMsg: "nil deref in decoder"}
	good := &fakeAdapter{name: "elevation", result: domain.Succeed("elevation", "/tmp/elev.npz")}

	res := newOrchestrator(0, bad, good).Run(context.Background(), testRegion(t), 10)

	require.Len(t, res.Results, 2)
	assert.Equal(t, domain.StatusFailure, res.Results["embedding"].Status)
	assert.Contains(t, res.Results["embedding"].Reason(), "panicked")
	assert.Contains(t, res.Results["embedding"].Reason(), "nil deref in decoder")
	assert.Equal(t, domain.StatusSuccess, res.Results["elevation"].Status)
}

func TestRun_MissingCredentialsSkipFetch(t *testing.T) {
	a := &fakeAdapter{name: "embedding", missingCreds: true}

	res := newOrchestrator(0, a).Run(context.Background(), testRegion(t), 10)

	got := res.Results["embedding"]
	assert.Equal(t, domain.StatusFailure, got.Status)
	assert.True(t, domain.IsKind(got.Err, domain.KindAuthInvalid))
	assert.Zero(t, a.fetchCalls.Load(), "Fetch must not run without credentials")
}

func TestRun_SemaphoreBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	hook := func() {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
	}

	names := []string{"a", "b", "c", "d", "e", "f"}
	adapters := make([]provider.Adapter, len(names))
	for i, name := range names {
		adapters[i] = &fakeAdapter{name: name, result: domain.Succeed(name, "/tmp/"+name), fetchHook: hook}
	}

	res := newOrchestrator(2, adapters...).Run(context.Background(), testRegion(t), 10)

	require.Len(t, res.Results, len(names))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRun_DistinctRunIDs(t *testing.T) {
	a := &fakeAdapter{name: "elevation", result: domain.Succeed("elevation", "/tmp/a")}
	orch := newOrchestrator(0, a)

	first := orch.Run(context.Background(), testRegion(t), 10)
	second := orch.Run(context.Background(), testRegion(t), 10)

	assert.NotEmpty(t, first.RunID)
	assert.NotEmpty(t, second.RunID)
	assert.NotEqual(t, first.RunID, second.RunID)
}
