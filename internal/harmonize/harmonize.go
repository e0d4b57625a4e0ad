// Package harmonize resamples every provider's fetch outcome onto one
// master grid and scores per-cell data quality. A failed or empty source
// degrades the quality layer; it never aborts the run.
package harmonize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/couchcryptid/terrain-fusion/internal/domain"
	"github.com/couchcryptid/terrain-fusion/internal/observability"
	"github.com/couchcryptid/terrain-fusion/internal/provider"
)

// SourceStatus records how one provider's data entered the grid.
type SourceStatus struct {
	Status domain.Status
	Reason string // failure detail, empty otherwise
}

func (s SourceStatus) String() string {
	if s.Status == domain.StatusFailure {
		return fmt.Sprintf("%s: %s", s.Status, s.Reason)
	}
	return s.Status.String()
}

// Result is the harmonizer output: named layers conforming to the grid,
// the grid itself, and the per-provider status record. This is the whole
// surface a presentation layer consumes.
type Result struct {
	Grid     domain.GridSpec
	Layers   map[string]domain.Layer
	Statuses map[string]SourceStatus
}

// Layer returns a named output layer.
func (r *Result) Layer(name string) (domain.Layer, bool) {
	l, ok := r.Layers[name]
	return l, ok
}

// LayerNames returns the output layer names, sorted.
func (r *Result) LayerNames() []string {
	names := make([]string, 0, len(r.Layers))
	for name := range r.Layers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Harmonizer turns fetch outcomes into a conforming layer set via the
// adapters' resample surfaces.
type Harmonizer struct {
	adapters map[string]provider.Adapter
	logger   *slog.Logger
	metrics  *observability.Metrics
	ready    atomic.Bool
}

// New creates a Harmonizer over the given adapters.
func New(adapters []provider.Adapter, logger *slog.Logger, metrics *observability.Metrics) *Harmonizer {
	byName := make(map[string]provider.Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	return &Harmonizer{adapters: byName, logger: logger, metrics: metrics}
}

// CheckReadiness returns nil once a run has produced a layer set.
func (h *Harmonizer) CheckReadiness(_ context.Context) error {
	if !h.ready.Load() {
		return errors.New("no harmonized grid produced yet")
	}
	return nil
}

// Run resamples every fetch outcome onto the master grid and appends the
// quality layer. The only error is a shape mismatch, which means an
// adapter broke its resample contract and the run cannot be trusted.
func (h *Harmonizer) Run(spec domain.GridSpec, results map[string]domain.FetchResult) (*Result, error) {
	start := domain.Clock().Now()

	coll := NewCollection(spec)
	statuses := make(map[string]SourceStatus, len(results))

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		layers, status := h.ProcessFetchResult(results[name], spec)
		statuses[name] = status
		if err := coll.AddLayers(layers...); err != nil {
			return nil, err
		}
	}

	quality := domain.QualityLayer(spec.Rows, spec.Cols,
		sourceMask(coll, statuses, provider.NameElevation, "elevation"),
		sourceMask(coll, statuses, provider.NameEmbedding, "embedding"),
		vectorMask(statuses, spec))
	if err := coll.AddLayers(quality); err != nil {
		return nil, err
	}

	h.metrics.HarmonizeDuration.Observe(domain.Clock().Now().Sub(start).Seconds())
	h.ready.Store(true)
	h.logger.Info("harmonize complete",
		"grid", spec.String(), "layers", coll.Len(), "providers", len(statuses))
	return &Result{Grid: spec, Layers: coll.Layers(), Statuses: statuses}, nil
}

// ProcessFetchResult turns one fetch outcome into conforming layers plus
// its status. A successful artifact goes through the adapter's resample
// surface; noData and failures substitute the provider's empty layers so
// downstream always receives usable arrays.
func (h *Harmonizer) ProcessFetchResult(fr domain.FetchResult, spec domain.GridSpec) ([]domain.Layer, SourceStatus) {
	switch fr.Status {
	case domain.StatusNoData:
		h.logger.Info("provider empty, substituting fill layers", "provider", fr.Provider)
		return h.emptyLayers(fr.Provider, spec), SourceStatus{Status: domain.StatusNoData}
	case domain.StatusFailure:
		h.logger.Warn("provider failed, substituting fill layers",
			"provider", fr.Provider, "reason", fr.Reason())
		return h.emptyLayers(fr.Provider, spec), SourceStatus{Status: domain.StatusFailure, Reason: fr.Reason()}
	}

	a, ok := h.adapters[fr.Provider]
	if !ok {
		reason := fmt.Sprintf("no adapter registered for provider %q", fr.Provider)
		h.logger.Error("cannot resample artifact", "provider", fr.Provider)
		return h.emptyLayers(fr.Provider, spec), SourceStatus{Status: domain.StatusFailure, Reason: reason}
	}

	layers, err := resample(a, fr.Artifact, spec)
	if err != nil {
		h.logger.Error("resample failed, substituting fill layers",
			"provider", fr.Provider, "error", err)
		return h.emptyLayers(fr.Provider, spec), SourceStatus{Status: domain.StatusFailure, Reason: err.Error()}
	}
	return layers, SourceStatus{Status: domain.StatusSuccess}
}

// resample prefers the multi-layer surface when the adapter has one.
func resample(a provider.Adapter, artifact string, spec domain.GridSpec) ([]domain.Layer, error) {
	if mr, ok := a.(provider.MultiResampler); ok {
		return mr.ResampleAllToGrid(artifact, spec)
	}
	layer, err := a.ResampleToGrid(artifact, spec)
	if err != nil {
		return nil, err
	}
	return []domain.Layer{layer}, nil
}

// emptyLayers builds the layers a provider would have produced, zero or
// sentinel filled per its NoDataFiller.
func (h *Harmonizer) emptyLayers(name string, spec domain.GridSpec) []domain.Layer {
	if a, ok := h.adapters[name]; ok {
		if f, ok := a.(provider.NoDataFiller); ok {
			return f.NoDataLayers(spec)
		}
	}
	return []domain.Layer{domain.NewLayerFor(name, spec)}
}

// sourceMask returns the per-cell validity of a raster source's layer,
// or nil when the source did not succeed.
func sourceMask(coll *Collection, statuses map[string]SourceStatus, providerName, layerName string) []bool {
	st, ok := statuses[providerName]
	if !ok || st.Status != domain.StatusSuccess {
		return nil
	}
	layer, ok := coll.Layer(layerName)
	if !ok {
		return nil
	}
	return layer.ValidMask()
}

// vectorMask covers the whole grid when the vector fetch succeeded:
// rasterized layers have no voids.
func vectorMask(statuses map[string]SourceStatus, spec domain.GridSpec) []bool {
	st, ok := statuses[provider.NameVector]
	if !ok || st.Status != domain.StatusSuccess {
		return nil
	}
	mask := make([]bool, spec.Rows*spec.Cols)
	for i := range mask {
		mask[i] = true
	}
	return mask
}
