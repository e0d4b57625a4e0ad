// Package fetch runs the requested provider adapters concurrently and
// collects their outcomes without letting one failure abort the rest.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/couchcryptid/terrain-fusion/internal/domain"
	"github.com/couchcryptid/terrain-fusion/internal/observability"
	"github.com/couchcryptid/terrain-fusion/internal/provider"
)

// Orchestrator fans a fetch request out to every adapter. Zero
// maxConcurrent means unbounded; anything positive is enforced with a
// semaphore.
type Orchestrator struct {
	adapters      []provider.Adapter
	maxConcurrent int
	logger        *slog.Logger
	metrics       *observability.Metrics
}

// NewOrchestrator creates an orchestrator over the given adapters.
func NewOrchestrator(adapters []provider.Adapter, maxConcurrent int, logger *slog.Logger, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{
		adapters:      adapters,
		maxConcurrent: maxConcurrent,
		logger:        logger,
		metrics:       metrics,
	}
}

// RunResult is one orchestrated fetch: per-provider outcomes keyed by
// provider name, plus the run id threading through the logs.
type RunResult struct {
	RunID   string
	Results map[string]domain.FetchResult
}

// Errors maps provider name to failure reason for every failed fetch.
// NoData outcomes are not errors.
func (r RunResult) Errors() map[string]string {
	errs := make(map[string]string)
	for name, res := range r.Results {
		if res.Status == domain.StatusFailure {
			errs[name] = res.Reason()
		}
	}
	return errs
}

// Run fetches every adapter concurrently and joins. Each adapter gets a
// result no matter what: panics, missing credentials, and cancellation
// all land in the map as failures.
func (o *Orchestrator) Run(ctx context.Context, region domain.Region, res float64) RunResult {
	runID := uuid.NewString()
	logger := o.logger.With("run_id", runID)
	logger.Info("fetch run starting",
		"region", region.String(), "resolution", res, "providers", len(o.adapters))

	var sem chan struct{}
	if o.maxConcurrent > 0 {
		sem = make(chan struct{}, o.maxConcurrent)
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]domain.FetchResult, len(o.adapters))
	)
	record := func(name string, r domain.FetchResult) {
		mu.Lock()
		results[name] = r
		mu.Unlock()
	}

	for _, adapter := range o.adapters {
		wg.Add(1)
		go func(a provider.Adapter) {
			defer wg.Done()
			if sem != nil {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					record(a.Name(), domain.Fail(a.Name(), ctx.Err()))
					return
				}
			}
			record(a.Name(), o.fetchOne(ctx, a, region, res, logger))
		}(adapter)
	}
	wg.Wait()

	failed := len(RunResult{Results: results}.Errors())
	logger.Info("fetch run complete", "providers", len(results), "failed", failed)
	return RunResult{RunID: runID, Results: results}
}

// fetchOne runs a single adapter, converting panics into failures so one
// broken adapter cannot take down the run.
func (o *Orchestrator) fetchOne(ctx context.Context, a provider.Adapter, region domain.Region, res float64, logger *slog.Logger) (result domain.FetchResult) {
	start := domain.Clock().Now()
	o.metrics.FetchInFlight.Inc()
	defer func() {
		o.metrics.FetchInFlight.Dec()
		if r := recover(); r != nil {
			logger.Error("adapter panicked", "provider", a.Name(), "panic", r)
			result = domain.Fail(a.Name(), fmt.Errorf("adapter %s panicked: %v", a.Name(), r))
		}
		elapsed := domain.Clock().Now().Sub(start)
		o.metrics.FetchDuration.WithLabelValues(a.Name()).Observe(elapsed.Seconds())
		o.metrics.FetchTotal.WithLabelValues(a.Name(), result.Status.String()).Inc()
		logger.Info("fetch finished",
			"provider", a.Name(), "status", result.Status.String(), "duration", elapsed)
	}()

	if !a.ValidateCredentials() {
		logger.Warn("provider credentials missing", "provider", a.Name())
		return domain.Fail(a.Name(), domain.Classifyf(domain.KindAuthInvalid,
			a.Name()+".credentials", "credentials not configured"))
	}
	return a.Fetch(ctx, region, res)
}
