package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for fetch runs.
type Metrics struct {
	FetchTotal    *prometheus.CounterVec   // labels: provider, outcome={ok,noData,error}
	FetchDuration *prometheus.HistogramVec // labels: provider
	FetchInFlight prometheus.Gauge

	// HTTP retry metrics.
	HTTPRetries *prometheus.CounterVec // labels: provider

	// Artifact cache metrics.
	CacheLookups   *prometheus.CounterVec // labels: provider, result={hit,miss,expired,corrupt}
	CacheWrites    *prometheus.CounterVec // labels: provider
	CacheEvictions prometheus.Counter

	// Grid assembly metrics.
	HarmonizeDuration prometheus.Histogram
	TerrainDuration   prometheus.Histogram
}

// NewMetrics creates and registers all fetch-run metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		FetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "terrafuse",
			Name:      "fetch_total",
			Help:      "Provider fetches by provider and outcome.",
		}, []string{"provider", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "terrafuse",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of a single provider fetch, including retries and polling.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"provider"}),
		FetchInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "terrafuse",
			Name:      "fetch_in_flight",
			Help:      "Number of provider fetches currently running.",
		}),
		HTTPRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "terrafuse",
			Name:      "http_retries_total",
			Help:      "HTTP request retries by provider.",
		}, []string{"provider"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "terrafuse",
			Name:      "cache_lookups_total",
			Help:      "Artifact cache lookups by provider and result.",
		}, []string{"provider", "result"}),
		CacheWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "terrafuse",
			Name:      "cache_writes_total",
			Help:      "Artifacts written to the cache by provider.",
		}, []string{"provider"}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "terrafuse",
			Name:      "cache_evictions_total",
			Help:      "Cache entries removed by expiry sweeps or invalidation.",
		}),
		HarmonizeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "terrafuse",
			Name:      "harmonize_duration_seconds",
			Help:      "Duration of resampling all provider artifacts onto the master grid.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		TerrainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "terrafuse",
			Name:      "terrain_duration_seconds",
			Help:      "Duration of derived terrain layer computation.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}

	prometheus.MustRegister(
		m.FetchTotal,
		m.FetchDuration,
		m.FetchInFlight,
		m.HTTPRetries,
		m.CacheLookups,
		m.CacheWrites,
		m.CacheEvictions,
		m.HarmonizeDuration,
		m.TerrainDuration,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		FetchTotal:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "terrafuse", Name: "fetch_total"}, []string{"provider", "outcome"}),
		FetchDuration:     prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: "terrafuse", Name: "fetch_duration_seconds"}, []string{"provider"}),
		FetchInFlight:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "terrafuse", Name: "fetch_in_flight"}),
		HTTPRetries:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "terrafuse", Name: "http_retries_total"}, []string{"provider"}),
		CacheLookups:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "terrafuse", Name: "cache_lookups_total"}, []string{"provider", "result"}),
		CacheWrites:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "terrafuse", Name: "cache_writes_total"}, []string{"provider"}),
		CacheEvictions:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "terrafuse", Name: "cache_evictions_total"}),
		HarmonizeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "terrafuse", Name: "harmonize_duration_seconds"}),
		TerrainDuration:   prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "terrafuse", Name: "terrain_duration_seconds"}),
	}
}
