// Command terrafuse fetches elevation, satellite-embedding, and
// OpenStreetMap vector data for a bounding box, harmonizes everything
// onto one UTM grid, derives terrain features, and prints a JSON run
// summary to stdout.
//
// Usage:
//
//	terrafuse -bbox "44.40,-72.10,44.46,-72.02" -resolution 10 \
//	  -providers elevation,embedding,vector -preview elevation.png
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/terrain-fusion/internal/adapter/debughttp"
	"github.com/couchcryptid/terrain-fusion/internal/cache"
	"github.com/couchcryptid/terrain-fusion/internal/config"
	"github.com/couchcryptid/terrain-fusion/internal/domain"
	"github.com/couchcryptid/terrain-fusion/internal/fetch"
	"github.com/couchcryptid/terrain-fusion/internal/harmonize"
	"github.com/couchcryptid/terrain-fusion/internal/httputil"
	"github.com/couchcryptid/terrain-fusion/internal/observability"
	"github.com/couchcryptid/terrain-fusion/internal/preview"
	"github.com/couchcryptid/terrain-fusion/internal/provider"
	"github.com/couchcryptid/terrain-fusion/internal/provider/elevation"
	"github.com/couchcryptid/terrain-fusion/internal/provider/embedding"
	"github.com/couchcryptid/terrain-fusion/internal/provider/localfile"
	"github.com/couchcryptid/terrain-fusion/internal/provider/overpass"
	"github.com/couchcryptid/terrain-fusion/internal/terrain"
)

type options struct {
	bbox        string
	resolution  float64
	year        int
	providers   string
	localPath   string
	previewPath string
	metricsAddr string
}

// runSummary is the machine-readable output printed to stdout.
type runSummary struct {
	RunID   string            `json:"run_id"`
	Grid    domain.GridSpec   `json:"grid"`
	Results map[string]string `json:"results"`
	Errors  map[string]string `json:"errors"`
}

func main() {
	var opts options
	flag.StringVar(&opts.bbox, "bbox", "", "bounding box as lat_min,lon_min,lat_max,lon_max (required)")
	flag.Float64Var(&opts.resolution, "resolution", 10, "grid cell size in meters")
	flag.IntVar(&opts.year, "year", 0, "embedding year override (default from config)")
	flag.StringVar(&opts.providers, "providers", "elevation,embedding,vector", "comma-separated providers to fetch")
	flag.StringVar(&opts.localPath, "local", "", "path to a local raster, added as an extra provider")
	flag.StringVar(&opts.previewPath, "preview", "", "write an elevation heatmap PNG to this path")
	flag.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /healthz /readyz /metrics on this address for the run")
	flag.Parse()

	if opts.bbox == "" {
		flag.Usage()
		os.Exit(1)
	}

	os.Exit(run(opts))
}

func run(opts options) int {
	// A .env file is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}
	if opts.year != 0 {
		cfg.EmbeddingYear = opts.year
	}
	if opts.metricsAddr != "" {
		cfg.MetricsAddr = opts.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return 1
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	region, err := parseBBox(opts.bbox)
	if err != nil {
		logger.Error("invalid bbox", "bbox", opts.bbox, "error", err)
		return 1
	}
	spec, err := domain.NewGridSpec(region, opts.resolution)
	if err != nil {
		logger.Error("invalid resolution", "resolution", opts.resolution, "error", err)
		return 1
	}

	store, err := cache.NewStore(cfg.CacheDir, logger, metrics)
	if err != nil {
		logger.Error("failed to open cache", "dir", cfg.CacheDir, "error", err)
		return 1
	}

	adapters, err := buildAdapters(cfg, opts, store, logger, metrics)
	if err != nil {
		logger.Error("invalid provider selection", "error", err)
		return 1
	}

	orch := fetch.NewOrchestrator(adapters, cfg.MaxConcurrent, logger, metrics)
	harm := harmonize.New(adapters, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		srv := debughttp.NewServer(cfg.MetricsAddr, harm, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("debug server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("debug server shutdown error", "error", err)
			}
		}()
	}

	runRes := orch.Run(ctx, region, opts.resolution)

	result, err := harm.Run(spec, runRes.Results)
	if err != nil {
		logger.Error("harmonization failed", "error", err)
		return 1
	}

	// Terrain features only make sense over real elevation; an empty fill
	// would yield an all-flat grid.
	if st, ok := result.Statuses[provider.NameElevation]; ok && st.Status == domain.StatusSuccess {
		if elev, ok := result.Layer("elevation"); ok {
			for _, l := range terrain.New(logger, metrics).Analyze(elev, spec.CellSize) {
				result.Layers[l.Name] = l
			}
		}
	}

	if opts.previewPath != "" {
		if err := writePreview(result, spec, opts.previewPath); err != nil {
			logger.Warn("preview render failed", "path", opts.previewPath, "error", err)
		} else {
			logger.Info("preview written", "path", opts.previewPath)
		}
	}

	return printSummary(runRes.RunID, spec, result)
}

// parseBBox parses "lat_min,lon_min,lat_max,lon_max" in degrees.
func parseBBox(s string) (domain.Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return domain.Region{}, fmt.Errorf("bbox needs 4 comma-separated values, got %d", len(parts))
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return domain.Region{}, fmt.Errorf("bbox component %d: %q is not a number", i+1, p)
		}
		vals[i] = v
	}
	return domain.NewRegion(vals[0], vals[2], vals[1], vals[3])
}

func buildAdapters(cfg *config.Config, opts options, store *cache.Store, logger *slog.Logger, metrics *observability.Metrics) ([]provider.Adapter, error) {
	httpClient := httputil.NewStandardClient(&http.Client{Timeout: 2 * time.Minute})
	policy := cfg.RetryPolicy()
	retryClient := func(name string) *httputil.Client {
		return httputil.NewClient(httpClient, policy, name, logger, metrics)
	}

	var adapters []provider.Adapter
	for _, name := range strings.Split(opts.providers, ",") {
		switch strings.TrimSpace(name) {
		case provider.NameElevation:
			adapters = append(adapters, elevation.New(
				cfg.ElevationURL, cfg.Credentials.ElevationAPIKey,
				retryClient(provider.NameElevation), store, logger))
		case provider.NameEmbedding:
			adapters = append(adapters, embedding.New(embedding.Options{
				BaseURL:      cfg.EmbeddingURL,
				Dataset:      cfg.EmbeddingDataset,
				Year:         cfg.EmbeddingYear,
				Token:        cfg.Credentials.EmbeddingToken,
				Bilinear:     cfg.EmbeddingBilinear,
				PollInterval: cfg.EmbeddingPollInterval,
				MaxPollWait:  cfg.EmbeddingMaxPollWait,
				Timeout:      cfg.EmbeddingTimeout,
			}, retryClient(provider.NameEmbedding), store, logger))
		case provider.NameVector:
			adapters = append(adapters, overpass.New(
				cfg.OverpassURLs, cfg.VectorTTLDays,
				retryClient(provider.NameVector), store, logger))
		case "":
		default:
			return nil, fmt.Errorf("unknown provider %q (want elevation, embedding, or vector)", name)
		}
	}
	if opts.localPath != "" {
		adapters = append(adapters, localfile.New(opts.localPath, store, logger))
	}
	if len(adapters) == 0 {
		return nil, errors.New("no providers selected")
	}
	return adapters, nil
}

// writePreview renders the harmonized elevation as a heatmap, overlaying
// road iso-distance lines when the vector fetch succeeded.
func writePreview(result *harmonize.Result, spec domain.GridSpec, path string) error {
	base, ok := result.Layer("elevation")
	if !ok {
		return errors.New("no elevation layer to render")
	}
	if st, ok := result.Statuses[provider.NameVector]; ok && st.Status == domain.StatusSuccess {
		if roads, ok := result.Layer(overpass.LayerRoadDistance); ok {
			return preview.RenderWithContours(base, roads, []float64{10}, spec, "elevation", path)
		}
	}
	return preview.Render(base, spec, "elevation", path)
}

func printSummary(runID string, spec domain.GridSpec, result *harmonize.Result) int {
	summary := runSummary{
		RunID:   runID,
		Grid:    spec,
		Results: make(map[string]string, len(result.Statuses)),
		Errors:  make(map[string]string),
	}
	for name, st := range result.Statuses {
		summary.Results[name] = st.Status.String()
		if st.Status == domain.StatusFailure {
			summary.Errors[name] = st.Reason
		}
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		slog.Error("failed to encode summary", "error", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}
