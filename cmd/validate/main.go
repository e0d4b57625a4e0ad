// Command validate checks a terrafuse installation end to end: the
// environment configuration parses and validates, every selected
// provider has the credentials it needs, and the cache index agrees
// with what is on disk.
//
// Usage:
//
//	go run ./cmd/validate [-providers elevation,embedding,vector]
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/terrain-fusion/internal/cache"
	"github.com/couchcryptid/terrain-fusion/internal/config"
	"github.com/couchcryptid/terrain-fusion/internal/httputil"
	"github.com/couchcryptid/terrain-fusion/internal/observability"
	"github.com/couchcryptid/terrain-fusion/internal/provider"
	"github.com/couchcryptid/terrain-fusion/internal/provider/elevation"
	"github.com/couchcryptid/terrain-fusion/internal/provider/embedding"
	"github.com/couchcryptid/terrain-fusion/internal/provider/overpass"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	providers := flag.String("providers", "elevation,embedding,vector", "comma-separated providers to check")
	flag.Parse()

	os.Exit(run(*providers))
}

func run(providers string) int {
	_ = godotenv.Load()

	fmt.Println("=== Terrafuse Installation Validation ===")
	fmt.Println()

	// Validation never reaches the network; logging stays out of the
	// report except for real errors.
	logger := observability.NewLogger("error", "text")
	metrics := observability.NewMetrics()

	configPhase := &phase{name: "Phase 1: Configuration"}
	cfg, err := config.Load()
	if err != nil {
		configPhase.errorf("%v", err)
	}

	phases := []*phase{configPhase}
	var cacheEntries int
	if cfg != nil {
		phases = append(phases, checkCredentials(cfg, providers, logger, metrics))
		cachePhase, n := checkCache(cfg, logger, metrics)
		cacheEntries = n
		phases = append(phases, cachePhase)
	}

	// ── Report results ──
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	if cfg != nil {
		fmt.Println()
		fmt.Printf("Cache: %s (%d entries)\n", cfg.CacheDir, cacheEntries)
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phase 2: Provider Credentials ──

// checkCredentials constructs the selected adapters the same way the
// fetch CLI does, so ValidateCredentials reflects real run behavior.
func checkCredentials(cfg *config.Config, providers string, logger *slog.Logger, metrics *observability.Metrics) *phase {
	p := &phase{name: "Phase 2: Provider Credentials"}

	httpClient := httputil.NewStandardClient(&http.Client{Timeout: 30 * time.Second})
	policy := cfg.RetryPolicy()

	var adapters []provider.Adapter
	for _, name := range strings.Split(providers, ",") {
		switch strings.TrimSpace(name) {
		case provider.NameElevation:
			client := httputil.NewClient(httpClient, policy, provider.NameElevation, logger, metrics)
			adapters = append(adapters, elevation.New(cfg.ElevationURL, cfg.Credentials.ElevationAPIKey, client, nil, logger))
		case provider.NameEmbedding:
			client := httputil.NewClient(httpClient, policy, provider.NameEmbedding, logger, metrics)
			adapters = append(adapters, embedding.New(embedding.Options{
				BaseURL: cfg.EmbeddingURL,
				Dataset: cfg.EmbeddingDataset,
				Year:    cfg.EmbeddingYear,
				Token:   cfg.Credentials.EmbeddingToken,
			}, client, nil, logger))
		case provider.NameVector:
			client := httputil.NewClient(httpClient, policy, provider.NameVector, logger, metrics)
			adapters = append(adapters, overpass.New(cfg.OverpassURLs, cfg.VectorTTLDays, client, nil, logger))
		case "":
		default:
			p.errorf("unknown provider %q", name)
		}
	}

	for _, a := range adapters {
		if !a.ValidateCredentials() {
			p.errorf("%s: credentials not configured", a.Name())
		}
	}
	return p
}

// ── Phase 3: Cache Integrity ──

func checkCache(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*phase, int) {
	p := &phase{name: "Phase 3: Cache Integrity"}

	store, err := cache.NewStore(cfg.CacheDir, logger, metrics)
	if err != nil {
		p.errorf("open cache at %s: %v", cfg.CacheDir, err)
		return p, 0
	}

	for _, finding := range store.Check() {
		p.errorf("%s", finding)
	}
	return p, store.Len()
}
