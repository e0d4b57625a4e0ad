package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/terrain-fusion/internal/httputil"
)

// Credentials holds per-provider secrets. Adapters consult only their own
// field; empty means the provider runs unauthenticated (or refuses, for
// providers that require a token).
type Credentials struct {
	// ElevationAPIKey is optional; the public tile endpoint needs none.
	ElevationAPIKey string
	// EmbeddingToken authorizes the embedding service. Required for the
	// embedding provider.
	EmbeddingToken string
}

// Config holds all settings, populated from TERRAFUSE_* environment
// variables. Nothing outside Load reads the environment; components receive
// the values they need through constructors.
type Config struct {
	CacheDir  string
	LogLevel  string
	LogFormat string

	ElevationURL string

	EmbeddingURL          string
	EmbeddingDataset      string
	EmbeddingYear         int
	EmbeddingBilinear     bool
	EmbeddingPollInterval time.Duration
	EmbeddingMaxPollWait  time.Duration
	EmbeddingTimeout      time.Duration

	OverpassURLs  []string
	VectorTTLDays int

	MaxConcurrent   int
	MetricsAddr     string
	ShutdownTimeout time.Duration

	RetryBaseWait time.Duration
	RetryMaxWait  time.Duration
	RateLimitWait time.Duration

	Credentials Credentials
}

// Load reads configuration from environment variables, applying defaults
// where unset, and validates the result.
func Load() (*Config, error) {
	pollInterval, err := envDuration("TERRAFUSE_EMBEDDING_POLL_INTERVAL", 5*time.Second)
	if err != nil {
		return nil, err
	}
	maxPollWait, err := envDuration("TERRAFUSE_EMBEDDING_MAX_POLL_WAIT", time.Minute)
	if err != nil {
		return nil, err
	}
	embeddingTimeout, err := envDuration("TERRAFUSE_EMBEDDING_TIMEOUT", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := envDuration("TERRAFUSE_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	retryBase, err := envDuration("TERRAFUSE_RETRY_BASE_WAIT", time.Second)
	if err != nil {
		return nil, err
	}
	retryMax, err := envDuration("TERRAFUSE_RETRY_MAX_WAIT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	rateLimitWait, err := envDuration("TERRAFUSE_RATE_LIMIT_WAIT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	year, err := envInt("TERRAFUSE_EMBEDDING_YEAR", 2023)
	if err != nil {
		return nil, err
	}
	vectorTTL, err := envInt("TERRAFUSE_VECTOR_TTL_DAYS", 30)
	if err != nil {
		return nil, err
	}
	maxConcurrent, err := envInt("TERRAFUSE_MAX_CONCURRENT", 0)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		CacheDir:  envOrDefault("TERRAFUSE_CACHE_DIR", ".terrafuse/cache"),
		LogLevel:  envOrDefault("TERRAFUSE_LOG_LEVEL", "info"),
		LogFormat: envOrDefault("TERRAFUSE_LOG_FORMAT", "json"),

		ElevationURL: envOrDefault("TERRAFUSE_ELEVATION_URL", "https://s3.amazonaws.com/elevation-tiles-prod/skadi"),

		EmbeddingURL:          envOrDefault("TERRAFUSE_EMBEDDING_URL", "https://earthengine.googleapis.com/v1"),
		EmbeddingDataset:      envOrDefault("TERRAFUSE_EMBEDDING_DATASET", "satellite-embedding/v1/annual"),
		EmbeddingYear:         year,
		EmbeddingBilinear:     envBool("TERRAFUSE_EMBEDDING_BILINEAR", false),
		EmbeddingPollInterval: pollInterval,
		EmbeddingMaxPollWait:  maxPollWait,
		EmbeddingTimeout:      embeddingTimeout,

		OverpassURLs: parseList(envOrDefault("TERRAFUSE_OVERPASS_URLS",
			"https://overpass-api.de/api/interpreter,"+
				"https://lz4.overpass-api.de/api/interpreter,"+
				"https://overpass.kumi.systems/api/interpreter")),
		VectorTTLDays: vectorTTL,

		MaxConcurrent:   maxConcurrent,
		MetricsAddr:     os.Getenv("TERRAFUSE_METRICS_ADDR"),
		ShutdownTimeout: shutdownTimeout,

		RetryBaseWait: retryBase,
		RetryMaxWait:  retryMax,
		RateLimitWait: rateLimitWait,

		Credentials: Credentials{
			ElevationAPIKey: os.Getenv("TERRAFUSE_ELEVATION_API_KEY"),
			EmbeddingToken:  os.Getenv("TERRAFUSE_EMBEDDING_TOKEN"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints, naming the offending variable.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("TERRAFUSE_LOG_LEVEL must be debug, info, warn, or error, got %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("TERRAFUSE_LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	if c.CacheDir == "" {
		return errors.New("TERRAFUSE_CACHE_DIR is required")
	}
	if c.ElevationURL == "" {
		return errors.New("TERRAFUSE_ELEVATION_URL is required")
	}
	if c.EmbeddingURL == "" {
		return errors.New("TERRAFUSE_EMBEDDING_URL is required")
	}
	if c.EmbeddingDataset == "" {
		return errors.New("TERRAFUSE_EMBEDDING_DATASET is required")
	}
	// Annual embeddings exist from 2017 onward.
	if c.EmbeddingYear < 2017 {
		return fmt.Errorf("TERRAFUSE_EMBEDDING_YEAR must be 2017 or later, got %d", c.EmbeddingYear)
	}
	if len(c.OverpassURLs) == 0 {
		return errors.New("TERRAFUSE_OVERPASS_URLS is required")
	}
	if c.VectorTTLDays < -1 {
		return fmt.Errorf("TERRAFUSE_VECTOR_TTL_DAYS must be -1 or greater, got %d", c.VectorTTLDays)
	}
	if c.MaxConcurrent < 0 {
		return fmt.Errorf("TERRAFUSE_MAX_CONCURRENT must be 0 (unlimited) or positive, got %d", c.MaxConcurrent)
	}
	return nil
}

// RetryPolicy builds the shared HTTP retry policy from the configured waits.
func (c *Config) RetryPolicy() httputil.RetryPolicy {
	return httputil.RetryPolicy{
		MaxAttempts:   3,
		BaseWait:      c.RetryBaseWait,
		MaxWait:       c.RetryMaxWait,
		RateLimitWait: c.RateLimitWait,
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true"
	}
	return def
}

// parseList splits a comma-separated value, trimming whitespace and dropping
// empty items.
func parseList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
