// Package provider defines the contract every data-source adapter satisfies
// and the cache-key derivation they share.
package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/couchcryptid/terrain-fusion/internal/domain"
)

// Provider names, used as cache subdirectories, metric labels, and result
// map keys.
const (
	NameElevation = "elevation"
	NameEmbedding = "embedding"
	NameVector    = "vector"
	NameLocalFile = "localfile"
)

// Adapter is implemented by each data source. Fetch never returns a Go
// error: failures are carried inside the FetchResult so one bad source
// cannot abort a run.
type Adapter interface {
	// Name returns the stable provider name.
	Name() string
	// Fetch acquires the artifact for a region at the given resolution in
	// meters, consulting the cache first.
	Fetch(ctx context.Context, region domain.Region, res float64) domain.FetchResult
	// ValidateCredentials reports whether the adapter has the secrets it
	// needs. Providers with public sources always return true.
	ValidateCredentials() bool
	// CacheKey returns the deterministic key for a (region, resolution)
	// request.
	CacheKey(region domain.Region, res float64) string
	// ResampleToGrid loads a fetched artifact and projects it onto the
	// master grid.
	ResampleToGrid(artifact string, spec domain.GridSpec) (domain.Layer, error)
}

// MultiResampler is the optional upgrade for adapters whose artifact
// expands into several named layers on the master grid. The harmonizer
// prefers it over ResampleToGrid when present.
type MultiResampler interface {
	ResampleAllToGrid(artifact string, spec domain.GridSpec) ([]domain.Layer, error)
}

// NoDataFiller is the optional interface for adapters whose empty
// rendition is not a single zero band: the vector adapter fills its
// distance fields with the sentinel maximum, the embedding adapter keeps
// its band count. Without it the harmonizer substitutes one zero band
// named after the provider.
type NoDataFiller interface {
	NoDataLayers(spec domain.GridSpec) []domain.Layer
}

// Key hashes the identifying parts of a request into a stable cache key.
// Any changed component (provider, a region bound, resolution, or an extra
// parameter such as the dataset year) produces a different key.
func Key(provider string, region domain.Region, res float64, extra ...string) string {
	parts := append([]string{provider, region.Key(), fmt.Sprintf("%g", res)}, extra...)
	sum := sha256.Sum256([]byte(strings.Join(parts, "_")))
	return hex.EncodeToString(sum[:])[:16]
}
