// Package cache persists fetched provider artifacts on disk with a
// schema-versioned JSON metadata index and per-entry TTLs.
package cache

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/couchcryptid/terrain-fusion/internal/domain"
	"github.com/couchcryptid/terrain-fusion/internal/observability"
	"github.com/couchcryptid/terrain-fusion/internal/raster"
)

// schemaVersion is the index format written by this package. Version 1
// indexes (no ttl_days) are migrated on load; later versions are refused.
const schemaVersion = 2

const indexName = "index.json"

// Entry records the metadata for one cached artifact. The index key is the
// artifact path relative to the cache root.
type Entry struct {
	Created  time.Time         `json:"created"`
	TTLDays  int               `json:"ttl_days"`
	Provider string            `json:"provider"`
	Params   map[string]string `json:"params,omitempty"`
}

type indexFile struct {
	SchemaVersion int              `json:"schema_version"`
	Entries       map[string]Entry `json:"entries"`
}

// DefaultTTLDays returns the retention default for a provider's artifacts.
// Elevation never changes, so it never expires. Annual embeddings are kept
// for a year; everything else gets 30 days.
func DefaultTTLDays(provider string) int {
	switch provider {
	case "elevation":
		return -1
	case "embedding":
		return 365
	default:
		return 30
	}
}

// Store is a disk-backed artifact cache rooted at a single directory.
// Artifacts live at <root>/<provider>/<key><ext>; their metadata lives in
// <root>/index.json. All writes are temp-file + rename.
type Store struct {
	root    string
	logger  *slog.Logger
	metrics *observability.Metrics

	mu    sync.Mutex
	index indexFile
}

// NewStore opens (or initializes) the cache rooted at dir, migrating a
// version-1 index in place when one is found.
func NewStore(dir string, logger *slog.Logger, metrics *observability.Metrics) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}

	s := &Store{
		root:    dir,
		logger:  logger,
		metrics: metrics,
		index:   indexFile{SchemaVersion: schemaVersion, Entries: map[string]Entry{}},
	}

	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

// Root returns the cache root directory.
func (s *Store) Root() string {
	return s.root
}

// Len returns the number of indexed artifacts.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index.Entries)
}

// Get returns the absolute artifact path for (provider, key, ext) when a
// live entry exists. Expired or corrupt entries are removed, artifact file
// included, and reported as a miss.
func (s *Store) Get(provider, key, ext string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel := relPath(provider, key, ext)
	entry, ok := s.index.Entries[rel]
	if !ok {
		s.metrics.CacheLookups.WithLabelValues(provider, "miss").Inc()
		return "", false
	}

	if expired(entry, domain.Clock().Now()) {
		s.logger.Info("cache entry expired", "provider", provider, "artifact", rel)
		s.removeLocked(rel)
		s.metrics.CacheLookups.WithLabelValues(provider, "expired").Inc()
		return "", false
	}

	full := filepath.Join(s.root, rel)
	if err := raster.Probe(full); err != nil {
		s.logger.Warn("cache artifact corrupt, removing", "provider", provider, "artifact", rel, "error", err)
		s.removeLocked(rel)
		s.metrics.CacheLookups.WithLabelValues(provider, "corrupt").Inc()
		return "", false
	}

	s.metrics.CacheLookups.WithLabelValues(provider, "hit").Inc()
	return full, true
}

// Put stores artifact bytes under (provider, key, ext) and records its
// metadata. A ttlDays of -1 never expires. Returns the absolute path.
func (s *Store) Put(provider, key, ext string, data []byte, ttlDays int, params map[string]string) (string, error) {
	rel := relPath(provider, key, ext)
	full := filepath.Join(s.root, rel)

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create provider dir: %w", err)
	}
	if err := writeFileAtomic(full, data); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.index.Entries[rel] = Entry{
		Created:  domain.Clock().Now().UTC(),
		TTLDays:  ttlDays,
		Provider: provider,
		Params:   params,
	}
	if err := s.saveIndexLocked(); err != nil {
		return "", err
	}

	s.metrics.CacheWrites.WithLabelValues(provider).Inc()
	return full, nil
}

// Invalidate removes the entry and artifact for (provider, key, ext).
// Removing an absent entry is a no-op.
func (s *Store) Invalidate(provider, key, ext string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel := relPath(provider, key, ext)
	if _, ok := s.index.Entries[rel]; !ok {
		return nil
	}
	s.removeLocked(rel)
	return s.saveIndexLocked()
}

// ClearStale removes every expired entry and its artifact, returning the
// number removed.
func (s *Store) ClearStale() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := domain.Clock().Now()
	removed := 0
	for rel, entry := range s.index.Entries {
		if expired(entry, now) {
			s.removeLocked(rel)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.saveIndexLocked()
}

// Check verifies the index against the filesystem and returns a description
// of every problem found: indexed artifacts that are missing or fail the
// integrity probe, and files on disk that no index entry claims.
func (s *Store) Check() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var problems []string
	for rel := range s.index.Entries {
		if err := raster.Probe(filepath.Join(s.root, rel)); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", rel, err))
		}
	}

	filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error { //nolint:errcheck // walk errors surface per entry
		if err != nil || d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil || rel == indexName || filepath.Ext(rel) == ".tmp" {
			return nil
		}
		if _, ok := s.index.Entries[filepath.ToSlash(rel)]; !ok {
			problems = append(problems, fmt.Sprintf("%s: not in index", filepath.ToSlash(rel)))
		}
		return nil
	})

	return problems
}

// --- internals ---

func relPath(provider, key, ext string) string {
	return provider + "/" + key + ext
}

func expired(e Entry, now time.Time) bool {
	if e.TTLDays < 0 {
		return false
	}
	return now.After(e.Created.Add(time.Duration(e.TTLDays) * 24 * time.Hour))
}

// removeLocked deletes the artifact file and drops the index row. The caller
// holds the mutex and is responsible for persisting the index.
func (s *Store) removeLocked(rel string) {
	if err := os.Remove(filepath.Join(s.root, rel)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("remove cache artifact failed", "artifact", rel, "error", err)
	}
	delete(s.index.Entries, rel)
	s.metrics.CacheEvictions.Inc()
}

func (s *Store) loadIndex() error {
	path := filepath.Join(s.root, indexName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s.saveIndexLocked()
	}
	if err != nil {
		return fmt.Errorf("read cache index: %w", err)
	}

	var version struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &version); err != nil {
		return domain.Classify(domain.KindCacheCorrupt, "cache.load", err)
	}

	switch version.SchemaVersion {
	case schemaVersion:
		var idx indexFile
		if err := json.Unmarshal(data, &idx); err != nil {
			return domain.Classify(domain.KindCacheCorrupt, "cache.load", err)
		}
		if idx.Entries == nil {
			idx.Entries = map[string]Entry{}
		}
		s.index = idx
		return nil
	case 1:
		return s.migrateV1(data)
	default:
		return fmt.Errorf("cache index schema version %d is not supported (max %d)", version.SchemaVersion, schemaVersion)
	}
}

// migrateV1 upgrades a version-1 index, which predates ttl_days, filling the
// missing TTL from the provider default and rewriting the file at version 2.
func (s *Store) migrateV1(data []byte) error {
	var old struct {
		Entries map[string]struct {
			Created  time.Time         `json:"created"`
			TTLDays  *int              `json:"ttl_days"`
			Provider string            `json:"provider"`
			Params   map[string]string `json:"params,omitempty"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(data, &old); err != nil {
		return domain.Classify(domain.KindCacheCorrupt, "cache.migrate", err)
	}

	entries := make(map[string]Entry, len(old.Entries))
	for rel, e := range old.Entries {
		ttl := DefaultTTLDays(e.Provider)
		if e.TTLDays != nil {
			ttl = *e.TTLDays
		}
		entries[rel] = Entry{
			Created:  e.Created,
			TTLDays:  ttl,
			Provider: e.Provider,
			Params:   e.Params,
		}
	}

	s.index = indexFile{SchemaVersion: schemaVersion, Entries: entries}
	if err := s.saveIndexLocked(); err != nil {
		return err
	}

	s.logger.Info("cache index migrated", "from_version", 1, "to_version", schemaVersion, "entries", len(entries))
	return nil
}

func (s *Store) saveIndexLocked() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache index: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.root, indexName), data); err != nil {
		return fmt.Errorf("write cache index: %w", err)
	}
	return nil
}

// writeFileAtomic writes data to a sibling temp file and renames it into
// place so readers never observe a partial artifact.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) //nolint:errcheck // best-effort cleanup
		return err
	}
	return nil
}
