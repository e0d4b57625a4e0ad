// Package embedding fetches 64-band annual satellite embeddings from a
// year-versioned REST dataset. Small regions download directly as NPY;
// large ones go through an asynchronous export job that is polled to
// completion.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/terrain-fusion/internal/cache"
	"github.com/couchcryptid/terrain-fusion/internal/domain"
	"github.com/couchcryptid/terrain-fusion/internal/httputil"
	"github.com/couchcryptid/terrain-fusion/internal/provider"
	"github.com/couchcryptid/terrain-fusion/internal/raster"
)

const (
	// embeddingBands is the fixed band count of the annual dataset.
	embeddingBands = 64
	// directAreaLimitKm2 is the largest region served by the direct
	// download endpoint; anything bigger goes through an export job.
	directAreaLimitKm2 = 10.0
)

// Export job states reported by the service.
const (
	statePending   = "PENDING"
	stateRunning   = "RUNNING"
	stateSucceeded = "SUCCEEDED"
	stateFailed    = "FAILED"
	stateCancelled = "CANCELLED"
)

type initState int

const (
	initPending initState = iota
	initReady
	initFailed
)

// Options configures the embedding adapter.
type Options struct {
	BaseURL  string
	Dataset  string
	Year     int
	Token    string
	Bilinear bool

	// PollInterval is the first wait between export polls; it doubles up
	// to MaxPollWait. Timeout bounds the whole export wait, after which
	// the job is cancelled.
	PollInterval time.Duration
	MaxPollWait  time.Duration
	Timeout      time.Duration
}

// Adapter fetches annual embeddings. The first Fetch pings the dataset;
// a failed ping is sticky and every later Fetch fails without a request.
type Adapter struct {
	opts   Options
	client *httputil.Client
	store  *cache.Store
	logger *slog.Logger

	mu        sync.Mutex
	state     initState
	stickyErr error
}

var (
	_ provider.Adapter      = (*Adapter)(nil)
	_ provider.NoDataFiller = (*Adapter)(nil)
)

// New creates an embedding adapter. Zero poll durations get production
// defaults.
func New(opts Options, client *httputil.Client, store *cache.Store, logger *slog.Logger) *Adapter {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.MaxPollWait <= 0 {
		opts.MaxPollWait = time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Minute
	}
	return &Adapter{opts: opts, client: client, store: store, logger: logger}
}

// Name returns the provider name.
func (a *Adapter) Name() string { return provider.NameEmbedding }

// ValidateCredentials reports whether a token is configured.
func (a *Adapter) ValidateCredentials() bool { return a.opts.Token != "" }

// CacheKey returns the artifact key; the dataset year is part of it.
func (a *Adapter) CacheKey(region domain.Region, res float64) string {
	return provider.Key(provider.NameEmbedding, region, res, strconv.Itoa(a.opts.Year))
}

// Fetch returns the embedding artifact for the region, downloading directly
// for small regions and exporting for large ones.
func (a *Adapter) Fetch(ctx context.Context, region domain.Region, res float64) domain.FetchResult {
	key := a.CacheKey(region, res)
	if path, ok := a.store.Get(a.Name(), key, ".npz"); ok {
		a.logger.Debug("embedding cache hit", "artifact", path)
		return domain.Succeed(a.Name(), path)
	}

	if err := a.ensureInitialized(ctx); err != nil {
		return domain.Fail(a.Name(), err)
	}

	var payload []byte
	var err error
	if region.AreaKm2() <= directAreaLimitKm2 {
		payload, err = a.fetchDirect(ctx, region, res)
		if domain.IsKind(err, domain.KindPayloadTooLarge) {
			a.logger.Info("direct download too large, falling back to export", "region", region.String())
			payload, err = a.fetchExport(ctx, region, res)
		}
	} else {
		payload, err = a.fetchExport(ctx, region, res)
	}
	if err != nil {
		a.noteAuthFailure(err)
		return domain.Fail(a.Name(), err)
	}

	artifact, err := a.buildArtifact(region, res, payload)
	if err != nil {
		return domain.Fail(a.Name(), err)
	}

	path, err := a.store.Put(a.Name(), key, ".npz", artifact, cache.DefaultTTLDays(a.Name()), map[string]string{
		"region": region.Key(),
		"res":    fmt.Sprintf("%g", res),
		"year":   strconv.Itoa(a.opts.Year),
	})
	if err != nil {
		return domain.Fail(a.Name(), err)
	}
	return domain.Succeed(a.Name(), path)
}

// ResampleToGrid projects the artifact onto the master grid. Embeddings are
// unit vectors in a learned space, so nearest-neighbor is the default;
// bilinear is an opt-in.
func (a *Adapter) ResampleToGrid(artifact string, spec domain.GridSpec) (domain.Layer, error) {
	r, err := raster.LoadNPZ(artifact)
	if err != nil {
		return domain.Layer{}, domain.Classify(domain.KindCacheCorrupt, "embedding.resample", err)
	}
	method := raster.Nearest
	if a.opts.Bilinear {
		method = raster.Bilinear
	}
	return r.ToLayer("embedding", spec, method), nil
}

// NoDataLayers returns a zero layer with the dataset's full band count.
func (a *Adapter) NoDataLayers(spec domain.GridSpec) []domain.Layer {
	return []domain.Layer{domain.NewLayer("embedding", embeddingBands, spec.Rows, spec.Cols)}
}

// --- initialization ---

// ensureInitialized pings the dataset exactly once per adapter instance.
// Both success and failure are remembered; a failure short-circuits every
// later call.
func (a *Adapter) ensureInitialized(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.state {
	case initReady:
		return nil
	case initFailed:
		return a.stickyErr
	}

	pingURL := fmt.Sprintf("%s/datasets/%s/years/%d",
		a.opts.BaseURL, url.PathEscape(a.opts.Dataset), a.opts.Year)
	resp, err := a.client.Do(ctx, a.request(http.MethodGet, pingURL, nil))
	if err != nil {
		a.state = initFailed
		a.stickyErr = fmt.Errorf("dataset init: %w", err)
		a.logger.Error("embedding init failed", "dataset", a.opts.Dataset, "year", a.opts.Year, "error", err)
		return a.stickyErr
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		a.state = initFailed
		a.stickyErr = fmt.Errorf("dataset init: status %d for %s year %d",
			resp.StatusCode, a.opts.Dataset, a.opts.Year)
		a.logger.Error("embedding init failed", "dataset", a.opts.Dataset, "year", a.opts.Year, "status", resp.StatusCode)
		return a.stickyErr
	}

	a.state = initReady
	a.logger.Info("embedding dataset ready", "dataset", a.opts.Dataset, "year", a.opts.Year)
	return nil
}

// noteAuthFailure makes a credential rejection sticky: a bad token will not
// heal between fetches.
func (a *Adapter) noteAuthFailure(err error) {
	if !domain.IsKind(err, domain.KindAuthInvalid) {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != initFailed {
		a.state = initFailed
		a.stickyErr = err
	}
}

// --- transport ---

// request builds a per-attempt request factory with auth headers applied.
func (a *Adapter) request(method, fullURL string, body []byte) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		var r io.Reader
		if body != nil {
			r = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, r)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+a.opts.Token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	}
}

// requestBounds pads the region by two cells so edge samples on the target
// grid have support.
func requestBounds(region domain.Region, res float64) (west, south, east, north float64) {
	margin := 2 * res / 111320.0
	return region.LonMin() - margin, region.LatMin() - margin,
		region.LonMax() + margin, region.LatMax() + margin
}

func boundsQuery(region domain.Region, res float64) url.Values {
	west, south, east, north := requestBounds(region, res)
	v := url.Values{}
	v.Set("west", fmt.Sprintf("%.6f", west))
	v.Set("south", fmt.Sprintf("%.6f", south))
	v.Set("east", fmt.Sprintf("%.6f", east))
	v.Set("north", fmt.Sprintf("%.6f", north))
	v.Set("scale", fmt.Sprintf("%g", res))
	return v
}

// fetchDirect downloads the NPY payload for a small region. A 413 comes
// back classified KindPayloadTooLarge so the caller can fall back to the
// export path.
func (a *Adapter) fetchDirect(ctx context.Context, region domain.Region, res float64) ([]byte, error) {
	directURL := fmt.Sprintf("%s/datasets/%s/years/%d/pixels?%s",
		a.opts.BaseURL, url.PathEscape(a.opts.Dataset), a.opts.Year, boundsQuery(region, res).Encode())

	resp, err := a.client.Do(ctx, a.request(http.MethodGet, directURL, nil))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return io.ReadAll(resp.Body)
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return nil, domain.Classifyf(domain.KindPayloadTooLarge, "embedding.direct",
			"status 413 for %s", region.Key())
	default:
		return nil, fmt.Errorf("embedding direct download: status %d", resp.StatusCode)
	}
}

type exportInfo struct {
	ID          string `json:"id"`
	State       string `json:"state"`
	ArtifactURL string `json:"artifact_url"`
	Error       string `json:"error"`
}

// fetchExport creates an export job, polls it to completion, downloads the
// artifact, and deletes the remote export best-effort.
func (a *Adapter) fetchExport(ctx context.Context, region domain.Region, res float64) ([]byte, error) {
	job, err := a.createExport(ctx, region, res)
	if err != nil {
		return nil, err
	}

	info, err := a.awaitExport(ctx, job)
	if err != nil {
		return nil, err
	}

	payload, err := a.download(ctx, info.ArtifactURL)
	if err != nil {
		return nil, err
	}

	a.deleteExport(job.ID)
	return payload, nil
}

func (a *Adapter) createExport(ctx context.Context, region domain.Region, res float64) (exportInfo, error) {
	west, south, east, north := requestBounds(region, res)
	body, err := json.Marshal(map[string]any{
		"name":  "terrafuse-" + uuid.NewString(),
		"west":  west,
		"south": south,
		"east":  east,
		"north": north,
		"scale": res,
	})
	if err != nil {
		return exportInfo{}, err
	}

	exportURL := fmt.Sprintf("%s/datasets/%s/years/%d/exports",
		a.opts.BaseURL, url.PathEscape(a.opts.Dataset), a.opts.Year)
	resp, err := a.client.Do(ctx, a.request(http.MethodPost, exportURL, body))
	if err != nil {
		return exportInfo{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return exportInfo{}, fmt.Errorf("create export: status %d", resp.StatusCode)
	}

	var job exportInfo
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return exportInfo{}, fmt.Errorf("create export: %w", err)
	}
	if job.ID == "" {
		return exportInfo{}, fmt.Errorf("create export: response carries no job id")
	}

	a.logger.Info("embedding export created", "job", job.ID, "area_km2", region.AreaKm2())
	return job, nil
}

// awaitExport polls the job until it settles. The wait between polls starts
// at PollInterval and doubles up to MaxPollWait; crossing Timeout cancels
// the job and fails.
func (a *Adapter) awaitExport(ctx context.Context, job exportInfo) (exportInfo, error) {
	deadline := domain.Clock().Now().Add(a.opts.Timeout)
	wait := a.opts.PollInterval

	for {
		info, err := a.pollExport(ctx, job.ID)
		if err != nil {
			return exportInfo{}, err
		}

		switch info.State {
		case stateSucceeded:
			if info.ArtifactURL == "" {
				return exportInfo{}, fmt.Errorf("export %s succeeded without an artifact url", job.ID)
			}
			return info, nil
		case stateFailed, stateCancelled:
			return exportInfo{}, fmt.Errorf("export %s %s: %s", job.ID, info.State, info.Error)
		case statePending, stateRunning:
			// Still working.
		default:
			return exportInfo{}, fmt.Errorf("export %s reported unknown state %q", job.ID, info.State)
		}

		if domain.Clock().Now().After(deadline) {
			a.deleteExport(job.ID)
			return exportInfo{}, fmt.Errorf("export %s timed out after %s", job.ID, a.opts.Timeout)
		}
		if !httputil.Sleep(ctx, wait) {
			a.deleteExport(job.ID)
			return exportInfo{}, ctx.Err()
		}
		wait *= 2
		if wait > a.opts.MaxPollWait {
			wait = a.opts.MaxPollWait
		}
	}
}

func (a *Adapter) pollExport(ctx context.Context, id string) (exportInfo, error) {
	pollURL := fmt.Sprintf("%s/exports/%s", a.opts.BaseURL, url.PathEscape(id))
	resp, err := a.client.Do(ctx, a.request(http.MethodGet, pollURL, nil))
	if err != nil {
		return exportInfo{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return exportInfo{}, fmt.Errorf("poll export %s: status %d", id, resp.StatusCode)
	}

	var info exportInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return exportInfo{}, fmt.Errorf("poll export %s: %w", id, err)
	}
	return info, nil
}

func (a *Adapter) download(ctx context.Context, artifactURL string) ([]byte, error) {
	resp, err := a.client.Do(ctx, a.request(http.MethodGet, artifactURL, nil))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download export artifact: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// deleteExport removes the remote export object. Failures are logged and
// never fail the fetch; the payload is already local.
func (a *Adapter) deleteExport(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	deleteURL := fmt.Sprintf("%s/exports/%s", a.opts.BaseURL, url.PathEscape(id))
	resp, err := a.client.Do(ctx, a.request(http.MethodDelete, deleteURL, nil))
	if err != nil {
		a.logger.Warn("delete export failed", "job", id, "error", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		a.logger.Warn("delete export failed", "job", id, "status", resp.StatusCode)
	}
}

// buildArtifact validates the NPY payload and wraps it with the request
// bounds into the cacheable NPZ bundle.
func (a *Adapter) buildArtifact(region domain.Region, res float64, payload []byte) ([]byte, error) {
	bands, rows, cols, data, err := raster.DecodeNPY(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("embedding payload: %w", err)
	}
	if bands != embeddingBands {
		return nil, fmt.Errorf("embedding payload carries %d bands, want %d", bands, embeddingBands)
	}

	west, south, east, north := requestBounds(region, res)
	r, err := raster.New(bands, rows, cols, west, south, east, north)
	if err != nil {
		return nil, err
	}
	r.Data = data
	return raster.EncodeNPZ(r)
}
