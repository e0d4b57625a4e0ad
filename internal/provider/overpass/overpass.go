// Package overpass fetches vector infrastructure from Overpass API
// endpoints and rasterizes it onto master grids as distance fields,
// masks, and a categorical land-use layer.
package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/couchcryptid/terrain-fusion/internal/cache"
	"github.com/couchcryptid/terrain-fusion/internal/domain"
	"github.com/couchcryptid/terrain-fusion/internal/httputil"
	"github.com/couchcryptid/terrain-fusion/internal/provider"
)

// queryTags are the five feature categories selected from the source, in
// query order.
var queryTags = [...]string{"highway", "waterway", "building", "landuse", "natural"}

// Adapter fetches vector features for a region, rotating across the
// configured endpoints when one exhausts its retry budget. The raw JSON
// response is the cached artifact; rasterization happens at resample
// time against whatever grid the caller supplies.
type Adapter struct {
	endpoints []string
	ttlDays   int
	client    *httputil.Client
	store     *cache.Store
	logger    *slog.Logger
}

var (
	_ provider.Adapter        = (*Adapter)(nil)
	_ provider.MultiResampler = (*Adapter)(nil)
	_ provider.NoDataFiller   = (*Adapter)(nil)
)

// New creates a vector adapter querying the given interpreter endpoints.
// Cached payloads live for ttlDays.
func New(endpoints []string, ttlDays int, client *httputil.Client, store *cache.Store, logger *slog.Logger) *Adapter {
	return &Adapter{
		endpoints: append([]string(nil), endpoints...),
		ttlDays:   ttlDays,
		client:    client,
		store:     store,
		logger:    logger,
	}
}

// Name returns the provider name.
func (a *Adapter) Name() string { return provider.NameVector }

// ValidateCredentials always reports true; the interpreters are public.
func (a *Adapter) ValidateCredentials() bool { return true }

// CacheKey ignores resolution: the raw vector payload depends only on
// the bounding box, and rasterization picks up the resolution later.
func (a *Adapter) CacheKey(region domain.Region, _ float64) string {
	return provider.Key(provider.NameVector, region, 0)
}

// Fetch returns the raw JSON artifact for the region. A well-formed
// response with no features is NoData and is not cached, so absence is
// re-checked on the next request.
func (a *Adapter) Fetch(ctx context.Context, region domain.Region, res float64) domain.FetchResult {
	key := a.CacheKey(region, res)
	if path, ok := a.store.Get(a.Name(), key, ".json"); ok {
		a.logger.Debug("vector cache hit", "artifact", path)
		return domain.Succeed(a.Name(), path)
	}

	payload, err := a.query(ctx, region)
	if err != nil {
		return domain.Fail(a.Name(), err)
	}

	features, err := ParseFeatures(payload)
	if err != nil {
		return domain.Fail(a.Name(), fmt.Errorf("overpass response: %w", err))
	}
	if len(features) == 0 {
		a.logger.Info("no vector features in region", "region", region.String())
		return domain.NoData(a.Name())
	}

	path, err := a.store.Put(a.Name(), key, ".json", payload, a.ttlDays, map[string]string{
		"region": region.Key(),
	})
	if err != nil {
		return domain.Fail(a.Name(), err)
	}
	a.logger.Info("vector features fetched", "region", region.String(), "features", len(features))
	return domain.Succeed(a.Name(), path)
}

// ResampleToGrid satisfies the single-layer interface with the road
// distance field; ResampleAllToGrid is the real surface.
func (a *Adapter) ResampleToGrid(artifact string, spec domain.GridSpec) (domain.Layer, error) {
	layers, err := a.ResampleAllToGrid(artifact, spec)
	if err != nil {
		return domain.Layer{}, err
	}
	return layers[0], nil
}

// ResampleAllToGrid rasterizes the cached payload straight onto the
// master grid. Vector data has no native resolution, so there is no
// intermediate raster to resample through.
func (a *Adapter) ResampleAllToGrid(artifact string, spec domain.GridSpec) ([]domain.Layer, error) {
	payload, err := os.ReadFile(artifact)
	if err != nil {
		return nil, domain.Classify(domain.KindCacheCorrupt, "overpass.resample", err)
	}
	features, err := ParseFeatures(payload)
	if err != nil {
		return nil, domain.Classify(domain.KindCacheCorrupt, "overpass.resample", err)
	}
	return Rasterize(features, spec, DefaultMaxDistance), nil
}

// NoDataLayers rasterizes an empty feature set: distance fields at the
// sentinel maximum, masks and landuse zero. An ocean region reads the
// same as one whose features are merely far away.
func (a *Adapter) NoDataLayers(spec domain.GridSpec) []domain.Layer {
	return Rasterize(nil, spec, DefaultMaxDistance)
}

// query posts the QL statement to each endpoint in turn. An endpoint
// that exhausts its retry budget rotates to the next; the last error
// surfaces when every endpoint fails.
func (a *Adapter) query(ctx context.Context, region domain.Region) ([]byte, error) {
	if len(a.endpoints) == 0 {
		return nil, fmt.Errorf("no overpass endpoints configured")
	}
	form := "data=" + url.QueryEscape(buildQuery(region))

	var lastErr error
	for _, endpoint := range a.endpoints {
		payload, err := a.post(ctx, endpoint, form)
		if err == nil {
			return payload, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, lastErr
		}
		a.logger.Warn("overpass endpoint failed, rotating", "endpoint", endpoint, "error", err)
	}
	return nil, fmt.Errorf("all overpass endpoints failed: %w", lastErr)
}

func (a *Adapter) post(ctx context.Context, endpoint, form string) ([]byte, error) {
	build := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}

	resp, err := a.client.Do(ctx, build)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("overpass: status %d from %s", resp.StatusCode, endpoint)
	}
	return io.ReadAll(resp.Body)
}

// buildQuery returns the Overpass QL statement for the region: the five
// categories as ways and relations with inline geometry, bbox-scoped.
func buildQuery(region domain.Region) string {
	bbox := fmt.Sprintf("%.6f,%.6f,%.6f,%.6f",
		region.LatMin(), region.LonMin(), region.LatMax(), region.LonMax())

	var b strings.Builder
	b.WriteString("[out:json][timeout:60];\n(\n")
	for _, tag := range queryTags {
		fmt.Fprintf(&b, "  way[%q](%s);\n", tag, bbox)
		fmt.Fprintf(&b, "  relation[%q](%s);\n", tag, bbox)
	}
	b.WriteString(");\nout geom;\n")
	return b.String()
}

// --- parsing ---

// Kind buckets a feature for rasterization.
type Kind int

const (
	KindRoad Kind = iota
	KindWater
	KindBuilding
	KindLanduse
)

// Vertex is one WGS84 path point.
type Vertex struct {
	Lat float64
	Lon float64
}

// Feature is one parsed way or relation member: a vertex path with the
// rasterization-relevant attributes already extracted from its tags.
type Feature struct {
	Kind   Kind
	Value  string  // categorical value feeding the landuse layer
	Height float64 // building height in meters
	Points []Vertex
}

// Closed reports whether the path returns to its first vertex.
func (f Feature) Closed() bool {
	return len(f.Points) >= 4 && f.Points[0] == f.Points[len(f.Points)-1]
}

type elementGeometry struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type overpassMember struct {
	Role     string            `json:"role"`
	Geometry []elementGeometry `json:"geometry"`
}

type overpassElement struct {
	Type     string            `json:"type"`
	ID       int64             `json:"id"`
	Tags     map[string]string `json:"tags"`
	Geometry []elementGeometry `json:"geometry"`
	Members  []overpassMember  `json:"members"`
}

type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

// ParseFeatures decodes an Overpass JSON payload into rasterizable
// features. Ways contribute their own geometry; relations contribute one
// feature per member ring, each carrying the relation's tags.
func ParseFeatures(payload []byte) ([]Feature, error) {
	var resp overpassResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, err
	}

	var features []Feature
	for _, el := range resp.Elements {
		kind, value, height, ok := classify(el.Tags)
		if !ok {
			continue
		}
		switch el.Type {
		case "way":
			if f, ok := makeFeature(kind, value, height, el.Geometry); ok {
				features = append(features, f)
			}
		case "relation":
			for _, m := range el.Members {
				if f, ok := makeFeature(kind, value, height, m.Geometry); ok {
					features = append(features, f)
				}
			}
		}
	}
	return features, nil
}

func makeFeature(kind Kind, value string, height float64, geom []elementGeometry) (Feature, bool) {
	if len(geom) < 2 {
		return Feature{}, false
	}
	pts := make([]Vertex, len(geom))
	for i, g := range geom {
		pts[i] = Vertex{Lat: g.Lat, Lon: g.Lon}
	}
	return Feature{Kind: kind, Value: value, Height: height, Points: pts}, true
}

// classify derives the rasterization bucket from a tag map. Buildings win
// over the other tags on the same element; water covers both waterway
// lines and natural=water polygons and also feeds the landuse layer.
func classify(tags map[string]string) (kind Kind, value string, height float64, ok bool) {
	switch {
	case tags["building"] != "":
		return KindBuilding, "", buildingHeight(tags), true
	case tags["waterway"] != "" || tags["natural"] == "water":
		return KindWater, "water", 0, true
	case tags["highway"] != "":
		return KindRoad, "", 0, true
	case tags["landuse"] != "":
		return KindLanduse, tags["landuse"], 0, true
	case tags["natural"] != "":
		return KindLanduse, tags["natural"], 0, true
	}
	return 0, "", 0, false
}

// metersPerLevel approximates storey height when only building:levels is
// tagged.
const metersPerLevel = 3.0

// buildingHeight reads the height tag (meters, optional unit suffix) or
// falls back to building:levels. Untagged buildings count one storey.
func buildingHeight(tags map[string]string) float64 {
	if h := tags["height"]; h != "" {
		h = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(h), "m"))
		if v, err := strconv.ParseFloat(h, 64); err == nil && v > 0 {
			return v
		}
	}
	if l := tags["building:levels"]; l != "" {
		if v, err := strconv.ParseFloat(l, 64); err == nil && v > 0 {
			return v * metersPerLevel
		}
	}
	return metersPerLevel
}
