// Package elevation fetches digital elevation data as gzipped one-degree
// HGT tiles from an SRTM-layout endpoint, mosaics the tiles covering a
// region, and resamples the mosaic onto UTM target grids.
package elevation

import (
	"compress/gzip"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strings"

	"github.com/couchcryptid/terrain-fusion/internal/cache"
	"github.com/couchcryptid/terrain-fusion/internal/domain"
	"github.com/couchcryptid/terrain-fusion/internal/httputil"
	"github.com/couchcryptid/terrain-fusion/internal/provider"
	"github.com/couchcryptid/terrain-fusion/internal/raster"
)

// hgtVoid is the in-band no-data sample value of the HGT format.
const hgtVoid = -32768

// Adapter fetches elevation tiles over HTTP and caches both raw tiles and
// region mosaics.
type Adapter struct {
	baseURL string
	apiKey  string
	client  *httputil.Client
	store   *cache.Store
	logger  *slog.Logger
}

var (
	_ provider.Adapter      = (*Adapter)(nil)
	_ provider.NoDataFiller = (*Adapter)(nil)
)

// New creates an elevation adapter. The API key is optional; public tile
// endpoints need none.
func New(baseURL, apiKey string, client *httputil.Client, store *cache.Store, logger *slog.Logger) *Adapter {
	return &Adapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
		store:   store,
		logger:  logger,
	}
}

// Name returns the provider name.
func (a *Adapter) Name() string { return provider.NameElevation }

// ValidateCredentials always succeeds: the tile endpoint is public.
func (a *Adapter) ValidateCredentials() bool { return true }

// CacheKey returns the mosaic cache key for a request.
func (a *Adapter) CacheKey(region domain.Region, res float64) string {
	return provider.Key(provider.NameElevation, region, res)
}

// Fetch returns the mosaic artifact for the region, building it from
// one-degree tiles on a cache miss. Tiles the endpoint does not have
// (ocean) contribute voids; a region with no tiles at all is NoData.
func (a *Adapter) Fetch(ctx context.Context, region domain.Region, res float64) domain.FetchResult {
	key := a.CacheKey(region, res)
	if path, ok := a.store.Get(a.Name(), key, ".npz"); ok {
		a.logger.Debug("elevation mosaic cache hit", "artifact", path)
		return domain.Succeed(a.Name(), path)
	}

	ids := tilesCovering(region)
	tiles := make(map[tileID]*raster.Raster, len(ids))
	for _, id := range ids {
		tile, err := a.fetchTile(ctx, id)
		if err != nil {
			return domain.Fail(a.Name(), err)
		}
		if tile != nil {
			tiles[id] = tile
		}
	}
	if len(tiles) == 0 {
		a.logger.Info("no elevation coverage", "region", region.String())
		return domain.NoData(a.Name())
	}

	mosaic, err := mosaicTiles(region, tiles)
	if err != nil {
		return domain.Fail(a.Name(), err)
	}
	data, err := raster.EncodeNPZ(mosaic)
	if err != nil {
		return domain.Fail(a.Name(), err)
	}

	path, err := a.store.Put(a.Name(), key, ".npz", data, cache.DefaultTTLDays(a.Name()), map[string]string{
		"region": region.Key(),
		"res":    fmt.Sprintf("%g", res),
	})
	if err != nil {
		return domain.Fail(a.Name(), err)
	}

	a.logger.Info("elevation mosaic built",
		"tiles", len(tiles), "rows", mosaic.Rows, "cols", mosaic.Cols, "artifact", path)
	return domain.Succeed(a.Name(), path)
}

// ResampleToGrid projects the mosaic onto the master grid with bilinear
// interpolation. Void cells stay void rather than being interpolated across.
func (a *Adapter) ResampleToGrid(artifact string, spec domain.GridSpec) (domain.Layer, error) {
	r, err := raster.LoadNPZ(artifact)
	if err != nil {
		return domain.Layer{}, domain.Classify(domain.KindCacheCorrupt, "elevation.resample", err)
	}
	return r.ToLayer("elevation", spec, raster.Bilinear), nil
}

// NoDataLayers returns the zero elevation layer substituted when the
// region has no coverage.
func (a *Adapter) NoDataLayers(spec domain.GridSpec) []domain.Layer {
	return []domain.Layer{domain.NewLayerFor("elevation", spec)}
}

// --- tiles ---

// tileID names a one-degree tile by its southwest corner.
type tileID struct {
	Lat int
	Lon int
}

// Name returns the SRTM tile name, e.g. N44W094 or S34E018.
func (id tileID) Name() string {
	latLetter, lat := "N", id.Lat
	if lat < 0 {
		latLetter, lat = "S", -lat
	}
	lonLetter, lon := "E", id.Lon
	if lon < 0 {
		lonLetter, lon = "W", -lon
	}
	return fmt.Sprintf("%s%02d%s%03d", latLetter, lat, lonLetter, lon)
}

// Path returns the tile's URL path in the skadi layout: {N44}/{N44W094}.hgt.gz.
func (id tileID) Path() string {
	name := id.Name()
	return name[:3] + "/" + name + ".hgt.gz"
}

// tilesCovering lists the one-degree tiles intersecting the region.
func tilesCovering(region domain.Region) []tileID {
	lat0 := clamp(int(math.Floor(region.LatMin())), -90, 89)
	lat1 := clamp(int(math.Floor(region.LatMax())), -90, 89)
	lon0 := clamp(int(math.Floor(region.LonMin())), -180, 179)
	lon1 := clamp(int(math.Floor(region.LonMax())), -180, 179)

	ids := make([]tileID, 0, (lat1-lat0+1)*(lon1-lon0+1))
	for lat := lat0; lat <= lat1; lat++ {
		for lon := lon0; lon <= lon1; lon++ {
			ids = append(ids, tileID{Lat: lat, Lon: lon})
		}
	}
	return ids
}

// fetchTile returns the decoded tile, consulting the tile cache first.
// A nil tile with nil error means the endpoint has no data there.
func (a *Adapter) fetchTile(ctx context.Context, id tileID) (*raster.Raster, error) {
	tileKey := "tile_" + id.Name()
	if path, ok := a.store.Get(a.Name(), tileKey, ".hgt"); ok {
		raw, err := os.ReadFile(path)
		if err == nil {
			if tile, decErr := decodeHGT(id, raw); decErr == nil {
				return tile, nil
			}
		}
		// Unreadable or undecodable cached tile: drop it and refetch.
		if err := a.store.Invalidate(a.Name(), tileKey, ".hgt"); err != nil {
			a.logger.Warn("invalidate tile failed", "tile", id.Name(), "error", err)
		}
	}

	url := a.baseURL + "/" + id.Path()
	resp, err := a.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		if a.apiKey != "" {
			req.Header.Set("X-API-Key", a.apiKey)
		}
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		a.logger.Info("elevation tile not present", "tile", id.Name())
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.Classifyf(domain.KindNetworkTransient, "elevation.tile",
			"status %d for %s", resp.StatusCode, id.Name())
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tile %s: %w", id.Name(), err)
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("tile %s: %w", id.Name(), err)
	}

	tile, err := decodeHGT(id, raw)
	if err != nil {
		return nil, err
	}

	if _, err := a.store.Put(a.Name(), tileKey, ".hgt", raw, -1, map[string]string{"tile": id.Name()}); err != nil {
		a.logger.Warn("cache tile write failed", "tile", id.Name(), "error", err)
	}
	return tile, nil
}

// decodeHGT parses raw big-endian int16 samples into a tile raster. HGT
// grids are square and point-registered with both degree edges included, so
// a 3601-sample side spans exactly one degree; expanding the envelope by
// half a sample turns the points into area-cell centers.
func decodeHGT(id tileID, raw []byte) (*raster.Raster, error) {
	if len(raw) == 0 || len(raw)%2 != 0 {
		return nil, fmt.Errorf("tile %s: %d bytes is not a sample array", id.Name(), len(raw))
	}
	n := len(raw) / 2
	side := int(math.Round(math.Sqrt(float64(n))))
	if side < 2 || side*side != n {
		return nil, fmt.Errorf("tile %s: %d samples do not form a square grid", id.Name(), n)
	}

	half := 0.5 / float64(side-1)
	west, south := float64(id.Lon), float64(id.Lat)
	tile, err := raster.New(1, side, side, west-half, south-half, west+1+half, south+1+half)
	if err != nil {
		return nil, err
	}

	for i := 0; i < n; i++ {
		v := int16(binary.BigEndian.Uint16(raw[2*i:]))
		if v == hgtVoid {
			tile.Data[i] = math.NaN()
		} else {
			tile.Data[i] = float64(v)
		}
	}
	return tile, nil
}

// mosaicTiles crops the decoded tiles to the region envelope, padded by two
// samples so bilinear resampling at the region edge has full support.
func mosaicTiles(region domain.Region, tiles map[tileID]*raster.Raster) (*raster.Raster, error) {
	cs := 1.0
	for _, t := range tiles {
		if w := t.CellWidth(); w < cs {
			cs = w
		}
	}

	margin := 2 * cs
	west := region.LonMin() - margin
	east := region.LonMax() + margin
	south := region.LatMin() - margin
	north := region.LatMax() + margin

	cols := int(math.Ceil((east - west) / cs))
	rows := int(math.Ceil((north - south) / cs))

	m, err := raster.New(1, rows, cols, west, south, east, north)
	if err != nil {
		return nil, err
	}
	for row := 0; row < rows; row++ {
		lat := north - (float64(row)+0.5)*m.CellHeight()
		for col := 0; col < cols; col++ {
			lon := west + (float64(col)+0.5)*m.CellWidth()
			m.Set(0, row, col, sampleTiles(tiles, lat, lon))
		}
	}
	return m, nil
}

func sampleTiles(tiles map[tileID]*raster.Raster, lat, lon float64) float64 {
	id := tileID{Lat: int(math.Floor(lat)), Lon: int(math.Floor(lon))}
	tile, ok := tiles[id]
	if !ok {
		return math.NaN()
	}
	return tile.Sample(0, lat, lon, raster.Nearest)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
