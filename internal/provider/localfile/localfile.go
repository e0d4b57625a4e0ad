// Package localfile ingests rasters already on disk: a single file or a
// directory tree of AAIGrid (.asc), NPY (.npy), or bundled NPZ (.npz)
// grids, mosaicked into one artifact for the region. AAIGrid and NPZ
// files carry their own georeferencing; a bare NPY is taken to span the
// requested region exactly.
package localfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/couchcryptid/terrain-fusion/internal/cache"
	"github.com/couchcryptid/terrain-fusion/internal/domain"
	"github.com/couchcryptid/terrain-fusion/internal/provider"
	"github.com/couchcryptid/terrain-fusion/internal/raster"
)

var rasterExts = map[string]bool{".asc": true, ".npy": true, ".npz": true}

// Adapter mosaics local rasters under a configured path. Results are
// cached with the vector-grade TTL; edits to source files within the TTL
// are not detected, so callers changing inputs in place should
// invalidate first.
type Adapter struct {
	path   string
	store  *cache.Store
	logger *slog.Logger
}

var (
	_ provider.Adapter      = (*Adapter)(nil)
	_ provider.NoDataFiller = (*Adapter)(nil)
)

// New creates a local-file adapter rooted at path (file or directory).
func New(path string, store *cache.Store, logger *slog.Logger) *Adapter {
	return &Adapter{path: path, store: store, logger: logger}
}

// Name returns the provider name.
func (a *Adapter) Name() string { return provider.NameLocalFile }

// ValidateCredentials always reports true; local files need none.
func (a *Adapter) ValidateCredentials() bool { return true }

// CacheKey folds the source path into the key alongside region and
// resolution.
func (a *Adapter) CacheKey(region domain.Region, res float64) string {
	return provider.Key(provider.NameLocalFile, region, res, a.path)
}

// Fetch mosaics every discovered raster into one NPZ artifact. A missing
// path or a tree with no raster files is NoData.
func (a *Adapter) Fetch(ctx context.Context, region domain.Region, res float64) domain.FetchResult {
	if err := ctx.Err(); err != nil {
		return domain.Fail(a.Name(), err)
	}

	key := a.CacheKey(region, res)
	if path, ok := a.store.Get(a.Name(), key, ".npz"); ok {
		a.logger.Debug("local raster cache hit", "artifact", path)
		return domain.Succeed(a.Name(), path)
	}

	files, err := a.discover()
	if err != nil {
		return domain.Fail(a.Name(), fmt.Errorf("scan %s: %w", a.path, err))
	}
	if len(files) == 0 {
		a.logger.Info("no local rasters found", "path", a.path)
		return domain.NoData(a.Name())
	}

	sources, err := a.loadSources(files, region)
	if err != nil {
		return domain.Fail(a.Name(), err)
	}

	mosaic, err := mosaicSources(region, sources)
	if err != nil {
		return domain.Fail(a.Name(), err)
	}
	payload, err := raster.EncodeNPZ(mosaic)
	if err != nil {
		return domain.Fail(a.Name(), err)
	}

	path, err := a.store.Put(a.Name(), key, ".npz", payload, cache.DefaultTTLDays(a.Name()), map[string]string{
		"path":   a.path,
		"region": region.Key(),
		"res":    fmt.Sprintf("%g", res),
	})
	if err != nil {
		return domain.Fail(a.Name(), err)
	}
	a.logger.Info("local rasters mosaicked", "path", a.path, "sources", len(sources))
	return domain.Succeed(a.Name(), path)
}

// ResampleToGrid projects the artifact onto the master grid.
func (a *Adapter) ResampleToGrid(artifact string, spec domain.GridSpec) (domain.Layer, error) {
	r, err := raster.LoadNPZ(artifact)
	if err != nil {
		return domain.Layer{}, domain.Classify(domain.KindCacheCorrupt, "localfile.resample", err)
	}
	return r.ToLayer("local", spec, raster.Bilinear), nil
}

// NoDataLayers returns the zero local layer for runs without local files.
func (a *Adapter) NoDataLayers(spec domain.GridSpec) []domain.Layer {
	return []domain.Layer{domain.NewLayerFor("local", spec)}
}

// discover returns the raster files under the configured path, sorted so
// mosaic precedence is stable. A missing path yields no files, not an
// error.
func (a *Adapter) discover() ([]string, error) {
	info, err := os.Stat(a.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		if rasterExts[strings.ToLower(filepath.Ext(a.path))] {
			return []string{a.path}, nil
		}
		return nil, nil
	}

	var files []string
	err = filepath.WalkDir(a.path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && rasterExts[strings.ToLower(filepath.Ext(p))] {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// loadSources decodes each file, dropping unreadable ones and ones whose
// band count disagrees with the first. Every file failing is an error;
// partial input is not.
func (a *Adapter) loadSources(files []string, region domain.Region) ([]*raster.Raster, error) {
	var sources []*raster.Raster
	var firstErr error
	for _, f := range files {
		src, err := a.loadSource(f, region)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("load %s: %w", f, err)
			}
			a.logger.Warn("skipping unreadable local raster", "file", f, "error", err)
			continue
		}
		if len(sources) > 0 && src.Bands != sources[0].Bands {
			a.logger.Warn("skipping local raster with mismatched band count",
				"file", f, "bands", src.Bands, "want", sources[0].Bands)
			continue
		}
		sources = append(sources, src)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no readable local rasters under %s: %w", a.path, firstErr)
	}
	return sources, nil
}

func (a *Adapter) loadSource(path string, region domain.Region) (*raster.Raster, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".asc":
		return raster.LoadASCIIGrid(path)
	case ".npz":
		return raster.LoadNPZ(path)
	case ".npy":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		bands, rows, cols, data, err := raster.DecodeNPY(f)
		if err != nil {
			return nil, err
		}
		r, err := raster.New(bands, rows, cols, region.LonMin(), region.LatMin(), region.LonMax(), region.LatMax())
		if err != nil {
			return nil, err
		}
		r.Data = data
		return r, nil
	}
	return nil, fmt.Errorf("unsupported raster extension %q", filepath.Ext(path))
}

// mosaicSources merges the sources over the region envelope at the finest
// source spacing. Where sources overlap the later file wins; cells no
// source covers stay NaN.
func mosaicSources(region domain.Region, sources []*raster.Raster) (*raster.Raster, error) {
	cs := math.Inf(1)
	for _, s := range sources {
		if w := s.CellWidth(); w < cs {
			cs = w
		}
		if h := s.CellHeight(); h < cs {
			cs = h
		}
	}

	margin := 2 * cs
	west := region.LonMin() - margin
	east := region.LonMax() + margin
	south := region.LatMin() - margin
	north := region.LatMax() + margin

	cols := int(math.Ceil((east - west) / cs))
	rows := int(math.Ceil((north - south) / cs))
	bands := sources[0].Bands

	m, err := raster.New(bands, rows, cols, west, south, east, north)
	if err != nil {
		return nil, err
	}
	for row := 0; row < rows; row++ {
		lat := north - (float64(row)+0.5)*m.CellHeight()
		for col := 0; col < cols; col++ {
			lon := west + (float64(col)+0.5)*m.CellWidth()
			for b := 0; b < bands; b++ {
				m.Set(b, row, col, sampleSources(sources, b, lat, lon))
			}
		}
	}
	return m, nil
}

func sampleSources(sources []*raster.Raster, band int, lat, lon float64) float64 {
	v := math.NaN()
	for _, s := range sources {
		if !s.Contains(lat, lon) {
			continue
		}
		if sv := s.Sample(band, lat, lon, raster.Nearest); !math.IsNaN(sv) {
			v = sv
		}
	}
	return v
}
