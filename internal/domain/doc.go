// Package domain models the core value objects of the terrain fusion
// pipeline: geographic regions, target grids, provider outcomes, and the
// error taxonomy shared by every component.
//
// # Coordinate Conventions
//
// User-facing input is always WGS84 geographic degrees (EPSG:4326), given
// as four bounds:
//
//	lat_min < lat_max, both in [-90, 90]
//	lon_min < lon_max, both in [-180, 180]
//
// All internal distance and area computation happens in UTM meters. The UTM
// zone is selected from the region centroid:
//
//	zone = floor((centroid_lon + 180) / 6) + 1
//	EPSG = 32600 + zone (northern hemisphere) or 32700 + zone (southern)
//
// A region near a zone boundary is projected entirely into its centroid's
// zone; the transverse Mercator series used here stays well under a meter
// of error for the extra half-degree of overhang that allows.
//
// # Grid Conventions
//
// A GridSpec fixes the target raster for one request: origin at the UTM
// southwest corner of the region, square cells of the requested size, and
//
//	rows = ceil(height_meters / cell_size)
//	cols = ceil(width_meters / cell_size)
//
// Layers are stored band-major, then row-major with row 0 at the SOUTHERN
// edge, so (band, row, col) maps to the UTM cell center at
// (origin_x + (col+0.5)*cell, origin_y + (row+0.5)*cell). Source rasters
// decoded from provider formats use the opposite, image-style row order
// (row 0 north); the resampling code owns that flip, nothing else may
// assume an order.
//
// Cells with no source coverage hold NaN rather than an invented value.
// Downstream consumers either mask them (quality scoring) or propagate
// them (terrain derivatives over a void stay void).
//
// # Provider Outcomes
//
// Every provider fetch resolves to a FetchResult: Success with a cached
// artifact path, NoData for a legitimately empty region (open ocean, no
// mapped features), or Failure with a classified reason. Adapters never
// let a transport or remote-service error escape as a raised error; the
// orchestrator and harmonizer rely on that to keep one source's outage
// from aborting the others.
//
// # Error Taxonomy
//
// ClassifiedError tags failures with a Kind so retry and reporting logic
// can dispatch without string matching:
//
//	NetworkTransient  retry with exponential backoff, bounded attempts
//	RateLimited       retry with the longer rate-limit backoff
//	AuthInvalid       single attempt, provider disabled for the request
//	PayloadTooLarge   switch the embedding fetch to the export-job path
//	CacheCorrupt      self-heals: entry dropped, treated as a cache miss
//	NoCoverage        not an error: legitimate absence of data
//	ShapeMismatch     fatal: a layer does not conform to the GridSpec
//
// Only ShapeMismatch and Region validation errors are allowed to surface
// out of the core; both indicate caller or programming bugs, not bad luck
// with a remote service.
package domain
