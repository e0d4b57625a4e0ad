package overpass

import (
	"math"
	"sort"

	"github.com/couchcryptid/terrain-fusion/internal/domain"
	"github.com/couchcryptid/terrain-fusion/internal/raster"
)

// Layer names produced by Rasterize, in output order.
const (
	LayerRoadDistance   = "road_distance"
	LayerWaterDistance  = "water_distance"
	LayerBuildingMask   = "building_mask"
	LayerBuildingHeight = "building_height"
	LayerLanduse        = "landuse"
)

// DefaultMaxDistance is the sentinel written into a distance field whose
// feature mask is empty.
const DefaultMaxDistance = 1e6

// categoryIDs maps landuse/natural tag values to stable layer ids. Zero
// means no coverage; values outside the vocabulary get CategoryOther.
var categoryIDs = map[string]int{
	"forest":      1,
	"wood":        2,
	"grass":       3,
	"grassland":   4,
	"farmland":    5,
	"meadow":      6,
	"residential": 7,
	"commercial":  8,
	"industrial":  9,
	"water":       10,
	"scrub":       11,
	"heath":       12,
	"rock":        13,
	"bare_rock":   14,
	"sand":        15,
}

// CategoryOther is the id for tag values outside the known vocabulary.
const CategoryOther = 16

// CategoryID returns the landuse-layer id for a landuse/natural tag value.
func CategoryID(value string) int {
	if id, ok := categoryIDs[value]; ok {
		return id
	}
	return CategoryOther
}

// Rasterize projects features onto the grid and derives the five vector
// layers: road and water distance fields in meters, building mask and
// height, and the categorical landuse layer. Later features overwrite
// earlier ones where they overlap. maxDistance is the sentinel for a
// distance field with no features at all.
func Rasterize(features []Feature, spec domain.GridSpec, maxDistance float64) []domain.Layer {
	roadMask := make([]bool, spec.Rows*spec.Cols)
	waterMask := make([]bool, spec.Rows*spec.Cols)
	buildingMask := domain.NewLayerFor(LayerBuildingMask, spec)
	buildingHeight := domain.NewLayerFor(LayerBuildingHeight, spec)
	landuse := domain.NewLayerFor(LayerLanduse, spec)

	for _, f := range features {
		path := projectPath(f.Points, spec)
		switch f.Kind {
		case KindRoad:
			walkPath(path, spec, func(r, c int) { roadMask[r*spec.Cols+c] = true })
		case KindWater:
			walkPath(path, spec, func(r, c int) { waterMask[r*spec.Cols+c] = true })
			if f.Closed() {
				fillPolygon(path, spec, func(r, c int) { waterMask[r*spec.Cols+c] = true })
				id := float64(CategoryID(f.Value))
				fillPolygon(path, spec, func(r, c int) { landuse.Set(0, r, c, id) })
			}
		case KindBuilding:
			h := f.Height
			mark := func(r, c int) {
				buildingMask.Set(0, r, c, 1)
				buildingHeight.Set(0, r, c, h)
			}
			// The outline walk keeps footprints smaller than a cell from
			// vanishing; the fill covers the interior.
			walkPath(path, spec, mark)
			if f.Closed() {
				fillPolygon(path, spec, mark)
			}
		case KindLanduse:
			if !f.Closed() {
				continue
			}
			id := float64(CategoryID(f.Value))
			fillPolygon(path, spec, func(r, c int) { landuse.Set(0, r, c, id) })
		}
	}

	return []domain.Layer{
		distanceLayer(LayerRoadDistance, roadMask, spec, maxDistance),
		distanceLayer(LayerWaterDistance, waterMask, spec, maxDistance),
		buildingMask,
		buildingHeight,
		landuse,
	}
}

// distanceLayer converts a feature mask into meters of Euclidean distance
// to the nearest feature, or the sentinel when nothing was rasterized.
func distanceLayer(name string, mask []bool, spec domain.GridSpec, maxDistance float64) domain.Layer {
	layer := domain.NewLayerFor(name, spec)
	cells := raster.DistanceTransform(mask, spec.Rows, spec.Cols)
	for i, d := range cells {
		if d == raster.NoFeature {
			layer.Data[i] = maxDistance
		} else {
			layer.Data[i] = d * spec.CellSize
		}
	}
	return layer
}

// gridPoint is a continuous grid coordinate: integer values sit on cell
// centers, col 0 at the western edge, row 0 at the southern edge.
type gridPoint struct {
	col float64
	row float64
}

func projectPath(points []Vertex, spec domain.GridSpec) []gridPoint {
	path := make([]gridPoint, len(points))
	for i, p := range points {
		x, y := domain.LatLonToUTM(p.Lat, p.Lon, spec.EPSG)
		path[i] = gridPoint{
			col: (x-spec.OriginX)/spec.CellSize - 0.5,
			row: (y-spec.OriginY)/spec.CellSize - 0.5,
		}
	}
	return path
}

// walkPath visits every cell each path segment passes through. Cells
// outside the grid are skipped, not clamped, so off-region geometry
// leaves no trace.
func walkPath(path []gridPoint, spec domain.GridSpec, visit func(r, c int)) {
	mark := func(row, col int) {
		if row >= 0 && row < spec.Rows && col >= 0 && col < spec.Cols {
			visit(row, col)
		}
	}
	for i := 1; i < len(path); i++ {
		walkSegment(path[i-1], path[i], mark)
	}
}

// walkSegment traverses the cells crossed by one segment, a supercover
// variant of Amanatides-Woo: an exact corner crossing also visits the two
// cells adjacent to the corner so the cover stays edge-connected.
func walkSegment(a, b gridPoint, mark func(row, col int)) {
	// Corner coordinates: cell (r, c) spans [c, c+1) x [r, r+1).
	x0, y0 := a.col+0.5, a.row+0.5
	x1, y1 := b.col+0.5, b.row+0.5
	dx, dy := x1-x0, y1-y0

	col, row := int(math.Floor(x0)), int(math.Floor(y0))
	mark(row, col)

	stepC, stepR := sign(dx), sign(dy)
	tMaxX, tMaxY := boundaryT(x0, dx), boundaryT(y0, dy)
	tDeltaX, tDeltaY := invAbs(dx), invAbs(dy)

	for {
		switch {
		case tMaxX < tMaxY:
			if tMaxX > 1 {
				return
			}
			col += stepC
			tMaxX += tDeltaX
		case tMaxY < tMaxX:
			if tMaxY > 1 {
				return
			}
			row += stepR
			tMaxY += tDeltaY
		default:
			if tMaxX > 1 {
				return
			}
			mark(row, col+stepC)
			mark(row+stepR, col)
			col += stepC
			row += stepR
			tMaxX += tDeltaX
			tMaxY += tDeltaY
		}
		mark(row, col)
	}
}

// boundaryT returns the parameter t at which the segment first crosses a
// cell boundary along one axis, +Inf when it never moves on that axis.
func boundaryT(x, d float64) float64 {
	switch {
	case d > 0:
		return (math.Floor(x) + 1 - x) / d
	case d < 0:
		return (x - math.Floor(x)) / -d
	}
	return math.Inf(1)
}

func invAbs(d float64) float64 {
	if d == 0 {
		return math.Inf(1)
	}
	return 1 / math.Abs(d)
}

func sign(d float64) int {
	switch {
	case d > 0:
		return 1
	case d < 0:
		return -1
	}
	return 0
}

// fillPolygon marks every cell whose center lies inside the ring under
// the even-odd rule. The last vertex connects back to the first, so the
// ring works whether or not it is explicitly closed.
func fillPolygon(path []gridPoint, spec domain.GridSpec, visit func(r, c int)) {
	if len(path) < 3 {
		return
	}
	loRow, hiRow := pathRowRange(path, spec)
	xs := make([]float64, 0, len(path))

	for row := loRow; row <= hiRow; row++ {
		y := float64(row)
		xs = xs[:0]
		for i := range path {
			p1 := path[i]
			p2 := path[(i+1)%len(path)]
			if (p1.row > y) == (p2.row > y) {
				continue
			}
			t := (y - p1.row) / (p2.row - p1.row)
			xs = append(xs, p1.col+t*(p2.col-p1.col))
		}
		sort.Float64s(xs)

		for i := 0; i+1 < len(xs); i += 2 {
			c0 := int(math.Ceil(xs[i]))
			c1 := int(math.Floor(xs[i+1]))
			if c0 < 0 {
				c0 = 0
			}
			if c1 > spec.Cols-1 {
				c1 = spec.Cols - 1
			}
			for c := c0; c <= c1; c++ {
				visit(row, c)
			}
		}
	}
}

// pathRowRange returns the grid rows whose centers the ring's vertical
// extent covers, clamped to the grid.
func pathRowRange(path []gridPoint, spec domain.GridSpec) (int, int) {
	minR, maxR := math.Inf(1), math.Inf(-1)
	for _, p := range path {
		minR = math.Min(minR, p.row)
		maxR = math.Max(maxR, p.row)
	}
	lo := int(math.Ceil(minR))
	hi := int(math.Floor(maxR))
	if lo < 0 {
		lo = 0
	}
	if hi > spec.Rows-1 {
		hi = spec.Rows - 1
	}
	return lo, hi
}
