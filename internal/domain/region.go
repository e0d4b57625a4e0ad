package domain

import (
	"fmt"
	"math"
)

// Region is an immutable WGS84 bounding box. Construct via NewRegion so the
// bounds invariants hold for the lifetime of the value; everything derived
// (UTM zone, projected bbox, area) is computed from the validated bounds.
type Region struct {
	latMin, latMax float64
	lonMin, lonMax float64
}

// UTMRect is an axis-aligned rectangle in UTM meters.
type UTMRect struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

// Width returns the east-west extent in meters.
func (r UTMRect) Width() float64 { return r.MaxX - r.MinX }

// Height returns the north-south extent in meters.
func (r UTMRect) Height() float64 { return r.MaxY - r.MinY }

// Tile is one element of a Region subdivision. Indices are row-major from
// the southwest corner of the parent; Rect is the tile's exact UTM extent
// (clipped at the parent's north and east edges) and Region is the WGS84
// envelope of that extent.
type Tile struct {
	X, Y   int
	Rect   UTMRect
	Region Region
}

// NewRegion validates the four bounds and returns the Region. Out-of-range
// or inverted bounds produce a *ValidationError naming the offending field.
func NewRegion(latMin, latMax, lonMin, lonMax float64) (Region, error) {
	for _, b := range []struct {
		field string
		v     float64
	}{
		{"lat_min", latMin}, {"lat_max", latMax},
		{"lon_min", lonMin}, {"lon_max", lonMax},
	} {
		if math.IsNaN(b.v) || math.IsInf(b.v, 0) {
			return Region{}, &ValidationError{Field: b.field, Msg: fmt.Sprintf("%s is not a finite number", b.field)}
		}
	}
	if latMin < -90 || latMax > 90 {
		return Region{}, &ValidationError{
			Field: "lat_min",
			Msg:   fmt.Sprintf("invalid latitude values: %g, %g (must be within [-90, 90])", latMin, latMax),
		}
	}
	if lonMin < -180 || lonMax > 180 {
		return Region{}, &ValidationError{
			Field: "lon_min",
			Msg:   fmt.Sprintf("invalid longitude values: %g, %g (must be within [-180, 180])", lonMin, lonMax),
		}
	}
	if latMin >= latMax {
		return Region{}, &ValidationError{
			Field: "lat_min",
			Msg:   fmt.Sprintf("lat_min (%g) must be less than lat_max (%g)", latMin, latMax),
		}
	}
	if lonMin >= lonMax {
		return Region{}, &ValidationError{
			Field: "lon_min",
			Msg:   fmt.Sprintf("lon_min (%g) must be less than lon_max (%g)", lonMin, lonMax),
		}
	}
	return Region{latMin: latMin, latMax: latMax, lonMin: lonMin, lonMax: lonMax}, nil
}

// LatMin returns the southern bound in degrees.
func (r Region) LatMin() float64 { return r.latMin }

// LatMax returns the northern bound in degrees.
func (r Region) LatMax() float64 { return r.latMax }

// LonMin returns the western bound in degrees.
func (r Region) LonMin() float64 { return r.lonMin }

// LonMax returns the eastern bound in degrees.
func (r Region) LonMax() float64 { return r.lonMax }

// Centroid returns the bbox midpoint in degrees.
func (r Region) Centroid() (lat, lon float64) {
	return (r.latMin + r.latMax) / 2, (r.lonMin + r.lonMax) / 2
}

// UTMZone returns the UTM zone number covering the centroid.
func (r Region) UTMZone() int {
	_, lon := r.Centroid()
	zone := int(math.Floor((lon+180)/6)) + 1
	// lon == +180 falls off the end of the zone table; wrap into zone 60.
	if zone > 60 {
		zone = 60
	}
	return zone
}

// EPSG returns the EPSG code of the centroid's UTM zone: 32600+zone in the
// northern hemisphere, 32700+zone in the southern.
func (r Region) EPSG() int {
	lat, _ := r.Centroid()
	if lat < 0 {
		return 32700 + r.UTMZone()
	}
	return 32600 + r.UTMZone()
}

// UTMBounds projects all four corners into the centroid's UTM zone and
// returns their envelope.
func (r Region) UTMBounds() UTMRect {
	zone := r.UTMZone()
	corners := [4][2]float64{
		{r.latMin, r.lonMin}, {r.latMin, r.lonMax},
		{r.latMax, r.lonMin}, {r.latMax, r.lonMax},
	}
	rect := UTMRect{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
	for _, c := range corners {
		x, y := utmForward(c[0], c[1], zone)
		rect.MinX = math.Min(rect.MinX, x)
		rect.MinY = math.Min(rect.MinY, y)
		rect.MaxX = math.Max(rect.MaxX, x)
		rect.MaxY = math.Max(rect.MaxY, y)
	}
	return rect
}

// WidthMeters returns the east-west extent of the projected bbox.
func (r Region) WidthMeters() float64 { return r.UTMBounds().Width() }

// HeightMeters returns the north-south extent of the projected bbox.
func (r Region) HeightMeters() float64 { return r.UTMBounds().Height() }

// AreaKm2 returns the projected bbox area in square kilometers.
func (r Region) AreaKm2() float64 {
	b := r.UTMBounds()
	return b.Width() * b.Height() / 1e6
}

// Key returns the canonical identity string for cache keying and equality:
// the four bounds rounded to six decimal places (about 0.1 m of latitude),
// underscore-joined in lat_min, lat_max, lon_min, lon_max order.
func (r Region) Key() string {
	return fmt.Sprintf("%.6f_%.6f_%.6f_%.6f", r.latMin, r.latMax, r.lonMin, r.lonMax)
}

func (r Region) String() string {
	return fmt.Sprintf("Region(%g..%g, %g..%g)", r.latMin, r.latMax, r.lonMin, r.lonMax)
}

// Subdivide tiles the region's UTM bbox into tileMeters squares, row-major
// from the southwest corner, clipping the final row and column to the
// parent extent. The tiles' UTM rects union exactly to the parent bbox
// with shared edges and no overlap.
func (r Region) Subdivide(tileMeters float64) ([]Tile, error) {
	if tileMeters <= 0 || math.IsNaN(tileMeters) {
		return nil, &ValidationError{Field: "tile_size", Msg: fmt.Sprintf("tile size must be positive, got %g", tileMeters)}
	}
	bounds := r.UTMBounds()
	zone := r.UTMZone()
	northern := (r.latMin+r.latMax)/2 >= 0

	nx := int(math.Ceil(bounds.Width() / tileMeters))
	ny := int(math.Ceil(bounds.Height() / tileMeters))

	tiles := make([]Tile, 0, nx*ny)
	for ty := 0; ty < ny; ty++ {
		for tx := 0; tx < nx; tx++ {
			rect := UTMRect{
				MinX: bounds.MinX + float64(tx)*tileMeters,
				MinY: bounds.MinY + float64(ty)*tileMeters,
			}
			rect.MaxX = math.Min(rect.MinX+tileMeters, bounds.MaxX)
			rect.MaxY = math.Min(rect.MinY+tileMeters, bounds.MaxY)

			sub, err := utmEnvelopeRegion(rect, zone, northern)
			if err != nil {
				return nil, fmt.Errorf("tile (%d,%d): %w", tx, ty, err)
			}
			tiles = append(tiles, Tile{X: tx, Y: ty, Rect: rect, Region: sub})
		}
	}
	return tiles, nil
}

// utmEnvelopeRegion inverse-projects the four corners of a UTM rect and
// returns the WGS84 envelope as a validated Region.
func utmEnvelopeRegion(rect UTMRect, zone int, northern bool) (Region, error) {
	corners := [4][2]float64{
		{rect.MinX, rect.MinY}, {rect.MaxX, rect.MinY},
		{rect.MinX, rect.MaxY}, {rect.MaxX, rect.MaxY},
	}
	latMin, lonMin := math.Inf(1), math.Inf(1)
	latMax, lonMax := math.Inf(-1), math.Inf(-1)
	for _, c := range corners {
		lat, lon := utmInverse(c[0], c[1], zone, northern)
		latMin = math.Min(latMin, lat)
		lonMin = math.Min(lonMin, lon)
		latMax = math.Max(latMax, lat)
		lonMax = math.Max(lonMax, lon)
	}
	return NewRegion(latMin, latMax, lonMin, lonMax)
}
