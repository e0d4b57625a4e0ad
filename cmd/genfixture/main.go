// Command genfixture writes deterministic synthetic source artifacts
// for development and test runs: an AAIGrid DEM, a 64-band embedding
// NPY, a georeferenced NPZ bundle, and an Overpass JSON payload with
// roads, water, buildings, and landuse. Everything is generated from
// closed-form expressions, so repeated runs are byte-identical.
//
// Usage:
//
//	go run ./cmd/genfixture -out testdata/fixtures
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"

	"github.com/couchcryptid/terrain-fusion/internal/raster"
)

// Fixture extent: a 32x32 grid over a rural Vermont bounding box at
// 0.001 degree spacing.
const (
	fixtureRows = 32
	fixtureCols = 32
	west        = -72.100
	south       = 44.400
	east        = -72.068
	north       = 44.432
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output directory for fixture files")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	if err := os.MkdirAll(*out, 0o755); err != nil {
		return err
	}

	dem := buildDEM()
	if err := writeASCIIGrid(filepath.Join(*out, "dem.asc"), dem); err != nil {
		return err
	}
	if err := writeNPZ(filepath.Join(*out, "dem.npz"), dem); err != nil {
		return err
	}
	if err := writeEmbedding(filepath.Join(*out, "embedding.npy")); err != nil {
		return err
	}
	if err := writeOverpass(filepath.Join(*out, "overpass.json")); err != nil {
		return err
	}

	fmt.Printf("Wrote dem.asc, dem.npz, embedding.npy, overpass.json to %s\n", *out)
	return nil
}

// buildDEM returns hilly terrain between roughly 270 and 700 m: crossed
// sine ridges with one gaussian summit.
func buildDEM() *raster.Raster {
	r, err := raster.New(1, fixtureRows, fixtureCols, west, south, east, north)
	if err != nil {
		panic(err)
	}
	for row := 0; row < fixtureRows; row++ {
		for col := 0; col < fixtureCols; col++ {
			ridges := 180 * math.Sin(float64(col)/5.5) * math.Cos(float64(row)/7.0)
			d2 := float64((col-20)*(col-20) + (row-10)*(row-10))
			summit := 120 * math.Exp(-d2/90)
			r.Set(0, row, col, 450+ridges+summit)
		}
	}
	return r
}

func writeASCIIGrid(path string, dem *raster.Raster) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return raster.EncodeASCIIGrid(f, dem)
}

func writeNPZ(path string, dem *raster.Raster) error {
	payload, err := raster.EncodeNPZ(dem)
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}

// writeEmbedding emits 64 bands of smooth values in [-1, 1], the range
// the embedding service serves.
func writeEmbedding(path string) error {
	data := make([]float64, 64*fixtureRows*fixtureCols)
	i := 0
	for band := 0; band < 64; band++ {
		for row := 0; row < fixtureRows; row++ {
			for col := 0; col < fixtureCols; col++ {
				data[i] = math.Sin(float64(band+1)*0.37 + float64(row)*0.11 + float64(col)*0.13)
				i++
			}
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return raster.EncodeNPY(f, 64, fixtureRows, fixtureCols, data)
}

// Overpass wire types, matching what the interpreters return for
// "out geom" queries.
type geomPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type member struct {
	Role     string      `json:"role"`
	Geometry []geomPoint `json:"geometry"`
}

type element struct {
	Type     string            `json:"type"`
	ID       int64             `json:"id"`
	Tags     map[string]string `json:"tags"`
	Geometry []geomPoint       `json:"geometry,omitempty"`
	Members  []member          `json:"members,omitempty"`
}

func writeOverpass(path string) error {
	payload := struct {
		Version   float64   `json:"version"`
		Generator string    `json:"generator"`
		Elements  []element `json:"elements"`
	}{
		Version:   0.6,
		Generator: "genfixture",
		Elements: []element{
			{
				Type: "way", ID: 101,
				Tags: map[string]string{"highway": "residential"},
				Geometry: []geomPoint{
					{Lat: 44.402, Lon: -72.098},
					{Lat: 44.415, Lon: -72.085},
					{Lat: 44.430, Lon: -72.072},
				},
			},
			{
				Type: "way", ID: 102,
				Tags: map[string]string{"waterway": "stream"},
				Geometry: []geomPoint{
					{Lat: 44.400, Lon: -72.095},
					{Lat: 44.410, Lon: -72.093},
					{Lat: 44.420, Lon: -72.090},
					{Lat: 44.431, Lon: -72.088},
				},
			},
			{
				Type: "way", ID: 103,
				Tags: map[string]string{"building": "yes", "height": "12 m"},
				Geometry: []geomPoint{
					{Lat: 44.4140, Lon: -72.0840},
					{Lat: 44.4140, Lon: -72.0832},
					{Lat: 44.4146, Lon: -72.0832},
					{Lat: 44.4146, Lon: -72.0840},
					{Lat: 44.4140, Lon: -72.0840},
				},
			},
			{
				Type: "way", ID: 104,
				Tags: map[string]string{"building": "house", "building:levels": "3"},
				Geometry: []geomPoint{
					{Lat: 44.4100, Lon: -72.0800},
					{Lat: 44.4100, Lon: -72.0794},
					{Lat: 44.4105, Lon: -72.0794},
					{Lat: 44.4105, Lon: -72.0800},
					{Lat: 44.4100, Lon: -72.0800},
				},
			},
			{
				Type: "way", ID: 105,
				Tags: map[string]string{"landuse": "forest"},
				Geometry: []geomPoint{
					{Lat: 44.420, Lon: -72.082},
					{Lat: 44.420, Lon: -72.070},
					{Lat: 44.430, Lon: -72.070},
					{Lat: 44.430, Lon: -72.082},
					{Lat: 44.420, Lon: -72.082},
				},
			},
			{
				Type: "relation", ID: 106,
				Tags: map[string]string{"natural": "water"},
				Members: []member{{
					Role: "outer",
					Geometry: []geomPoint{
						{Lat: 44.405, Lon: -72.078},
						{Lat: 44.405, Lon: -72.073},
						{Lat: 44.409, Lon: -72.073},
						{Lat: 44.409, Lon: -72.078},
						{Lat: 44.405, Lon: -72.078},
					},
				}},
			},
		},
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
