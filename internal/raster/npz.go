package raster

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// NPZ bundle: a zip archive of NPY members, numpy's native multi-array
// container. Georeferenced rasters ship as two members:
//
//	data.npy    (bands, rows, cols) float32, row 0 north
//	bounds.npy  (4,) float64: west, south, east, north in WGS84 degrees
//
// This is the cache artifact format for every gridded provider: one file,
// self-describing, and the zip CRC doubles as the integrity check.

const (
	npzDataMember   = "data.npy"
	npzBoundsMember = "bounds.npy"
)

// EncodeNPZ serializes a raster into NPZ bundle bytes.
func EncodeNPZ(r *Raster) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	dataW, err := zw.Create(npzDataMember)
	if err != nil {
		return nil, fmt.Errorf("npz: %w", err)
	}
	if err := EncodeNPY(dataW, r.Bands, r.Rows, r.Cols, r.Data); err != nil {
		return nil, fmt.Errorf("npz data member: %w", err)
	}

	boundsW, err := zw.Create(npzBoundsMember)
	if err != nil {
		return nil, fmt.Errorf("npz: %w", err)
	}
	bounds := []float64{r.West, r.South, r.East, r.North}
	if err := EncodeNPY(boundsW, 1, 1, 4, bounds); err != nil {
		return nil, fmt.Errorf("npz bounds member: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("npz: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeNPZ parses an NPZ bundle back into a raster.
func DecodeNPZ(b []byte) (*Raster, error) {
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, fmt.Errorf("npz: %w", err)
	}

	var data, bounds []float64
	var bands, rows, cols int

	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("npz member %s: %w", f.Name, err)
		}
		switch f.Name {
		case npzDataMember:
			bands, rows, cols, data, err = DecodeNPY(rc)
		case npzBoundsMember:
			_, _, _, bounds, err = DecodeNPY(rc)
		default:
			err = nil
		}
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("npz member %s: %w", f.Name, err)
		}
	}

	if data == nil {
		return nil, fmt.Errorf("npz: missing %s member", npzDataMember)
	}
	if len(bounds) != 4 {
		return nil, fmt.Errorf("npz: missing or malformed %s member", npzBoundsMember)
	}

	grid, err := New(bands, rows, cols, bounds[0], bounds[1], bounds[2], bounds[3])
	if err != nil {
		return nil, fmt.Errorf("npz: %w", err)
	}
	grid.Data = data
	return grid, nil
}

// LoadNPZ reads and decodes an NPZ file.
func LoadNPZ(path string) (*Raster, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeNPZ(b)
}

// LoadASCIIGrid reads and decodes an AAIGrid file.
func LoadASCIIGrid(path string) (*Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeASCIIGrid(f)
}

// Probe checks that an artifact file is readable, non-empty, and
// well-formed for its extension. The cache store runs this before serving
// a hit; a failure self-heals by dropping the entry.
func Probe(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("artifact unreadable: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("artifact %s is empty", path)
	}

	switch {
	case strings.HasSuffix(path, ".npz"):
		_, err := LoadNPZ(path)
		return err
	case strings.HasSuffix(path, ".asc"):
		_, err := LoadASCIIGrid(path)
		return err
	case strings.HasSuffix(path, ".json"):
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if !json.Valid(b) {
			return fmt.Errorf("artifact %s is not valid JSON", path)
		}
		return nil
	default:
		// Opaque artifacts: existence and size suffice.
		return nil
	}
}
