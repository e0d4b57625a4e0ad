package raster

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Arc/Info ASCII grid ("AAIGrid"): six header lines followed by
// whitespace-separated values, rows north to south. The one raster
// interchange format that is both self-describing and writable by hand,
// used for local-file ingestion and test fixtures. Single band only.

const asciiNoData = -9999.0

// DecodeASCIIGrid parses an AAIGrid document. NODATA cells become NaN.
func DecodeASCIIGrid(r io.Reader) (*Raster, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	sc.Split(bufio.ScanWords)

	next := func() (string, error) {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", err
			}
			return "", io.ErrUnexpectedEOF
		}
		return sc.Text(), nil
	}

	header := map[string]float64{}
	nodata := asciiNoData
	var firstValue string

	// Header lines are keyword/value pairs; the grid body starts at the
	// first token that parses as a number.
	for {
		tok, err := next()
		if err != nil {
			return nil, fmt.Errorf("ascii grid header: %w", err)
		}
		if _, numErr := strconv.ParseFloat(tok, 64); numErr == nil {
			firstValue = tok
			break
		}
		key := strings.ToLower(tok)
		val, err := next()
		if err != nil {
			return nil, fmt.Errorf("ascii grid header value for %q: %w", key, err)
		}
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("ascii grid header %q: %w", key, err)
		}
		if key == "nodata_value" {
			nodata = f
			continue
		}
		header[key] = f
	}

	for _, k := range []string{"ncols", "nrows", "xllcorner", "yllcorner", "cellsize"} {
		if _, ok := header[k]; !ok {
			return nil, fmt.Errorf("ascii grid header missing %q", k)
		}
	}

	cols := int(header["ncols"])
	rows := int(header["nrows"])
	cell := header["cellsize"]
	west := header["xllcorner"]
	south := header["yllcorner"]

	grid, err := New(1, rows, cols, west, south, west+float64(cols)*cell, south+float64(rows)*cell)
	if err != nil {
		return nil, fmt.Errorf("ascii grid: %w", err)
	}

	parse := func(tok string) (float64, error) {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return 0, fmt.Errorf("ascii grid value %q: %w", tok, err)
		}
		if v == nodata {
			return math.NaN(), nil
		}
		return v, nil
	}

	v, err := parse(firstValue)
	if err != nil {
		return nil, err
	}
	grid.Data[0] = v

	for i := 1; i < rows*cols; i++ {
		tok, err := next()
		if err != nil {
			return nil, fmt.Errorf("ascii grid body at value %d of %d: %w", i, rows*cols, err)
		}
		if grid.Data[i], err = parse(tok); err != nil {
			return nil, err
		}
	}
	return grid, nil
}

// EncodeASCIIGrid writes a single-band raster as an AAIGrid document. The
// envelope must be square-celled within 0.1% or the format cannot express
// it (AAIGrid has one cellsize for both axes).
func EncodeASCIIGrid(w io.Writer, r *Raster) error {
	if r.Bands != 1 {
		return fmt.Errorf("ascii grid supports one band, raster has %d", r.Bands)
	}
	cw, ch := r.CellWidth(), r.CellHeight()
	if math.Abs(cw-ch) > 0.001*math.Max(cw, ch) {
		return fmt.Errorf("ascii grid requires square cells, got %gx%g", cw, ch)
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ncols %d\n", r.Cols)
	fmt.Fprintf(bw, "nrows %d\n", r.Rows)
	fmt.Fprintf(bw, "xllcorner %g\n", r.West)
	fmt.Fprintf(bw, "yllcorner %g\n", r.South)
	fmt.Fprintf(bw, "cellsize %g\n", cw)
	fmt.Fprintf(bw, "NODATA_value %g\n", asciiNoData)

	for row := 0; row < r.Rows; row++ {
		for col := 0; col < r.Cols; col++ {
			if col > 0 {
				bw.WriteByte(' ')
			}
			v := r.At(0, row, col)
			if math.IsNaN(v) {
				fmt.Fprintf(bw, "%g", asciiNoData)
			} else {
				fmt.Fprintf(bw, "%g", v)
			}
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
