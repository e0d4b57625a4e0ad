package raster

import "math"

// Euclidean distance transform, Felzenszwalb/Huttenlocher two-pass lower
// envelope of parabolas. Exact (not chamfer-approximate), linear in the
// number of cells, which is what keeps distance fields affordable at 10 m
// resolution over multi-kilometer regions.

// distInf stands in for +infinity; a real Inf would produce NaN in the
// envelope intersection arithmetic.
const distInf = 1e20

// DistanceTransform returns, for each cell, the Euclidean distance in cell
// units to the nearest true cell of mask (rows*cols, row-major). Cells on a
// feature get 0. If the mask is entirely false every output is NoFeature.
func DistanceTransform(mask []bool, rows, cols int) []float64 {
	f := make([]float64, rows*cols)
	for i, on := range mask {
		if on {
			f[i] = 0
		} else {
			f[i] = distInf
		}
	}

	// Columns first: squared distance to the nearest feature in each column.
	column := make([]float64, rows)
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			column[r] = f[r*cols+c]
		}
		dt1d(column)
		for r := 0; r < rows; r++ {
			f[r*cols+c] = column[r]
		}
	}

	// Then rows over the column results.
	rowBuf := make([]float64, cols)
	out := make([]float64, rows*cols)
	for r := 0; r < rows; r++ {
		copy(rowBuf, f[r*cols:(r+1)*cols])
		dt1d(rowBuf)
		for c := 0; c < cols; c++ {
			d := rowBuf[c]
			if d >= distInf {
				out[r*cols+c] = NoFeature
			} else {
				out[r*cols+c] = math.Sqrt(d)
			}
		}
	}
	return out
}

// NoFeature is the distance reported when the mask holds no features at
// all; callers replace it with their configured sentinel.
const NoFeature = math.MaxFloat64

// dt1d computes the 1-D squared-distance transform of f in place.
func dt1d(f []float64) {
	n := len(f)
	if n == 0 {
		return
	}
	d := make([]float64, n)
	v := make([]int, n)
	z := make([]float64, n+1)

	k := 0
	v[0] = 0
	z[0] = -distInf
	z[1] = distInf

	for q := 1; q < n; q++ {
		s := intersect(f, q, v[k])
		for s <= z[k] {
			k--
			s = intersect(f, q, v[k])
		}
		k++
		v[k] = q
		z[k] = s
		z[k+1] = distInf
	}

	k = 0
	for q := 0; q < n; q++ {
		for z[k+1] < float64(q) {
			k++
		}
		dq := float64(q - v[k])
		d[q] = dq*dq + f[v[k]]
	}
	copy(f, d)
}

// intersect returns the horizontal position where the parabolas rooted at
// q and p cross.
func intersect(f []float64, q, p int) float64 {
	fq := float64(q)
	fp := float64(p)
	return ((f[q] + fq*fq) - (f[p] + fp*fp)) / (2*fq - 2*fp)
}
