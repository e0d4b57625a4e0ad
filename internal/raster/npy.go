package raster

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// NPY v1.0 array format: the payload the embedding service serves and the
// member format inside NPZ bundles. Only the cases this system produces
// are supported: little-endian float32/float64, C order, 2-D (rows, cols)
// or 3-D (bands, rows, cols) shapes.

var npyMagic = []byte("\x93NUMPY")

var npyShapeRe = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)

// npyHeader is the parsed python-dict header of an NPY file.
type npyHeader struct {
	descr   string
	fortran bool
	shape   []int
}

func parseNPYHeader(text string) (npyHeader, error) {
	h := npyHeader{}

	switch {
	case strings.Contains(text, "'descr': '<f4'"), strings.Contains(text, `"descr": "<f4"`):
		h.descr = "<f4"
	case strings.Contains(text, "'descr': '<f8'"), strings.Contains(text, `"descr": "<f8"`):
		h.descr = "<f8"
	default:
		return h, fmt.Errorf("npy: unsupported dtype in header %q", text)
	}

	h.fortran = strings.Contains(text, "'fortran_order': True") || strings.Contains(text, `"fortran_order": true`)
	if h.fortran {
		return h, fmt.Errorf("npy: fortran order is not supported")
	}

	m := npyShapeRe.FindStringSubmatch(text)
	if m == nil {
		return h, fmt.Errorf("npy: no shape in header %q", text)
	}
	for _, part := range strings.Split(m[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return h, fmt.Errorf("npy: bad shape element %q: %w", part, err)
		}
		h.shape = append(h.shape, n)
	}
	if len(h.shape) != 2 && len(h.shape) != 3 {
		return h, fmt.Errorf("npy: want 2-D or 3-D shape, got %v", h.shape)
	}
	return h, nil
}

// DecodeNPY reads an NPY stream into a bare array. The caller supplies
// georeferencing separately (NPY itself carries none).
func DecodeNPY(r io.Reader) (bands, rows, cols int, data []float64, err error) {
	head := make([]byte, 8)
	if _, err := io.ReadFull(r, head); err != nil {
		return 0, 0, 0, nil, fmt.Errorf("npy magic: %w", err)
	}
	if !bytes.Equal(head[:6], npyMagic) {
		return 0, 0, 0, nil, fmt.Errorf("npy: bad magic %q", head[:6])
	}
	major := head[6]

	var headerLen int
	switch major {
	case 1:
		var l uint16
		if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
			return 0, 0, 0, nil, fmt.Errorf("npy header length: %w", err)
		}
		headerLen = int(l)
	case 2, 3:
		var l uint32
		if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
			return 0, 0, 0, nil, fmt.Errorf("npy header length: %w", err)
		}
		headerLen = int(l)
	default:
		return 0, 0, 0, nil, fmt.Errorf("npy: unsupported version %d.%d", head[6], head[7])
	}

	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return 0, 0, 0, nil, fmt.Errorf("npy header: %w", err)
	}
	h, err := parseNPYHeader(string(headerBytes))
	if err != nil {
		return 0, 0, 0, nil, err
	}

	if len(h.shape) == 2 {
		bands, rows, cols = 1, h.shape[0], h.shape[1]
	} else {
		bands, rows, cols = h.shape[0], h.shape[1], h.shape[2]
	}
	total := bands * rows * cols
	if total <= 0 {
		return 0, 0, 0, nil, fmt.Errorf("npy: empty shape %v", h.shape)
	}

	data = make([]float64, total)
	switch h.descr {
	case "<f4":
		raw := make([]byte, 4*total)
		if _, err := io.ReadFull(r, raw); err != nil {
			return 0, 0, 0, nil, fmt.Errorf("npy payload: %w", err)
		}
		for i := 0; i < total; i++ {
			data[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:])))
		}
	case "<f8":
		raw := make([]byte, 8*total)
		if _, err := io.ReadFull(r, raw); err != nil {
			return 0, 0, 0, nil, fmt.Errorf("npy payload: %w", err)
		}
		for i := 0; i < total; i++ {
			data[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
		}
	}
	return bands, rows, cols, data, nil
}

// EncodeNPY writes an array as NPY v1.0 float32, the dtype every source
// this system talks to uses on the wire.
func EncodeNPY(w io.Writer, bands, rows, cols int, data []float64) error {
	if len(data) != bands*rows*cols {
		return fmt.Errorf("npy: data length %d does not match shape %dx%dx%d", len(data), bands, rows, cols)
	}

	var shape string
	if bands == 1 {
		shape = fmt.Sprintf("(%d, %d)", rows, cols)
	} else {
		shape = fmt.Sprintf("(%d, %d, %d)", bands, rows, cols)
	}
	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': %s, }", shape)

	// Pad so magic+version+length+header is a multiple of 64, newline last.
	padded := len(npyMagic) + 2 + 2 + len(header) + 1
	pad := (64 - padded%64) % 64
	header += strings.Repeat(" ", pad) + "\n"

	if _, err := w.Write(npyMagic); err != nil {
		return err
	}
	if _, err := w.Write([]byte{1, 0}); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(header))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}

	raw := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(float32(v)))
	}
	_, err := w.Write(raw)
	return err
}
