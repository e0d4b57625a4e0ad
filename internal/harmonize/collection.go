package harmonize

import (
	"github.com/couchcryptid/terrain-fusion/internal/domain"
)

// Collection accumulates named layers against a fixed GridSpec. Shape
// enforcement is strict: a non-conforming layer is a contract violation,
// never silently coerced.
type Collection struct {
	spec   domain.GridSpec
	layers map[string]domain.Layer
}

// NewCollection creates an empty collection bound to the grid.
func NewCollection(spec domain.GridSpec) *Collection {
	return &Collection{spec: spec, layers: make(map[string]domain.Layer)}
}

// AddLayers inserts layers by name, replacing same-named entries. If any
// layer does not conform to the grid it returns a ShapeMismatchError and
// the collection is left unchanged, including layers earlier in the call.
func (c *Collection) AddLayers(layers ...domain.Layer) error {
	for _, l := range layers {
		if !l.Conforms(c.spec) {
			return &domain.ShapeMismatchError{
				Layer:    l.Name,
				WantRows: c.spec.Rows, WantCols: c.spec.Cols,
				GotRows: l.Rows, GotCols: l.Cols,
			}
		}
	}
	for _, l := range layers {
		c.layers[l.Name] = l
	}
	return nil
}

// Layer returns a layer by name.
func (c *Collection) Layer(name string) (domain.Layer, bool) {
	l, ok := c.layers[name]
	return l, ok
}

// Len returns the number of stored layers.
func (c *Collection) Len() int { return len(c.layers) }

// Layers returns a copy of the name-to-layer map. Layer buffers are
// shared, not cloned.
func (c *Collection) Layers() map[string]domain.Layer {
	out := make(map[string]domain.Layer, len(c.layers))
	for name, l := range c.layers {
		out[name] = l
	}
	return out
}
