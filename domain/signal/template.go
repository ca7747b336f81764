package signal

import (
	"fmt"

	"godetect/domain/core"
)

// GridIndex addresses one point of an N x N template grid
type GridIndex struct {
	IX int `json:"ix"`
	IY int `json:"iy"`
}

// Position is a sky position in radians relative to the optical axis
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Template is the noiseless unit-flux response to a point source at one grid point
type Template struct {
	Index    GridIndex
	Position Position
	Response *CountSeries
}

// TemplateBank is a complete N x N set of templates spanning a field of view.
// Positions are unique within a bank.
type TemplateBank struct {
	size        int
	fieldOfView float64
	templates   []Template
	filled      []bool
	positions   map[Position]GridIndex
}

// NewTemplateBank creates an empty bank for a size x size grid
func NewTemplateBank(size int, fieldOfView float64) (*TemplateBank, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: %d", core.ErrInvalidGrid, size)
	}
	return &TemplateBank{
		size:        size,
		fieldOfView: fieldOfView,
		templates:   make([]Template, size*size),
		filled:      make([]bool, size*size),
		positions:   make(map[Position]GridIndex, size*size),
	}, nil
}

// Size returns N for an N x N bank
func (b *TemplateBank) Size() int { return b.size }

// FieldOfView returns the full angular extent covered by the grid
func (b *TemplateBank) FieldOfView() float64 { return b.fieldOfView }

// Len returns the number of templates stored so far
func (b *TemplateBank) Len() int { return len(b.positions) }

// Complete reports whether every grid point has a template
func (b *TemplateBank) Complete() bool { return b.Len() == b.size*b.size }

// Add stores a template. Adding a second template at an occupied index or at
// a position already present is rejected.
func (b *TemplateBank) Add(t Template) error {
	if t.Index.IX < 0 || t.Index.IX >= b.size || t.Index.IY < 0 || t.Index.IY >= b.size {
		return fmt.Errorf("%w: index (%d, %d) outside %dx%d grid", core.ErrInvalidGrid, t.Index.IX, t.Index.IY, b.size, b.size)
	}
	if t.Response == nil {
		return fmt.Errorf("%w: template (%d, %d) has no response", core.ErrMissingTemplate, t.Index.IX, t.Index.IY)
	}
	if other, ok := b.positions[t.Position]; ok {
		return fmt.Errorf("%w: (%g, %g) already stored at (%d, %d)", core.ErrDuplicatePosition, t.Position.X, t.Position.Y, other.IX, other.IY)
	}
	slot := t.Index.IX*b.size + t.Index.IY
	if b.filled[slot] {
		return fmt.Errorf("%w: index (%d, %d) already filled", core.ErrDuplicatePosition, t.Index.IX, t.Index.IY)
	}
	b.templates[slot] = t
	b.filled[slot] = true
	b.positions[t.Position] = t.Index
	return nil
}

// At returns the template at grid index (ix, iy)
func (b *TemplateBank) At(ix, iy int) (Template, error) {
	if ix < 0 || ix >= b.size || iy < 0 || iy >= b.size {
		return Template{}, fmt.Errorf("%w: index (%d, %d) outside %dx%d grid", core.ErrInvalidGrid, ix, iy, b.size, b.size)
	}
	slot := ix*b.size + iy
	if !b.filled[slot] {
		return Template{}, fmt.Errorf("%w: (%d, %d)", core.ErrMissingTemplate, ix, iy)
	}
	return b.templates[slot], nil
}

// Lookup returns the grid index stored for a position
func (b *TemplateBank) Lookup(p Position) (GridIndex, bool) {
	idx, ok := b.positions[p]
	return idx, ok
}

// Templates returns the stored templates in row-major index order
func (b *TemplateBank) Templates() []Template {
	out := make([]Template, 0, b.Len())
	for slot, ok := range b.filled {
		if ok {
			out = append(out, b.templates[slot])
		}
	}
	return out
}

// Map builds a new bank of the same geometry whose responses are fn applied to
// each template of b.
func (b *TemplateBank) Map(fn func(Template) (*CountSeries, error)) (*TemplateBank, error) {
	out, err := NewTemplateBank(b.size, b.fieldOfView)
	if err != nil {
		return nil, err
	}
	for _, t := range b.Templates() {
		resp, err := fn(t)
		if err != nil {
			return nil, fmt.Errorf("template (%d, %d): %w", t.Index.IX, t.Index.IY, err)
		}
		if err := out.Add(Template{Index: t.Index, Position: t.Position, Response: resp}); err != nil {
			return nil, err
		}
	}
	return out, nil
}
