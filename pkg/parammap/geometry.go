package parammap

import (
	"fmt"

	"amsaf/internal/models"
)

// WithGeometry returns a copy of m carrying the Size, Index, Spacing, Origin
// and Direction of g, the way elastix records the output grid of a transform.
func WithGeometry(m Map, g models.Geometry) Map {
	out := AssocValues(KeySize, FormatInts(g.Size[:]...), m)
	out = AssocValues(KeyIndex, Many("0", "0", "0"), out)
	out = AssocValues(KeySpacing, FormatFloats(g.Spacing[:]...), out)
	out = AssocValues(KeyOrigin, FormatFloats(g.Origin[:]...), out)
	// elastix stores direction cosines column by column
	return AssocValues(KeyDirection, FormatFloats(columnMajor(g.Direction)...), out)
}

// Geometry reads the output grid recorded in a transform map
func (m Map) Geometry() (models.Geometry, error) {
	var g models.Geometry

	size, err := m.Ints(KeySize)
	if err != nil {
		return g, err
	}
	spacing, err := m.Floats(KeySpacing)
	if err != nil {
		return g, err
	}
	origin, err := m.Floats(KeyOrigin)
	if err != nil {
		return g, err
	}
	if len(size) != 3 || len(spacing) != 3 || len(origin) != 3 {
		return g, fmt.Errorf("expected 3D geometry, got size %v spacing %v origin %v", size, spacing, origin)
	}
	copy(g.Size[:], size)
	copy(g.Spacing[:], spacing)
	copy(g.Origin[:], origin)

	g.Direction = models.IdentityDirection()
	if m.Has(KeyDirection) {
		direction, err := m.Floats(KeyDirection)
		if err != nil {
			return g, err
		}
		if len(direction) != 9 {
			return g, fmt.Errorf("expected 9 direction cosines, got %d", len(direction))
		}
		var cols [9]float64
		copy(cols[:], direction)
		copy(g.Direction[:], columnMajor(cols))
	}

	return g, g.Validate()
}

// columnMajor transposes a 3x3 matrix stored as a flat array; it is its own inverse
func columnMajor(d [9]float64) []float64 {
	out := make([]float64, 9)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[c*3+r] = d[r*3+c]
		}
	}
	return out
}
