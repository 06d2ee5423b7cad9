package metrics

import (
	"fmt"
	"sort"
)

// Dice computes 2|A∩B| / (|A|+|B|) for the voxels labeled label in a and b.
// Two empty regions agree perfectly.
func Dice(a, b []float64, label float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("label volumes differ in size: %d vs %d", len(a), len(b))
	}

	var inA, inB, both int
	for i := range a {
		ia := a[i] == label
		ib := b[i] == label
		if ia {
			inA++
		}
		if ib {
			inB++
		}
		if ia && ib {
			both++
		}
	}

	if inA+inB == 0 {
		return 1, nil
	}
	return 2 * float64(both) / float64(inA+inB), nil
}

// LabelOverlap is the Dice coefficient of one label
type LabelOverlap struct {
	Label float64 `yaml:"label"`
	Dice  float64 `yaml:"dice"`
}

// DicePerLabel scores every non-background label present in either volume,
// sorted by label value. Label 0 is background.
func DicePerLabel(a, b []float64) ([]LabelOverlap, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("label volumes differ in size: %d vs %d", len(a), len(b))
	}

	seen := make(map[float64]struct{})
	for i := range a {
		seen[a[i]] = struct{}{}
		seen[b[i]] = struct{}{}
	}
	delete(seen, 0)

	labels := make([]float64, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Float64s(labels)

	out := make([]LabelOverlap, 0, len(labels))
	for _, l := range labels {
		d, err := Dice(a, b, l)
		if err != nil {
			return nil, err
		}
		out = append(out, LabelOverlap{Label: l, Dice: d})
	}
	return out, nil
}
