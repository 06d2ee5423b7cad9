// Package affine builds explicit affine pre-alignment transforms.
//
// The transform has the form T(x) = A(x - c) + c + t with the center of
// rotation c fixed at the origin; any offset of a true center is expected to be
// folded into the translation t. The result is an elastix-style transform map
// that can be applied like any engine-fitted transform.
package affine

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	aerrors "amsaf/internal/errors"
	"amsaf/internal/models"
	"amsaf/pkg/parammap"
)

// Identity returns the 3x3 identity matrix
func Identity() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

// ZeroTranslation returns the 1x3 zero translation
func ZeroTranslation() *mat.Dense {
	return mat.NewDense(1, 3, nil)
}

// Translation returns a 1x3 translation row vector
func Translation(tx, ty, tz float64) *mat.Dense {
	return mat.NewDense(1, 3, []float64{tx, ty, tz})
}

// BuildTransform builds the transform map for pre-aligning img with matrix a
// and translation t.
//
// Parameters:
//   - g: grid of the image to transform; copied verbatim into the map
//   - a: 3x3 linear part
//   - t: 1x3 translation row vector
//
// Returns:
//   - The completed affine transform map, or a configuration error when a or t
//     has the wrong shape or contains non-finite values
func BuildTransform(g models.Geometry, a, t mat.Matrix) (parammap.Map, error) {
	if err := checkShape("matrix", a, 3, 3); err != nil {
		return parammap.Map{}, err
	}
	if err := checkShape("translation", t, 1, 3); err != nil {
		return parammap.Map{}, err
	}

	// A stacked above t gives a 4x3 block; its row-major flattening is the
	// elastix parameter order a11 a12 a13 ... a33 tx ty tz
	var block mat.Dense
	block.Stack(a, t)

	params := make([]float64, 0, 12)
	for r := 0; r < 4; r++ {
		for c := 0; c < 3; c++ {
			params = append(params, block.At(r, c))
		}
	}

	m := parammap.WithGeometry(parammap.AffineTransformTemplate(), g)
	m = parammap.AssocValues(parammap.KeyCenterOfRotationPoint, parammap.FormatFloats(0, 0, 0), m)
	m = parammap.AssocValues(parammap.KeyTransformParameters, parammap.FormatFloats(params...), m)
	return m, nil
}

// Build is BuildTransform for an image
func Build(img *models.Image, a, t mat.Matrix) (parammap.Map, error) {
	return BuildTransform(img.Geometry, a, t)
}

func checkShape(name string, m mat.Matrix, rows, cols int) error {
	if m == nil {
		return aerrors.NewConfigurationError(fmt.Sprintf("%s is missing", name), name, "")
	}
	r, c := m.Dims()
	if r != rows || c != cols {
		return aerrors.NewConfigurationError(
			fmt.Sprintf("%s must be %dx%d, got %dx%d", name, rows, cols, r, c),
			name,
			"pass the rotation as a 3x3 matrix and the translation as a 1x3 row vector",
		)
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := m.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return aerrors.NewConfigurationError(
					fmt.Sprintf("%s has non-finite element (%d,%d)", name, i, j), name, "")
			}
		}
	}
	return nil
}
