package native

import (
	"math"

	"amsaf/internal/models"
	"amsaf/pkg/parammap"
	"amsaf/pkg/resample"
)

// stageTransform writes a fitted translation as a transform map of the
// stage's kind. The map keeps the stage configuration (so its interpolator
// and default pixel value apply when it is re-applied) and records the fixed
// grid as the output grid.
func stageTransform(stage parammap.Map, fixed models.Geometry, kind string, t [3]float64) (parammap.Map, error) {
	m := parammap.WithGeometry(stage, fixed)
	m = parammap.Assoc(parammap.KeyInitialTransformFileName, parammap.NoInitialTransform, m)
	m = parammap.Assoc(parammap.KeyHowToCombineTransforms, "Compose", m)

	center := resample.IndexToPhysical(fixed,
		float64(fixed.Size[0]-1)/2, float64(fixed.Size[1]-1)/2, float64(fixed.Size[2]-1)/2)

	var params []float64
	switch kind {
	case parammap.EulerTransform:
		params = []float64{0, 0, 0, t[0], t[1], t[2]}
		m = parammap.AssocValues(parammap.KeyCenterOfRotationPoint, parammap.FormatFloats(center[:]...), m)
	case parammap.AffineTransform:
		params = []float64{1, 0, 0, 0, 1, 0, 0, 0, 1, t[0], t[1], t[2]}
		m = parammap.AssocValues(parammap.KeyCenterOfRotationPoint, parammap.FormatFloats(center[:]...), m)
	case parammap.BSplineTransform:
		var grid bsplineGrid
		grid, params = constantField(stage, fixed, t)
		m = parammap.AssocValues(parammap.KeyGridSize, parammap.FormatInts(grid.size[:]...), m)
		m = parammap.AssocValues(parammap.KeyGridIndex, parammap.Many("0", "0", "0"), m)
		m = parammap.AssocValues(parammap.KeyGridSpacing, parammap.FormatFloats(grid.spacing[:]...), m)
		m = parammap.AssocValues(parammap.KeyGridOrigin, parammap.FormatFloats(grid.origin[:]...), m)
		m = parammap.AssocValues(parammap.KeyGridDirection, parammap.FormatFloats(columnMajor(fixed.Direction)...), m)
		m = parammap.Assoc("BSplineTransformSplineOrder", "3", m)
	default:
		params = []float64{t[0], t[1], t[2]}
	}

	m = parammap.AssocValues(parammap.KeyNumberOfParameters, parammap.FormatInts(len(params)), m)
	m = parammap.AssocValues(parammap.KeyTransformParameters, parammap.FormatFloats(params...), m)
	return m, nil
}

type bsplineGrid struct {
	size    [3]int
	spacing [3]float64
	origin  [3]float64
}

// constantField lays a cubic B-spline control grid over the fixed image with
// one control point of margin before and enough after, and sets every
// coefficient to the translation so the displacement is constant over the image.
func constantField(stage parammap.Map, fixed models.Geometry, t [3]float64) (bsplineGrid, []float64) {
	spacing, err := stage.Float("FinalGridSpacingInPhysicalUnits", 4)
	if err != nil || spacing <= 0 {
		spacing = 4
	}

	var grid bsplineGrid
	for d := 0; d < 3; d++ {
		extent := float64(fixed.Size[d]-1) * fixed.Spacing[d]
		grid.size[d] = int(math.Floor(extent/spacing)) + 4
		grid.spacing[d] = spacing
	}
	// origin sits one control point before the first voxel along every index axis
	for r := 0; r < 3; r++ {
		grid.origin[r] = fixed.Origin[r]
		for c := 0; c < 3; c++ {
			grid.origin[r] -= fixed.Direction[r*3+c] * spacing
		}
	}

	n := grid.size[0] * grid.size[1] * grid.size[2]
	coeffs := make([]float64, 3*n)
	for d := 0; d < 3; d++ {
		for i := 0; i < n; i++ {
			coeffs[d*n+i] = t[d]
		}
	}
	return grid, coeffs
}

func columnMajor(d [9]float64) []float64 {
	out := make([]float64, 9)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[c*3+r] = d[r*3+c]
		}
	}
	return out
}
