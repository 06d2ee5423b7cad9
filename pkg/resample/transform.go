// Package resample maps images through elastix-style transform maps.
//
// A transform map describes a mapping from a physical point of the output
// (fixed) grid to a physical point of the input (moving) image. Resampling
// walks the output grid, maps every voxel center and interpolates the input.
package resample

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	aerrors "amsaf/internal/errors"
	"amsaf/pkg/parammap"
)

// PointTransform maps a physical point of the output grid into the input image
type PointTransform interface {
	Map(p [3]float64) [3]float64
}

// Affine is T(x) = A(x - c) + c + t
type Affine struct {
	Matrix      *mat.Dense
	Center      [3]float64
	Translation [3]float64
}

// Map implements PointTransform
func (a *Affine) Map(p [3]float64) [3]float64 {
	var out [3]float64
	for r := 0; r < 3; r++ {
		v := a.Center[r] + a.Translation[r]
		for c := 0; c < 3; c++ {
			v += a.Matrix.At(r, c) * (p[c] - a.Center[c])
		}
		out[r] = v
	}
	return out
}

// BSpline is a cubic B-spline displacement field on a regular control grid.
// Points whose support leaves the grid are not displaced.
type BSpline struct {
	GridSize    [3]int
	GridSpacing [3]float64
	GridOrigin  [3]float64
	// gridInverse maps a physical offset from GridOrigin to grid index units
	gridInverse *mat.Dense
	// Coefficients holds one displacement per control point and axis,
	// laid out axis-major as elastix writes them
	Coefficients []float64
}

// Map implements PointTransform
func (b *BSpline) Map(p [3]float64) [3]float64 {
	var u [3]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			u[r] += b.gridInverse.At(r, c) * (p[c] - b.GridOrigin[c])
		}
	}

	var start [3]int
	var weights [3][4]float64
	for d := 0; d < 3; d++ {
		base := math.Floor(u[d])
		start[d] = int(base) - 1
		if start[d] < 0 || start[d]+3 >= b.GridSize[d] {
			return p
		}
		t := u[d] - base
		weights[d] = cubicWeights(t)
	}

	n := b.GridSize[0] * b.GridSize[1] * b.GridSize[2]
	var disp [3]float64
	for k := 0; k < 4; k++ {
		for j := 0; j < 4; j++ {
			for i := 0; i < 4; i++ {
				w := weights[0][i] * weights[1][j] * weights[2][k]
				if w == 0 {
					continue
				}
				idx := (start[2]+k)*b.GridSize[0]*b.GridSize[1] + (start[1]+j)*b.GridSize[0] + start[0] + i
				for d := 0; d < 3; d++ {
					disp[d] += w * b.Coefficients[d*n+idx]
				}
			}
		}
	}
	return [3]float64{p[0] + disp[0], p[1] + disp[1], p[2] + disp[2]}
}

// cubicWeights returns the uniform cubic B-spline weights of the four control
// points around a fractional offset t in [0, 1)
func cubicWeights(t float64) [4]float64 {
	t2 := t * t
	t3 := t2 * t
	return [4]float64{
		(1 - 3*t + 3*t2 - t3) / 6,
		(4 - 6*t2 + 3*t3) / 6,
		(1 + 3*t + 3*t2 - 3*t3) / 6,
		t3 / 6,
	}
}

// FromMap decodes the point transform described by a fitted transform map.
// An unknown or missing Transform is a configuration error.
func FromMap(m parammap.Map) (PointTransform, error) {
	name := m.Value(parammap.KeyTransform)
	params, err := m.Floats(parammap.KeyTransformParameters)
	if err != nil && name != "" {
		return nil, aerrors.NewConfigurationError(err.Error(), parammap.KeyTransformParameters, "")
	}

	switch name {
	case parammap.EulerTransform:
		return eulerFromMap(m, params)
	case parammap.AffineTransform:
		return affineFromMap(m, params)
	case parammap.BSplineTransform:
		return bsplineFromMap(m, params)
	case "TranslationTransform":
		if len(params) != 3 {
			return nil, parameterCountError(name, 3, len(params))
		}
		return &Affine{Matrix: identity(), Translation: [3]float64{params[0], params[1], params[2]}}, nil
	case "":
		return nil, aerrors.NewConfigurationError("transform map has no Transform", parammap.KeyTransform, "")
	default:
		return nil, aerrors.NewConfigurationError(
			fmt.Sprintf("unsupported transform %q", name), parammap.KeyTransform,
			"supported transforms are EulerTransform, AffineTransform, BSplineTransform and TranslationTransform")
	}
}

func affineFromMap(m parammap.Map, params []float64) (PointTransform, error) {
	if len(params) != 12 {
		return nil, parameterCountError(parammap.AffineTransform, 12, len(params))
	}
	center, err := centerOf(m)
	if err != nil {
		return nil, err
	}
	return &Affine{
		Matrix:      mat.NewDense(3, 3, append([]float64(nil), params[:9]...)),
		Center:      center,
		Translation: [3]float64{params[9], params[10], params[11]},
	}, nil
}

// eulerFromMap decodes (rx, ry, rz, tx, ty, tz). The rotation is composed
// as Rz * Rx * Ry, matching ITK's Euler3DTransform default.
func eulerFromMap(m parammap.Map, params []float64) (PointTransform, error) {
	if len(params) != 6 {
		return nil, parameterCountError(parammap.EulerTransform, 6, len(params))
	}
	center, err := centerOf(m)
	if err != nil {
		return nil, err
	}
	rx, ry, rz := params[0], params[1], params[2]
	rotX := mat.NewDense(3, 3, []float64{1, 0, 0, 0, math.Cos(rx), -math.Sin(rx), 0, math.Sin(rx), math.Cos(rx)})
	rotY := mat.NewDense(3, 3, []float64{math.Cos(ry), 0, math.Sin(ry), 0, 1, 0, -math.Sin(ry), 0, math.Cos(ry)})
	rotZ := mat.NewDense(3, 3, []float64{math.Cos(rz), -math.Sin(rz), 0, math.Sin(rz), math.Cos(rz), 0, 0, 0, 1})

	var rotation mat.Dense
	rotation.Product(rotZ, rotX, rotY)

	return &Affine{
		Matrix:      &rotation,
		Center:      center,
		Translation: [3]float64{params[3], params[4], params[5]},
	}, nil
}

func bsplineFromMap(m parammap.Map, params []float64) (PointTransform, error) {
	size, err := m.Ints(parammap.KeyGridSize)
	if err != nil || len(size) != 3 {
		return nil, aerrors.NewConfigurationError("B-spline transform needs a 3D GridSize", parammap.KeyGridSize, "")
	}
	spacing, err := m.Floats(parammap.KeyGridSpacing)
	if err != nil || len(spacing) != 3 {
		return nil, aerrors.NewConfigurationError("B-spline transform needs a 3D GridSpacing", parammap.KeyGridSpacing, "")
	}
	origin, err := m.Floats(parammap.KeyGridOrigin)
	if err != nil || len(origin) != 3 {
		return nil, aerrors.NewConfigurationError("B-spline transform needs a 3D GridOrigin", parammap.KeyGridOrigin, "")
	}

	b := &BSpline{}
	copy(b.GridSize[:], size)
	copy(b.GridSpacing[:], spacing)
	copy(b.GridOrigin[:], origin)

	n := size[0] * size[1] * size[2]
	if len(params) != 3*n {
		return nil, parameterCountError(parammap.BSplineTransform, 3*n, len(params))
	}
	b.Coefficients = params

	direction := identity()
	if m.Has(parammap.KeyGridDirection) {
		cols, err := m.Floats(parammap.KeyGridDirection)
		if err != nil || len(cols) != 9 {
			return nil, aerrors.NewConfigurationError("GridDirection needs 9 values", parammap.KeyGridDirection, "")
		}
		// column-major on disk
		direction = mat.NewDense(3, 3, nil)
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				direction.Set(r, c, cols[c*3+r])
			}
		}
	}

	scaled := mat.NewDense(3, 3, nil)
	scaled.Apply(func(r, c int, v float64) float64 { return v * spacing[c] }, direction)
	var inverse mat.Dense
	if err := inverse.Inverse(scaled); err != nil {
		return nil, aerrors.NewConfigurationError("B-spline grid direction is singular", parammap.KeyGridDirection, "")
	}
	b.gridInverse = &inverse
	return b, nil
}

func centerOf(m parammap.Map) ([3]float64, error) {
	var c [3]float64
	if !m.Has(parammap.KeyCenterOfRotationPoint) {
		return c, nil
	}
	values, err := m.Floats(parammap.KeyCenterOfRotationPoint)
	if err != nil || len(values) != 3 {
		return c, aerrors.NewConfigurationError("center of rotation needs 3 values", parammap.KeyCenterOfRotationPoint, "")
	}
	copy(c[:], values)
	return c, nil
}

func parameterCountError(name string, want, got int) error {
	return aerrors.NewConfigurationError(
		fmt.Sprintf("%s expects %d parameters, got %d", name, want, got),
		parammap.KeyTransformParameters, "")
}

func identity() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}
