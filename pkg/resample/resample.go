package resample

import (
	"math"

	"gonum.org/v1/gonum/mat"

	aerrors "amsaf/internal/errors"
	"amsaf/internal/models"
	"amsaf/pkg/parammap"
)

// Interpolator selects how input voxels are combined at a mapped point
type Interpolator int

const (
	// Nearest picks the closest voxel; required for label images
	Nearest Interpolator = iota
	// Linear blends the eight surrounding voxels
	Linear
)

// boundsTolerance absorbs round-off when a point lands on the grid border
const boundsTolerance = 1e-6

// InterpolatorFromMap reads the ResampleInterpolator of a transform map.
// B-spline interpolation of order 0 is nearest neighbor; higher orders are
// approximated by linear interpolation.
func InterpolatorFromMap(m parammap.Map) Interpolator {
	switch m.Value(parammap.KeyResampleInterpolator) {
	case parammap.NearestNeighborInterpolator:
		return Nearest
	case parammap.BSplineInterpolator:
		order, err := m.Float("FinalBSplineInterpolationOrder", 3)
		if err == nil && order == 0 {
			return Nearest
		}
	}
	return Linear
}

// PixelTypeFromMap reads ResultImagePixelType, keeping fallback when unset or unknown
func PixelTypeFromMap(m parammap.Map, fallback models.PixelType) models.PixelType {
	switch m.Value(parammap.KeyResultImagePixelType) {
	case "float":
		return models.Float32
	case "double":
		return models.Float64
	case "unsigned char":
		return models.UInt8
	case "unsigned short":
		return models.UInt16
	case "short":
		return models.Int16
	}
	return fallback
}

// Resample maps img onto the grid out through tr. Output voxels whose mapped
// point falls outside img get defaultValue.
func Resample(img *models.Image, out models.Geometry, tr PointTransform, interp Interpolator, defaultValue float64) (*models.Image, error) {
	toIndex, err := physicalToIndex(img.Geometry)
	if err != nil {
		return nil, err
	}

	result := models.NewImage(out, img.PixelType)
	for z := 0; z < out.Size[2]; z++ {
		for y := 0; y < out.Size[1]; y++ {
			for x := 0; x < out.Size[0]; x++ {
				p := IndexToPhysical(out, float64(x), float64(y), float64(z))
				q := tr.Map(p)

				var ci [3]float64
				for r := 0; r < 3; r++ {
					for c := 0; c < 3; c++ {
						ci[r] += toIndex.At(r, c) * (q[c] - img.Origin[c])
					}
				}

				v, ok := sample(img, ci, interp)
				if !ok {
					v = defaultValue
				}
				result.Set(x, y, z, v)
			}
		}
	}
	return result, nil
}

// ResampleWithMap is Resample driven entirely by a transform map: the output
// grid, interpolator, default value and pixel type all come from m.
func ResampleWithMap(img *models.Image, m parammap.Map) (*models.Image, error) {
	tr, err := FromMap(m)
	if err != nil {
		return nil, err
	}
	out, err := m.Geometry()
	if err != nil {
		return nil, aerrors.NewConfigurationError("transform map has no usable output grid: "+err.Error(), parammap.KeySize, "")
	}
	defaultValue, err := m.Float(parammap.KeyDefaultPixelValue, 0)
	if err != nil {
		return nil, aerrors.NewConfigurationError(err.Error(), parammap.KeyDefaultPixelValue, "")
	}

	result, err := Resample(img, out, tr, InterpolatorFromMap(m), defaultValue)
	if err != nil {
		return nil, err
	}
	result.PixelType = PixelTypeFromMap(m, img.PixelType)
	return result, nil
}

// IndexToPhysical converts a continuous voxel index of g to a physical point
func IndexToPhysical(g models.Geometry, x, y, z float64) [3]float64 {
	idx := [3]float64{x * g.Spacing[0], y * g.Spacing[1], z * g.Spacing[2]}
	var p [3]float64
	for r := 0; r < 3; r++ {
		p[r] = g.Origin[r]
		for c := 0; c < 3; c++ {
			p[r] += g.Direction[r*3+c] * idx[c]
		}
	}
	return p
}

// physicalToIndex returns (D * diag(spacing))^-1
func physicalToIndex(g models.Geometry) (*mat.Dense, error) {
	scaled := mat.NewDense(3, 3, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			scaled.Set(r, c, g.Direction[r*3+c]*g.Spacing[c])
		}
	}
	var inverse mat.Dense
	if err := inverse.Inverse(scaled); err != nil {
		return nil, aerrors.NewConfigurationError("image direction matrix is singular", parammap.KeyDirection, "")
	}
	return &inverse, nil
}

func sample(img *models.Image, ci [3]float64, interp Interpolator) (float64, bool) {
	switch interp {
	case Nearest:
		var idx [3]int
		for d := 0; d < 3; d++ {
			if ci[d] < -0.5-boundsTolerance || ci[d] > float64(img.Size[d])-0.5+boundsTolerance {
				return 0, false
			}
			idx[d] = clamp(int(math.Floor(ci[d]+0.5)), img.Size[d])
		}
		return img.At(idx[0], idx[1], idx[2]), true
	default:
		return trilinear(img, ci)
	}
}

func trilinear(img *models.Image, ci [3]float64) (float64, bool) {
	var lo, hi [3]int
	var frac [3]float64
	for d := 0; d < 3; d++ {
		if ci[d] < -boundsTolerance || ci[d] > float64(img.Size[d]-1)+boundsTolerance {
			return 0, false
		}
		base := math.Floor(ci[d])
		frac[d] = ci[d] - base
		if frac[d] < boundsTolerance {
			frac[d] = 0
		}
		lo[d] = clamp(int(base), img.Size[d])
		hi[d] = clamp(lo[d]+1, img.Size[d])
	}

	v := 0.0
	for k := 0; k < 2; k++ {
		wz, z := 1-frac[2], lo[2]
		if k == 1 {
			wz, z = frac[2], hi[2]
		}
		if wz == 0 {
			continue
		}
		for j := 0; j < 2; j++ {
			wy, y := 1-frac[1], lo[1]
			if j == 1 {
				wy, y = frac[1], hi[1]
			}
			if wy == 0 {
				continue
			}
			for i := 0; i < 2; i++ {
				wx, x := 1-frac[0], lo[0]
				if i == 1 {
					wx, x = frac[0], hi[0]
				}
				if wx == 0 {
					continue
				}
				v += wx * wy * wz * img.At(x, y, z)
			}
		}
	}
	return v, true
}

func clamp(i, size int) int {
	if i < 0 {
		return 0
	}
	if i >= size {
		return size - 1
	}
	return i
}
