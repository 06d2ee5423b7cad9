// Package native is an in-process registration engine for machines without
// elastix and for deterministic tests.
//
// Every stage is fitted by an exhaustive search over whole-voxel translations
// of the fixed grid, scored with the stage's Metric. The fitted translation is
// written out as a transform of the stage's own kind (Euler, affine or
// B-spline), in the same parameter layout elastix uses, so the fitted maps can
// be persisted and re-applied by either engine.
package native

import (
	"fmt"
	"math"

	aerrors "amsaf/internal/errors"
	"amsaf/internal/models"
	"amsaf/internal/output"
	"amsaf/pkg/metrics"
	"amsaf/pkg/parammap"
	"amsaf/pkg/registration"
	"amsaf/pkg/resample"
)

// DefaultSearchRadius is the translation search radius in voxels
const DefaultSearchRadius = 4

// Metric names understood by the engine
const (
	MetricMeanSquares           = "AdvancedMeanSquares"
	MetricMattesMutualInfo      = "AdvancedMattesMutualInformation"
	MetricNormalizedCorrelation = "AdvancedNormalizedCorrelation"
)

// Engine fits and applies transform chains in process. It keeps no state
// between calls.
type Engine struct {
	// searchRadius bounds the translation search per axis, in voxels
	searchRadius int
}

// NewEngine creates an engine searching translations up to searchRadius
// voxels per axis. A non-positive radius selects DefaultSearchRadius.
func NewEngine(searchRadius int) *Engine {
	if searchRadius <= 0 {
		searchRadius = DefaultSearchRadius
	}
	return &Engine{searchRadius: searchRadius}
}

// candidate is one scored translation, in fixed-grid voxel units
type candidate struct {
	shift [3]int
	score float64
	valid bool
}

// Register implements registration.Engine.
//
// Stage i is searched against the moving image as seen through stages
// 0..i-1, sampling the original moving image through the composed chain so
// that voxels outside it never count as valid overlap.
func (e *Engine) Register(req registration.Request) (*registration.Result, error) {
	if err := req.Fixed.Validate(); err != nil {
		return nil, aerrors.NewEngineError("invalid fixed image", err)
	}
	if err := req.Moving.Validate(); err != nil {
		return nil, aerrors.NewEngineError("invalid moving image", err)
	}

	var fitted chain
	transforms := make([]parammap.Map, 0, len(req.ParameterMaps))
	for stage, m := range req.ParameterMaps {
		transform, err := e.fitStage(req.Fixed, req.Moving, fitted, m, stage == 0)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", stage, err)
		}
		tr, err := resample.FromMap(transform)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", stage, err)
		}
		// the newest stage maps fixed points first
		fitted = append(chain{tr}, fitted...)

		if req.Verbose {
			params, _ := transform.Get(parammap.KeyTransformParameters)
			output.Info("stage fitted",
				"stage", stage,
				"transform", transform.Value(parammap.KeyTransform),
				"parameters", len(params),
			)
		}
		transforms = append(transforms, transform)
	}

	img, err := e.Transform(req.Moving, transforms, false)
	if err != nil {
		return nil, err
	}
	return &registration.Result{
		Image:                  img,
		TransformParameterMaps: transforms,
	}, nil
}

// Transform implements registration.Transformer: each map resamples the
// output of the previous one
func (e *Engine) Transform(img *models.Image, transformMaps []parammap.Map, verbose bool) (*models.Image, error) {
	current := img
	for i, m := range transformMaps {
		next, err := resample.ResampleWithMap(current, m)
		if err != nil {
			return nil, fmt.Errorf("transform %d: %w", i, err)
		}
		if verbose {
			output.Info("transform applied", "index", i, "interpolator", m.Value(parammap.KeyResampleInterpolator))
		}
		current = next
	}
	return current, nil
}

func (e *Engine) fitStage(fixed, moving *models.Image, prior chain, m parammap.Map, first bool) (parammap.Map, error) {
	kind := m.Value(parammap.KeyTransform)
	switch kind {
	case parammap.EulerTransform, parammap.AffineTransform, parammap.BSplineTransform, "TranslationTransform":
	default:
		return parammap.Map{}, aerrors.NewConfigurationError(
			fmt.Sprintf("unsupported transform %q", kind), parammap.KeyTransform, "")
	}

	score, err := scorer(m)
	if err != nil {
		return parammap.Map{}, err
	}
	minOverlap, err := m.Float(parammap.KeyRequiredRatioValid, 0.25)
	if err != nil {
		return parammap.Map{}, aerrors.NewConfigurationError(err.Error(), parammap.KeyRequiredRatioValid, "")
	}

	// later stages see the previous output, which already lies on the fixed grid
	start := [3]int{}
	if first && m.Bool(parammap.KeyAutomaticTransformInit) {
		start = centerOffset(fixed.Geometry, moving.Geometry)
	}

	best := e.search(fixed, moving, prior, start, score, minOverlap)
	if !best.valid {
		return parammap.Map{}, aerrors.NewEngineError(
			"no translation leaves enough overlap between the images", nil)
	}

	return stageTransform(m, fixed.Geometry, kind, shiftToPhysical(fixed.Geometry, best.shift))
}

// search scores every whole-voxel shift within the radius around start.
// Ties go to the shift closest to start, then to the first one visited.
func (e *Engine) search(fixed, moving *models.Image, prior chain, start [3]int, score func(a, b []float64) float64, minOverlap float64) candidate {
	r := e.searchRadius
	best := candidate{score: math.Inf(1)}
	bestNorm := math.MaxInt

	for dz := -r; dz <= r; dz++ {
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				shift := [3]int{start[0] + dx, start[1] + dy, start[2] + dz}
				tr := append(chain{translation(shiftToPhysical(fixed.Geometry, shift))}, prior...)
				a, b := overlap(fixed, moving, tr)
				if len(a) == 0 || float64(len(a)) < minOverlap*float64(fixed.NumVoxels()) {
					continue
				}

				s := score(a, b)
				norm := abs(dx) + abs(dy) + abs(dz)
				if s < best.score || (s == best.score && norm < bestNorm) {
					best = candidate{shift: shift, score: s, valid: true}
					bestNorm = norm
				}
			}
		}
	}
	return best
}

// overlap pairs every fixed voxel with the moving value found through tr;
// pairs falling outside the moving image are dropped
func overlap(fixed, moving *models.Image, tr resample.PointTransform) ([]float64, []float64) {
	warped, err := resample.Resample(moving, fixed.Geometry, tr, resample.Linear, math.NaN())
	if err != nil {
		return nil, nil
	}

	a := make([]float64, 0, len(fixed.Data))
	b := make([]float64, 0, len(fixed.Data))
	for i, v := range warped.Data {
		if math.IsNaN(v) {
			continue
		}
		a = append(a, fixed.Data[i])
		b = append(b, v)
	}
	return a, b
}

// scorer returns a cost function for the stage metric; lower is better
func scorer(m parammap.Map) (func(a, b []float64) float64, error) {
	switch name := m.Value(parammap.KeyMetric); name {
	case MetricMeanSquares:
		return metrics.MeanSquares, nil
	case MetricMattesMutualInfo, "":
		bins, err := m.Float("NumberOfHistogramBins", 32)
		if err != nil {
			return nil, aerrors.NewConfigurationError(err.Error(), "NumberOfHistogramBins", "")
		}
		return func(a, b []float64) float64 {
			return -metrics.MutualInformation(a, b, int(bins))
		}, nil
	case MetricNormalizedCorrelation:
		return func(a, b []float64) float64 {
			return -metrics.NormalizedCorrelation(a, b)
		}, nil
	default:
		return nil, aerrors.NewConfigurationError(
			fmt.Sprintf("unsupported metric %q", name), parammap.KeyMetric,
			"use AdvancedMeanSquares, AdvancedMattesMutualInformation or AdvancedNormalizedCorrelation")
	}
}

// centerOffset is the whole-voxel shift that moves the geometric center of
// the fixed grid onto the geometric center of the moving grid
func centerOffset(fixed, moving models.Geometry) [3]int {
	cf := geometricCenter(fixed)
	cm := geometricCenter(moving)
	diff := [3]float64{cm[0] - cf[0], cm[1] - cf[1], cm[2] - cf[2]}

	// express the physical offset in fixed-grid voxels
	var out [3]int
	for c := 0; c < 3; c++ {
		v := 0.0
		for r := 0; r < 3; r++ {
			// direction is orthonormal, so its transpose is its inverse
			v += fixed.Direction[r*3+c] * diff[r]
		}
		out[c] = int(math.Round(v / fixed.Spacing[c]))
	}
	return out
}

func geometricCenter(g models.Geometry) [3]float64 {
	return resample.IndexToPhysical(g,
		float64(g.Size[0]-1)/2, float64(g.Size[1]-1)/2, float64(g.Size[2]-1)/2)
}

func shiftToPhysical(g models.Geometry, shift [3]int) [3]float64 {
	origin := resample.IndexToPhysical(g, 0, 0, 0)
	p := resample.IndexToPhysical(g, float64(shift[0]), float64(shift[1]), float64(shift[2]))
	return [3]float64{p[0] - origin[0], p[1] - origin[1], p[2] - origin[2]}
}

type translation [3]float64

// chain applies its transforms first to last
type chain []resample.PointTransform

func (c chain) Map(p [3]float64) [3]float64 {
	for _, t := range c {
		p = t.Map(p)
	}
	return p
}

func (t translation) Map(p [3]float64) [3]float64 {
	return [3]float64{p[0] + t[0], p[1] + t[1], p[2] + t[2]}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
