package registration

import (
	"errors"
	"fmt"

	aerrors "amsaf/internal/errors"
	"amsaf/internal/models"
	"amsaf/internal/output"
	"amsaf/pkg/parammap"
)

// Options controls a single registration or propagation call
type Options struct {
	// AutoInit asks the engine to pre-initialize every stage itself
	// (AutomaticTransformInitialization = true). Do not combine it with an
	// explicit affine pre-alignment.
	AutoInit bool

	// Verbose forwards console logging to the engine
	Verbose bool
}

// DefaultOptions returns the options used when the caller has no preference:
// engine auto-initialization on, quiet engine.
func DefaultOptions() Options {
	return Options{AutoInit: true}
}

// Adapter drives a registration engine and a transform engine.
// It holds no state between calls.
type Adapter struct {
	engine      Engine
	transformer Transformer
}

// NewAdapter creates an adapter over separate fitting and applying engines
func NewAdapter(engine Engine, transformer Transformer) *Adapter {
	return &Adapter{
		engine:      engine,
		transformer: transformer,
	}
}

// New creates an adapter over an engine that both fits and applies transforms
func New(c Capability) *Adapter {
	return NewAdapter(c, c)
}

// ValidateVector checks a configuration vector before any engine runs.
// It must hold at least one map and every map must name its Transform.
func ValidateVector(vector []parammap.Map) error {
	if len(vector) == 0 {
		return aerrors.NewConfigurationError("configuration vector is empty", "", "pass at least one stage, e.g. parammap.DefaultVector()")
	}
	for i, m := range vector {
		if m.Value(parammap.KeyTransform) == "" {
			return aerrors.NewConfigurationError(
				fmt.Sprintf("stage %d does not set the mandatory Transform parameter", i),
				parammap.KeyTransform,
				"set Transform to EulerTransform, AffineTransform or BSplineTransform",
			)
		}
	}
	return nil
}

// Register aligns moving to fixed with the stages in vector.
//
// With opts.AutoInit every stage is overridden to request the engine's own
// transform initialization. The engine runs synchronously; any failure it
// reports is returned as an engine execution error without retry.
func (a *Adapter) Register(fixed, moving *models.Image, vector []parammap.Map, opts Options) (*Result, error) {
	if fixed == nil || moving == nil {
		return nil, aerrors.NewConfigurationError("fixed and moving images are required", "", "")
	}
	if err := ValidateVector(vector); err != nil {
		return nil, err
	}

	maps := make([]parammap.Map, len(vector))
	copy(maps, vector)
	if opts.AutoInit {
		maps = parammap.AutoInit(maps)
	}

	output.Debug("registering",
		"stages", len(maps),
		"fixed", fmt.Sprint(fixed.Size),
		"moving", fmt.Sprint(moving.Size),
		"autoInit", opts.AutoInit,
	)

	result, err := a.engine.Register(Request{
		Fixed:         fixed,
		Moving:        moving,
		ParameterMaps: maps,
		Verbose:       opts.Verbose,
	})
	if err != nil {
		return nil, engineFailure("registration failed", err)
	}
	if result == nil || result.Image == nil {
		return nil, aerrors.NewEngineError("registration engine returned no result image", nil)
	}
	if len(result.TransformParameterMaps) != len(maps) {
		return nil, aerrors.NewEngineError(
			fmt.Sprintf("registration engine returned %d transforms for %d stages", len(result.TransformParameterMaps), len(maps)), nil)
	}
	return result, nil
}

// Apply resamples img through the fitted transforms, stage by stage in list
// order. The interpolation of each stage is whatever its map requests.
func (a *Adapter) Apply(img *models.Image, transforms []parammap.Map, verbose bool) (*models.Image, error) {
	if img == nil {
		return nil, aerrors.NewConfigurationError("image to transform is required", "", "")
	}
	if len(transforms) == 0 {
		return nil, aerrors.NewConfigurationError("no transforms to apply", "", "")
	}

	output.Debug("applying transforms",
		"stages", len(transforms),
		"interpolator", transforms[len(transforms)-1].Value(parammap.KeyResampleInterpolator),
	)

	result, err := a.transformer.Transform(img, transforms, verbose)
	if err != nil {
		return nil, engineFailure("transform application failed", err)
	}
	if result == nil {
		return nil, aerrors.NewEngineError("transform engine returned no image", nil)
	}
	return result, nil
}

// Propagate moves segmentation from the space of segmented into the space of
// unsegmented.
//
// The intensity images drive the registration; the fitted chain is then
// rewritten to nearest-neighbor resampling and applied to the label image, so
// no fractional labels appear. The result lies on the grid of unsegmented.
func (a *Adapter) Propagate(unsegmented, segmented, segmentation *models.Image, vector []parammap.Map, opts Options) (*models.Image, error) {
	p, err := a.PropagateDetailed(unsegmented, segmented, segmentation, vector, opts)
	if err != nil {
		return nil, err
	}
	return p.Labels, nil
}

// Propagation is everything one propagation produced
type Propagation struct {
	// Labels is the segmentation on the grid of the unsegmented image
	Labels *models.Image

	// Registered is the segmented image resampled through the fitted chain
	Registered *models.Image

	// Transforms is the nearest-neighbor chain applied to the segmentation
	Transforms []parammap.Map
}

// PropagateDetailed is Propagate that also returns the registered image and
// the applied chain, so a caller can score and persist them
func (a *Adapter) PropagateDetailed(unsegmented, segmented, segmentation *models.Image, vector []parammap.Map, opts Options) (*Propagation, error) {
	if unsegmented == nil || segmented == nil || segmentation == nil {
		return nil, aerrors.NewConfigurationError("unsegmented image, segmented image and segmentation are required", "", "")
	}
	if !segmented.Geometry.Equal(segmentation.Geometry) {
		return nil, aerrors.NewConfigurationError(
			"segmentation does not share the grid of the segmented image",
			"",
			"resample the segmentation onto the segmented image before propagating",
		)
	}

	result, err := a.Register(unsegmented, segmented, vector, opts)
	if err != nil {
		return nil, err
	}

	nn := parammap.NearestNeighbor(result.TransformParameterMaps)
	labels, err := a.Apply(segmentation, nn, opts.Verbose)
	if err != nil {
		return nil, err
	}
	if !labels.Geometry.Equal(unsegmented.Geometry) {
		return nil, aerrors.NewEngineError("propagated segmentation is not on the grid of the unsegmented image", nil)
	}
	return &Propagation{Labels: labels, Registered: result.Image, Transforms: nn}, nil
}

// engineFailure keeps categorized errors as they are and files everything
// else under engine execution errors
func engineFailure(message string, err error) error {
	if aerrors.Category(err) != nil {
		return err
	}
	var detail *aerrors.DetailError
	if errors.As(err, &detail) {
		return err
	}
	return aerrors.NewEngineError(message, err)
}
