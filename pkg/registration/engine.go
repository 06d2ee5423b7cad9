// Package registration orchestrates a registration engine to move a
// segmentation from one volume onto another.
//
// The engine itself is opaque: it fits an ordered chain of transforms
// (typically rigid, then affine, then B-spline) between a fixed and a moving
// image, and applies a fitted chain to any image. This package decides what the
// engine is asked to do: it validates and overrides the configuration vector,
// chains the stages, and forces nearest-neighbor resampling whenever a label
// image is transported.
package registration

import (
	"amsaf/internal/models"
	"amsaf/pkg/parammap"
)

// Request is one synchronous registration job
type Request struct {
	// Fixed is the image the moving image is aligned to
	Fixed *models.Image

	// Moving is the image that gets resampled onto the fixed grid
	Moving *models.Image

	// ParameterMaps holds one configuration per stage. The first map is the
	// active stage; later maps are chained after it in order.
	ParameterMaps []parammap.Map

	// Verbose lets the engine log to the console; it never changes results
	Verbose bool
}

// Result is the outcome of a registration
type Result struct {
	// Image is the moving image resampled through the whole fitted chain
	Image *models.Image

	// TransformParameterMaps holds one fitted transform per stage, in the
	// order they were fitted. Stage i is defined relative to the output of
	// stage i-1.
	TransformParameterMaps []parammap.Map
}

// Engine fits a chain of transforms between two images
type Engine interface {
	Register(req Request) (*Result, error)
}

// Transformer applies a fitted chain of transforms to an image
type Transformer interface {
	Transform(img *models.Image, transformMaps []parammap.Map, verbose bool) (*models.Image, error)
}

// Capability is an engine that can both fit and apply transforms
type Capability interface {
	Engine
	Transformer
}
