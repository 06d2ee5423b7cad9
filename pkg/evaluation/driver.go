// Package evaluation runs one segmentation propagation end to end and
// persists its outcome.
//
// A run optionally pre-aligns the segmented image and its segmentation with an
// explicit affine transform, propagates the segmentation onto the unsegmented
// image, and writes seg.nii, the applied transforms, previews and a run.yaml
// manifest into the output directory. Nothing is written unless the whole run
// succeeds.
package evaluation

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	aerrors "amsaf/internal/errors"
	"amsaf/internal/models"
	"amsaf/internal/output"
	"amsaf/pkg/affine"
	"amsaf/pkg/metrics"
	"amsaf/pkg/nifti"
	"amsaf/pkg/parammap"
	"amsaf/pkg/registration"
	"amsaf/pkg/visualization"
)

// File names inside the output directory
const (
	SegmentationFile = "seg.nii"
	ManifestFile     = "run.yaml"
	PreAlignmentFile = "PreAlignment.txt"
	PreviewDir       = "previews"
)

// previewMargin is the number of voxels kept around the labels in previews
const previewMargin = 2

// Inputs are the images of one run
type Inputs struct {
	// Unsegmented receives the segmentation
	Unsegmented *models.Image

	// Segmented is the image the segmentation was drawn on
	Segmented *models.Image

	// Segmentation is the label image on the grid of Segmented
	Segmentation *models.Image

	// Reference is an optional ground truth on the grid of Unsegmented
	Reference *models.Image

	// Paths records where the images came from, for the manifest only
	Paths map[string]string
}

// PreAlignment is an explicit affine transform T(x) = Ax + t applied to the
// segmented image and its segmentation before registration
type PreAlignment struct {
	Matrix      mat.Matrix
	Translation mat.Matrix
}

// Options controls a run
type Options struct {
	// AutoInit lets the engine initialize every stage; excludes PreAlignment
	AutoInit bool

	// Verbose forwards engine console output
	Verbose bool

	// PreAlignment is applied before registration when set
	PreAlignment *PreAlignment

	// WriteTransforms persists the applied transforms as TransformParameters.<i>.txt
	WriteTransforms bool

	// Previews writes JPEG slices of the propagated segmentation over the target
	Previews bool

	// Engine names the registration engine in the manifest
	Engine string
}

// Driver runs propagations through one registration adapter
type Driver struct {
	adapter *registration.Adapter
	now     func() time.Time
}

// NewDriver creates a driver over adapter
func NewDriver(adapter *registration.Adapter) *Driver {
	return &Driver{
		adapter: adapter,
		now:     time.Now,
	}
}

// Run propagates in.Segmentation onto in.Unsegmented with vector and writes
// the outcome into outputPath, creating it if needed. The manifest of the
// run is returned.
func (d *Driver) Run(in Inputs, vector []parammap.Map, outputPath string, opts Options) (*Manifest, error) {
	if err := checkInputs(in, opts); err != nil {
		return nil, err
	}
	if outputPath == "" {
		return nil, aerrors.NewConfigurationError("output path is required", "output.dir", "")
	}

	manifest := &Manifest{
		RunID:        uuid.New().String(),
		StartedAt:    d.now().UTC(),
		Engine:       opts.Engine,
		AutoInit:     opts.AutoInit,
		Inputs:       in.Paths,
		Segmentation: SegmentationFile,
	}
	output.Info("starting run", "id", manifest.RunID, "stages", len(vector))

	segmented, segmentation := in.Segmented, in.Segmentation
	var preTransform parammap.Map
	if opts.PreAlignment != nil {
		var err error
		preTransform, err = affine.Build(in.Segmented, opts.PreAlignment.Matrix, opts.PreAlignment.Translation)
		if err != nil {
			return nil, err
		}
		output.Info("applying explicit pre-alignment")
		// both share one grid, so one transform serves both
		segmented, err = d.adapter.Apply(in.Segmented, []parammap.Map{preTransform}, opts.Verbose)
		if err != nil {
			return nil, fmt.Errorf("pre-aligning segmented image: %w", err)
		}
		segmentation, err = d.adapter.Apply(in.Segmentation, parammap.NearestNeighbor([]parammap.Map{preTransform}), opts.Verbose)
		if err != nil {
			return nil, fmt.Errorf("pre-aligning segmentation: %w", err)
		}
		manifest.PreAlignment = recordPreAlignment(opts.PreAlignment)
	}

	output.Info("propagating segmentation")
	propagation, err := d.adapter.PropagateDetailed(in.Unsegmented, segmented, segmentation, vector,
		registration.Options{AutoInit: opts.AutoInit, Verbose: opts.Verbose})
	if err != nil {
		return nil, err
	}
	labels, transforms := propagation.Labels, propagation.Transforms

	if reg := propagation.Registered; reg != nil && reg.Geometry.Equal(in.Unsegmented.Geometry) {
		similarity := metrics.Compare(in.Unsegmented.Data, reg.Data)
		manifest.Similarity = &similarity
		output.Info("registered image similarity",
			"rmse", fmt.Sprintf("%.4f", similarity.RMSE),
			"mi", fmt.Sprintf("%.4f", similarity.MutualInformation),
			"entropyDiff", fmt.Sprintf("%.4f", similarity.EntropyDifference),
		)
	} else {
		output.Warn("registered image is not on the target grid; similarity not recorded")
	}

	manifest.Labels = labels.Labels()
	for i, m := range transforms {
		stage := StageRecord{
			Transform:  m.Value(parammap.KeyTransform),
			Parameters: len(valuesOf(m, parammap.KeyTransformParameters)),
		}
		if opts.WriteTransforms {
			stage.File = transformFile(i)
		}
		manifest.Stages = append(manifest.Stages, stage)
	}

	if in.Reference != nil {
		overlap, err := metrics.DicePerLabel(in.Reference.Data, labels.Data)
		if err != nil {
			return nil, aerrors.NewConfigurationError(err.Error(), "inputs.reference", "")
		}
		manifest.Overlap = overlap
		manifest.MeanDice = meanDice(overlap)
		output.Info("overlap with reference", "labels", len(overlap), "meanDice", fmt.Sprintf("%.4f", manifest.MeanDice))
	}

	manifest.FinishedAt = d.now().UTC()
	if err := d.persist(outputPath, labels, transforms, preTransform, manifest, in.Unsegmented, opts); err != nil {
		return nil, err
	}
	output.Info("run complete", "output", outputPath)
	return manifest, nil
}

// checkInputs rejects a run before any engine call
func checkInputs(in Inputs, opts Options) error {
	if in.Unsegmented == nil || in.Segmented == nil || in.Segmentation == nil {
		return aerrors.NewConfigurationError("unsegmented image, segmented image and segmentation are required", "", "")
	}
	if opts.PreAlignment != nil && opts.AutoInit {
		return aerrors.NewConfigurationError(
			"explicit pre-alignment cannot be combined with engine auto-initialization",
			"registration.autoInit",
			"disable auto-initialization or drop the pre-alignment",
		)
	}
	if !in.Segmented.Geometry.Equal(in.Segmentation.Geometry) {
		return aerrors.NewConfigurationError(
			"segmentation does not share the grid of the segmented image", "inputs.segmentation", "")
	}
	if in.Reference != nil && !in.Reference.Geometry.Equal(in.Unsegmented.Geometry) {
		return aerrors.NewConfigurationError(
			"reference segmentation does not share the grid of the unsegmented image", "inputs.reference", "")
	}
	return nil
}

// persist writes every output into a staging directory inside outputPath
// and moves the files into place only once all of them were written
func (d *Driver) persist(outputPath string, labels *models.Image, transforms []parammap.Map, preTransform parammap.Map,
	manifest *Manifest, target *models.Image, opts Options) error {
	if err := os.MkdirAll(outputPath, 0755); err != nil {
		return aerrors.NewIOError(outputPath, err)
	}
	staging, err := os.MkdirTemp(outputPath, ".staging-")
	if err != nil {
		return aerrors.NewIOError(outputPath, err)
	}
	defer os.RemoveAll(staging)

	if err := nifti.Write(labels, filepath.Join(staging, SegmentationFile)); err != nil {
		return err
	}
	if opts.WriteTransforms {
		for i, m := range linkChain(outputPath, transforms) {
			if err := parammap.WriteFile(filepath.Join(staging, transformFile(i)), m); err != nil {
				return err
			}
		}
		if preTransform.Len() > 0 {
			if err := parammap.WriteFile(filepath.Join(staging, PreAlignmentFile), preTransform); err != nil {
				return err
			}
		}
	}
	if opts.Previews {
		viewer, err := visualization.NewViewer(target, labels)
		if err != nil {
			return err
		}
		if err := viewer.SavePreviews("z", previewMargin, filepath.Join(staging, PreviewDir)); err != nil {
			return err
		}
	}
	if err := manifest.Save(filepath.Join(staging, ManifestFile)); err != nil {
		return err
	}

	// outputs of an earlier run in the same directory must not mix with this one
	stale, err := filepath.Glob(filepath.Join(outputPath, "TransformParameters.*.txt"))
	if err != nil {
		return aerrors.NewIOError(outputPath, err)
	}
	stale = append(stale, filepath.Join(outputPath, PreAlignmentFile), filepath.Join(outputPath, PreviewDir))
	for _, path := range stale {
		if err := os.RemoveAll(path); err != nil {
			return aerrors.NewIOError(path, err)
		}
	}

	entries, err := os.ReadDir(staging)
	if err != nil {
		return aerrors.NewIOError(staging, err)
	}
	for _, e := range entries {
		dst := filepath.Join(outputPath, e.Name())
		if e.IsDir() {
			if err := os.RemoveAll(dst); err != nil {
				return aerrors.NewIOError(dst, err)
			}
		}
		if err := os.Rename(filepath.Join(staging, e.Name()), dst); err != nil {
			return aerrors.NewIOError(dst, err)
		}
	}
	return nil
}

func transformFile(i int) string {
	return fmt.Sprintf("TransformParameters.%d.txt", i)
}

// linkChain points every persisted transform at the persisted file of the
// stage before it, replacing links into engine work directories
func linkChain(outputPath string, transforms []parammap.Map) []parammap.Map {
	if abs, err := filepath.Abs(outputPath); err == nil {
		outputPath = abs
	}
	linked := make([]parammap.Map, len(transforms))
	for i, m := range transforms {
		previous := parammap.NoInitialTransform
		if i > 0 {
			previous = filepath.Join(outputPath, transformFile(i-1))
		}
		linked[i] = parammap.Assoc(parammap.KeyInitialTransformFileName, previous, m)
	}
	return linked
}

func valuesOf(m parammap.Map, key string) parammap.Values {
	v, _ := m.Get(key)
	return v
}
