package evaluation

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aerrors "amsaf/internal/errors"
	"amsaf/internal/models"
	"amsaf/pkg/affine"
	"amsaf/pkg/config"
	"amsaf/pkg/elastix"
	"amsaf/pkg/native"
	"amsaf/pkg/nifti"
	"amsaf/pkg/parammap"
	"amsaf/pkg/registration"
)

const size = 8

// blob is zero outside [1,5]^3 and distinct inside
func blob(x, y, z int) float64 {
	if x < 1 || x > 5 || y < 1 || y > 5 || z < 1 || z > 5 {
		return 0
	}
	return float64(1 + x + 10*y + 100*z)
}

func volume(f func(x, y, z int) float64, pixelType models.PixelType) *models.Image {
	img := models.NewImage(models.NewGeometry(size, size, size), pixelType)
	for z := 0; z < size; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				img.Set(x, y, z, f(x, y, z))
			}
		}
	}
	return img
}

// box returns a label image holding label 1 in x0..x1, y and z in 2..4
func box(x0, x1 int) *models.Image {
	return volume(func(x, y, z int) float64 {
		if x >= x0 && x <= x1 && y >= 2 && y <= 4 && z >= 2 && z <= 4 {
			return 1
		}
		return 0
	}, models.UInt8)
}

// shiftedInputs builds a target and an atlas translated by 2 voxels along x
func shiftedInputs() Inputs {
	return Inputs{
		Unsegmented:  volume(blob, models.UInt16),
		Segmented:    volume(func(x, y, z int) float64 { return blob(x-2, y, z) }, models.UInt16),
		Segmentation: box(4, 5),
		Reference:    box(2, 3),
	}
}

func meanSquares() []parammap.Map {
	return parammap.AssocAll(parammap.KeyMetric, native.MetricMeanSquares, parammap.DefaultVector())
}

func nativeDriver() *Driver {
	return NewDriver(registration.New(native.NewEngine(3)))
}

func TestRunWritesSegmentation(t *testing.T) {
	out := filepath.Join(t.TempDir(), "run")

	manifest, err := nativeDriver().Run(shiftedInputs(), meanSquares(), out, Options{
		AutoInit:        true,
		WriteTransforms: true,
		Engine:          config.EngineNative,
	})
	require.NoError(t, err)

	seg, err := nifti.Read(filepath.Join(out, SegmentationFile))
	require.NoError(t, err)
	assert.Equal(t, box(2, 3).Data, seg.Data)

	for i := 0; i < 3; i++ {
		m, err := parammap.ReadFile(filepath.Join(out, transformFile(i)))
		require.NoError(t, err)
		assert.Equal(t, parammap.NearestNeighborInterpolator, m.Value(parammap.KeyResampleInterpolator))
	}

	require.Len(t, manifest.Stages, 3)
	assert.Equal(t, parammap.EulerTransform, manifest.Stages[0].Transform)
	assert.Equal(t, 6, manifest.Stages[0].Parameters)
	assert.Equal(t, []float64{0, 1}, manifest.Labels)
	require.Len(t, manifest.Overlap, 1)
	assert.Equal(t, 1.0, manifest.Overlap[0].Dice)
	assert.Equal(t, 1.0, manifest.MeanDice)

	// the registered atlas reproduces the target exactly
	require.NotNil(t, manifest.Similarity)
	assert.InDelta(t, 0, manifest.Similarity.RMSE, 1e-9)
	assert.InDelta(t, 0, manifest.Similarity.EntropyDifference, 1e-9)
	assert.InDelta(t, 1, manifest.Similarity.Correlation, 1e-9)
	assert.Greater(t, manifest.Similarity.MutualInformation, 0.0)

	saved, err := LoadManifest(filepath.Join(out, ManifestFile))
	require.NoError(t, err)
	assert.Equal(t, manifest.RunID, saved.RunID)
	assert.Equal(t, manifest.Stages, saved.Stages)
	assert.Equal(t, manifest.Overlap, saved.Overlap)
	assert.Equal(t, manifest.Similarity, saved.Similarity)

	// persisted transforms link to each other, not to engine work files
	abs, err := filepath.Abs(out)
	require.NoError(t, err)
	first, err := parammap.ReadFile(filepath.Join(out, transformFile(0)))
	require.NoError(t, err)
	assert.Equal(t, parammap.NoInitialTransform, first.Value(parammap.KeyInitialTransformFileName))
	last, err := parammap.ReadFile(filepath.Join(out, transformFile(2)))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(abs, transformFile(1)), last.Value(parammap.KeyInitialTransformFileName))

	// no staging directory is left behind
	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".staging-")
	}
}

func TestRunWithPreAlignment(t *testing.T) {
	out := filepath.Join(t.TempDir(), "run")

	opts := Options{
		AutoInit:        false,
		WriteTransforms: true,
		PreAlignment:    &PreAlignment{Matrix: affine.Identity(), Translation: affine.Translation(2, 0, 0)},
	}
	manifest, err := nativeDriver().Run(shiftedInputs(), meanSquares(), out, opts)
	require.NoError(t, err)

	seg, err := nifti.Read(filepath.Join(out, SegmentationFile))
	require.NoError(t, err)
	assert.Equal(t, box(2, 3).Data, seg.Data)
	assert.Equal(t, 1.0, manifest.MeanDice)

	require.NotNil(t, manifest.PreAlignment)
	assert.Equal(t, []float64{2, 0, 0}, manifest.PreAlignment.Translation)

	pre, err := parammap.ReadFile(filepath.Join(out, PreAlignmentFile))
	require.NoError(t, err)
	params, err := pre.Floats(parammap.KeyTransformParameters)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1, 2, 0, 0}, params)

	// the rigid stage has nothing left to correct
	rigid, err := parammap.ReadFile(filepath.Join(out, transformFile(0)))
	require.NoError(t, err)
	rigidParams, err := rigid.Floats(parammap.KeyTransformParameters)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0, 0, 0, 0}, rigidParams)
}

func TestRunReplacesEarlierOutputs(t *testing.T) {
	out := filepath.Join(t.TempDir(), "run")

	_, err := nativeDriver().Run(shiftedInputs(), meanSquares(), out, Options{
		WriteTransforms: true,
		Previews:        true,
		PreAlignment:    &PreAlignment{Matrix: affine.Identity(), Translation: affine.Translation(2, 0, 0)},
	})
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(out, transformFile(2)))
	require.NoError(t, err)

	manifest, err := nativeDriver().Run(shiftedInputs(), meanSquares()[:1], out, Options{AutoInit: true, WriteTransforms: true})
	require.NoError(t, err)
	require.Len(t, manifest.Stages, 1)
	assert.Equal(t, 1.0, manifest.MeanDice)

	transforms, err := filepath.Glob(filepath.Join(out, "TransformParameters.*.txt"))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(out, transformFile(0))}, transforms)
	for _, name := range []string{PreAlignmentFile, PreviewDir} {
		_, err := os.Stat(filepath.Join(out, name))
		assert.True(t, os.IsNotExist(err), "%s of the earlier run is left behind", name)
	}
}

func TestRunRejectsPreAlignmentWithAutoInit(t *testing.T) {
	out := filepath.Join(t.TempDir(), "run")

	_, err := nativeDriver().Run(shiftedInputs(), meanSquares(), out, Options{
		AutoInit:     true,
		PreAlignment: &PreAlignment{Matrix: affine.Identity(), Translation: affine.ZeroTranslation()},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, aerrors.ErrConfiguration))

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "nothing may be written for a rejected run")
}

func TestRunRejectsMismatchedInputs(t *testing.T) {
	in := shiftedInputs()
	in.Reference = models.NewImage(models.NewGeometry(4, 4, 4), models.UInt8)

	_, err := nativeDriver().Run(in, meanSquares(), t.TempDir(), Options{AutoInit: true})
	assert.True(t, errors.Is(err, aerrors.ErrConfiguration))

	in = shiftedInputs()
	in.Segmentation = nil
	_, err = nativeDriver().Run(in, meanSquares(), t.TempDir(), Options{AutoInit: true})
	assert.True(t, errors.Is(err, aerrors.ErrConfiguration))
}

func TestRunPersistsNothingOnEngineFailure(t *testing.T) {
	out := filepath.Join(t.TempDir(), "run")
	engine := elastix.NewEngine(elastix.Options{
		ElastixPath: filepath.Join(t.TempDir(), "missing-elastix"),
		WorkDir:     t.TempDir(),
	})

	_, err := NewDriver(registration.New(engine)).Run(shiftedInputs(), parammap.DefaultVector(), out, Options{AutoInit: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, aerrors.ErrEngineExecution))

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunWritesPreviews(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping preview rendering in short mode")
	}
	out := filepath.Join(t.TempDir(), "run")

	_, err := nativeDriver().Run(shiftedInputs(), meanSquares(), out, Options{AutoInit: true, Previews: true})
	require.NoError(t, err)

	previews, err := filepath.Glob(filepath.Join(out, PreviewDir, "*.jpg"))
	require.NoError(t, err)
	assert.NotEmpty(t, previews)

	_, err = os.Stat(filepath.Join(out, transformFile(0)))
	assert.True(t, os.IsNotExist(err), "transforms are only written on request")
}

func TestRunConfig(t *testing.T) {
	dir := t.TempDir()
	in := shiftedInputs()
	paths := map[string]*models.Image{
		"target.nii.gz": in.Unsegmented,
		"atlas.nii":     in.Segmented,
		"atlas-seg.nii": in.Segmentation,
		"reference.nii": in.Reference,
	}
	for name, img := range paths {
		require.NoError(t, nifti.Write(img, filepath.Join(dir, name)))
	}

	cfg := config.DefaultConfig()
	cfg.Inputs.UnsegmentedImage = filepath.Join(dir, "target.nii.gz")
	cfg.Inputs.SegmentedImage = filepath.Join(dir, "atlas.nii")
	cfg.Inputs.Segmentation = filepath.Join(dir, "atlas-seg.nii")
	cfg.Inputs.Reference = filepath.Join(dir, "reference.nii")
	cfg.Registration.Engine = config.EngineNative
	cfg.Registration.SearchRadius = 3
	cfg.Registration.Overrides = []parammap.Map{
		parammap.New(parammap.Entry{Key: parammap.KeyMetric, Values: parammap.Singleton(native.MetricMeanSquares)}),
		parammap.New(parammap.Entry{Key: parammap.KeyMetric, Values: parammap.Singleton(native.MetricMeanSquares)}),
		parammap.New(parammap.Entry{Key: parammap.KeyMetric, Values: parammap.Singleton(native.MetricMeanSquares)}),
	}
	cfg.Output.Dir = filepath.Join(dir, "out")

	manifest, err := RunConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, config.EngineNative, manifest.Engine)
	assert.Equal(t, 1.0, manifest.MeanDice)
	assert.Equal(t, cfg.Inputs.Reference, manifest.Inputs["reference"])

	_, err = os.Stat(filepath.Join(cfg.Output.Dir, SegmentationFile))
	assert.NoError(t, err)
}

func TestRunConfigMissingInput(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Inputs.UnsegmentedImage = filepath.Join(t.TempDir(), "absent.nii")
	cfg.Inputs.SegmentedImage = "atlas.nii"
	cfg.Inputs.Segmentation = "atlas-seg.nii"
	cfg.Registration.Engine = config.EngineNative

	_, err := RunConfig(cfg)
	assert.True(t, errors.Is(err, aerrors.ErrIO))
}

func TestLoadInputsCastsIntensityImagesOnly(t *testing.T) {
	dir := t.TempDir()
	in := shiftedInputs()
	in.Unsegmented.PixelType = models.Float32
	in.Segmented.PixelType = models.Float32
	paths := map[string]*models.Image{
		"target.nii":    in.Unsegmented,
		"atlas.nii":     in.Segmented,
		"atlas-seg.nii": in.Segmentation,
		"reference.nii": in.Reference,
	}
	for name, img := range paths {
		require.NoError(t, nifti.Write(img, filepath.Join(dir, name)))
	}

	cfg := config.DefaultConfig()
	cfg.Inputs.UnsegmentedImage = filepath.Join(dir, "target.nii")
	cfg.Inputs.SegmentedImage = filepath.Join(dir, "atlas.nii")
	cfg.Inputs.Segmentation = filepath.Join(dir, "atlas-seg.nii")
	cfg.Inputs.Reference = filepath.Join(dir, "reference.nii")
	cfg.Inputs.Ultrasound = true

	got, err := LoadInputs(cfg)
	require.NoError(t, err)
	assert.Equal(t, models.UInt16, got.Unsegmented.PixelType)
	assert.Equal(t, models.UInt16, got.Segmented.PixelType)
	assert.Equal(t, models.UInt8, got.Segmentation.PixelType)
	assert.Equal(t, models.UInt8, got.Reference.PixelType)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Registration.AutoInit = false
	cfg.PreAlignment.Enabled = true
	cfg.PreAlignment.Matrix = [][]float64{{0, -1, 0}, {1, 0, 0}, {0, 0, 1}}
	cfg.PreAlignment.Translation = []float64{1, 2, 3}

	opts := OptionsFrom(cfg)
	require.NotNil(t, opts.PreAlignment)
	assert.Equal(t, -1.0, opts.PreAlignment.Matrix.At(0, 1))
	assert.Equal(t, 3.0, opts.PreAlignment.Translation.At(0, 2))
	assert.False(t, opts.AutoInit)
}
