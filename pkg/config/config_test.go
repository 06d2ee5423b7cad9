package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aerrors "amsaf/internal/errors"
	"amsaf/pkg/parammap"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Inputs.UnsegmentedImage = "target.nii"
	cfg.Inputs.SegmentedImage = "atlas.nii"
	cfg.Inputs.Segmentation = "atlas-seg.nii"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.Inputs.Ultrasound)
	assert.True(t, cfg.Registration.AutoInit)
	assert.Equal(t, EngineElastix, cfg.Registration.Engine)
	assert.Equal(t, "out", cfg.Output.Dir)
	assert.True(t, cfg.Output.WriteTransforms)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigKeepsParameterCase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	data := `
inputs:
  unsegmentedImage: us2.nii
  segmentedImage: us1.nii
  segmentation: us1-seg.nii
  ultrasound: false
registration:
  autoInit: false
  engine: native
  overrides:
    - Metric: AdvancedMeanSquares
      NumberOfResolutions: ["2"]
    - {}
    - FinalGridSpacingInPhysicalUnits: [8, 8, 4]
output:
  dir: results
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.False(t, cfg.Inputs.Ultrasound)
	assert.Equal(t, EngineNative, cfg.Registration.Engine)
	require.Len(t, cfg.Registration.Overrides, 3)
	assert.Equal(t, "AdvancedMeanSquares", cfg.Registration.Overrides[0].Value("Metric"))
	v, _ := cfg.Registration.Overrides[2].Get("FinalGridSpacingInPhysicalUnits")
	assert.Equal(t, parammap.Many("8", "8", "4"), v)
	// keys missing from the file keep their defaults
	assert.True(t, cfg.Output.WriteTransforms)
}

func TestSaveAndLoadConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Registration.Overrides = []parammap.Map{
		parammap.New(parammap.Entry{Key: "MaximumNumberOfIterations", Values: parammap.Singleton("256")}),
	}
	path := filepath.Join(t.TempDir(), "nested", "run.yaml")

	require.NoError(t, SaveConfig(cfg, path))
	loaded, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, cfg.Inputs, loaded.Inputs)
	assert.Equal(t, cfg.Output, loaded.Output)
	require.Len(t, loaded.Registration.Overrides, 1)
	assert.True(t, cfg.Registration.Overrides[0].Equal(loaded.Registration.Overrides[0]))
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("inputs: [unterminated"), 0644))

	_, err := LoadConfig(path)
	assert.True(t, errors.Is(err, aerrors.ErrConfiguration))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing unsegmented", func(c *Config) { c.Inputs.UnsegmentedImage = "" }, "inputs.unsegmentedImage"},
		{"missing segmentation", func(c *Config) { c.Inputs.Segmentation = "" }, "inputs.segmentation"},
		{"unknown engine", func(c *Config) { c.Registration.Engine = "ants" }, "registration.engine"},
		{"pre-alignment with auto init", func(c *Config) {
			c.PreAlignment.Enabled = true
			c.PreAlignment.Matrix = [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
			c.PreAlignment.Translation = []float64{0, 0, 0}
		}, "registration.autoInit"},
		{"short matrix row", func(c *Config) {
			c.Registration.AutoInit = false
			c.PreAlignment.Enabled = true
			c.PreAlignment.Matrix = [][]float64{{1, 0, 0}, {0, 1}, {0, 0, 1}}
			c.PreAlignment.Translation = []float64{0, 0, 0}
		}, "preAlignment.matrix"},
		{"too many overrides", func(c *Config) {
			c.Registration.Overrides = make([]parammap.Map, 4)
		}, "registration.overrides"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, aerrors.ErrConfiguration))

			var detail *aerrors.DetailError
			require.True(t, errors.As(err, &detail))
			assert.Equal(t, tt.field, detail.Field)
		})
	}

	assert.NoError(t, validConfig().Validate())
}

func TestVectorAppliesOverrides(t *testing.T) {
	cfg := validConfig()
	cfg.Registration.Overrides = []parammap.Map{
		parammap.New(parammap.Entry{Key: parammap.KeyMetric, Values: parammap.Singleton("AdvancedMeanSquares")}),
	}

	vector, err := cfg.Vector()
	require.NoError(t, err)
	require.Len(t, vector, 3)
	assert.Equal(t, "AdvancedMeanSquares", vector[0].Value(parammap.KeyMetric))
	assert.Equal(t, "AdvancedMattesMutualInformation", vector[1].Value(parammap.KeyMetric))
}

func TestVectorFromParameterFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "translation.txt")
	require.NoError(t, os.WriteFile(path, []byte("(Transform \"TranslationTransform\")\n(Metric \"AdvancedMeanSquares\")\n"), 0644))

	cfg := validConfig()
	cfg.Registration.ParameterFiles = []string{path}
	vector, err := cfg.Vector()
	require.NoError(t, err)
	require.Len(t, vector, 1)
	assert.Equal(t, "TranslationTransform", vector[0].Value(parammap.KeyTransform))

	cfg.Registration.ParameterFiles = []string{filepath.Join(dir, "absent.txt")}
	_, err = cfg.Vector()
	assert.True(t, errors.Is(err, aerrors.ErrIO))
}

func TestLoaderEnvironmentOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, SaveConfig(validConfig(), path))

	t.Setenv("AMSAF_OUTPUT_DIR", "/tmp/amsaf-env")
	t.Setenv("AMSAF_ENGINE", "native")
	t.Setenv("AMSAF_AUTO_INIT", "false")

	cfg, err := NewLoader().Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/amsaf-env", cfg.Output.Dir)
	assert.Equal(t, EngineNative, cfg.Registration.Engine)
	assert.False(t, cfg.Registration.AutoInit)
	// untouched values still come from the file
	assert.Equal(t, "atlas.nii", cfg.Inputs.SegmentedImage)
}

func TestLoaderWithoutFile(t *testing.T) {
	t.Setenv("AMSAF_UNSEGMENTED_IMAGE", "target.nii")

	cfg, err := NewLoader().Load("")
	require.NoError(t, err)
	assert.Equal(t, "target.nii", cfg.Inputs.UnsegmentedImage)
	assert.True(t, cfg.Registration.AutoInit)
}
