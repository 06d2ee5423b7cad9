// Package config provides configuration loading and management for amsaf.
// It handles loading a run configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	aerrors "amsaf/internal/errors"
	"amsaf/pkg/parammap"
)

// Registration engines selectable in the configuration
const (
	EngineElastix = "elastix"
	EngineNative  = "native"
)

// Config represents one segmentation propagation run
type Config struct {
	// Input volumes
	Inputs struct {
		// UnsegmentedImage is the volume that receives the segmentation
		UnsegmentedImage string `yaml:"unsegmentedImage"`

		// SegmentedImage is the volume the segmentation was drawn on
		SegmentedImage string `yaml:"segmentedImage"`

		// Segmentation is the label image on the grid of SegmentedImage
		Segmentation string `yaml:"segmentation"`

		// Reference is an optional ground-truth segmentation on the grid of
		// UnsegmentedImage; when set, the run reports Dice overlap against it
		Reference string `yaml:"reference,omitempty"`

		// Ultrasound casts the unsegmented and segmented images to unsigned 16-bit
		// voxels on read. Label images are never cast.
		Ultrasound bool `yaml:"ultrasound"`
	} `yaml:"inputs"`

	// Explicit affine pre-alignment of the segmented image and its segmentation
	PreAlignment struct {
		// Enabled turns the pre-alignment on; it excludes registration.autoInit
		Enabled bool `yaml:"enabled"`

		// Matrix is the 3x3 linear part, row by row
		Matrix [][]float64 `yaml:"matrix,omitempty"`

		// Translation is the translation vector
		Translation []float64 `yaml:"translation,omitempty"`
	} `yaml:"preAlignment"`

	// Registration engine parameters
	Registration struct {
		// AutoInit lets the engine initialize every stage itself
		AutoInit bool `yaml:"autoInit"`

		// Engine selects the registration engine: elastix or native
		Engine string `yaml:"engine"`

		// ElastixPath and TransformixPath locate the elastix executables
		ElastixPath     string `yaml:"elastixPath,omitempty"`
		TransformixPath string `yaml:"transformixPath,omitempty"`

		// WorkDir is where the elastix engine creates its per-call directories
		WorkDir string `yaml:"workDir,omitempty"`

		// KeepWorkDir leaves elastix work directories in place
		KeepWorkDir bool `yaml:"keepWorkDir,omitempty"`

		// SearchRadius bounds the native translation search in voxels; 0 selects the engine default
		SearchRadius int `yaml:"searchRadius,omitempty"`

		// ParameterFiles replaces the default stages with elastix parameter files
		ParameterFiles []string `yaml:"parameterFiles,omitempty"`

		// Overrides holds per-stage bindings applied on top of the stages
		Overrides []parammap.Map `yaml:"overrides,omitempty"`
	} `yaml:"registration"`

	// Output parameters
	Output struct {
		// Dir receives seg.nii, the transforms and the run manifest
		Dir string `yaml:"dir"`

		// WriteTransforms persists the applied transforms as TransformParameters.<i>.txt
		WriteTransforms bool `yaml:"writeTransforms"`

		// Previews writes JPEG slice previews of the propagated segmentation
		Previews bool `yaml:"previews"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Inputs.Ultrasound = true

	cfg.Registration.AutoInit = true
	cfg.Registration.Engine = EngineElastix

	cfg.Output.Dir = "out"
	cfg.Output.WriteTransforms = true
	cfg.Output.Previews = false
	cfg.Output.Verbose = false

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, aerrors.NewIOError(configPath, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, aerrors.NewConfigurationError(
			fmt.Sprintf("error parsing config file %s: %v", configPath, err), "", "")
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return aerrors.NewIOError(dir, err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return aerrors.NewIOError(configPath, err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate checks the configuration before any file is read
func (c *Config) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"inputs.unsegmentedImage", c.Inputs.UnsegmentedImage},
		{"inputs.segmentedImage", c.Inputs.SegmentedImage},
		{"inputs.segmentation", c.Inputs.Segmentation},
		{"output.dir", c.Output.Dir},
	}
	for _, r := range required {
		if r.value == "" {
			return aerrors.NewConfigurationError(r.field+" is required", r.field, "")
		}
	}

	switch c.Registration.Engine {
	case EngineElastix, EngineNative:
	default:
		return aerrors.NewConfigurationError(
			fmt.Sprintf("unknown engine %q", c.Registration.Engine),
			"registration.engine",
			"use elastix or native",
		)
	}

	if c.PreAlignment.Enabled {
		if c.Registration.AutoInit {
			return aerrors.NewConfigurationError(
				"explicit pre-alignment cannot be combined with engine auto-initialization",
				"registration.autoInit",
				"set registration.autoInit to false when preAlignment is enabled",
			)
		}
		if len(c.PreAlignment.Matrix) != 3 {
			return aerrors.NewConfigurationError("matrix must have 3 rows", "preAlignment.matrix", "")
		}
		for i, row := range c.PreAlignment.Matrix {
			if len(row) != 3 {
				return aerrors.NewConfigurationError(
					fmt.Sprintf("matrix row %d must have 3 elements", i), "preAlignment.matrix", "")
			}
		}
		if len(c.PreAlignment.Translation) != 3 {
			return aerrors.NewConfigurationError("translation must have 3 elements", "preAlignment.translation", "")
		}
	}

	stages := len(parammap.StageNames)
	if len(c.Registration.ParameterFiles) > 0 {
		stages = len(c.Registration.ParameterFiles)
	}
	if len(c.Registration.Overrides) > stages {
		return aerrors.NewConfigurationError(
			fmt.Sprintf("%d overrides given for %d stages", len(c.Registration.Overrides), stages),
			"registration.overrides",
			"",
		)
	}
	if c.Registration.SearchRadius < 0 {
		return aerrors.NewConfigurationError("search radius must not be negative", "registration.searchRadius", "")
	}
	return nil
}

// Vector builds the configuration vector of the run: the parameter files if
// any are configured, the default rigid, affine and B-spline stages
// otherwise, with the per-stage overrides applied on top
func (c *Config) Vector() ([]parammap.Map, error) {
	maps := parammap.DefaultVector()
	if len(c.Registration.ParameterFiles) > 0 {
		maps = make([]parammap.Map, 0, len(c.Registration.ParameterFiles))
		for _, path := range c.Registration.ParameterFiles {
			m, err := parammap.ReadFile(path)
			if err != nil {
				return nil, err
			}
			maps = append(maps, m)
		}
	}
	return parammap.MergeVector(maps, c.Registration.Overrides), nil
}
