package evaluation

import (
	"gonum.org/v1/gonum/mat"

	"amsaf/internal/models"
	"amsaf/internal/output"
	"amsaf/pkg/config"
	"amsaf/pkg/elastix"
	"amsaf/pkg/native"
	"amsaf/pkg/nifti"
	"amsaf/pkg/registration"
)

// NewEngine builds the registration engine selected by cfg
func NewEngine(cfg *config.Config) registration.Capability {
	if cfg.Registration.Engine == config.EngineNative {
		return native.NewEngine(cfg.Registration.SearchRadius)
	}
	return elastix.NewEngine(elastix.Options{
		ElastixPath:     cfg.Registration.ElastixPath,
		TransformixPath: cfg.Registration.TransformixPath,
		WorkDir:         cfg.Registration.WorkDir,
		KeepWorkDir:     cfg.Registration.KeepWorkDir,
	})
}

// LoadInputs reads the images named by cfg
func LoadInputs(cfg *config.Config) (Inputs, error) {
	opts := nifti.ReadOptions{Ultrasound: cfg.Inputs.Ultrasound}
	read := func(path string) (*models.Image, error) {
		output.Debug("reading image", "path", path, "ultrasound", opts.Ultrasound)
		return nifti.ReadWithOptions(path, opts)
	}

	in := Inputs{Paths: map[string]string{
		"unsegmentedImage": cfg.Inputs.UnsegmentedImage,
		"segmentedImage":   cfg.Inputs.SegmentedImage,
		"segmentation":     cfg.Inputs.Segmentation,
	}}

	var err error
	if in.Unsegmented, err = read(cfg.Inputs.UnsegmentedImage); err != nil {
		return Inputs{}, err
	}
	if in.Segmented, err = read(cfg.Inputs.SegmentedImage); err != nil {
		return Inputs{}, err
	}
	// label images are never cast
	if in.Segmentation, err = nifti.Read(cfg.Inputs.Segmentation); err != nil {
		return Inputs{}, err
	}
	if cfg.Inputs.Reference != "" {
		if in.Reference, err = nifti.Read(cfg.Inputs.Reference); err != nil {
			return Inputs{}, err
		}
		in.Paths["reference"] = cfg.Inputs.Reference
	}
	return in, nil
}

// OptionsFrom translates the run options of cfg
func OptionsFrom(cfg *config.Config) Options {
	opts := Options{
		AutoInit:        cfg.Registration.AutoInit,
		Verbose:         cfg.Output.Verbose,
		WriteTransforms: cfg.Output.WriteTransforms,
		Previews:        cfg.Output.Previews,
		Engine:          cfg.Registration.Engine,
	}
	if cfg.PreAlignment.Enabled {
		a := mat.NewDense(3, 3, nil)
		for r, row := range cfg.PreAlignment.Matrix {
			for c, v := range row {
				if r < 3 && c < 3 {
					a.Set(r, c, v)
				}
			}
		}
		t := mat.NewDense(1, 3, nil)
		for c, v := range cfg.PreAlignment.Translation {
			if c < 3 {
				t.Set(0, c, v)
			}
		}
		opts.PreAlignment = &PreAlignment{Matrix: a, Translation: t}
	}
	return opts
}

// RunConfig validates cfg, reads its inputs and runs it
func RunConfig(cfg *config.Config) (*Manifest, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	vector, err := cfg.Vector()
	if err != nil {
		return nil, err
	}
	in, err := LoadInputs(cfg)
	if err != nil {
		return nil, err
	}

	driver := NewDriver(registration.New(NewEngine(cfg)))
	return driver.Run(in, vector, cfg.Output.Dir, OptionsFrom(cfg))
}
