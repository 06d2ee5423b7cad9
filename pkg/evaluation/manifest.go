package evaluation

import (
	"os"
	"time"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	aerrors "amsaf/internal/errors"
	"amsaf/pkg/metrics"
)

// Manifest describes one run; it is written as run.yaml
type Manifest struct {
	RunID      string    `yaml:"runId"`
	StartedAt  time.Time `yaml:"startedAt"`
	FinishedAt time.Time `yaml:"finishedAt"`

	// Engine is the registration engine the run used
	Engine string `yaml:"engine,omitempty"`

	// Inputs maps input roles to the files they were read from
	Inputs map[string]string `yaml:"inputs,omitempty"`

	AutoInit     bool                `yaml:"autoInit"`
	PreAlignment *PreAlignmentRecord `yaml:"preAlignment,omitempty"`

	// Stages lists the applied transforms in order
	Stages []StageRecord `yaml:"stages"`

	// Segmentation is the propagated label file, relative to the output directory
	Segmentation string `yaml:"segmentation"`

	// Labels are the distinct values of the propagated segmentation
	Labels []float64 `yaml:"labels"`

	// Similarity compares the registered image with the unsegmented image
	Similarity *metrics.Similarity `yaml:"similarity,omitempty"`

	// Overlap and MeanDice compare the result with the reference segmentation
	Overlap  []metrics.LabelOverlap `yaml:"overlap,omitempty"`
	MeanDice float64                `yaml:"meanDice,omitempty"`
}

// StageRecord is one applied transform
type StageRecord struct {
	Transform  string `yaml:"transform"`
	Parameters int    `yaml:"parameters"`
	File       string `yaml:"file,omitempty"`
}

// PreAlignmentRecord is the explicit affine transform of a run
type PreAlignmentRecord struct {
	Matrix      [][]float64 `yaml:"matrix"`
	Translation []float64   `yaml:"translation"`
}

func recordPreAlignment(p *PreAlignment) *PreAlignmentRecord {
	rec := &PreAlignmentRecord{}
	for r := 0; r < 3; r++ {
		rec.Matrix = append(rec.Matrix, mat.Row(nil, r, p.Matrix))
	}
	rec.Translation = mat.Row(nil, 0, p.Translation)
	return rec
}

func meanDice(overlap []metrics.LabelOverlap) float64 {
	if len(overlap) == 0 {
		return 0
	}
	sum := 0.0
	for _, o := range overlap {
		sum += o.Dice
	}
	return sum / float64(len(overlap))
}

// Save writes the manifest as YAML
func (m *Manifest) Save(path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return aerrors.NewIOError(path, err)
	}
	return nil
}

// LoadManifest reads a manifest written by Save
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, aerrors.NewIOError(path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, aerrors.NewConfigurationError("invalid run manifest "+path+": "+err.Error(), "", "")
	}
	return &m, nil
}
