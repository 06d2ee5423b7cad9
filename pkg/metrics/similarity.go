package metrics

import "math"

// SimilarityBins is the histogram resolution of Compare's mutual information
const SimilarityBins = 32

// Similarity summarizes how well a registered image matches its target
type Similarity struct {
	// RMSE is the root mean square intensity difference. Lower is better.
	RMSE float64 `yaml:"rmse"`

	// MutualInformation is histogram mutual information in bits. Higher is better.
	MutualInformation float64 `yaml:"mutualInformation"`

	// EntropyDifference is the absolute difference of the two entropies in bits
	EntropyDifference float64 `yaml:"entropyDifference"`

	// Correlation is the Pearson correlation of the intensities
	Correlation float64 `yaml:"correlation"`
}

// Compare scores registered against target voxel by voxel
func Compare(target, registered []float64) Similarity {
	return Similarity{
		RMSE:              RMSE(target, registered),
		MutualInformation: MutualInformation(target, registered, SimilarityBins),
		EntropyDifference: math.Abs(Entropy(target) - Entropy(registered)),
		Correlation:       NormalizedCorrelation(target, registered),
	}
}
