// Package metrics provides image similarity and label overlap measures.
//
// The similarity measures score how well two equally sized voxel sets agree
// and back the in-process registration engine. The overlap measures score a
// propagated segmentation against a reference segmentation.
package metrics

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// MeanSquares computes the mean squared difference of two datasets.
// Lower values indicate better agreement.
func MeanSquares(a, b []float64) float64 {
	n := len(a)
	if n != len(b) || n == 0 {
		return math.Inf(1)
	}

	mse := 0.0
	for i := 0; i < n; i++ {
		diff := a[i] - b[i]
		mse += diff * diff
	}
	return mse / float64(n)
}

// RMSE computes the root mean square error
func RMSE(a, b []float64) float64 {
	return math.Sqrt(MeanSquares(a, b))
}

// NormalizedCorrelation returns the Pearson correlation of two datasets.
// Constant inputs have no defined correlation and score 0.
func NormalizedCorrelation(a, b []float64) float64 {
	if len(a) != len(b) || len(a) < 2 {
		return 0
	}
	if stat.Variance(a, nil) == 0 || stat.Variance(b, nil) == 0 {
		return 0
	}
	return stat.Correlation(a, b, nil)
}

// MutualInformation computes histogram-based mutual information with the
// given number of bins per dataset, in bits.
func MutualInformation(a, b []float64, bins int) float64 {
	n := len(a)
	if n != len(b) || n == 0 || bins < 2 {
		return 0
	}

	binA := binIndices(a, bins)
	binB := binIndices(b, bins)

	joint := make([]float64, bins*bins)
	margA := make([]float64, bins)
	margB := make([]float64, bins)
	for i := 0; i < n; i++ {
		joint[binA[i]*bins+binB[i]]++
		margA[binA[i]]++
		margB[binB[i]]++
	}

	mi := 0.0
	total := float64(n)
	for i := 0; i < bins; i++ {
		for j := 0; j < bins; j++ {
			count := joint[i*bins+j]
			if count == 0 {
				continue
			}
			pxy := count / total
			mi += pxy * math.Log2(pxy/((margA[i]/total)*(margB[j]/total)))
		}
	}
	return mi
}

// Entropy computes the Shannon entropy of data over a 256-bin histogram
func Entropy(data []float64) float64 {
	n := len(data)
	if n == 0 {
		return 0
	}

	min, max := findMinMax(data)

	// If all values are the same, entropy is 0
	if max <= min {
		return 0
	}

	const numBins = 256
	hist := make([]float64, numBins)
	for _, idx := range binIndices(data, numBins) {
		hist[idx]++
	}

	entropy := 0.0
	for _, count := range hist {
		if count > 0 {
			p := count / float64(n)
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}

// binIndices assigns every value to one of bins equal-width bins spanning the data
func binIndices(data []float64, bins int) []int {
	out := make([]int, len(data))
	min, max := findMinMax(data)
	if max <= min {
		return out
	}

	binWidth := (max - min) / float64(bins)
	for i, v := range data {
		idx := int((v - min) / binWidth)
		if idx >= bins {
			idx = bins - 1
		} else if idx < 0 {
			idx = 0
		}
		out[i] = idx
	}
	return out
}

// findMinMax returns the minimum and maximum values in a slice
func findMinMax(data []float64) (min, max float64) {
	if len(data) == 0 {
		return 0, 0
	}

	min = data[0]
	max = data[0]
	for _, v := range data {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}
