package parammap

// Stage templates. They are rebuilt on every call so a caller can never
// mutate the process-wide defaults.

// Rigid returns the default rigid (Euler) stage map
func Rigid() Map {
	return New(
		Entry{"AutomaticParameterEstimation", Singleton("true")},
		Entry{"AutomaticTransformInitialization", Singleton("true")},
		Entry{"BSplineInterpolationOrder", Singleton("3.000000")},
		Entry{"CheckNumberOfSamples", Singleton("true")},
		Entry{"DefaultPixelValue", Singleton("0.000000")},
		Entry{"FinalBSplineInterpolationOrder", Singleton("3.000000")},
		Entry{"FixedImagePyramid", Singleton("FixedSmoothingImagePyramid")},
		Entry{"ImageSampler", Singleton("RandomCoordinate")},
		Entry{"Interpolator", Singleton("BSplineInterpolator")},
		Entry{"MaximumNumberOfIterations", Singleton("1024.000000")},
		Entry{"MaximumNumberOfSamplingAttempts", Singleton("8.000000")},
		Entry{"Metric", Singleton("AdvancedMattesMutualInformation")},
		Entry{"MovingImagePyramid", Singleton("MovingSmoothingImagePyramid")},
		Entry{"NewSamplesEveryIteration", Singleton("true")},
		Entry{"NumberOfHistogramBins", Singleton("64.000000")},
		Entry{"NumberOfResolutions", Singleton("3.000000")},
		Entry{"NumberOfSamplesForExactGradient", Singleton("4096.000000")},
		Entry{"NumberOfSpatialSamples", Singleton("2000.000000")},
		Entry{"Optimizer", Singleton("AdaptiveStochasticGradientDescent")},
		Entry{"Registration", Singleton("MultiResolutionRegistration")},
		Entry{"ResampleInterpolator", Singleton(BSplineInterpolator)},
		Entry{"Resampler", Singleton("DefaultResampler")},
		Entry{"ResultImageFormat", Singleton("nii")},
		Entry{"RequiredRatioOfValidSamples", Singleton("0.05")},
		Entry{"Transform", Singleton(EulerTransform)},
		Entry{"WriteIterationInfo", Singleton("false")},
		Entry{"WriteResultImage", Singleton("true")},
	)
}

// Affine returns the default affine stage map
func Affine() Map {
	return New(
		Entry{"AutomaticParameterEstimation", Singleton("true")},
		Entry{"AutomaticScalesEstimation", Singleton("true")},
		Entry{"CheckNumberOfSamples", Singleton("true")},
		Entry{"DefaultPixelValue", Singleton("0.000000")},
		Entry{"FinalBSplineInterpolationOrder", Singleton("3.000000")},
		Entry{"FixedImagePyramid", Singleton("FixedSmoothingImagePyramid")},
		Entry{"ImageSampler", Singleton("RandomCoordinate")},
		Entry{"Interpolator", Singleton("BSplineInterpolator")},
		Entry{"MaximumNumberOfIterations", Singleton("1024.000000")},
		Entry{"MaximumNumberOfSamplingAttempts", Singleton("8.000000")},
		Entry{"Metric", Singleton("AdvancedMattesMutualInformation")},
		Entry{"MovingImagePyramid", Singleton("MovingSmoothingImagePyramid")},
		Entry{"NewSamplesEveryIteration", Singleton("true")},
		Entry{"NumberOfHistogramBins", Singleton("32.000000")},
		Entry{"NumberOfResolutions", Singleton("4.000000")},
		Entry{"NumberOfSamplesForExactGradient", Singleton("4096.000000")},
		Entry{"NumberOfSpatialSamples", Singleton("2048.000000")},
		Entry{"Optimizer", Singleton("AdaptiveStochasticGradientDescent")},
		Entry{"Registration", Singleton("MultiResolutionRegistration")},
		Entry{"ResampleInterpolator", Singleton(BSplineInterpolator)},
		Entry{"Resampler", Singleton("DefaultResampler")},
		Entry{"ResultImageFormat", Singleton("nii")},
		Entry{"RequiredRatioOfValidSamples", Singleton("0.05")},
		Entry{"Transform", Singleton(AffineTransform)},
		Entry{"WriteIterationInfo", Singleton("false")},
		Entry{"WriteResultImage", Singleton("true")},
	)
}

// BSpline returns the default deformable stage map
func BSpline() Map {
	return New(
		Entry{"AutomaticParameterEstimation", Singleton("true")},
		Entry{"CheckNumberOfSamples", Singleton("true")},
		Entry{"DefaultPixelValue", Singleton("0.000000")},
		Entry{"FinalBSplineInterpolationOrder", Singleton("3.000000")},
		Entry{"FinalGridSpacingInPhysicalUnits", Singleton("4.000000")},
		Entry{"FixedImagePyramid", Singleton("FixedSmoothingImagePyramid")},
		Entry{"GridSpaceSchedule", Singleton("2.803220 1.988100 1.410000 1.000000")},
		Entry{"ImageSampler", Singleton("RandomCoordinate")},
		Entry{"Interpolator", Singleton("LinearInterpolator")},
		Entry{"MaximumNumberOfIterations", Singleton("1024.000000")},
		Entry{"MaximumNumberOfSamplingAttempts", Singleton("8.000000")},
		Entry{"Metric", Singleton("AdvancedMattesMutualInformation")},
		Entry{"Metric0Weight", Singleton("0")},
		Entry{"Metric1Weight", Singleton("1.000000")},
		Entry{"MovingImagePyramid", Singleton("MovingSmoothingImagePyramid")},
		Entry{"NewSamplesEveryIteration", Singleton("true")},
		Entry{"NumberOfHistogramBins", Singleton("32.000000")},
		Entry{"NumberOfResolutions", Singleton("4.000000")},
		Entry{"NumberOfSamplesForExactGradient", Singleton("4096.000000")},
		Entry{"NumberOfSpatialSamples", Singleton("2048.000000")},
		Entry{"Optimizer", Singleton("AdaptiveStochasticGradientDescent")},
		Entry{"Registration", Singleton("MultiMetricMultiResolutionRegistration")},
		Entry{"ResampleInterpolator", Singleton(BSplineInterpolator)},
		Entry{"Resampler", Singleton("DefaultResampler")},
		Entry{"ResultImageFormat", Singleton("nii")},
		Entry{"RequiredRatioOfValidSamples", Singleton("0.05")},
		Entry{"Transform", Singleton(BSplineTransform)},
		Entry{"WriteIterationInfo", Singleton("false")},
		Entry{"WriteResultImage", Singleton("true")},
	)
}

// DefaultVector returns fresh copies of the rigid, affine and deformable
// stage maps, in that order. Coarse-to-fine registration depends on it.
func DefaultVector() []Map {
	return []Map{Rigid(), Affine(), BSpline()}
}

// StageNames names the stages of the default vector, index for index
var StageNames = [3]string{"rigid", "affine", "bspline"}

// StageByName returns the default map for a stage name
func StageByName(name string) (Map, bool) {
	switch name {
	case "rigid":
		return Rigid(), true
	case "affine":
		return Affine(), true
	case "bspline", "deformable":
		return BSpline(), true
	}
	return Map{}, false
}

// AffineTransformTemplate returns the template completed by the affine
// pre-initializer. Geometry and parameters are filled in per image.
func AffineTransformTemplate() Map {
	return New(
		Entry{"AutomaticScalesEstimation", Singleton("True")},
		Entry{"CenterOfRotationPoint", Many("0.0", "0.0", "0.0")},
		Entry{"CompressResultImage", Singleton("false")},
		Entry{"DefaultPixelValue", Singleton("0.000000")},
		Entry{"FinalBSplineInterpolationOrder", Singleton("3")},
		Entry{"FixedInternalImagePixelType", Singleton("float")},
		Entry{"Index", Many("0", "0", "0")},
		Entry{"NumberOfParameters", Singleton("12")},
		Entry{"ResampleInterpolator", Singleton(NearestNeighborInterpolator)},
		Entry{"Resampler", Singleton("DefaultResampler")},
		Entry{"ResultImageFormat", Singleton("nii")},
		Entry{"ResultImagePixelType", Singleton("float")},
		Entry{"Transform", Singleton(AffineTransform)},
		Entry{"UseDirectionCosines", Singleton("true")},
	)
}
