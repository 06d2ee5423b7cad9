package native

import (
	"errors"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"

	aerrors "amsaf/internal/errors"
	"amsaf/internal/models"
	"amsaf/pkg/parammap"
	"amsaf/pkg/registration"
)

// pattern is injective on small grids, so only the true shift scores zero
func pattern(x, y, z int) float64 {
	return float64(x + 10*y + 100*z)
}

// createVolume builds a size^3 volume whose voxel (x, y, z) holds f(x-shift, y, z)
func createVolume(size, shift int, f func(x, y, z int) float64) *models.Image {
	img := models.NewImage(models.NewGeometry(size, size, size), models.Float32)
	for z := 0; z < size; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				img.Set(x, y, z, f(x-shift, y, z))
			}
		}
	}
	return img
}

func meanSquaresVector() []parammap.Map {
	return parammap.AssocAll(parammap.KeyMetric, MetricMeanSquares, parammap.DefaultVector())
}

func TestRegisterRecoversTranslation(t *testing.T) {
	fixed := createVolume(8, 0, pattern)
	moving := createVolume(8, 2, pattern)

	engine := NewEngine(3)
	result, err := engine.Register(registration.Request{
		Fixed:         fixed,
		Moving:        moving,
		ParameterMaps: meanSquaresVector(),
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if len(result.TransformParameterMaps) != 3 {
		t.Fatalf("Expected 3 transforms, got %d", len(result.TransformParameterMaps))
	}

	rigid, err := result.TransformParameterMaps[0].Floats(parammap.KeyTransformParameters)
	if err != nil {
		t.Fatalf("Failed to read rigid parameters: %v", err)
	}
	want := []float64{0, 0, 0, 2, 0, 0}
	if diff := cmp.Diff(want, rigid); diff != "" {
		t.Errorf("Rigid parameters mismatch (-want +got):\n%s", diff)
	}

	// later stages only see the rigid output and must leave it alone
	affineParams, _ := result.TransformParameterMaps[1].Floats(parammap.KeyTransformParameters)
	if diff := cmp.Diff([]float64{1, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0}, affineParams); diff != "" {
		t.Errorf("Affine parameters mismatch (-want +got):\n%s", diff)
	}
	coeffs, _ := result.TransformParameterMaps[2].Floats(parammap.KeyTransformParameters)
	for i, c := range coeffs {
		if c != 0 {
			t.Fatalf("Expected zero B-spline coefficient %d, got %f", i, c)
		}
	}

	if !result.Image.Geometry.Equal(fixed.Geometry) {
		t.Fatalf("Result image is not on the fixed grid")
	}
	for z := 0; z < 8; z++ {
		for y := 0; y < 8; y++ {
			for x := 0; x < 6; x++ {
				got := result.Image.At(x, y, z)
				if diff := got - fixed.At(x, y, z); diff > 1e-6 || diff < -1e-6 {
					t.Fatalf("Voxel (%d,%d,%d): expected %f, got %f", x, y, z, fixed.At(x, y, z), got)
				}
			}
		}
	}
}

func TestRegisterWritesStageKinds(t *testing.T) {
	fixed := createVolume(6, 0, pattern)
	moving := createVolume(6, 1, pattern)

	result, err := NewEngine(2).Register(registration.Request{
		Fixed:         fixed,
		Moving:        moving,
		ParameterMaps: meanSquaresVector(),
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	kinds := []string{parammap.EulerTransform, parammap.AffineTransform, parammap.BSplineTransform}
	counts := []int{6, 12, -1}
	for i, m := range result.TransformParameterMaps {
		if got := m.Value(parammap.KeyTransform); got != kinds[i] {
			t.Errorf("Stage %d: expected %s, got %s", i, kinds[i], got)
		}
		n, err := strconv.Atoi(m.Value(parammap.KeyNumberOfParameters))
		if err != nil {
			t.Fatalf("Stage %d: invalid NumberOfParameters: %v", i, err)
		}
		if counts[i] > 0 && n != counts[i] {
			t.Errorf("Stage %d: expected %d parameters, got %d", i, counts[i], n)
		}
		g, err := m.Geometry()
		if err != nil {
			t.Fatalf("Stage %d: unreadable output grid: %v", i, err)
		}
		if !g.Equal(fixed.Geometry) {
			t.Errorf("Stage %d: output grid does not match the fixed image", i)
		}
	}

	grid, err := result.TransformParameterMaps[2].Ints(parammap.KeyGridSize)
	if err != nil {
		t.Fatalf("Failed to read GridSize: %v", err)
	}
	n, _ := strconv.Atoi(result.TransformParameterMaps[2].Value(parammap.KeyNumberOfParameters))
	if want := 3 * grid[0] * grid[1] * grid[2]; n != want {
		t.Errorf("Expected %d B-spline parameters, got %d", want, n)
	}
}

func TestRegisterIsDeterministic(t *testing.T) {
	fixed := createVolume(6, 0, pattern)
	moving := createVolume(6, -1, pattern)
	req := registration.Request{Fixed: fixed, Moving: moving, ParameterMaps: meanSquaresVector()}

	engine := NewEngine(2)
	first, err := engine.Register(req)
	if err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	second, err := engine.Register(req)
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	for i := range first.TransformParameterMaps {
		if diff := cmp.Diff(first.TransformParameterMaps[i].AsGoMap(), second.TransformParameterMaps[i].AsGoMap()); diff != "" {
			t.Errorf("Stage %d differs between runs (-first +second):\n%s", i, diff)
		}
	}
}

func TestTransformAppliesChainInOrder(t *testing.T) {
	fixed := createVolume(6, 0, pattern)
	moving := createVolume(6, 1, pattern)

	engine := NewEngine(2)
	result, err := engine.Register(registration.Request{
		Fixed:         fixed,
		Moving:        moving,
		ParameterMaps: meanSquaresVector(),
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	again, err := engine.Transform(moving, result.TransformParameterMaps, false)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if diff := cmp.Diff(result.Image.Data, again.Data); diff != "" {
		t.Errorf("Re-applying the fitted chain differs from the registration result:\n%s", diff)
	}
}

func TestRegisterRejectsUnsupportedStages(t *testing.T) {
	fixed := createVolume(4, 0, pattern)
	moving := createVolume(4, 0, pattern)

	tests := []struct {
		name string
		maps []parammap.Map
	}{
		{
			name: "unknown transform",
			maps: []parammap.Map{parammap.Assoc(parammap.KeyTransform, "SplineKernelTransform", parammap.Rigid())},
		},
		{
			name: "unknown metric",
			maps: []parammap.Map{parammap.Assoc(parammap.KeyMetric, "AdvancedKappaStatistic", parammap.Rigid())},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(1).Register(registration.Request{Fixed: fixed, Moving: moving, ParameterMaps: tt.maps})
			if !errors.Is(err, aerrors.ErrConfiguration) {
				t.Errorf("Expected configuration error, got %v", err)
			}
		})
	}
}

func TestRegisterFailsWithoutOverlap(t *testing.T) {
	fixed := createVolume(4, 0, pattern)
	moving := createVolume(4, 0, pattern)
	maps := []parammap.Map{parammap.Assoc(parammap.KeyRequiredRatioValid, "2", parammap.Rigid())}

	_, err := NewEngine(1).Register(registration.Request{Fixed: fixed, Moving: moving, ParameterMaps: maps})
	if !errors.Is(err, aerrors.ErrEngineExecution) {
		t.Errorf("Expected engine execution error, got %v", err)
	}
}

func TestCenterOffset(t *testing.T) {
	fixed := models.NewGeometry(8, 8, 8)
	moving := models.NewGeometry(8, 8, 8)
	moving.Origin = [3]float64{3, -2, 0}

	if got := centerOffset(fixed, moving); got != [3]int{3, -2, 0} {
		t.Errorf("Expected offset [3 -2 0], got %v", got)
	}
}
