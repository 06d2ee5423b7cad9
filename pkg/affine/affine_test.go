package affine

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/mat"
	"pgregory.net/rapid"

	aerrors "amsaf/internal/errors"
	"amsaf/internal/models"
	"amsaf/pkg/parammap"
	"amsaf/pkg/resample"
)

func createTestVolume(size int) *models.Image {
	g := models.NewGeometry(size, size, size)
	g.Spacing = [3]float64{0.5, 0.5, 2}
	g.Origin = [3]float64{-10, 4, 1}
	img := models.NewImage(g, models.UInt8)
	for i := range img.Data {
		img.Data[i] = float64(i % 7)
	}
	return img
}

func TestIdentityTransform(t *testing.T) {
	img := createTestVolume(5)

	m, err := Build(img, Identity(), ZeroTranslation())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	params, err := m.Floats(parammap.KeyTransformParameters)
	if err != nil {
		t.Fatalf("Failed to read parameters: %v", err)
	}
	want := []float64{1, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0}
	if diff := cmp.Diff(want, params); diff != "" {
		t.Errorf("TransformParameters mismatch (-want +got):\n%s", diff)
	}

	if got := m.Value(parammap.KeyResampleInterpolator); got != parammap.NearestNeighborInterpolator {
		t.Errorf("Expected nearest-neighbor interpolator, got %s", got)
	}
	if got := m.Value(parammap.KeyNumberOfParameters); got != "12" {
		t.Errorf("Expected NumberOfParameters 12, got %s", got)
	}

	g, err := m.Geometry()
	if err != nil {
		t.Fatalf("Failed to read geometry: %v", err)
	}
	if !g.Equal(img.Geometry) {
		t.Errorf("Expected the image grid, got %+v", g)
	}

	out, err := resample.ResampleWithMap(img, m)
	if err != nil {
		t.Fatalf("Applying identity failed: %v", err)
	}
	if diff := cmp.Diff(img.Data, out.Data); diff != "" {
		t.Errorf("Identity changed the image (-want +got):\n%s", diff)
	}
}

func TestTranslationShiftsImage(t *testing.T) {
	img := models.NewImage(models.NewGeometry(4, 4, 4), models.UInt8)
	img.Set(2, 1, 1, 9)

	m, err := Build(img, Identity(), Translation(1, 0, 0))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	out, err := resample.ResampleWithMap(img, m)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}

	// output point x samples input point x + t
	if got := out.At(1, 1, 1); got != 9 {
		t.Errorf("Expected label 9 at (1,1,1), got %f", got)
	}
	if got := out.At(2, 1, 1); got != 0 {
		t.Errorf("Expected background at (2,1,1), got %f", got)
	}
}

func TestBuildRejectsMalformedInput(t *testing.T) {
	g := models.NewGeometry(2, 2, 2)

	tests := []struct {
		name string
		a    mat.Matrix
		t    mat.Matrix
	}{
		{"matrix too small", mat.NewDense(2, 2, nil), ZeroTranslation()},
		{"translation as column", Identity(), mat.NewDense(3, 1, nil)},
		{"translation too long", Identity(), mat.NewDense(1, 4, nil)},
		{"missing matrix", nil, ZeroTranslation()},
		{"non-finite element", mat.NewDense(3, 3, []float64{1, 0, 0, 0, math.NaN(), 0, 0, 0, 1}), ZeroTranslation()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildTransform(g, tt.a, tt.t)
			if !errors.Is(err, aerrors.ErrConfiguration) {
				t.Errorf("Expected configuration error, got %v", err)
			}
		})
	}
}

func TestParameterLayout(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		values := make([]float64, 12)
		for i := range values {
			values[i] = float64(rapid.IntRange(-50, 50).Draw(rt, "v"))
		}
		a := mat.NewDense(3, 3, values[:9])
		tr := mat.NewDense(1, 3, values[9:])

		m, err := BuildTransform(models.NewGeometry(3, 3, 3), a, tr)
		if err != nil {
			rt.Fatalf("BuildTransform failed: %v", err)
		}
		params, err := m.Floats(parammap.KeyTransformParameters)
		if err != nil {
			rt.Fatalf("Failed to read parameters: %v", err)
		}
		if diff := cmp.Diff(values, params); diff != "" {
			rt.Fatalf("Parameters are not A row-major followed by t (-want +got):\n%s", diff)
		}
	})
}
