package nifti

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aerrors "amsaf/internal/errors"
	"amsaf/internal/models"
)

func obliqueVolume() *models.Image {
	g := models.Geometry{
		Size:      [3]int{5, 4, 3},
		Spacing:   [3]float64{0.5, 1.25, 2},
		Origin:    [3]float64{-12.5, 30, 4},
		Direction: [9]float64{0, 1, 0, -1, 0, 0, 0, 0, 1},
	}
	img := models.NewImage(g, models.Float32)
	for i := range img.Data {
		img.Data[i] = float64(i) * 1.5
	}
	return img
}

func TestWriteReadRoundTrip(t *testing.T) {
	for _, name := range []string{"volume.nii", "volume.nii.gz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			img := obliqueVolume()

			require.NoError(t, Write(img, path))

			got, err := Read(path)
			require.NoError(t, err)

			assert.True(t, got.Geometry.Equal(img.Geometry), "geometry mismatch: %+v vs %+v", got.Geometry, img.Geometry)
			assert.Equal(t, models.Float32, got.PixelType)
			assert.Equal(t, img.Data, got.Data)
		})
	}
}

func TestIntegerPixelTypes(t *testing.T) {
	for _, pt := range []models.PixelType{models.UInt8, models.Int16, models.UInt16, models.Int32, models.Float64} {
		t.Run(pt.String(), func(t *testing.T) {
			img := models.NewImage(models.NewGeometry(3, 3, 3), pt)
			for i := range img.Data {
				img.Data[i] = float64(i % 7)
			}

			path := filepath.Join(t.TempDir(), "labels.nii")
			require.NoError(t, Write(img, path))

			got, err := Read(path)
			require.NoError(t, err)
			assert.Equal(t, pt, got.PixelType)
			assert.Equal(t, img.Data, got.Data)
		})
	}
}

func TestReadUltrasoundCasts(t *testing.T) {
	img := models.NewImage(models.NewGeometry(2, 2, 1), models.Float32)
	copy(img.Data, []float64{-3, 1.6, 70000, 42})

	path := filepath.Join(t.TempDir(), "us.nii")
	require.NoError(t, Write(img, path))

	got, err := ReadUltrasound(path)
	require.NoError(t, err)
	assert.Equal(t, models.UInt16, got.PixelType)
	assert.Equal(t, []float64{0, 2, 65535, 42}, got.Data)
}

func TestIOErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Read(filepath.Join(dir, "missing.nii"))
	assert.True(t, errors.Is(err, aerrors.ErrIO), "expected io error, got %v", err)

	err = Write(obliqueVolume(), filepath.Join(dir, "volume.mha"))
	assert.True(t, errors.Is(err, aerrors.ErrIO), "expected io error, got %v", err)

	garbage := filepath.Join(dir, "garbage.nii")
	require.NoError(t, os.WriteFile(garbage, []byte("definitely not a nifti header"), 0644))
	_, err = Read(garbage)
	assert.True(t, errors.Is(err, aerrors.ErrIO), "expected io error, got %v", err)
}

func TestEncodeRejectsOversizedAxis(t *testing.T) {
	img := models.NewImage(models.NewGeometry(40000, 1, 1), models.UInt8)

	var buf bytes.Buffer
	err := Encode(&buf, img)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "axis 0")
	assert.Zero(t, buf.Len(), "nothing should be written for an oversized image")

	err = Write(img, filepath.Join(t.TempDir(), "wide.nii"))
	assert.True(t, errors.Is(err, aerrors.ErrIO), "expected io error, got %v", err)

	ok := models.NewImage(models.NewGeometry(32767, 1, 1), models.UInt8)
	require.NoError(t, Encode(&buf, ok))
	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, [3]int{32767, 1, 1}, got.Size)
}

func TestQuaternionRoundTrip(t *testing.T) {
	directions := [][9]float64{
		models.IdentityDirection(),
		{0, 1, 0, -1, 0, 0, 0, 0, 1},
		{1, 0, 0, 0, 1, 0, 0, 0, -1},
		{-1, 0, 0, 0, -1, 0, 0, 0, 1},
	}
	for _, d := range directions {
		b, c, q, qfac := matrixToQuatern(d)
		got := quaternToMatrix(b, c, q, qfac < 0)
		for i := range d {
			assert.InDelta(t, d[i], got[i], 1e-9, "direction %v element %d", d, i)
		}
	}
}

func TestQformOnlyHeader(t *testing.T) {
	img := obliqueVolume()
	h, err := headerFromGeometry(img.Geometry)
	require.NoError(t, err)
	h.SformCode = 0

	g, err := geometryFromHeader(&h)
	require.NoError(t, err)
	assert.True(t, g.Equal(img.Geometry), "qform geometry mismatch: %+v", g)
}
