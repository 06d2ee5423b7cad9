package models

import (
	"fmt"
	"math"
	"sort"
)

// PixelType is the voxel representation an image is stored with on disk.
// In memory all voxels are held as float64.
type PixelType int

const (
	Float32 PixelType = iota
	Float64
	UInt8
	UInt16
	Int16
	Int32
)

// String returns the elastix-style name of the pixel type
func (p PixelType) String() string {
	switch p {
	case Float32:
		return "float"
	case Float64:
		return "double"
	case UInt8:
		return "unsigned char"
	case UInt16:
		return "unsigned short"
	case Int16:
		return "short"
	case Int32:
		return "int"
	default:
		return fmt.Sprintf("PixelType(%d)", int(p))
	}
}

// geometryTolerance bounds the float comparison of spacing, origin and direction.
const geometryTolerance = 1e-6

// Geometry describes where a voxel grid sits in physical space.
type Geometry struct {
	// Size is the number of voxels along x, y and z
	Size [3]int

	// Spacing is the physical size of one voxel along each axis (mm)
	Spacing [3]float64

	// Origin is the physical coordinate of voxel (0, 0, 0)
	Origin [3]float64

	// Direction holds the orientation cosines as a row-major 3x3 matrix.
	// Column j is the physical direction of index axis j.
	Direction [9]float64
}

// IdentityDirection returns the axis-aligned direction matrix
func IdentityDirection() [9]float64 {
	return [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// NewGeometry creates an axis-aligned geometry with unit spacing and zero origin
func NewGeometry(width, height, depth int) Geometry {
	return Geometry{
		Size:      [3]int{width, height, depth},
		Spacing:   [3]float64{1, 1, 1},
		Direction: IdentityDirection(),
	}
}

// NumVoxels returns the number of voxels in the grid
func (g Geometry) NumVoxels() int {
	return g.Size[0] * g.Size[1] * g.Size[2]
}

// Index converts voxel coordinates into the offset of the flat data array.
// Data is stored in row-major order with x varying fastest.
func (g Geometry) Index(x, y, z int) int {
	return z*g.Size[0]*g.Size[1] + y*g.Size[0] + x
}

// Contains reports whether the voxel coordinates fall inside the grid
func (g Geometry) Contains(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < g.Size[0] && y < g.Size[1] && z < g.Size[2]
}

// Equal reports whether two geometries describe the same grid.
// Sizes must match exactly; spacing, origin and direction within a small tolerance.
func (g Geometry) Equal(o Geometry) bool {
	if g.Size != o.Size {
		return false
	}
	for i := 0; i < 3; i++ {
		if !closeEnough(g.Spacing[i], o.Spacing[i]) || !closeEnough(g.Origin[i], o.Origin[i]) {
			return false
		}
	}
	for i := 0; i < 9; i++ {
		if !closeEnough(g.Direction[i], o.Direction[i]) {
			return false
		}
	}
	return true
}

// Validate checks that the geometry can hold voxel data
func (g Geometry) Validate() error {
	for i := 0; i < 3; i++ {
		if g.Size[i] <= 0 {
			return fmt.Errorf("size along axis %d must be positive, got %d", i, g.Size[i])
		}
		if g.Spacing[i] <= 0 {
			return fmt.Errorf("spacing along axis %d must be positive, got %f", i, g.Spacing[i])
		}
	}
	return nil
}

func closeEnough(a, b float64) bool {
	return math.Abs(a-b) <= geometryTolerance*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

// Image is a 3D voxel grid with geometric metadata.
// Intensity images and label images share this type; what differs is how they
// are resampled.
type Image struct {
	Geometry

	// Data is the voxel data as a 1D array in row-major order
	Data []float64

	// PixelType is the representation used when the image is persisted
	PixelType PixelType
}

// NewImage allocates a zero-filled image on the given grid
func NewImage(g Geometry, pixelType PixelType) *Image {
	return &Image{
		Geometry:  g,
		Data:      make([]float64, g.NumVoxels()),
		PixelType: pixelType,
	}
}

// At returns the voxel value at (x, y, z)
func (im *Image) At(x, y, z int) float64 {
	return im.Data[im.Index(x, y, z)]
}

// Set stores a voxel value at (x, y, z)
func (im *Image) Set(x, y, z int, v float64) {
	im.Data[im.Index(x, y, z)] = v
}

// Clone returns a deep copy of the image
func (im *Image) Clone() *Image {
	data := make([]float64, len(im.Data))
	copy(data, im.Data)
	return &Image{
		Geometry:  im.Geometry,
		Data:      data,
		PixelType: im.PixelType,
	}
}

// CastUInt16 returns a copy of the image with voxels rounded and clamped to
// the unsigned 16-bit range. Ultrasound volumes are read this way.
func (im *Image) CastUInt16() *Image {
	out := im.Clone()
	out.PixelType = UInt16
	for i, v := range out.Data {
		out.Data[i] = math.Max(0, math.Min(math.MaxUint16, math.Round(v)))
	}
	return out
}

// Labels returns the sorted set of distinct voxel values
func (im *Image) Labels() []float64 {
	seen := make(map[float64]struct{})
	labels := make([]float64, 0)
	for _, v := range im.Data {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		labels = append(labels, v)
	}
	sort.Float64s(labels)
	return labels
}
