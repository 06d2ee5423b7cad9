// Package visualization renders slice previews of a volume, optionally with a
// segmentation drawn over it.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	aerrors "amsaf/internal/errors"
	"amsaf/internal/models"
)

// overlayAlpha is the opacity of label colors drawn over the volume
const overlayAlpha = 0.5

// palette holds the overlay colors; label l uses palette[l mod len(palette)]
var palette = []color.RGBA{
	{R: 230, G: 25, B: 75, A: 255},
	{R: 60, G: 180, B: 75, A: 255},
	{R: 255, G: 225, B: 25, A: 255},
	{R: 0, G: 130, B: 200, A: 255},
	{R: 245, G: 130, B: 48, A: 255},
	{R: 145, G: 30, B: 180, A: 255},
	{R: 70, G: 240, B: 240, A: 255},
	{R: 240, G: 50, B: 230, A: 255},
}

// Viewer extracts and saves 2D slices of a volume. When a label image is
// attached, non-zero labels are blended over the slices in color.
type Viewer struct {
	// volume holds the intensity image
	volume *models.Image

	// labels is an optional label image on the grid of volume
	labels *models.Image

	// intensity window mapped onto the gray range
	low  float64
	high float64
}

// NewViewer creates a viewer for volume; labels may be nil
func NewViewer(volume, labels *models.Image) (*Viewer, error) {
	if volume == nil {
		return nil, aerrors.NewConfigurationError("volume is required", "", "")
	}
	if labels != nil && labels.Size != volume.Size {
		return nil, aerrors.NewConfigurationError(
			fmt.Sprintf("label image size %v does not match volume size %v", labels.Size, volume.Size), "", "")
	}

	low, high := math.Inf(1), math.Inf(-1)
	for _, v := range volume.Data {
		low = math.Min(low, v)
		high = math.Max(high, v)
	}
	if len(volume.Data) == 0 {
		low, high = 0, 0
	}

	return &Viewer{
		volume: volume,
		labels: labels,
		low:    low,
		high:   high,
	}, nil
}

// gray maps an intensity onto [0, 1] through the viewer window
func (v *Viewer) gray(value float64) float64 {
	if v.high <= v.low {
		return 0
	}
	return math.Max(0, math.Min(1, (value-v.low)/(v.high-v.low)))
}

// sliceGeometry returns the 2D size of a slice and a function mapping slice
// pixel (u, w) to voxel coordinates
func (v *Viewer) sliceGeometry(axis string, position int) (int, int, func(u, w int) (int, int, int), error) {
	if position < 0 {
		return 0, 0, nil, fmt.Errorf("position must be non-negative")
	}
	width, height, depth := v.volume.Size[0], v.volume.Size[1], v.volume.Size[2]

	switch axis {
	case "x", "X":
		// YZ plane
		if position >= width {
			return 0, 0, nil, fmt.Errorf("position %d exceeds width %d", position, width)
		}
		return depth, height, func(u, w int) (int, int, int) { return position, w, u }, nil
	case "y", "Y":
		// XZ plane
		if position >= height {
			return 0, 0, nil, fmt.Errorf("position %d exceeds height %d", position, height)
		}
		return width, depth, func(u, w int) (int, int, int) { return u, position, w }, nil
	case "z", "Z":
		// XY plane
		if position >= depth {
			return 0, 0, nil, fmt.Errorf("position %d exceeds depth %d", position, depth)
		}
		return width, height, func(u, w int) (int, int, int) { return u, w, position }, nil
	default:
		return 0, 0, nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis.
// Without labels the slice is *image.Gray16; with labels it is *image.RGBA.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	w, h, voxel, err := v.sliceGeometry(axis, position)
	if err != nil {
		return nil, err
	}

	if v.labels == nil {
		img := image.NewGray16(image.Rect(0, 0, w, h))
		for py := 0; py < h; py++ {
			for px := 0; px < w; px++ {
				x, y, z := voxel(px, py)
				img.SetGray16(px, py, color.Gray16{Y: uint16(math.Round(v.gray(v.volume.At(x, y, z)) * 65535))})
			}
		}
		return img, nil
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			x, y, z := voxel(px, py)
			g := v.gray(v.volume.At(x, y, z)) * 255
			c := color.RGBA{R: uint8(g), G: uint8(g), B: uint8(g), A: 255}
			if label := v.labels.At(x, y, z); label != 0 {
				c = blend(c, labelColor(label))
			}
			img.SetRGBA(px, py, c)
		}
	}
	return img, nil
}

func labelColor(label float64) color.RGBA {
	i := int(math.Abs(math.Round(label))) % len(palette)
	return palette[i]
}

func blend(base, over color.RGBA) color.RGBA {
	mix := func(a, b uint8) uint8 {
		return uint8(math.Round((1-overlayAlpha)*float64(a) + overlayAlpha*float64(b)))
	}
	return color.RGBA{R: mix(base.R, over.R), G: mix(base.G, over.G), B: mix(base.B, over.B), A: 255}
}

// LabelBounds returns the start and size of the smallest box holding every
// non-zero label. ok is false when there are no labels.
func (v *Viewer) LabelBounds() (start, size [3]int, ok bool) {
	if v.labels == nil {
		return start, size, false
	}
	lo := v.labels.Size
	hi := [3]int{-1, -1, -1}
	for z := 0; z < v.labels.Size[2]; z++ {
		for y := 0; y < v.labels.Size[1]; y++ {
			for x := 0; x < v.labels.Size[0]; x++ {
				if v.labels.At(x, y, z) == 0 {
					continue
				}
				p := [3]int{x, y, z}
				for d := 0; d < 3; d++ {
					if p[d] < lo[d] {
						lo[d] = p[d]
					}
					if p[d] > hi[d] {
						hi[d] = p[d]
					}
				}
			}
		}
	}
	if hi[0] < 0 {
		return start, size, false
	}
	for d := 0; d < 3; d++ {
		start[d] = lo[d]
		size[d] = hi[d] - lo[d] + 1
	}
	return start, size, true
}

// ExtractRegion returns a viewer on a box of the volume (and its labels).
// The intensity window of the full volume is kept so previews stay comparable.
func (v *Viewer) ExtractRegion(start, size [3]int) (*Viewer, error) {
	for d := 0; d < 3; d++ {
		if start[d] < 0 {
			return nil, fmt.Errorf("start coordinates must be non-negative")
		}
		if size[d] <= 0 {
			return nil, fmt.Errorf("size dimensions must be positive")
		}
		if start[d]+size[d] > v.volume.Size[d] {
			return nil, fmt.Errorf("region extends beyond volume boundaries")
		}
	}

	region := &Viewer{
		volume: crop(v.volume, start, size),
		low:    v.low,
		high:   v.high,
	}
	if v.labels != nil {
		region.labels = crop(v.labels, start, size)
	}
	return region, nil
}

// crop copies a box out of img; the geometry origin moves to the box corner
func crop(img *models.Image, start, size [3]int) *models.Image {
	g := img.Geometry
	g.Size = size
	for r := 0; r < 3; r++ {
		g.Origin[r] = img.Origin[r]
		for c := 0; c < 3; c++ {
			g.Origin[r] += img.Direction[r*3+c] * img.Spacing[c] * float64(start[c])
		}
	}

	out := models.NewImage(g, img.PixelType)
	for z := 0; z < size[2]; z++ {
		for y := 0; y < size[1]; y++ {
			for x := 0; x < size[0]; x++ {
				out.Set(x, y, z, img.At(start[0]+x, start[1]+y, start[2]+z))
			}
		}
	}
	return out
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return aerrors.NewIOError(filename, err)
	}
	defer file.Close()

	if err := jpeg.Encode(file, img, &jpeg.Options{Quality: 90}); err != nil {
		return aerrors.NewIOError(filename, err)
	}
	return nil
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return aerrors.NewIOError(outputDir, err)
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.volume.Size[0]
	case "y", "Y":
		maxPos = v.volume.Size[1]
	case "z", "Z":
		maxPos = v.volume.Size[2]
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

// SavePreviews writes the slices of the labelled region, with a margin of
// voxels around it, along the specified axis. Without labels the whole
// volume is written.
func (v *Viewer) SavePreviews(axis string, margin int, outputDir string) error {
	start, size, ok := v.LabelBounds()
	if !ok {
		return v.SaveSliceSequence(axis, outputDir)
	}
	for d := 0; d < 3; d++ {
		lo := max(0, start[d]-margin)
		hi := min(v.volume.Size[d], start[d]+size[d]+margin)
		start[d], size[d] = lo, hi-lo
	}

	region, err := v.ExtractRegion(start, size)
	if err != nil {
		return err
	}
	return region.SaveSliceSequence(axis, outputDir)
}
