// Package nifti reads and writes single-file NIfTI-1 volumes (.nii and .nii.gz).
//
// Geometry is converted between the RAS convention of the NIfTI header and the
// LPS convention used by ITK and elastix, so an image read here and handed to
// elastix keeps the orientation elastix would have read from the file itself.
package nifti

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	aerrors "amsaf/internal/errors"
	"amsaf/internal/models"
)

const (
	headerSize = 348
	voxOffset  = 352
)

// NIfTI-1 datatype codes
const (
	dtUInt8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
	dtUInt16  = 512
)

// header mirrors the 348-byte NIfTI-1 header field for field
type header struct {
	SizeofHdr     int32
	DataType      [10]byte
	DbName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XyztUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// ReadOptions controls how a volume is loaded
type ReadOptions struct {
	// Ultrasound casts the volume to unsigned 16-bit voxels after reading
	Ultrasound bool
}

// Read loads a volume from path; .gz paths are decompressed
func Read(path string) (*models.Image, error) {
	return ReadWithOptions(path, ReadOptions{})
}

// ReadUltrasound loads a volume and casts it to unsigned 16-bit voxels
func ReadUltrasound(path string) (*models.Image, error) {
	return ReadWithOptions(path, ReadOptions{Ultrasound: true})
}

// ReadWithOptions loads a volume from path
func ReadWithOptions(path string, opts ReadOptions) (*models.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, aerrors.NewIOError(path, err)
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, aerrors.NewIOError(path, err)
		}
		defer gz.Close()
		r = gz
	}

	img, err := Decode(r)
	if err != nil {
		return nil, aerrors.NewIOError(path, err)
	}
	if opts.Ultrasound {
		img = img.CastUInt16()
	}
	return img, nil
}

// Write stores img at path. The container is chosen from the extension:
// .nii is written as is, .nii.gz compressed.
func Write(img *models.Image, path string) error {
	lower := strings.ToLower(path)
	compressed := strings.HasSuffix(lower, ".nii.gz")
	if !compressed && !strings.HasSuffix(lower, ".nii") {
		return aerrors.NewIOError(path, fmt.Errorf("unsupported image extension (want .nii or .nii.gz)"))
	}

	f, err := os.Create(path)
	if err != nil {
		return aerrors.NewIOError(path, err)
	}

	bw := bufio.NewWriter(f)
	var w io.Writer = bw
	var gz *gzip.Writer
	if compressed {
		gz = gzip.NewWriter(bw)
		w = gz
	}

	err = Encode(w, img)
	if err == nil && gz != nil {
		err = gz.Close()
	}
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return aerrors.NewIOError(path, err)
	}
	return nil
}

// Decode parses an uncompressed NIfTI-1 stream
func Decode(r io.Reader) (*models.Image, error) {
	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if int32(binary.LittleEndian.Uint32(raw)) != headerSize {
		if int32(binary.BigEndian.Uint32(raw)) != headerSize {
			return nil, fmt.Errorf("not a NIfTI-1 file")
		}
		order = binary.BigEndian
	}

	var h header
	if err := binary.Read(bytes.NewReader(raw), order, &h); err != nil {
		return nil, fmt.Errorf("decoding header: %w", err)
	}
	if string(h.Magic[:3]) != "n+1" {
		return nil, fmt.Errorf("unsupported NIfTI magic %q (only single-file .nii is supported)", h.Magic[:3])
	}

	g, err := geometryFromHeader(&h)
	if err != nil {
		return nil, err
	}
	pixelType, bytesPerVoxel, err := pixelTypeFromCode(h.Datatype)
	if err != nil {
		return nil, err
	}

	// skip extensions up to the voxel data
	skip := int64(h.VoxOffset) - headerSize
	if skip < 0 {
		return nil, fmt.Errorf("invalid vox_offset %f", h.VoxOffset)
	}
	if _, err := io.CopyN(io.Discard, r, skip); err != nil {
		return nil, fmt.Errorf("skipping extensions: %w", err)
	}

	data := make([]byte, g.NumVoxels()*bytesPerVoxel)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("reading voxel data: %w", err)
	}

	img := models.NewImage(g, pixelType)
	for i := range img.Data {
		img.Data[i] = decodeVoxel(data[i*bytesPerVoxel:], h.Datatype, order)
	}

	if h.SclSlope != 0 && !(h.SclSlope == 1 && h.SclInter == 0) {
		for i, v := range img.Data {
			img.Data[i] = v*float64(h.SclSlope) + float64(h.SclInter)
		}
		img.PixelType = models.Float32
	}
	return img, nil
}

// Encode writes img as an uncompressed little-endian NIfTI-1 stream
func Encode(w io.Writer, img *models.Image) error {
	if err := img.Validate(); err != nil {
		return err
	}
	if len(img.Data) != img.NumVoxels() {
		return fmt.Errorf("image holds %d voxels, geometry needs %d", len(img.Data), img.NumVoxels())
	}

	code, bytesPerVoxel, err := codeFromPixelType(img.PixelType)
	if err != nil {
		return err
	}

	h, err := headerFromGeometry(img.Geometry)
	if err != nil {
		return err
	}
	h.Datatype = code
	h.Bitpix = int16(8 * bytesPerVoxel)

	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return err
	}
	// empty extension flag
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}

	buf := make([]byte, len(img.Data)*bytesPerVoxel)
	for i, v := range img.Data {
		encodeVoxel(buf[i*bytesPerVoxel:], code, v)
	}
	_, err = w.Write(buf)
	return err
}

func pixelTypeFromCode(code int16) (models.PixelType, int, error) {
	switch code {
	case dtUInt8:
		return models.UInt8, 1, nil
	case dtInt16:
		return models.Int16, 2, nil
	case dtUInt16:
		return models.UInt16, 2, nil
	case dtInt32:
		return models.Int32, 4, nil
	case dtFloat32:
		return models.Float32, 4, nil
	case dtFloat64:
		return models.Float64, 8, nil
	}
	return 0, 0, fmt.Errorf("unsupported NIfTI datatype %d", code)
}

func codeFromPixelType(p models.PixelType) (int16, int, error) {
	switch p {
	case models.UInt8:
		return dtUInt8, 1, nil
	case models.Int16:
		return dtInt16, 2, nil
	case models.UInt16:
		return dtUInt16, 2, nil
	case models.Int32:
		return dtInt32, 4, nil
	case models.Float32:
		return dtFloat32, 4, nil
	case models.Float64:
		return dtFloat64, 8, nil
	}
	return 0, 0, fmt.Errorf("unsupported pixel type %v", p)
}

func decodeVoxel(b []byte, code int16, order binary.ByteOrder) float64 {
	switch code {
	case dtUInt8:
		return float64(b[0])
	case dtInt16:
		return float64(int16(order.Uint16(b)))
	case dtUInt16:
		return float64(order.Uint16(b))
	case dtInt32:
		return float64(int32(order.Uint32(b)))
	case dtFloat32:
		return float64(math.Float32frombits(order.Uint32(b)))
	default:
		return math.Float64frombits(order.Uint64(b))
	}
}

func encodeVoxel(b []byte, code int16, v float64) {
	le := binary.LittleEndian
	switch code {
	case dtUInt8:
		b[0] = uint8(clampRound(v, 0, math.MaxUint8))
	case dtInt16:
		le.PutUint16(b, uint16(int16(clampRound(v, math.MinInt16, math.MaxInt16))))
	case dtUInt16:
		le.PutUint16(b, uint16(clampRound(v, 0, math.MaxUint16)))
	case dtInt32:
		le.PutUint32(b, uint32(int32(clampRound(v, math.MinInt32, math.MaxInt32))))
	case dtFloat32:
		le.PutUint32(b, math.Float32bits(float32(v)))
	default:
		le.PutUint64(b, math.Float64bits(v))
	}
}

func clampRound(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, math.Round(v)))
}
