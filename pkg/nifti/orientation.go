package nifti

import (
	"fmt"
	"math"

	"amsaf/internal/models"
)

// NIfTI stores orientation in RAS; ITK and elastix work in LPS. Converting
// between them negates the first two rows of the direction matrix and the
// first two origin components.
var rasToLPS = [3]float64{-1, -1, 1}

func geometryFromHeader(h *header) (models.Geometry, error) {
	var g models.Geometry

	ndim := int(h.Dim[0])
	if ndim < 1 || ndim > 7 {
		return g, fmt.Errorf("invalid dimension count %d", ndim)
	}
	for d := 4; d <= ndim; d++ {
		if h.Dim[d] > 1 {
			return g, fmt.Errorf("only 3D volumes are supported, dim[%d]=%d", d, h.Dim[d])
		}
	}
	for d := 0; d < 3; d++ {
		g.Size[d] = 1
		if d+1 <= ndim && h.Dim[d+1] > 0 {
			g.Size[d] = int(h.Dim[d+1])
		}
		g.Spacing[d] = math.Abs(float64(h.Pixdim[d+1]))
		if g.Spacing[d] == 0 {
			g.Spacing[d] = 1
		}
	}

	var ras [9]float64
	var origin [3]float64
	switch {
	case h.SformCode > 0:
		rows := [3][4]float32{h.SrowX, h.SrowY, h.SrowZ}
		for c := 0; c < 3; c++ {
			norm := 0.0
			for r := 0; r < 3; r++ {
				norm += float64(rows[r][c]) * float64(rows[r][c])
			}
			norm = math.Sqrt(norm)
			if norm == 0 {
				return g, fmt.Errorf("sform column %d is zero", c)
			}
			g.Spacing[c] = norm
			for r := 0; r < 3; r++ {
				ras[r*3+c] = float64(rows[r][c]) / norm
			}
		}
		for r := 0; r < 3; r++ {
			origin[r] = float64(rows[r][3])
		}
	case h.QformCode > 0:
		ras = quaternToMatrix(float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD), h.Pixdim[0] < 0)
		origin = [3]float64{float64(h.QoffsetX), float64(h.QoffsetY), float64(h.QoffsetZ)}
	default:
		ras = models.IdentityDirection()
	}

	for r := 0; r < 3; r++ {
		g.Origin[r] = rasToLPS[r] * origin[r]
		for c := 0; c < 3; c++ {
			g.Direction[r*3+c] = rasToLPS[r] * ras[r*3+c]
		}
	}
	return g, g.Validate()
}

func headerFromGeometry(g models.Geometry) (header, error) {
	var h header
	for i, n := range g.Size {
		if n > math.MaxInt16 {
			return h, fmt.Errorf("size %d along axis %d exceeds the NIfTI-1 limit of %d", n, i, math.MaxInt16)
		}
	}
	h.SizeofHdr = headerSize
	h.Regular = 'r'
	h.Dim = [8]int16{3, int16(g.Size[0]), int16(g.Size[1]), int16(g.Size[2]), 1, 1, 1, 1}
	h.Pixdim = [8]float32{1, float32(g.Spacing[0]), float32(g.Spacing[1]), float32(g.Spacing[2]), 0, 0, 0, 0}
	h.VoxOffset = voxOffset
	h.SclSlope = 1
	h.XyztUnits = 2 // millimeters
	h.QformCode = 1
	h.SformCode = 1
	copy(h.Magic[:], "n+1\x00")
	copy(h.Descrip[:], "amsaf")

	var ras [9]float64
	var origin [3]float64
	for r := 0; r < 3; r++ {
		origin[r] = rasToLPS[r] * g.Origin[r]
		for c := 0; c < 3; c++ {
			ras[r*3+c] = rasToLPS[r] * g.Direction[r*3+c]
		}
	}

	rows := [3]*[4]float32{&h.SrowX, &h.SrowY, &h.SrowZ}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			rows[r][c] = float32(ras[r*3+c] * g.Spacing[c])
		}
		rows[r][3] = float32(origin[r])
	}

	b, c, d, qfac := matrixToQuatern(ras)
	h.QuaternB, h.QuaternC, h.QuaternD = float32(b), float32(c), float32(d)
	h.Pixdim[0] = float32(qfac)
	h.QoffsetX, h.QoffsetY, h.QoffsetZ = float32(origin[0]), float32(origin[1]), float32(origin[2])
	return h, nil
}

// quaternToMatrix rebuilds the qform rotation; a negative qfac flips the third column
func quaternToMatrix(b, c, d float64, flip bool) [9]float64 {
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		a = 1 / math.Sqrt(b*b+c*c+d*d)
		b, c, d = b*a, c*a, d*a
		a = 0
	} else {
		a = math.Sqrt(a)
	}

	m := [9]float64{
		a*a + b*b - c*c - d*d, 2 * (b*c - a*d), 2 * (b*d + a*c),
		2 * (b*c + a*d), a*a + c*c - b*b - d*d, 2 * (c*d - a*b),
		2 * (b*d - a*c), 2 * (c*d + a*b), a*a + d*d - c*c - b*b,
	}
	if flip {
		m[2], m[5], m[8] = -m[2], -m[5], -m[8]
	}
	return m
}

// matrixToQuatern converts an orthonormal direction matrix into qform
// quaternion parameters and the qfac sign
func matrixToQuatern(m [9]float64) (b, c, d, qfac float64) {
	r := m
	qfac = 1
	det := r[0]*(r[4]*r[8]-r[5]*r[7]) - r[1]*(r[3]*r[8]-r[5]*r[6]) + r[2]*(r[3]*r[7]-r[4]*r[6])
	if det < 0 {
		qfac = -1
		r[2], r[5], r[8] = -r[2], -r[5], -r[8]
	}

	var a float64
	trace := r[0] + r[4] + r[8] + 1
	if trace > 0.5 {
		a = 0.5 * math.Sqrt(trace)
		b = 0.25 * (r[7] - r[5]) / a
		c = 0.25 * (r[2] - r[6]) / a
		d = 0.25 * (r[3] - r[1]) / a
	} else {
		xd := 1 + r[0] - (r[4] + r[8])
		yd := 1 + r[4] - (r[0] + r[8])
		zd := 1 + r[8] - (r[0] + r[4])
		switch {
		case xd > 1:
			b = 0.5 * math.Sqrt(xd)
			c = 0.25 * (r[1] + r[3]) / b
			d = 0.25 * (r[2] + r[6]) / b
			a = 0.25 * (r[7] - r[5]) / b
		case yd > 1:
			c = 0.5 * math.Sqrt(yd)
			b = 0.25 * (r[1] + r[3]) / c
			d = 0.25 * (r[5] + r[7]) / c
			a = 0.25 * (r[2] - r[6]) / c
		default:
			d = 0.5 * math.Sqrt(zd)
			b = 0.25 * (r[2] + r[6]) / d
			c = 0.25 * (r[5] + r[7]) / d
			a = 0.25 * (r[3] - r[1]) / d
		}
		if a < 0 {
			b, c, d = -b, -c, -d
		}
	}
	return b, c, d, qfac
}
