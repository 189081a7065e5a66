package streamdec

import (
	"fmt"
	"strings"
)

// YCbCrMatrix selects the YCbCr to RGB conversion coefficients.
type YCbCrMatrix int

const (
	YCbCr601  YCbCrMatrix = iota // BT.601, limited range (16-235)
	YCbCr709                     // BT.709, limited range (16-235)
	YCbCrJPEG                    // BT.601, full range (JFIF)
)

func (m YCbCrMatrix) String() string {
	switch m {
	case YCbCr601:
		return "bt601"
	case YCbCr709:
		return "bt709"
	case YCbCrJPEG:
		return "jpeg"
	default:
		return "unknown"
	}
}

// ParseYCbCrMatrix maps a matrix name ("bt601", "bt709", "jpeg") to its value.
func ParseYCbCrMatrix(name string) (YCbCrMatrix, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "601", "bt601":
		return YCbCr601, nil
	case "709", "bt709":
		return YCbCr709, nil
	case "jpeg", "jfif", "full":
		return YCbCrJPEG, nil
	}
	return YCbCr601, fmt.Errorf("%w: ycbcr matrix %q", ErrNotSupported, name)
}

// ChromaOrder is the byte order of interleaved chroma samples.
type ChromaOrder int

const (
	ChromaUV ChromaOrder = iota // NV12
	ChromaVU                    // NV21
)

// 16.16 fixed-point coefficients.
type ycbcrCoeffs struct {
	yOffset int
	y       int
	rv      int
	gu      int
	gv      int
	bu      int
}

var matrixCoeffs = map[YCbCrMatrix]ycbcrCoeffs{
	YCbCr601:  {yOffset: 16, y: 76284, rv: 104595, gu: 25690, gv: 53281, bu: 132186},
	YCbCr709:  {yOffset: 16, y: 76284, rv: 117506, gu: 13959, gv: 34931, bu: 138412},
	YCbCrJPEG: {yOffset: 0, y: 65536, rv: 91881, gu: 22554, gv: 46802, bu: 116130},
}

// packedLayout gives the byte offset of each channel within a packed pixel.
// a is -1 for formats without alpha.
type packedLayout struct {
	bpp        int
	r, g, b, a int
}

func layoutOf(format PixelFormat) (packedLayout, bool) {
	switch format {
	case PixelFormatRGB24:
		return packedLayout{bpp: 3, r: 0, g: 1, b: 2, a: -1}, true
	case PixelFormatBGR24:
		return packedLayout{bpp: 3, r: 2, g: 1, b: 0, a: -1}, true
	case PixelFormatRGBA32:
		return packedLayout{bpp: 4, r: 0, g: 1, b: 2, a: 3}, true
	case PixelFormatBGRA32:
		return packedLayout{bpp: 4, r: 2, g: 1, b: 0, a: 3}, true
	default:
		return packedLayout{}, false
	}
}

// Converter converts 4:2:0 semi-planar images to other layouts.
// It holds no per-frame state and is safe for concurrent use.
type Converter struct {
	matrix YCbCrMatrix
	k      ycbcrCoeffs
}

// NewConverter creates a converter for the given matrix. Unknown matrices
// fall back to BT.601.
func NewConverter(matrix YCbCrMatrix) *Converter {
	k, ok := matrixCoeffs[matrix]
	if !ok {
		matrix = YCbCr601
		k = matrixCoeffs[YCbCr601]
	}
	return &Converter{matrix: matrix, k: k}
}

// Matrix returns the conversion matrix.
func (c *Converter) Matrix() YCbCrMatrix { return c.matrix }

// PixelRGB converts one YCbCr sample to RGB.
func (c *Converter) PixelRGB(y, cb, cr byte) (r, g, b byte) {
	yy := (int(y) - c.k.yOffset) * c.k.y
	u := int(cb) - 128
	v := int(cr) - 128
	r = clamp8((yy + c.k.rv*v + 1<<15) >> 16)
	g = clamp8((yy - c.k.gu*u - c.k.gv*v + 1<<15) >> 16)
	b = clamp8((yy + c.k.bu*u + 1<<15) >> 16)
	return r, g, b
}

func clamp8(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// SemiPlanarToPacked converts a width x height semi-planar image (NV12 or
// NV21) into a packed RGB-family image in dst.
func (c *Converter) SemiPlanarToPacked(dst []byte, dstStride int, format PixelFormat,
	y []byte, yStride int, uv []byte, uvStride int, order ChromaOrder, width, height int) error {

	layout, ok := layoutOf(format)
	if !ok {
		return fmt.Errorf("%w: packed conversion to %s", ErrNotSupported, format)
	}
	if dstStride < width*layout.bpp || len(dst) < dstStride*(height-1)+width*layout.bpp {
		return ErrBufferTooSmall
	}

	cbOff, crOff := 0, 1
	if order == ChromaVU {
		cbOff, crOff = 1, 0
	}

	for row := 0; row < height; row++ {
		yRow := y[row*yStride:]
		uvRow := uv[(row/2)*uvStride:]
		out := dst[row*dstStride:]
		for col := 0; col < width; col++ {
			ci := (col / 2) * 2
			r, g, b := c.PixelRGB(yRow[col], uvRow[ci+cbOff], uvRow[ci+crOff])
			px := out[col*layout.bpp:]
			px[layout.r] = r
			px[layout.g] = g
			px[layout.b] = b
			if layout.a >= 0 {
				px[layout.a] = 0xFF
			}
		}
	}
	return nil
}

// SemiPlanarToI420 deinterleaves the chroma of a semi-planar image into
// separate U and V planes and copies luma.
func SemiPlanarToI420(dstY, dstU, dstV []byte, dstYStride, dstUVStride int,
	y []byte, yStride int, uv []byte, uvStride int, order ChromaOrder, width, height int) {

	CopyPlane(dstY, dstYStride, y, yStride, width, height)

	cw, ch := (width+1)/2, (height+1)/2
	uDst, vDst := dstU, dstV
	if order == ChromaVU {
		uDst, vDst = dstV, dstU
	}
	for row := 0; row < ch; row++ {
		src := uv[row*uvStride:]
		u := uDst[row*dstUVStride:]
		v := vDst[row*dstUVStride:]
		for col := 0; col < cw; col++ {
			u[col] = src[2*col]
			v[col] = src[2*col+1]
		}
	}
}

// CopyPlane copies width bytes of height rows between strided planes.
func CopyPlane(dst []byte, dstStride int, src []byte, srcStride int, width, height int) {
	if dstStride == srcStride && dstStride == width {
		copy(dst[:width*height], src[:width*height])
		return
	}
	for row := 0; row < height; row++ {
		copy(dst[row*dstStride:row*dstStride+width], src[row*srcStride:row*srcStride+width])
	}
}
