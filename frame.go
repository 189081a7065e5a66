package streamdec

import (
	"strconv"
	"strings"
)

// PixelFormat represents video pixel formats.
type PixelFormat int

const (
	PixelFormatI420   PixelFormat = iota // YUV 4:2:0 planar (Y + U + V)
	PixelFormatNV12                      // YUV 4:2:0 semi-planar (Y + interleaved UV)
	PixelFormatRGB24                     // Packed RGB, 3 bytes per pixel
	PixelFormatBGR24                     // Packed BGR, 3 bytes per pixel
	PixelFormatRGBA32                    // Packed RGBA, 4 bytes per pixel
	PixelFormatBGRA32                    // Packed BGRA, 4 bytes per pixel
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatI420:
		return "I420"
	case PixelFormatNV12:
		return "NV12"
	case PixelFormatRGB24:
		return "RGB24"
	case PixelFormatBGR24:
		return "BGR24"
	case PixelFormatRGBA32:
		return "RGBA32"
	case PixelFormatBGRA32:
		return "BGRA32"
	default:
		return "Unknown"
	}
}

// PlaneCount returns the number of planes for this pixel format.
func (p PixelFormat) PlaneCount() int {
	switch p {
	case PixelFormatI420:
		return 3 // Y, U, V
	case PixelFormatNV12:
		return 2 // Y, UV
	case PixelFormatRGB24, PixelFormatBGR24, PixelFormatRGBA32, PixelFormatBGRA32:
		return 1 // Packed
	default:
		return 0
	}
}

// Packed reports whether the format stores whole pixels interleaved in one plane.
func (p PixelFormat) Packed() bool {
	return p.BytesPerPixel() > 0
}

// BytesPerPixel returns the pixel size of packed formats, 0 for planar YUV.
func (p PixelFormat) BytesPerPixel() int {
	switch p {
	case PixelFormatRGB24, PixelFormatBGR24:
		return 3
	case PixelFormatRGBA32, PixelFormatBGRA32:
		return 4
	default:
		return 0
	}
}

// FrameSize returns the number of bytes a tightly packed frame needs.
func (p PixelFormat) FrameSize(width, height int) int {
	switch p {
	case PixelFormatI420:
		return I420Size(width, height)
	case PixelFormatNV12:
		return width*height + ((width+1)/2)*((height+1)/2)*2
	default:
		return width * height * p.BytesPerPixel()
	}
}

// I420Size returns the total buffer size needed for an I420 frame.
func I420Size(width, height int) int {
	// Y plane: width * height
	// U plane: (width/2) * (height/2)
	// V plane: (width/2) * (height/2)
	ySize := width * height
	uvSize := ((width + 1) / 2) * ((height + 1) / 2)
	return ySize + uvSize*2
}

// ConvertOption is the integer output-layout code accepted by GetFrame,
// DrainFrame and DecodeGet.
type ConvertOption int

const (
	ConvertNV12   ConvertOption = iota // Surface layout, no conversion
	ConvertRGB24                       // Packed 24-bit, R G B order
	ConvertBGR24                       // Packed 24-bit, B G R order
	ConvertRGBA32                      // Packed 32-bit, R G B A order
	ConvertBGRA32                      // Packed 32-bit, B G R A order
	ConvertI420                        // Planar Y, U, V
)

// Format returns the pixel format written for this option.
func (o ConvertOption) Format() (PixelFormat, bool) {
	switch o {
	case ConvertNV12:
		return PixelFormatNV12, true
	case ConvertRGB24:
		return PixelFormatRGB24, true
	case ConvertBGR24:
		return PixelFormatBGR24, true
	case ConvertRGBA32:
		return PixelFormatRGBA32, true
	case ConvertBGRA32:
		return PixelFormatBGRA32, true
	case ConvertI420:
		return PixelFormatI420, true
	default:
		return 0, false
	}
}

// ParseConvertOption maps a layout name ("nv12", "rgb24", "bgr24", "rgba32",
// "bgra32", "i420") or its integer code to a ConvertOption.
func ParseConvertOption(name string) (ConvertOption, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if n, err := strconv.Atoi(name); err == nil {
		o := ConvertOption(n)
		_, ok := o.Format()
		return o, ok
	}
	for o := ConvertNV12; o <= ConvertI420; o++ {
		if strings.ToLower(o.String()) == name {
			return o, true
		}
	}
	return ConvertNV12, false
}

func (o ConvertOption) String() string {
	if f, ok := o.Format(); ok {
		return f.String()
	}
	return "Unknown"
}

// FrameBuffer is a caller-owned output buffer reused across frames.
// Planar formats are stored back to back in Data (Y then U/V or UV).
type FrameBuffer struct {
	Data []byte

	Width       int
	Height      int
	Stride      int // Bytes per row of the first plane
	Format      PixelFormat
	TimestampNs int64
}

// NewFrameBuffer creates a buffer sized for one frame of the given geometry.
func NewFrameBuffer(width, height int, format PixelFormat) *FrameBuffer {
	buf := &FrameBuffer{}
	buf.Resize(width, height, format)
	return buf
}

// Resize updates the geometry, reallocating Data only when it is too small.
func (b *FrameBuffer) Resize(width, height int, format PixelFormat) {
	size := format.FrameSize(width, height)
	if cap(b.Data) < size {
		b.Data = make([]byte, size)
	}
	b.Data = b.Data[:size]
	b.Width = width
	b.Height = height
	b.Format = format
	if bpp := format.BytesPerPixel(); bpp > 0 {
		b.Stride = width * bpp
	} else {
		b.Stride = width
	}
}

// Size returns the number of valid bytes for the current geometry.
func (b *FrameBuffer) Size() int {
	return b.Format.FrameSize(b.Width, b.Height)
}

// Planes splits Data into its planes for the current format.
func (b *FrameBuffer) Planes() [][]byte {
	ySize := b.Width * b.Height
	switch b.Format {
	case PixelFormatI420:
		c := ((b.Width + 1) / 2) * ((b.Height + 1) / 2)
		return [][]byte{b.Data[:ySize], b.Data[ySize : ySize+c], b.Data[ySize+c : ySize+2*c]}
	case PixelFormatNV12:
		return [][]byte{b.Data[:ySize], b.Data[ySize:b.Size()]}
	default:
		return [][]byte{b.Data[:b.Size()]}
	}
}

// Reset clears the buffer metadata for reuse.
func (b *FrameBuffer) Reset() {
	b.TimestampNs = 0
}

// Clone creates a deep copy of the buffer.
// Use this when a frame must outlive the next GetFrame call.
func (b *FrameBuffer) Clone() *FrameBuffer {
	clone := *b
	if b.Data != nil {
		clone.Data = make([]byte, len(b.Data))
		copy(clone.Data, b.Data)
	}
	return &clone
}
