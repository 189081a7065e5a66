package streamdec

import (
	"testing"
)

func TestPixelFormat_String(t *testing.T) {
	tests := []struct {
		format PixelFormat
		want   string
	}{
		{PixelFormatI420, "I420"},
		{PixelFormatNV12, "NV12"},
		{PixelFormatRGB24, "RGB24"},
		{PixelFormatBGR24, "BGR24"},
		{PixelFormatRGBA32, "RGBA32"},
		{PixelFormatBGRA32, "BGRA32"},
		{PixelFormat(99), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.format.String(); got != tt.want {
				t.Errorf("PixelFormat.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPixelFormat_PlaneCount(t *testing.T) {
	tests := []struct {
		format PixelFormat
		want   int
	}{
		{PixelFormatI420, 3},
		{PixelFormatNV12, 2},
		{PixelFormatRGB24, 1},
		{PixelFormatBGR24, 1},
		{PixelFormatRGBA32, 1},
		{PixelFormatBGRA32, 1},
		{PixelFormat(99), 0},
	}

	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			if got := tt.format.PlaneCount(); got != tt.want {
				t.Errorf("PixelFormat.PlaneCount() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPixelFormat_FrameSize(t *testing.T) {
	tests := []struct {
		format PixelFormat
		w, h   int
		want   int
	}{
		{PixelFormatI420, 640, 480, 640*480 + 2*320*240},
		{PixelFormatNV12, 640, 480, 640*480 + 320*240*2},
		{PixelFormatI420, 5, 3, 15 + 2*3*2},
		{PixelFormatNV12, 5, 3, 15 + 3*2*2},
		{PixelFormatRGB24, 4, 2, 24},
		{PixelFormatBGR24, 4, 2, 24},
		{PixelFormatRGBA32, 4, 2, 32},
		{PixelFormatBGRA32, 4, 2, 32},
	}

	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			if got := tt.format.FrameSize(tt.w, tt.h); got != tt.want {
				t.Errorf("FrameSize(%d, %d) = %d, want %d", tt.w, tt.h, got, tt.want)
			}
		})
	}
}

func TestConvertOption_Format(t *testing.T) {
	tests := []struct {
		opt  ConvertOption
		want PixelFormat
	}{
		{ConvertNV12, PixelFormatNV12},
		{ConvertRGB24, PixelFormatRGB24},
		{ConvertBGR24, PixelFormatBGR24},
		{ConvertRGBA32, PixelFormatRGBA32},
		{ConvertBGRA32, PixelFormatBGRA32},
		{ConvertI420, PixelFormatI420},
	}

	for _, tt := range tests {
		t.Run(tt.opt.String(), func(t *testing.T) {
			got, ok := tt.opt.Format()
			if !ok || got != tt.want {
				t.Errorf("Format() = %v, %v, want %v", got, ok, tt.want)
			}
		})
	}

	if _, ok := ConvertOption(42).Format(); ok {
		t.Error("unknown option accepted")
	}
	if got := ConvertOption(42).String(); got != "Unknown" {
		t.Errorf("String() = %q", got)
	}
}

func TestFrameBuffer_Resize(t *testing.T) {
	buf := NewFrameBuffer(640, 480, PixelFormatBGR24)
	if buf.Stride != 640*3 {
		t.Errorf("Stride = %d, want %d", buf.Stride, 640*3)
	}
	if len(buf.Data) != 640*480*3 {
		t.Errorf("len(Data) = %d", len(buf.Data))
	}

	data := &buf.Data[0]
	buf.Resize(320, 240, PixelFormatRGBA32)
	if &buf.Data[0] != data {
		t.Error("shrinking must reuse the backing array")
	}
	if buf.Stride != 320*4 || buf.Size() != 320*240*4 {
		t.Errorf("Stride = %d Size = %d", buf.Stride, buf.Size())
	}

	buf.Resize(1920, 1080, PixelFormatNV12)
	if buf.Stride != 1920 || len(buf.Data) != PixelFormatNV12.FrameSize(1920, 1080) {
		t.Errorf("grow: Stride = %d len = %d", buf.Stride, len(buf.Data))
	}
}

func TestFrameBuffer_Planes(t *testing.T) {
	buf := NewFrameBuffer(4, 2, PixelFormatI420)
	planes := buf.Planes()
	if len(planes) != 3 {
		t.Fatalf("I420 planes = %d", len(planes))
	}
	if len(planes[0]) != 8 || len(planes[1]) != 2 || len(planes[2]) != 2 {
		t.Errorf("I420 plane sizes = %d %d %d", len(planes[0]), len(planes[1]), len(planes[2]))
	}

	buf.Resize(4, 2, PixelFormatNV12)
	planes = buf.Planes()
	if len(planes) != 2 || len(planes[0]) != 8 || len(planes[1]) != 4 {
		t.Errorf("NV12 planes = %v", planes)
	}

	buf.Resize(4, 2, PixelFormatRGB24)
	if planes = buf.Planes(); len(planes) != 1 || len(planes[0]) != 24 {
		t.Errorf("RGB24 planes = %v", planes)
	}
}

func TestFrameBuffer_Clone(t *testing.T) {
	buf := NewFrameBuffer(2, 2, PixelFormatRGB24)
	buf.Data[0] = 7
	buf.TimestampNs = 99

	clone := buf.Clone()
	buf.Data[0] = 1
	if clone.Data[0] != 7 || clone.TimestampNs != 99 {
		t.Errorf("clone shares data or lost metadata: %v %d", clone.Data[0], clone.TimestampNs)
	}

	buf.Reset()
	if buf.TimestampNs != 0 {
		t.Error("Reset did not clear the timestamp")
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		err   error
		want  Status
		fatal bool
	}{
		{nil, StatusOK, false},
		{ErrNeedMoreData, StatusNeedMoreData, false},
		{ErrPoolExhausted, StatusPoolExhausted, false},
		{ErrHeader, StatusHeaderError, true},
		{ErrCodec, StatusCodecError, true},
		{ErrSession, StatusSessionError, true},
		{ErrInvalidHandle, StatusInvalidHandle, true},
		{ErrBitstreamOverflow, StatusOverflow, true},
		{ErrNotInitialized, StatusNotInitialized, true},
		{ErrBufferTooSmall, StatusBufferTooSmall, false},
		{ErrMoreSurface, StatusCodecError, true},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			got := StatusOf(tt.err)
			if got != tt.want {
				t.Errorf("StatusOf(%v) = %v, want %v", tt.err, got, tt.want)
			}
			if got.Fatal() != tt.fatal {
				t.Errorf("%v.Fatal() = %v", got, got.Fatal())
			}
		})
	}
}

func TestParseConvertOption(t *testing.T) {
	tests := []struct {
		in   string
		want ConvertOption
		ok   bool
	}{
		{"bgr24", ConvertBGR24, true},
		{"RGBA32", ConvertRGBA32, true},
		{" i420 ", ConvertI420, true},
		{"2", ConvertBGR24, true},
		{"0", ConvertNV12, true},
		{"9", ConvertOption(9), false},
		{"yuyv", ConvertNV12, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseConvertOption(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseConvertOption(%q) = %v, %v, want %v, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}
