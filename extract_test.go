package streamdec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// solidSurface returns a w x h surface with constant luma and chroma.
func solidSurface(w, h int, y, cb, cr byte) *Surface {
	s := NewSurfacePool(1, StreamParams{Width: w, Height: h, CodedWidth: w, CodedHeight: h}).Surface(0)
	for i := range s.Y {
		s.Y[i] = y
	}
	for i := 0; i+1 < len(s.UV); i += 2 {
		s.UV[i], s.UV[i+1] = cb, cr
	}
	s.TimestampNs = 42
	return s
}

func TestExtractor_Layouts(t *testing.T) {
	s := solidSurface(4, 2, 235, 128, 128)

	tests := []struct {
		name string
		opt  ConvertOption
		want []byte
	}{
		{"nv12", ConvertNV12, append(bytes.Repeat([]byte{235}, 8), 128, 128, 128, 128)},
		{"i420", ConvertI420, append(bytes.Repeat([]byte{235}, 8), 128, 128, 128, 128)},
		{"rgb24", ConvertRGB24, bytes.Repeat([]byte{255}, 8*3)},
		{"bgra32", ConvertBGRA32, bytes.Repeat([]byte{255}, 8*4)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &FrameBuffer{}
			require.NoError(t, NewExtractor(YCbCr601, ScaleModeStretch).Extract(s, out, tt.opt))

			format, _ := tt.opt.Format()
			assert.Equal(t, format, out.Format)
			assert.Equal(t, 4, out.Width)
			assert.Equal(t, 2, out.Height)
			assert.Equal(t, tt.want, out.Data)
			assert.Equal(t, int64(42), out.TimestampNs)
		})
	}
}

func TestExtractor_I420Planes(t *testing.T) {
	s := solidSurface(4, 2, 100, 50, 200)
	out := &FrameBuffer{}
	require.NoError(t, NewExtractor(YCbCr601, ScaleModeStretch).Extract(s, out, ConvertI420))

	planes := out.Planes()
	assert.Equal(t, []byte{50, 50}, planes[1])
	assert.Equal(t, []byte{200, 200}, planes[2])
}

func TestExtractor_ScalesToBufferSize(t *testing.T) {
	s := solidSurface(64, 32, 16, 128, 128)
	out := NewFrameBuffer(16, 8, PixelFormatBGR24)

	ex := NewExtractor(YCbCr601, ScaleModeStretch)
	require.NoError(t, ex.Extract(s, out, ConvertBGR24))
	assert.Equal(t, 16, out.Width)
	assert.Equal(t, 8, out.Height)
	assert.Equal(t, make([]byte, 16*8*3), out.Data)

	scaler := ex.scaler
	require.NoError(t, ex.Extract(s, out, ConvertBGR24))
	assert.Same(t, scaler, ex.scaler, "scaler is reused for the same geometry")
}

func TestExtractor_ReusesBuffer(t *testing.T) {
	s := solidSurface(4, 2, 16, 128, 128)
	out := &FrameBuffer{Data: make([]byte, 0, 1024)}
	backing := &out.Data[:1][0]

	require.NoError(t, NewExtractor(YCbCr601, ScaleModeStretch).Extract(s, out, ConvertRGB24))
	assert.Len(t, out.Data, 24)
	assert.Same(t, backing, &out.Data[0])
}

func TestExtractor_Errors(t *testing.T) {
	s := solidSurface(4, 2, 16, 128, 128)
	ex := NewExtractor(YCbCr601, ScaleModeStretch)

	small := &FrameBuffer{Data: make([]byte, 3)}
	assert.ErrorIs(t, ex.Extract(s, small, ConvertRGB24), ErrBufferTooSmall)
	assert.Len(t, small.Data, 3, "rejected buffer is left untouched")
	assert.Zero(t, small.Width)

	assert.ErrorIs(t, ex.Extract(s, nil, ConvertRGB24), ErrBufferTooSmall)
	assert.ErrorIs(t, ex.Extract(nil, &FrameBuffer{}, ConvertRGB24), ErrCodec)
	assert.ErrorIs(t, ex.Extract(s, &FrameBuffer{}, ConvertOption(99)), ErrNotSupported)
}
