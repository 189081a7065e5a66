package streamdec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNullDecoder(t *testing.T, nc NullBackendConfig, mutate ...func(*Config)) *Decoder {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Backend = NewNullBackend(nc)
	cfg.SyncTimeout = 50 * time.Millisecond
	for _, m := range mutate {
		m(&cfg)
	}
	return NewDecoder(cfg)
}

// streaming returns a decoder that has decoded a header for w x h.
func streaming(t *testing.T, w, h int, nc NullBackendConfig, mutate ...func(*Config)) *Decoder {
	t.Helper()
	d := newNullDecoder(t, nc, mutate...)
	require.NoError(t, d.Initialize())
	require.NoError(t, d.DecodeHeader(testHeader(w, h)))
	require.Equal(t, StateStreaming, d.State())
	return d
}

// getLuma retrieves one frame as NV12 and returns its first luma sample.
func getLuma(t *testing.T, d *Decoder) byte {
	t.Helper()
	out := &FrameBuffer{}
	st, err := d.GetFrame(out, ConvertNV12)
	require.NoError(t, err)
	require.Equal(t, StatusFrame, st)
	return out.Data[0]
}

func TestDecoder_Lifecycle(t *testing.T) {
	d := newNullDecoder(t, NullBackendConfig{CompleteFrames: true})
	assert.Equal(t, StateUninitialized, d.State())
	assert.Equal(t, -1, d.Width())
	assert.Equal(t, -1, d.Height())

	st, err := d.Decode(testKeyframe(640, 480, 1))
	assert.Equal(t, StatusNotInitialized, st)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, d.DecodeHeader(testHeader(640, 480)), ErrNotInitialized)

	require.NoError(t, d.Initialize())
	require.NoError(t, d.Initialize(), "second Initialize is a no-op")
	assert.Equal(t, StateHeaderPending, d.State())
	assert.False(t, d.IsInit())
	assert.Equal(t, -1, d.Width())
	assert.Equal(t, ProviderNull, d.Provider())

	require.NoError(t, d.DecodeHeader(testHeader(1920, 1080)))
	assert.True(t, d.IsInit())
	assert.Equal(t, 1920, d.Width())
	assert.Equal(t, 1080, d.Height())
	assert.Equal(t, 4, d.Pool().Cap())

	require.NoError(t, d.Uninitialize())
	assert.Equal(t, StateUninitialized, d.State())
	assert.Equal(t, -1, d.Width())
	assert.Nil(t, d.Pool())
	require.NoError(t, d.Uninitialize(), "second Uninitialize is a no-op")
}

func TestDecoder_DecodeBeforeHeader(t *testing.T) {
	d := newNullDecoder(t, NullBackendConfig{CompleteFrames: true})
	require.NoError(t, d.Initialize())

	st, err := d.Decode(testKeyframe(1280, 720, 1))
	assert.Equal(t, StatusNeedMoreData, st)
	assert.ErrorIs(t, err, ErrNeedMoreData)
	assert.Nil(t, d.Pool())
	assert.Zero(t, d.Buffered(), "payload is not queued before a header")

	st, err = d.GetFrame(&FrameBuffer{}, ConvertBGR24)
	assert.NoError(t, err)
	assert.Equal(t, StatusNotReady, st)

	st, err = d.DrainFrame(&FrameBuffer{}, ConvertBGR24)
	assert.NoError(t, err)
	assert.Equal(t, StatusNotReady, st)
}

func TestDecoder_DecodeHeader(t *testing.T) {
	t.Run("split across calls", func(t *testing.T) {
		d := newNullDecoder(t, NullBackendConfig{CompleteFrames: true})
		require.NoError(t, d.Initialize())

		hdr := testHeader(1280, 720)
		assert.ErrorIs(t, d.DecodeHeader(hdr[:2]), ErrNeedMoreData)
		assert.Equal(t, StateHeaderPending, d.State())
		require.NoError(t, d.DecodeHeader(hdr[2:]))
		assert.Equal(t, 1280, d.Width())
		assert.Equal(t, 720, d.Height())
	})
	t.Run("pps only", func(t *testing.T) {
		d := newNullDecoder(t, NullBackendConfig{CompleteFrames: true})
		require.NoError(t, d.Initialize())
		assert.ErrorIs(t, d.DecodeHeader(annexB(testPPS)), ErrNeedMoreData)
		assert.False(t, d.IsInit())
	})
	t.Run("malformed", func(t *testing.T) {
		d := newNullDecoder(t, NullBackendConfig{CompleteFrames: true})
		require.NoError(t, d.Initialize())
		err := d.DecodeHeader(annexB([]byte{0x67, 0x42}, testPPS))
		assert.ErrorIs(t, err, ErrHeader)
		assert.Equal(t, StatusHeaderError, StatusOf(err))
		assert.Equal(t, StateHeaderPending, d.State())

		// The bad bytes were dropped, a good header still works.
		require.NoError(t, d.DecodeHeader(testHeader(640, 480)))
		assert.Equal(t, 640, d.Width())
	})
	t.Run("min surfaces", func(t *testing.T) {
		d := streaming(t, 640, 480, NullBackendConfig{Surfaces: 2, CompleteFrames: true},
			func(c *Config) { c.MinSurfaces = 6 })
		assert.Equal(t, 6, d.Pool().Cap())
	})
}

func TestDecoder_FramesInSubmissionOrder(t *testing.T) {
	d := streaming(t, 320, 240, NullBackendConfig{Surfaces: 4, CompleteFrames: true})

	payloads := [][]byte{testKeyframe(320, 240, 1), testDeltaFrame(2), testDeltaFrame(3), testDeltaFrame(4)}
	for _, p := range payloads {
		st, err := d.Decode(p)
		require.NoError(t, err)
		require.Equal(t, StatusOK, st)
	}
	assert.Equal(t, 4, d.Outstanding())

	for want := byte(1); want <= 4; want++ {
		assert.Equal(t, want, getLuma(t, d))
	}

	st, err := d.GetFrame(&FrameBuffer{}, ConvertNV12)
	assert.NoError(t, err)
	assert.Equal(t, StatusNotReady, st)

	stats := d.Stats()
	assert.Equal(t, uint64(4), stats.FramesSubmitted)
	assert.Equal(t, uint64(4), stats.FramesDecoded)
	assert.Zero(t, stats.FramesDropped)
	assert.Equal(t, stats.BytesAppended, stats.BytesConsumed)
}

func TestDecoder_MultiSlicePicture(t *testing.T) {
	d := streaming(t, 320, 240, NullBackendConfig{Surfaces: 4, CompleteFrames: true})

	st, err := d.Decode(annexB(pSlice(1), nextPSlice(1), nextPSlice(1)))
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)
	assert.Equal(t, 1, d.Outstanding(), "slices of one picture are one frame")
	assert.Zero(t, d.Buffered())
	assert.Equal(t, uint64(1), d.Stats().FramesSubmitted)
}

func TestDecoder_PoolExhaustion(t *testing.T) {
	d := streaming(t, 320, 240, NullBackendConfig{Surfaces: 2, CompleteFrames: true})

	for _, p := range [][]byte{testKeyframe(320, 240, 1), testDeltaFrame(2)} {
		st, err := d.Decode(p)
		require.NoError(t, err)
		require.Equal(t, StatusOK, st)
	}
	assert.Zero(t, d.Pool().Free())

	third := testDeltaFrame(3)
	st, err := d.Decode(third)
	assert.Equal(t, StatusPoolExhausted, st)
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.False(t, st.Fatal())
	assert.Zero(t, d.Buffered(), "rejected payload is not buffered")
	assert.Equal(t, uint64(1), d.Stats().PoolExhaustions)

	assert.Equal(t, byte(1), getLuma(t, d))

	st, err = d.Decode(third)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)

	assert.Equal(t, byte(2), getLuma(t, d))
	assert.Equal(t, byte(3), getLuma(t, d))
	assert.Equal(t, 2, d.Pool().Free())
}

func TestDecoder_AsyncLatency(t *testing.T) {
	d := streaming(t, 320, 240, NullBackendConfig{Surfaces: 2, Latency: 2, CompleteFrames: true})

	st, err := d.Decode(testKeyframe(320, 240, 1))
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)

	for i := 0; i < 2; i++ {
		st, err = d.GetFrame(&FrameBuffer{}, ConvertRGB24)
		require.NoError(t, err)
		assert.Equal(t, StatusNotReady, st, "poll %d", i)
	}
	assert.Equal(t, 1, d.Outstanding())
	assert.Equal(t, byte(1), getLuma(t, d))
}

func TestDecoder_DrainFrame(t *testing.T) {
	// Without frame completeness the last slice is only decoded on drain.
	d := streaming(t, 320, 240, NullBackendConfig{Surfaces: 4, Latency: 5})

	st, err := d.Decode(testKeyframe(320, 240, 1))
	require.NoError(t, err)
	assert.Equal(t, StatusNeedMoreData, st)
	assert.Positive(t, d.Buffered())

	st, err = d.Decode(testDeltaFrame(2))
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)
	assert.Equal(t, 1, d.Outstanding())

	for want := byte(1); want <= 2; want++ {
		out := &FrameBuffer{}
		st, err = d.DrainFrame(out, ConvertNV12)
		require.NoError(t, err)
		require.Equal(t, StatusFrame, st)
		assert.Equal(t, want, out.Data[0])
	}
	assert.Zero(t, d.Buffered())

	st, err = d.DrainFrame(&FrameBuffer{}, ConvertNV12)
	require.NoError(t, err)
	assert.Equal(t, StatusNotReady, st)

	// New input after a drain flows normally.
	st, err = d.Decode(testKeyframe(320, 240, 3))
	require.NoError(t, err)
	assert.Equal(t, StatusNeedMoreData, st)
	st, err = d.DrainFrame(&FrameBuffer{}, ConvertNV12)
	require.NoError(t, err)
	assert.Equal(t, StatusFrame, st)
}

func TestDecoder_ParamsChangeViaHeader(t *testing.T) {
	d := streaming(t, 1920, 1080, NullBackendConfig{Surfaces: 2, CompleteFrames: true})

	st, err := d.Decode(testKeyframe(1920, 1080, 1))
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)
	oldPool := d.Pool()

	require.NoError(t, d.DecodeHeader(testHeader(1280, 720)))
	assert.Equal(t, 1280, d.Width())
	assert.Equal(t, 720, d.Height())
	assert.NotSame(t, oldPool, d.Pool())
	assert.Equal(t, uint64(1), d.Stats().PoolRebuilds)

	// The frame decoded before the change keeps its geometry.
	out := &FrameBuffer{}
	st, err = d.GetFrame(out, ConvertBGR24)
	require.NoError(t, err)
	require.Equal(t, StatusFrame, st)
	assert.Equal(t, 1920, out.Width)
	assert.Equal(t, 1080, out.Height)
	assert.Equal(t, 2, oldPool.Free())

	// Same geometry again is not a change.
	require.NoError(t, d.DecodeHeader(testHeader(1280, 720)))
	assert.Equal(t, uint64(1), d.Stats().PoolRebuilds)
}

func TestDecoder_ParamsChangeInBand(t *testing.T) {
	d := streaming(t, 1920, 1080, NullBackendConfig{Surfaces: 3, CompleteFrames: true})

	st, err := d.Decode(testKeyframe(1920, 1080, 1))
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)

	st, err = d.Decode(testKeyframe(1280, 720, 2))
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)
	assert.Equal(t, 1280, d.Width())
	assert.Equal(t, 720, d.Height())
	assert.Equal(t, 2, d.Outstanding())

	sizes := [][2]int{{1920, 1080}, {1280, 720}}
	for _, want := range sizes {
		out := &FrameBuffer{}
		st, err = d.GetFrame(out, ConvertRGB24)
		require.NoError(t, err)
		require.Equal(t, StatusFrame, st)
		assert.Equal(t, want, [2]int{out.Width, out.Height})
	}
}

func TestDecoder_ReinitializeMatchesFreshSession(t *testing.T) {
	run := func(d *Decoder) []Status {
		var got []Status
		require.NoError(t, d.Initialize())
		require.NoError(t, d.DecodeHeader(testHeader(640, 480)))
		for _, p := range [][]byte{testKeyframe(640, 480, 1), testDeltaFrame(2), testDeltaFrame(3)} {
			st, _ := d.Decode(p)
			got = append(got, st)
		}
		for i := 0; i < 3; i++ {
			st, _ := d.GetFrame(&FrameBuffer{}, ConvertBGR24)
			got = append(got, st)
		}
		return got
	}

	d := newNullDecoder(t, NullBackendConfig{Surfaces: 2, CompleteFrames: true})
	first := run(d)
	assert.Equal(t, []Status{StatusOK, StatusOK, StatusPoolExhausted, StatusFrame, StatusFrame, StatusNotReady}, first)

	// Tear down with a frame still queued.
	_, err := d.Decode(testDeltaFrame(4))
	require.NoError(t, err)
	require.NoError(t, d.Uninitialize())
	assert.Zero(t, d.Outstanding())
	assert.Equal(t, uint64(3), d.Stats().FramesSubmitted, "stats are kept until the next Initialize")

	assert.Equal(t, first, run(d))
	assert.Equal(t, 640, d.Width())
}

func TestDecoder_Overflow(t *testing.T) {
	d := streaming(t, 320, 240, NullBackendConfig{CompleteFrames: true},
		func(c *Config) { c.MaxBitstreamBytes = 64 })

	st, err := d.Decode(make([]byte, 65))
	assert.Equal(t, StatusOverflow, st)
	assert.ErrorIs(t, err, ErrBitstreamOverflow)
	assert.True(t, st.Fatal())
}

func TestDecoder_BufferTooSmall(t *testing.T) {
	d := streaming(t, 320, 240, NullBackendConfig{CompleteFrames: true})
	_, err := d.Decode(testKeyframe(320, 240, 1))
	require.NoError(t, err)

	st, err := d.GetFrame(&FrameBuffer{Data: make([]byte, 10)}, ConvertBGR24)
	assert.Equal(t, StatusBufferTooSmall, st)
	assert.ErrorIs(t, err, ErrBufferTooSmall)
	assert.Equal(t, 1, d.Outstanding(), "frame stays queued")

	assert.Equal(t, byte(1), getLuma(t, d))
}

func TestDecoder_ScaledOutput(t *testing.T) {
	d := streaming(t, 1280, 720, NullBackendConfig{CompleteFrames: true},
		func(c *Config) { c.ScaleMode = ScaleModeFit })
	_, err := d.Decode(testKeyframe(1280, 720, 1))
	require.NoError(t, err)

	out := NewFrameBuffer(640, 480, PixelFormatBGR24)
	st, err := d.GetFrame(out, ConvertBGR24)
	require.NoError(t, err)
	require.Equal(t, StatusFrame, st)
	assert.Equal(t, 640, out.Width)
	assert.Equal(t, 480, out.Height)
	assert.Equal(t, []byte{0, 0, 0}, out.Data[:3], "letterbox is black")
}

func TestDecoder_DecodeGet(t *testing.T) {
	t.Run("before header", func(t *testing.T) {
		d := newNullDecoder(t, NullBackendConfig{CompleteFrames: true})
		require.NoError(t, d.Initialize())
		st, err := d.DecodeGet(testKeyframe(320, 240, 1), &FrameBuffer{}, ConvertBGR24)
		assert.Equal(t, StatusNeedMoreData, st)
		assert.ErrorIs(t, err, ErrNeedMoreData)
	})
	t.Run("frame ready", func(t *testing.T) {
		d := streaming(t, 320, 240, NullBackendConfig{CompleteFrames: true})
		out := &FrameBuffer{}
		st, err := d.DecodeGet(testKeyframe(320, 240, 1), out, ConvertNV12)
		require.NoError(t, err)
		assert.Equal(t, StatusFrame, st)
		assert.Equal(t, byte(1), out.Data[0])
	})

	tests := []struct {
		name    string
		policy  DecodeGetPolicy
		wantSt  Status
		wantErr error
		queued  int
	}{
		{"return policy", DecodeGetReturn, StatusPoolExhausted, ErrPoolExhausted, 1},
		{"retry policy", DecodeGetRetry, StatusFrame, nil, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := streaming(t, 320, 240, NullBackendConfig{Surfaces: 1, Latency: 1, CompleteFrames: true},
				func(c *Config) { c.DecodeGetPolicy = tt.policy })

			st, err := d.DecodeGet(testKeyframe(320, 240, 1), &FrameBuffer{}, ConvertNV12)
			require.NoError(t, err)
			require.Equal(t, StatusNotReady, st)

			out := &FrameBuffer{}
			st, err = d.DecodeGet(testDeltaFrame(2), out, ConvertNV12)
			assert.Equal(t, tt.wantSt, st)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, byte(1), out.Data[0])
			}
			assert.Equal(t, tt.queued, d.Outstanding())
		})
	}
}

func TestDecoder_UninitializeWithOutstanding(t *testing.T) {
	d := streaming(t, 320, 240, NullBackendConfig{Surfaces: 3, Latency: 10, CompleteFrames: true})
	for _, p := range [][]byte{testKeyframe(320, 240, 1), testDeltaFrame(2)} {
		_, err := d.Decode(p)
		require.NoError(t, err)
	}
	pool := d.Pool()

	require.NoError(t, d.Uninitialize())
	assert.Equal(t, uint64(2), d.Stats().FramesDropped)
	assert.Equal(t, 3, pool.Free(), "every surface is released")
}

func TestParseDecodeGetPolicy(t *testing.T) {
	for _, p := range []DecodeGetPolicy{DecodeGetReturn, DecodeGetRetry} {
		got, ok := ParseDecodeGetPolicy(p.String())
		assert.True(t, ok)
		assert.Equal(t, p, got)
	}
	_, ok := ParseDecodeGetPolicy("block")
	assert.False(t, ok)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "header-pending", StateHeaderPending.String())
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "unknown", State(9).String())
}
