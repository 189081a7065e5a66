//go:build (darwin || linux) && !noh264

package streamdec

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"
	"unsafe"
)

var (
	mediaH264Once    sync.Once
	mediaH264Handle  uintptr
	mediaH264InitErr error
)

// libmedia_h264 function pointers
var (
	mediaH264DecoderCreate    func(threads int32) uint64
	mediaH264DecoderDecode    func(decoder uint64, data uintptr, dataLen int32, outY, outU, outV, outYStride, outUVStride, outWidth, outHeight uintptr) int32
	mediaH264DecoderReset     func(decoder uint64) int32
	mediaH264DecoderDestroy   func(decoder uint64)
	mediaH264GetError         func() uintptr
	mediaH264DecoderAvailable func() int32
)

// mediaH264DecodeResult is a heap-allocated struct for decoder output parameters.
// This struct must be heap-allocated for purego to work correctly on arm64.
// Using local stack variables for output parameters can fail due to GC moving
// the stack during the C call.
type mediaH264DecodeResult struct {
	YPtr     uintptr // Pointer to Y plane
	UPtr     uintptr // Pointer to U plane
	VPtr     uintptr // Pointer to V plane
	YStride  int32   // Y plane stride
	UVStride int32   // UV plane stride
	Width    int32   // Frame width
	Height   int32   // Frame height
}

func loadMediaH264() error {
	mediaH264Once.Do(func() {
		mediaH264Handle, mediaH264InitErr = dlopenFirst("libmedia_h264",
			nativeLibPaths("libmedia_h264", "MEDIA_H264_LIB_PATH"),
			func(handle uintptr) error {
				return registerFuncs(handle, map[string]any{
					"media_h264_decoder_create":    &mediaH264DecoderCreate,
					"media_h264_decoder_decode":    &mediaH264DecoderDecode,
					"media_h264_decoder_reset":     &mediaH264DecoderReset,
					"media_h264_decoder_destroy":   &mediaH264DecoderDestroy,
					"media_h264_get_error":         &mediaH264GetError,
					"media_h264_decoder_available": &mediaH264DecoderAvailable,
				})
			})
	})
	return mediaH264InitErr
}

func getH264Error() string {
	ptr := mediaH264GetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

// OpenH264Backend decodes in software through libmedia_h264. The library
// decodes synchronously, so every sync token is complete when DecodeAsync
// returns; decoded I420 pictures are repacked into the NV12 work surface.
type OpenH264Backend struct {
	cfg BackendConfig

	handle  uint64
	params  StreamParams
	pool    *SurfacePool
	seq     uint64
	pending map[SyncToken]*Surface

	// Persistent output struct for the purego out-parameters
	result *mediaH264DecodeResult
}

// NewOpenH264Backend creates a software backend. The native library is
// loaded on first use.
func NewOpenH264Backend(cfg BackendConfig) (*OpenH264Backend, error) {
	if err := loadMediaH264(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSession, err)
	}
	if mediaH264DecoderAvailable() == 0 {
		return nil, fmt.Errorf("%w: H.264 decoder not compiled into libmedia_h264", ErrSession)
	}
	return &OpenH264Backend{
		cfg:    cfg,
		result: &mediaH264DecodeResult{},
	}, nil
}

// Provider implements Backend.
func (b *OpenH264Backend) Provider() Provider { return ProviderOpenH264 }

// Open implements Backend.
func (b *OpenH264Backend) Open() error {
	if b.handle != 0 {
		return nil
	}
	threads := int32(4)
	if b.cfg.Threads > 0 {
		threads = int32(b.cfg.Threads)
	}
	b.handle = mediaH264DecoderCreate(threads)
	if b.handle == 0 {
		return fmt.Errorf("%w: create decoder: %s", ErrSession, getH264Error())
	}
	b.pending = make(map[SyncToken]*Surface)
	return nil
}

// DecodeHeader implements Backend.
func (b *OpenH264Backend) DecodeHeader(bs *Bitstream) (StreamParams, error) {
	params, _, err := ParseStreamParams(bs.Bytes())
	return params, err
}

// SurfaceCount implements Backend. Output is ready immediately, so the pool
// only has to cover frames the caller has not retrieved yet.
func (b *OpenH264Backend) SurfaceCount(StreamParams) int {
	if b.cfg.AsyncDepth > 0 {
		return b.cfg.AsyncDepth + 1
	}
	return 2
}

// Init implements Backend.
func (b *OpenH264Backend) Init(params StreamParams, pool *SurfacePool) error {
	if b.handle == 0 {
		return fmt.Errorf("%w: session not open", ErrCodec)
	}
	b.params = params
	b.pool = pool
	return nil
}

// DecodeAsync implements Backend.
func (b *OpenH264Backend) DecodeAsync(bs *Bitstream, work *Surface) (*Surface, SyncToken, error) {
	if b.handle == 0 || b.pool == nil {
		return nil, 0, fmt.Errorf("%w: decode before init", ErrCodec)
	}
	if bs == nil {
		// The library keeps no reordered pictures back.
		return nil, 0, ErrNeedMoreData
	}
	if err := InBandParamsChange(bs, b.params, b.cfg.CompleteFrames); err != nil {
		return nil, 0, err
	}
	n, ok := NextAccessUnit(bs.Bytes(), b.cfg.CompleteFrames)
	if !ok {
		return nil, 0, ErrNeedMoreData
	}

	au := bs.Bytes()[:n]
	out := b.result
	rc := mediaH264DecoderDecode(
		b.handle,
		uintptr(unsafe.Pointer(&au[0])),
		int32(len(au)),
		uintptr(unsafe.Pointer(&out.YPtr)),
		uintptr(unsafe.Pointer(&out.UPtr)),
		uintptr(unsafe.Pointer(&out.VPtr)),
		uintptr(unsafe.Pointer(&out.YStride)),
		uintptr(unsafe.Pointer(&out.UVStride)),
		uintptr(unsafe.Pointer(&out.Width)),
		uintptr(unsafe.Pointer(&out.Height)),
	)
	// Keep the struct and input alive during and after the C call
	runtime.KeepAlive(au)
	runtime.KeepAlive(out)
	bs.Consume(n)

	if rc < 0 {
		return nil, 0, fmt.Errorf("%w: decode: %s", ErrCodec, getH264Error())
	}
	if rc == 0 {
		// Buffered inside the decoder; input was consumed.
		return nil, 0, ErrNeedMoreData
	}

	// Validate output dimensions, strides, and plane pointers
	if out.YStride <= 0 || out.UVStride <= 0 || out.YPtr == 0 || out.UPtr == 0 || out.VPtr == 0 {
		return nil, 0, fmt.Errorf("%w: invalid decoder output: stride=%d/%d", ErrCodec, out.YStride, out.UVStride)
	}
	w, h := int(out.Width), int(out.Height)
	if w != work.Width || h != work.Height {
		return nil, 0, fmt.Errorf("%w: picture %dx%d does not match surface %dx%d",
			ErrCodec, w, h, work.Width, work.Height)
	}

	b.copyToSurface(work, w, h)
	b.seq++
	work.TimestampNs = time.Now().UnixNano()
	work.Lock()
	token := SyncToken(b.seq)
	b.pending[token] = work
	return work, token, nil
}

// copyToSurface repacks the decoder's I420 planes into NV12.
func (b *OpenH264Backend) copyToSurface(s *Surface, w, h int) {
	out := b.result
	for row := 0; row < h; row++ {
		src := unsafe.Slice((*byte)(unsafe.Pointer(out.YPtr+uintptr(row*int(out.YStride)))), w)
		copy(s.Y[row*s.Pitch:row*s.Pitch+w], src)
	}

	uvW, uvH := (w+1)/2, (h+1)/2
	for row := 0; row < uvH; row++ {
		u := unsafe.Slice((*byte)(unsafe.Pointer(out.UPtr+uintptr(row*int(out.UVStride)))), uvW)
		v := unsafe.Slice((*byte)(unsafe.Pointer(out.VPtr+uintptr(row*int(out.UVStride)))), uvW)
		dst := s.UV[row*s.Pitch:]
		for col := 0; col < uvW; col++ {
			dst[2*col] = u[col]
			dst[2*col+1] = v[col]
		}
	}
}

// Sync implements Backend. Decodes are complete on submit.
func (b *OpenH264Backend) Sync(token SyncToken, _ time.Duration) error {
	s, ok := b.pending[token]
	if !ok {
		return fmt.Errorf("%w: unknown sync token %d", ErrCodec, token)
	}
	s.Unlock()
	delete(b.pending, token)
	return nil
}

// Close implements Backend.
func (b *OpenH264Backend) Close() error {
	for token, s := range b.pending {
		s.Unlock()
		delete(b.pending, token)
	}
	if b.handle != 0 {
		mediaH264DecoderDestroy(b.handle)
		b.handle = 0
	}
	b.pool = nil
	b.params = StreamParams{}
	return nil
}

// Reset drops decoder state, e.g. after a stream discontinuity.
func (b *OpenH264Backend) Reset() error {
	if b.handle == 0 {
		return errors.New("decoder not open")
	}
	if mediaH264DecoderReset(b.handle) != 0 {
		return fmt.Errorf("%w: reset: %s", ErrCodec, getH264Error())
	}
	return nil
}

// Register the OpenH264 software backend
func init() {
	if err := loadMediaH264(); err == nil && mediaH264DecoderAvailable() != 0 {
		setProviderAvailable(ProviderOpenH264)
		registerBackend(ProviderOpenH264, func(config BackendConfig) (Backend, error) {
			return NewOpenH264Backend(config)
		})
	}
}
