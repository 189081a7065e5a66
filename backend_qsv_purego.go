//go:build linux && !noqsv

package streamdec

import (
	"fmt"
	"runtime"
	"sync"
	"time"
	"unsafe"
)

var (
	mediaQSVOnce    sync.Once
	mediaQSVHandle  uintptr
	mediaQSVInitErr error
)

// libmedia_qsv function pointers
var (
	mediaQSVAvailable       func() int32
	mediaQSVSessionCreate   func() uint64
	mediaQSVSessionClose    func(session uint64)
	mediaQSVDecodeHeader    func(session uint64, data uintptr, dataLen int32, params uintptr) int32
	mediaQSVRegisterSurface func(session uint64, index int32, y, uv uintptr, pitch, width, height int32) int32
	mediaQSVDecodeInit      func(session uint64, params uintptr) int32
	mediaQSVDecodeAsync     func(session uint64, data uintptr, dataLen int32, complete int32, work int32, result uintptr) int32
	mediaQSVSurfaceLocked   func(session uint64, index int32) int32
	mediaQSVSync            func(session uint64, syncp uint64, waitMs uint32) int32
	mediaQSVDecodeClose     func(session uint64) int32
	mediaQSVGetError        func() uintptr
)

// Status codes from media_qsv.h (mirroring the Media SDK)
const (
	qsvErrNone               = 0
	qsvErrUnsupported        = -3
	qsvErrNotInitialized     = -8
	qsvErrMoreData           = -10
	qsvErrMoreSurface        = -11
	qsvErrIncompatibleParams = -14
	qsvErrDeviceFailed       = -17
	qsvWrnInExecution        = 1
	qsvWrnDeviceBusy         = 2
	qsvWrnVideoParamChanged  = 3
	qsvDeviceBusyRetries     = 100
	qsvDeviceBusySleep       = time.Millisecond
	qsvDefaultAsyncDepth     = 4
	qsvMaxWaitMs             = 300000
)

// qsvParams is the media_qsv_params struct. Heap-allocated for purego.
type qsvParams struct {
	Width       int32 // Coded width (macroblock aligned)
	Height      int32 // Coded height
	CropW       int32 // Display width
	CropH       int32 // Display height
	ProfileIDC  int32
	Level       int32
	NumSurfaces int32 // Suggested pool size
	AsyncDepth  int32
}

// qsvDecodeResult is the media_qsv_decode_result struct. Heap-allocated for purego.
type qsvDecodeResult struct {
	Consumed int32  // Bytes taken from the input
	OutIndex int32  // Output surface index, -1 when none
	Sync     uint64 // Sync point, 0 when none
}

func loadMediaQSV() error {
	mediaQSVOnce.Do(func() {
		mediaQSVHandle, mediaQSVInitErr = dlopenFirst("libmedia_qsv",
			nativeLibPaths("libmedia_qsv", "MEDIA_QSV_LIB_PATH"),
			func(handle uintptr) error {
				return registerFuncs(handle, map[string]any{
					"media_qsv_available":        &mediaQSVAvailable,
					"media_qsv_session_create":   &mediaQSVSessionCreate,
					"media_qsv_session_close":    &mediaQSVSessionClose,
					"media_qsv_decode_header":    &mediaQSVDecodeHeader,
					"media_qsv_register_surface": &mediaQSVRegisterSurface,
					"media_qsv_decode_init":      &mediaQSVDecodeInit,
					"media_qsv_decode_async":     &mediaQSVDecodeAsync,
					"media_qsv_surface_locked":   &mediaQSVSurfaceLocked,
					"media_qsv_sync":             &mediaQSVSync,
					"media_qsv_decode_close":     &mediaQSVDecodeClose,
					"media_qsv_get_error":        &mediaQSVGetError,
				})
			})
	})
	return mediaQSVInitErr
}

func getQSVError() string {
	ptr := mediaQSVGetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

// qsvStatusError wraps a failing SDK status in the matching sentinel.
func qsvStatusError(op string, st int32) error {
	switch st {
	case qsvErrMoreData:
		return ErrNeedMoreData
	case qsvErrMoreSurface:
		return ErrMoreSurface
	case qsvErrIncompatibleParams:
		return ErrParamsChanged
	case qsvWrnInExecution:
		return ErrNotReady
	case qsvErrUnsupported:
		return fmt.Errorf("%w: %s: %s", ErrNotSupported, op, getQSVError())
	case qsvErrDeviceFailed, qsvErrNotInitialized:
		return fmt.Errorf("%w: %s: status %d: %s", ErrSession, op, st, getQSVError())
	default:
		return fmt.Errorf("%w: %s: status %d: %s", ErrCodec, op, st, getQSVError())
	}
}

// QSVBackend decodes on Intel Quick Sync hardware through libmedia_qsv.
// Surfaces are Go memory registered with the SDK; they stay pinned while
// the decode session is initialized.
type QSVBackend struct {
	cfg BackendConfig

	session uint64
	pool    *SurfacePool
	pinner  runtime.Pinner
	inited  bool

	params *qsvParams
	result *qsvDecodeResult
}

// NewQSVBackend creates a hardware backend. The native library is loaded on
// first use.
func NewQSVBackend(cfg BackendConfig) (*QSVBackend, error) {
	if err := loadMediaQSV(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSession, err)
	}
	if mediaQSVAvailable() == 0 {
		return nil, fmt.Errorf("%w: no Quick Sync capable device", ErrSession)
	}
	return &QSVBackend{
		cfg:    cfg,
		params: &qsvParams{},
		result: &qsvDecodeResult{},
	}, nil
}

// Provider implements Backend.
func (b *QSVBackend) Provider() Provider { return ProviderQSV }

// Open implements Backend.
func (b *QSVBackend) Open() error {
	if b.session != 0 {
		return nil
	}
	b.session = mediaQSVSessionCreate()
	if b.session == 0 {
		return fmt.Errorf("%w: create session: %s", ErrSession, getQSVError())
	}
	return nil
}

// DecodeHeader implements Backend. The SDK parses the header without
// consuming it.
func (b *QSVBackend) DecodeHeader(bs *Bitstream) (StreamParams, error) {
	if b.session == 0 {
		return StreamParams{}, fmt.Errorf("%w: session not open", ErrCodec)
	}
	data := bs.Bytes()
	if len(data) == 0 {
		return StreamParams{}, ErrNeedMoreData
	}
	*b.params = qsvParams{}
	st := mediaQSVDecodeHeader(b.session, uintptr(unsafe.Pointer(&data[0])), int32(len(data)),
		uintptr(unsafe.Pointer(b.params)))
	runtime.KeepAlive(data)
	runtime.KeepAlive(b.params)

	switch {
	case st == qsvErrMoreData:
		return StreamParams{}, ErrNeedMoreData
	case st < 0:
		return StreamParams{}, fmt.Errorf("%w: %v", ErrHeader, qsvStatusError("decode header", st))
	}

	p := b.params
	params := StreamParams{
		Width:       int(p.CropW),
		Height:      int(p.CropH),
		CodedWidth:  int(p.Width),
		CodedHeight: int(p.Height),
		Format:      PixelFormatNV12,
		ProfileIDC:  int(p.ProfileIDC),
		Profile:     H264ProfileFromIDC(int(p.ProfileIDC)),
		Level:       int(p.Level),
	}
	if !params.Valid() {
		return StreamParams{}, fmt.Errorf("%w: empty picture %dx%d", ErrHeader, params.Width, params.Height)
	}
	return params, nil
}

// SurfaceCount implements Backend. It is the SDK's suggestion from the last
// decoded header plus the configured async depth.
func (b *QSVBackend) SurfaceCount(StreamParams) int {
	depth := b.cfg.AsyncDepth
	if depth <= 0 {
		depth = qsvDefaultAsyncDepth
	}
	n := int(b.params.NumSurfaces)
	if n <= 0 {
		n = 1
	}
	return n + depth
}

// Init implements Backend.
func (b *QSVBackend) Init(params StreamParams, pool *SurfacePool) error {
	if b.session == 0 {
		return fmt.Errorf("%w: session not open", ErrCodec)
	}
	b.releaseSurfaces()

	for _, s := range pool.Surfaces() {
		b.pinner.Pin(&s.Y[0])
		b.pinner.Pin(&s.UV[0])
		st := mediaQSVRegisterSurface(b.session, int32(s.Index),
			uintptr(unsafe.Pointer(&s.Y[0])), uintptr(unsafe.Pointer(&s.UV[0])),
			int32(s.Pitch), int32(params.CodedWidth), int32(params.CodedHeight))
		if st != qsvErrNone {
			b.pinner.Unpin()
			return qsvStatusError("register surface", st)
		}
	}

	b.params.Width = int32(params.CodedWidth)
	b.params.Height = int32(params.CodedHeight)
	b.params.CropW = int32(params.Width)
	b.params.CropH = int32(params.Height)
	b.params.AsyncDepth = int32(pool.Cap())
	st := mediaQSVDecodeInit(b.session, uintptr(unsafe.Pointer(b.params)))
	runtime.KeepAlive(b.params)
	if st < 0 {
		b.pinner.Unpin()
		return qsvStatusError("decode init", st)
	}
	b.pool = pool
	b.inited = true
	return nil
}

// DecodeAsync implements Backend.
func (b *QSVBackend) DecodeAsync(bs *Bitstream, work *Surface) (*Surface, SyncToken, error) {
	if !b.inited {
		return nil, 0, fmt.Errorf("%w: decode before init", ErrCodec)
	}

	var data []byte
	var ptr uintptr
	if bs != nil {
		data = bs.Bytes()
		if len(data) == 0 {
			return nil, 0, ErrNeedMoreData
		}
		ptr = uintptr(unsafe.Pointer(&data[0]))
	}
	complete := int32(0)
	if b.cfg.CompleteFrames {
		complete = 1
	}

	res := b.result
	var st int32
	for attempt := 0; ; attempt++ {
		*res = qsvDecodeResult{OutIndex: -1}
		st = mediaQSVDecodeAsync(b.session, ptr, int32(len(data)), complete, int32(work.Index),
			uintptr(unsafe.Pointer(res)))
		if st != qsvWrnDeviceBusy || attempt >= qsvDeviceBusyRetries {
			break
		}
		// Hardware is busy; give it a moment and retry the same input.
		time.Sleep(qsvDeviceBusySleep)
	}
	runtime.KeepAlive(data)
	runtime.KeepAlive(res)

	if bs != nil && res.Consumed > 0 {
		bs.Consume(int(res.Consumed))
	}
	b.refreshLocks()

	if st >= 0 && res.Sync != 0 {
		out := b.pool.Surface(int(res.OutIndex))
		if out == nil {
			return nil, 0, fmt.Errorf("%w: output surface %d out of range", ErrCodec, res.OutIndex)
		}
		return out, SyncToken(res.Sync), nil
	}
	switch st {
	case qsvErrNone, qsvWrnVideoParamChanged:
		// Input taken, picture not started yet.
		return nil, 0, ErrMoreSurface
	case qsvWrnDeviceBusy:
		return nil, 0, fmt.Errorf("%w: device busy", ErrCodec)
	}
	return nil, 0, qsvStatusError("decode", st)
}

// refreshLocks mirrors the SDK's surface locks onto the pool.
func (b *QSVBackend) refreshLocks() {
	for _, s := range b.pool.Surfaces() {
		s.SetLocked(mediaQSVSurfaceLocked(b.session, int32(s.Index)) != 0)
	}
}

// Sync implements Backend.
func (b *QSVBackend) Sync(token SyncToken, timeout time.Duration) error {
	if !b.inited {
		return fmt.Errorf("%w: sync before init", ErrCodec)
	}
	wait := uint32(timeout / time.Millisecond)
	if wait > qsvMaxWaitMs {
		wait = qsvMaxWaitMs
	}
	st := mediaQSVSync(b.session, uint64(token), wait)
	b.refreshLocks()
	switch {
	case st == qsvErrNone:
		return nil
	case st == qsvWrnInExecution:
		return ErrNotReady
	case st > 0:
		return nil
	}
	return qsvStatusError("sync", st)
}

func (b *QSVBackend) releaseSurfaces() {
	if b.inited {
		mediaQSVDecodeClose(b.session)
		b.inited = false
	}
	if b.pool != nil {
		for _, s := range b.pool.Surfaces() {
			s.SetLocked(false)
		}
		b.pool = nil
	}
	b.pinner.Unpin()
}

// Close implements Backend.
func (b *QSVBackend) Close() error {
	if b.session == 0 {
		return nil
	}
	b.releaseSurfaces()
	mediaQSVSessionClose(b.session)
	b.session = 0
	return nil
}

// Register the Quick Sync backend
func init() {
	if err := loadMediaQSV(); err == nil && mediaQSVAvailable() != 0 {
		setProviderAvailable(ProviderQSV)
		registerBackend(ProviderQSV, func(config BackendConfig) (Backend, error) {
			return NewQSVBackend(config)
		})
	}
}
