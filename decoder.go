package streamdec

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the decode session state.
type State int32

const (
	StateUninitialized State = iota // no codec session
	StateHeaderPending              // session open, waiting for a sequence header
	StateStreaming                  // pool allocated, accepting payload
	StateDraining                   // tearing down, flushing outstanding decodes
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateHeaderPending:
		return "header-pending"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// DecodeGetPolicy controls how DecodeGet reacts to a full surface pool.
type DecodeGetPolicy int

const (
	// DecodeGetReturn returns StatusPoolExhausted to the caller, who drains
	// frames with GetFrame and resubmits.
	DecodeGetReturn DecodeGetPolicy = iota
	// DecodeGetRetry waits for the oldest frame, writes it to the output
	// buffer and resubmits the input once.
	DecodeGetRetry
)

func (p DecodeGetPolicy) String() string {
	if p == DecodeGetRetry {
		return "retry"
	}
	return "return"
}

// ParseDecodeGetPolicy maps "return" or "retry" to a policy.
func ParseDecodeGetPolicy(name string) (DecodeGetPolicy, bool) {
	switch name {
	case "", "return":
		return DecodeGetReturn, true
	case "retry":
		return DecodeGetRetry, true
	}
	return DecodeGetReturn, false
}

const defaultSyncTimeout = time.Second

// Config configures a Decoder.
type Config struct {
	Provider Provider // Backend provider (ProviderAuto = best available)

	// Backend overrides Provider with a caller-supplied codec.
	Backend Backend

	MinSurfaces       int // Lower bound on the pool size (0 = backend suggestion)
	AsyncDepth        int // Decodes kept in flight on top of the codec's needs
	Threads           int // Software decode threads (0 = auto)
	MaxBitstreamBytes int // Input buffer cap (0 = DefaultMaxBitstreamBytes)

	DecodeGetPolicy DecodeGetPolicy
	SyncTimeout     time.Duration // Blocking wait used by DrainFrame and teardown (0 = 1s)

	Matrix    YCbCrMatrix
	ScaleMode ScaleMode

	Logger *zerolog.Logger // nil = disabled
}

// DefaultConfig returns a default decoder configuration.
func DefaultConfig() Config {
	return Config{
		Provider:          ProviderAuto,
		AsyncDepth:        4,
		MaxBitstreamBytes: DefaultMaxBitstreamBytes,
		SyncTimeout:       defaultSyncTimeout,
		Matrix:            YCbCr601,
	}
}

// DecoderStats contains decoder statistics.
type DecoderStats struct {
	FramesSubmitted uint64
	FramesDecoded   uint64
	FramesDropped   uint64
	BytesAppended   uint64
	BytesConsumed   uint64
	PoolExhaustions uint64
	PoolRebuilds    uint64
	CodecErrors     uint64
}

// outstanding is one queued decode: its sync token and the surface it fills.
// pool is the pool the surface belongs to, which outlives a rebuild.
type outstanding struct {
	token   SyncToken
	surface *Surface
	pool    *SurfacePool
	done    bool
}

// Decoder drives one H.264 decode session: header negotiation, buffered
// asynchronous submission into a bounded surface pool and in-order frame
// retrieval. A Decoder is not safe for concurrent use; use a Registry to
// run several sessions from different goroutines.
type Decoder struct {
	cfg Config
	log zerolog.Logger

	backend     Backend
	ownsBackend bool

	state  State
	params StreamParams
	header *Bitstream
	bs     *Bitstream
	pool   *SurfacePool
	queue  []outstanding
	eos    bool

	extractor *Extractor

	stats   DecoderStats
	statsMu sync.Mutex
}

// NewDecoder creates a decoder in StateUninitialized.
func NewDecoder(cfg Config) *Decoder {
	if cfg.MaxBitstreamBytes <= 0 {
		cfg.MaxBitstreamBytes = DefaultMaxBitstreamBytes
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = defaultSyncTimeout
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	return &Decoder{
		cfg:       cfg,
		log:       log.With().Str("component", "decoder").Logger(),
		extractor: NewExtractor(cfg.Matrix, cfg.ScaleMode),
	}
}

// Initialize opens the codec session and waits for a header. It is a no-op
// on an already initialized decoder.
func (d *Decoder) Initialize() error {
	if d.state != StateUninitialized {
		return nil
	}

	if d.backend == nil {
		if d.cfg.Backend != nil {
			d.backend = d.cfg.Backend
		} else {
			b, err := NewBackend(BackendConfig{
				Provider:       d.cfg.Provider,
				Threads:        d.cfg.Threads,
				AsyncDepth:     d.cfg.AsyncDepth,
				CompleteFrames: true,
			})
			if err != nil {
				return err
			}
			d.backend = b
			d.ownsBackend = true
		}
	}

	if err := d.backend.Open(); err != nil {
		d.dropBackend()
		if errors.Is(err, ErrSession) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrSession, err)
	}

	d.header = NewBitstream(d.cfg.MaxBitstreamBytes)
	d.bs = NewBitstream(d.cfg.MaxBitstreamBytes)
	d.queue = d.queue[:0]
	d.params = StreamParams{}
	d.pool = nil
	d.eos = false
	d.statsMu.Lock()
	d.stats = DecoderStats{}
	d.statsMu.Unlock()

	d.setState(StateHeaderPending)
	d.log.Debug().Str("provider", d.backend.Provider().String()).Msg("session opened")
	return nil
}

func (d *Decoder) dropBackend() {
	if d.ownsBackend {
		d.backend = nil
		d.ownsBackend = false
	}
}

func (d *Decoder) setState(s State) {
	if d.state != s {
		d.log.Trace().Str("from", d.state.String()).Str("to", s.String()).Msg("state")
	}
	d.state = s
}

// DecodeHeader feeds sequence header bytes to the codec. It returns
// ErrNeedMoreData while the header is incomplete (bytes are kept for the
// next call) and an ErrHeader error when the header is malformed. On success
// the surface pool is allocated and the decoder streams. Called while
// streaming, a header with a different geometry rebuilds the pool.
//
// Header bytes are not queued for decoding; pass the same bytes to Decode
// if they also carry picture data.
func (d *Decoder) DecodeHeader(p []byte) error {
	if d.state == StateUninitialized {
		return ErrNotInitialized
	}
	if err := d.header.Append(p); err != nil {
		d.header.Reset()
		return err
	}

	params, err := d.backend.DecodeHeader(d.header)
	switch {
	case errors.Is(err, ErrNeedMoreData):
		return err
	case errors.Is(err, ErrHeader):
		d.header.Reset()
		return err
	case err != nil:
		d.header.Reset()
		return fmt.Errorf("%w: %v", ErrHeader, err)
	}
	d.header.Reset()

	switch {
	case d.state == StateHeaderPending:
		if err := d.configure(params); err != nil {
			return err
		}
		d.setState(StateStreaming)
		d.log.Info().Stringer("params", params).Int("surfaces", d.pool.Cap()).Msg("stream header decoded")
	case !params.SameGeometry(d.params):
		if err := d.rebuild(params); err != nil {
			return err
		}
	}
	return nil
}

// configure sizes a pool for params and initializes the codec with it.
func (d *Decoder) configure(params StreamParams) error {
	count := d.backend.SurfaceCount(params)
	if count < d.cfg.MinSurfaces {
		count = d.cfg.MinSurfaces
	}
	pool := NewSurfacePool(count, params)
	if err := d.backend.Init(params, pool); err != nil {
		d.countError()
		return d.codecError("init", err)
	}
	d.pool = pool
	d.params = params
	return nil
}

// rebuild flushes every decode in flight, then reopens the codec with a pool
// sized for params. Queued frames keep their old surfaces until retrieved.
func (d *Decoder) rebuild(params StreamParams) error {
	old := d.params
	if err := d.flushCodec(); err != nil {
		return d.codecError("flush", err)
	}
	d.syncAll(true)

	if err := d.backend.Close(); err != nil {
		d.log.Warn().Err(err).Msg("close before rebuild")
	}
	if err := d.backend.Open(); err != nil {
		d.countError()
		return d.codecError("reopen", err)
	}
	if err := d.configure(params); err != nil {
		return err
	}

	d.statsMu.Lock()
	d.stats.PoolRebuilds++
	d.statsMu.Unlock()
	d.log.Info().Stringer("from", old).Stringer("to", params).Int("surfaces", d.pool.Cap()).Msg("stream parameters changed")
	return nil
}

// Decode appends p to the input buffer and submits as many pictures as the
// pool allows.
//
// StatusOK means at least one picture was submitted. StatusNeedMoreData and
// StatusPending mean the bytes were buffered and will be submitted by a later
// call, after more input or after frames are retrieved. StatusPoolExhausted
// means p was rejected: retrieve frames, then call Decode with p again.
// Negative statuses are fatal. Before a header is decoded Decode returns
// StatusNeedMoreData with ErrNeedMoreData and touches nothing.
func (d *Decoder) Decode(p []byte) (Status, error) {
	switch d.state {
	case StateUninitialized:
		return StatusNotInitialized, ErrNotInitialized
	case StateHeaderPending:
		return StatusNeedMoreData, fmt.Errorf("%w: stream header not decoded", ErrNeedMoreData)
	}

	if d.pool.Free() == 0 {
		d.statsMu.Lock()
		d.stats.PoolExhaustions++
		d.statsMu.Unlock()
		return StatusPoolExhausted, ErrPoolExhausted
	}

	if err := d.bs.Append(p); err != nil {
		d.log.Error().Err(err).Msg("input buffer overflow")
		return StatusOverflow, err
	}
	d.eos = false

	submitted, exhausted, err := d.submit()
	d.trackBytes()
	if err != nil {
		return StatusOf(err), err
	}
	switch {
	case exhausted:
		return StatusPending, nil
	case submitted == 0:
		return StatusNeedMoreData, nil
	default:
		return StatusOK, nil
	}
}

// submit hands buffered input to the codec until it runs out of input or of
// surfaces. Errors it returns are already translated.
func (d *Decoder) submit() (submitted int, exhausted bool, err error) {
	for d.bs.Len() > 0 {
		idx, ok := d.pool.Acquire()
		if !ok {
			return submitted, true, nil
		}
		work := d.pool.Surface(idx)
		before := d.bs.Len()

		out, token, err := d.backend.DecodeAsync(d.bs, work)
		d.pool.Release(idx)

		switch {
		case err == nil:
			if err := d.enqueue(out, token); err != nil {
				return submitted, false, err
			}
			submitted++
		case errors.Is(err, ErrMoreSurface):
		case errors.Is(err, ErrNeedMoreData):
			if d.bs.Len() == before {
				return submitted, false, nil
			}
		case errors.Is(err, ErrParamsChanged):
			if err := d.paramsChanged(); err != nil {
				return submitted, false, err
			}
		default:
			d.countError()
			return submitted, false, d.codecError("decode", err)
		}
	}
	return submitted, false, nil
}

func (d *Decoder) paramsChanged() error {
	params, err := d.backend.DecodeHeader(d.bs)
	if err != nil {
		d.countError()
		if errors.Is(err, ErrHeader) {
			return err
		}
		return fmt.Errorf("%w: in-band header: %v", ErrHeader, err)
	}
	return d.rebuild(params)
}

// flushCodec pulls pictures the codec buffered internally into the queue.
func (d *Decoder) flushCodec() error {
	if d.pool == nil {
		return nil
	}
	for {
		idx, ok := d.pool.Acquire()
		if !ok {
			return nil
		}
		out, token, err := d.backend.DecodeAsync(nil, d.pool.Surface(idx))
		d.pool.Release(idx)
		switch {
		case err == nil:
			if err := d.enqueue(out, token); err != nil {
				return err
			}
		case errors.Is(err, ErrMoreSurface):
		case errors.Is(err, ErrNeedMoreData), errors.Is(err, ErrParamsChanged):
			return nil
		default:
			return err
		}
	}
}

func (d *Decoder) enqueue(out *Surface, token SyncToken) error {
	if !d.pool.Owns(out) {
		d.countError()
		return fmt.Errorf("%w: codec returned a surface outside the pool", ErrCodec)
	}
	d.pool.Hold(out.Index)
	d.queue = append(d.queue, outstanding{token: token, surface: out, pool: d.pool})
	d.statsMu.Lock()
	d.stats.FramesSubmitted++
	d.statsMu.Unlock()
	return nil
}

// syncAll waits for every queued decode. With keep the decodes stay queued
// as completed frames; otherwise they are discarded and their surfaces freed.
func (d *Decoder) syncAll(keep bool) {
	kept := d.queue[:0]
	for _, o := range d.queue {
		if !o.done {
			if err := d.backend.Sync(o.token, d.cfg.SyncTimeout); err != nil {
				d.log.Warn().Err(err).Uint64("token", uint64(o.token)).Msg("sync failed during flush")
				o.pool.Release(o.surface.Index)
				d.countDropped()
				continue
			}
			o.done = true
		}
		if keep {
			kept = append(kept, o)
			continue
		}
		o.pool.Release(o.surface.Index)
		d.countDropped()
	}
	for i := len(kept); i < len(d.queue); i++ {
		d.queue[i] = outstanding{}
	}
	d.queue = kept
}

// GetFrame polls the oldest submitted picture. It returns StatusNotReady
// when nothing has completed yet and StatusFrame after writing the picture
// into out in the layout selected by opt. Frames come out in submission
// order. If out cannot hold the frame the frame stays queued.
func (d *Decoder) GetFrame(out *FrameBuffer, opt ConvertOption) (Status, error) {
	if d.state == StateUninitialized {
		return StatusNotInitialized, ErrNotInitialized
	}
	return d.poll(out, opt, 0)
}

// DrainFrame is GetFrame for end of stream: it first submits all buffered
// input, asks the codec to release the pictures it holds back, then waits up
// to Config.SyncTimeout for the oldest one. It returns StatusNotReady once
// everything accepted so far has been retrieved.
func (d *Decoder) DrainFrame(out *FrameBuffer, opt ConvertOption) (Status, error) {
	switch d.state {
	case StateUninitialized:
		return StatusNotInitialized, ErrNotInitialized
	case StateHeaderPending:
		return StatusNotReady, nil
	}

	if !d.eos {
		_, exhausted, err := d.submit()
		d.trackBytes()
		if err != nil {
			return StatusOf(err), err
		}
		if !exhausted {
			if err := d.flushCodec(); err != nil {
				d.countError()
				err = d.codecError("drain", err)
				return StatusOf(err), err
			}
			d.eos = d.bs.Len() == 0
		}
	}
	return d.poll(out, opt, d.cfg.SyncTimeout)
}

func (d *Decoder) poll(out *FrameBuffer, opt ConvertOption, timeout time.Duration) (Status, error) {
	if len(d.queue) == 0 {
		return StatusNotReady, nil
	}
	head := &d.queue[0]
	if !head.done {
		err := d.backend.Sync(head.token, timeout)
		if errors.Is(err, ErrNotReady) {
			return StatusNotReady, nil
		}
		if err != nil {
			d.pop()
			d.countDropped()
			d.countError()
			err = d.codecError("sync", err)
			return StatusOf(err), err
		}
		head.done = true
	}

	if err := d.extractor.Extract(head.surface, out, opt); err != nil {
		return StatusOf(err), err
	}
	d.pop()
	d.statsMu.Lock()
	d.stats.FramesDecoded++
	d.statsMu.Unlock()
	return StatusFrame, nil
}

func (d *Decoder) pop() {
	head := d.queue[0]
	head.pool.Release(head.surface.Index)
	copy(d.queue, d.queue[1:])
	d.queue[len(d.queue)-1] = outstanding{}
	d.queue = d.queue[:len(d.queue)-1]
}

// DecodeGet submits p and polls for one frame. A full pool is handled per
// Config.DecodeGetPolicy. Otherwise the result is that of GetFrame, or the
// Decode status when it is fatal.
//
// With DecodeGetRetry a drained frame is always written to out, even if the
// resubmission is rejected again; in that case the error is ErrPoolExhausted.
// When no frame completes within SyncTimeout the result is StatusPoolExhausted
// and p was not accepted.
func (d *Decoder) DecodeGet(p []byte, out *FrameBuffer, opt ConvertOption) (Status, error) {
	st, err := d.Decode(p)
	if st.Fatal() {
		return st, err
	}
	if st == StatusPoolExhausted {
		if d.cfg.DecodeGetPolicy != DecodeGetRetry {
			return st, err
		}
		fst, ferr := d.poll(out, opt, d.cfg.SyncTimeout)
		if ferr != nil {
			return fst, ferr
		}
		if fst != StatusFrame {
			// Nothing completed in time, so p is still rejected.
			return StatusPoolExhausted, err
		}
		st, err = d.Decode(p)
		if st.Fatal() {
			return st, err
		}
		if st == StatusPoolExhausted {
			return StatusFrame, err
		}
		return StatusFrame, nil
	}
	if d.state == StateHeaderPending {
		return st, err
	}
	return d.GetFrame(out, opt)
}

// Uninitialize flushes and discards every outstanding decode, closes the
// codec session and returns to StateUninitialized. It is safe to call at any
// point and with frames still queued.
func (d *Decoder) Uninitialize() error {
	if d.state == StateUninitialized {
		return nil
	}
	if len(d.queue) > 0 {
		d.setState(StateDraining)
		d.log.Debug().Int("outstanding", len(d.queue)).Msg("draining")
		d.syncAll(false)
	}

	err := d.backend.Close()
	d.dropBackend()

	d.trackBytes()
	d.queue = d.queue[:0]
	d.pool = nil
	d.params = StreamParams{}
	d.header = nil
	d.bs = nil
	d.eos = false
	d.setState(StateUninitialized)
	d.log.Debug().Msg("session closed")

	if err != nil {
		return fmt.Errorf("%w: close: %v", ErrCodec, err)
	}
	return nil
}

// Width returns the display width, or -1 before a header is decoded.
func (d *Decoder) Width() int {
	if !d.IsInit() {
		return -1
	}
	return d.params.Width
}

// Height returns the display height, or -1 before a header is decoded.
func (d *Decoder) Height() int {
	if !d.IsInit() {
		return -1
	}
	return d.params.Height
}

// IsInit reports whether a header has been decoded and frames can flow.
func (d *Decoder) IsInit() bool {
	return d.state == StateStreaming || d.state == StateDraining
}

// State returns the session state.
func (d *Decoder) State() State { return d.state }

// Params returns the current stream parameters.
func (d *Decoder) Params() StreamParams { return d.params }

// Outstanding returns the number of submitted pictures not yet retrieved.
func (d *Decoder) Outstanding() int { return len(d.queue) }

// Provider returns the provider of the open backend, or ProviderAuto.
func (d *Decoder) Provider() Provider {
	if d.backend == nil {
		return ProviderAuto
	}
	return d.backend.Provider()
}

// Pool returns the current surface pool, nil before a header is decoded.
func (d *Decoder) Pool() *SurfacePool { return d.pool }

// Buffered returns the number of input bytes not yet consumed by the codec.
func (d *Decoder) Buffered() int {
	if d.bs == nil {
		return 0
	}
	return d.bs.Len()
}

// Stats returns decoder statistics. Safe to call from any goroutine.
func (d *Decoder) Stats() DecoderStats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

func (d *Decoder) trackBytes() {
	if d.bs == nil {
		return
	}
	d.statsMu.Lock()
	d.stats.BytesAppended = d.bs.TotalAppended()
	d.stats.BytesConsumed = d.bs.TotalConsumed()
	d.statsMu.Unlock()
}

func (d *Decoder) countError() {
	d.statsMu.Lock()
	d.stats.CodecErrors++
	d.statsMu.Unlock()
}

func (d *Decoder) countDropped() {
	d.statsMu.Lock()
	d.stats.FramesDropped++
	d.statsMu.Unlock()
}

// codecError translates a backend failure into the decoder's error taxonomy.
func (d *Decoder) codecError(op string, err error) error {
	d.log.Error().Err(err).Str("op", op).Msg("codec failure")
	switch {
	case errors.Is(err, ErrCodec), errors.Is(err, ErrHeader), errors.Is(err, ErrSession),
		errors.Is(err, ErrBitstreamOverflow):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrCodec, op, err)
	}
}
