package streamdec

import (
	"fmt"
	"time"
)

// NullBackendConfig configures the null backend.
type NullBackendConfig struct {
	// Surfaces is the pool size the backend asks for (default 4).
	Surfaces int

	// Latency is how many zero-timeout Sync polls report ErrNotReady before
	// a decode completes.
	Latency int

	// CompleteFrames treats a trailing slice without a following start code
	// as complete.
	CompleteFrames bool
}

type nullOp struct {
	surface   *Surface
	remaining int
}

// NullBackend is a codec without a codec: it resolves geometry from the SPS,
// splits the byte stream into access units and emits one flat frame per
// unit. Luma carries the sequence number of the frame (mod 256), chroma is
// neutral. It runs anywhere and keeps the full submit/sync protocol.
type NullBackend struct {
	cfg NullBackendConfig

	open    bool
	params  StreamParams
	pool    *SurfacePool
	seq     uint64
	pending map[SyncToken]*nullOp
	last    *Bitstream
}

// NewNullBackend creates a null backend.
func NewNullBackend(cfg NullBackendConfig) *NullBackend {
	if cfg.Surfaces <= 0 {
		cfg.Surfaces = 4
	}
	return &NullBackend{cfg: cfg}
}

// Provider implements Backend.
func (b *NullBackend) Provider() Provider { return ProviderNull }

// Open implements Backend.
func (b *NullBackend) Open() error {
	b.open = true
	b.pending = make(map[SyncToken]*nullOp)
	return nil
}

// DecodeHeader implements Backend.
func (b *NullBackend) DecodeHeader(bs *Bitstream) (StreamParams, error) {
	if !b.open {
		return StreamParams{}, fmt.Errorf("%w: session not open", ErrCodec)
	}
	params, _, err := ParseStreamParams(bs.Bytes())
	return params, err
}

// SurfaceCount implements Backend.
func (b *NullBackend) SurfaceCount(StreamParams) int { return b.cfg.Surfaces }

// Init implements Backend.
func (b *NullBackend) Init(params StreamParams, pool *SurfacePool) error {
	if !b.open {
		return fmt.Errorf("%w: session not open", ErrCodec)
	}
	b.params = params
	b.pool = pool
	return nil
}

// DecodeAsync implements Backend.
func (b *NullBackend) DecodeAsync(bs *Bitstream, work *Surface) (*Surface, SyncToken, error) {
	if !b.open || b.pool == nil {
		return nil, 0, fmt.Errorf("%w: decode before init", ErrCodec)
	}
	complete := b.cfg.CompleteFrames
	if bs == nil {
		// Drain: whatever is left of the last input counts as complete.
		if b.last == nil || b.last.Len() == 0 {
			return nil, 0, ErrNeedMoreData
		}
		bs = b.last
		complete = true
	}
	b.last = bs

	if err := InBandParamsChange(bs, b.params, complete); err != nil {
		return nil, 0, err
	}

	n, ok := NextAccessUnit(bs.Bytes(), complete)
	if !ok {
		return nil, 0, ErrNeedMoreData
	}
	if !b.pool.Owns(work) {
		return nil, 0, fmt.Errorf("%w: work surface %d not registered", ErrCodec, work.Index)
	}
	bs.Consume(n)

	b.seq++
	luma := byte(b.seq)
	for i := range work.Y {
		work.Y[i] = luma
	}
	for i := range work.UV {
		work.UV[i] = 128
	}
	work.TimestampNs = int64(b.seq)
	work.Lock()

	token := SyncToken(b.seq)
	b.pending[token] = &nullOp{surface: work, remaining: b.cfg.Latency}
	return work, token, nil
}

// Sync implements Backend.
func (b *NullBackend) Sync(token SyncToken, timeout time.Duration) error {
	op, ok := b.pending[token]
	if !ok {
		return fmt.Errorf("%w: unknown sync token %d", ErrCodec, token)
	}
	if op.remaining > 0 && timeout == 0 {
		op.remaining--
		return ErrNotReady
	}
	op.surface.Unlock()
	delete(b.pending, token)
	return nil
}

// Close implements Backend.
func (b *NullBackend) Close() error {
	for token, op := range b.pending {
		op.surface.Unlock()
		delete(b.pending, token)
	}
	b.open = false
	b.pool = nil
	b.last = nil
	b.params = StreamParams{}
	return nil
}
