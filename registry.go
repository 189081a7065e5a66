package streamdec

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Handle identifies a session in a Registry. The zero Handle is never valid.
// A handle stays valid until its session is uninitialized or removed; slots
// are reused under a new generation, so stale handles are rejected.
type Handle struct {
	index uint32
	gen   uint32
}

// IsZero reports whether h is the zero handle.
func (h Handle) IsZero() bool { return h.gen == 0 }

// Index returns the slot index of the handle.
func (h Handle) Index() int { return int(h.index) }

func (h Handle) String() string {
	return fmt.Sprintf("%d.%d", h.index, h.gen)
}

type registryEntry struct {
	dec    *Decoder
	gen    uint32
	exists bool
	id     uuid.UUID
}

// Registry holds independent decoder sessions. It is safe for concurrent
// use. One lock guards the session table; calls on a session look it up
// under the lock and run without it, so sessions never wait on each other.
// Each session still takes calls from one goroutine at a time.
type Registry struct {
	mu      sync.Mutex
	entries []registryEntry
	free    []uint32
	log     zerolog.Logger
}

// NewRegistry creates an empty registry. A nil logger disables logging.
func NewRegistry(logger *zerolog.Logger) *Registry {
	log := zerolog.Nop()
	if logger != nil {
		log = *logger
	}
	return &Registry{log: log.With().Str("component", "registry").Logger()}
}

// NewInstance creates an uninitialized session configured by cfg and returns
// its handle. Sessions share the registry logger unless cfg sets one.
func (r *Registry) NewInstance(cfg Config) Handle {
	id := uuid.New()
	if cfg.Logger == nil {
		l := r.log.With().Str("session", id.String()).Logger()
		cfg.Logger = &l
	}
	dec := NewDecoder(cfg)

	r.mu.Lock()
	defer r.mu.Unlock()

	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		idx = uint32(len(r.entries))
		r.entries = append(r.entries, registryEntry{})
	}
	e := &r.entries[idx]
	e.gen++
	if e.gen == 0 {
		e.gen = 1
	}
	e.dec = dec
	e.exists = true
	e.id = id

	h := Handle{index: idx, gen: e.gen}
	r.log.Debug().Stringer("handle", h).Str("session", id.String()).Msg("instance created")
	return h
}

func (r *Registry) lookup(h Handle) (*Decoder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h.IsZero() || int(h.index) >= len(r.entries) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidHandle, h)
	}
	e := &r.entries[h.index]
	if !e.exists || e.gen != h.gen {
		return nil, fmt.Errorf("%w: %s", ErrInvalidHandle, h)
	}
	return e.dec, nil
}

// detach removes h from the table and returns its decoder for teardown.
func (r *Registry) detach(h Handle) (*Decoder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h.IsZero() || int(h.index) >= len(r.entries) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidHandle, h)
	}
	e := &r.entries[h.index]
	if !e.exists || e.gen != h.gen {
		return nil, fmt.Errorf("%w: %s", ErrInvalidHandle, h)
	}
	dec := e.dec
	e.dec = nil
	e.exists = false
	r.free = append(r.free, h.index)
	return dec, nil
}

// Session returns the decoder behind h.
func (r *Registry) Session(h Handle) (*Decoder, error) { return r.lookup(h) }

// SessionID returns the trace ID of the session behind h.
func (r *Registry) SessionID(h Handle) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h.IsZero() || int(h.index) >= len(r.entries) {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrInvalidHandle, h)
	}
	e := r.entries[h.index]
	if !e.exists || e.gen != h.gen {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrInvalidHandle, h)
	}
	return e.id, nil
}

// Initialize opens the codec session behind h.
func (r *Registry) Initialize(h Handle) error {
	dec, err := r.lookup(h)
	if err != nil {
		return err
	}
	return dec.Initialize()
}

// Uninitialize tears down the session behind h and removes it from the
// registry. The handle is invalid afterwards.
func (r *Registry) Uninitialize(h Handle) error {
	dec, err := r.detach(h)
	if err != nil {
		return err
	}
	r.log.Debug().Stringer("handle", h).Msg("instance removed")
	return dec.Uninitialize()
}

// Remove is Uninitialize under its registry name.
func (r *Registry) Remove(h Handle) error { return r.Uninitialize(h) }

// DecodeHeader calls Decoder.DecodeHeader on the session behind h.
func (r *Registry) DecodeHeader(h Handle, p []byte) error {
	dec, err := r.lookup(h)
	if err != nil {
		return err
	}
	return dec.DecodeHeader(p)
}

// Decode calls Decoder.Decode on the session behind h.
func (r *Registry) Decode(h Handle, p []byte) (Status, error) {
	dec, err := r.lookup(h)
	if err != nil {
		return StatusInvalidHandle, err
	}
	return dec.Decode(p)
}

// DecodeGet calls Decoder.DecodeGet on the session behind h.
func (r *Registry) DecodeGet(h Handle, p []byte, out *FrameBuffer, opt ConvertOption) (Status, error) {
	dec, err := r.lookup(h)
	if err != nil {
		return StatusInvalidHandle, err
	}
	return dec.DecodeGet(p, out, opt)
}

// GetFrame calls Decoder.GetFrame on the session behind h.
func (r *Registry) GetFrame(h Handle, out *FrameBuffer, opt ConvertOption) (Status, error) {
	dec, err := r.lookup(h)
	if err != nil {
		return StatusInvalidHandle, err
	}
	return dec.GetFrame(out, opt)
}

// DrainFrame calls Decoder.DrainFrame on the session behind h.
func (r *Registry) DrainFrame(h Handle, out *FrameBuffer, opt ConvertOption) (Status, error) {
	dec, err := r.lookup(h)
	if err != nil {
		return StatusInvalidHandle, err
	}
	return dec.DrainFrame(out, opt)
}

// Width returns the display width of the session behind h, -1 when unknown.
func (r *Registry) Width(h Handle) (int, error) {
	dec, err := r.lookup(h)
	if err != nil {
		return -1, err
	}
	return dec.Width(), nil
}

// Height returns the display height of the session behind h, -1 when unknown.
func (r *Registry) Height(h Handle) (int, error) {
	dec, err := r.lookup(h)
	if err != nil {
		return -1, err
	}
	return dec.Height(), nil
}

// IsInit reports whether the session behind h has decoded a header.
func (r *Registry) IsInit(h Handle) (bool, error) {
	dec, err := r.lookup(h)
	if err != nil {
		return false, err
	}
	return dec.IsInit(), nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries) - len(r.free)
}

// Handles returns the handles of all live sessions in slot order.
func (r *Registry) Handles() []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Handle, 0, len(r.entries)-len(r.free))
	for i, e := range r.entries {
		if e.exists {
			out = append(out, Handle{index: uint32(i), gen: e.gen})
		}
	}
	return out
}

// Close tears down every session. The registry stays usable.
func (r *Registry) Close() error {
	var firstErr error
	for _, h := range r.Handles() {
		if err := r.Uninitialize(h); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
