// Package receiver drives one decoder session of a Registry from an ingest
// source and forwards the decoded frames to a sink.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thesyncim/streamdec"
	"github.com/thesyncim/streamdec/ingest"
	"github.com/thesyncim/streamdec/sink"
)

// exhaustedPoll is the wait between retries while the surface pool is full.
const exhaustedPoll = time.Millisecond

// Config configures a Receiver.
type Config struct {
	Name    string // Stream label for logs
	Decoder streamdec.Config
	Convert streamdec.ConvertOption

	// OutputWidth and OutputHeight scale every frame to a fixed size
	// (0 = stream size).
	OutputWidth  int
	OutputHeight int

	Logger *zerolog.Logger // nil = disabled
}

// Stats counts what a receiver has seen across connections.
type Stats struct {
	Connects     uint64
	Packets      uint64
	Frames       uint64
	ParamChanges uint64
	Width        int // Size of the last frame
	Height       int
}

// Receiver is an ingest.Handler. Every connection gets a fresh session; a
// clean end of stream drains the codec into the sink before the session is
// removed.
type Receiver struct {
	reg  *streamdec.Registry
	sink sink.Sink
	cfg  Config
	log  zerolog.Logger

	handle streamdec.Handle
	header bool
	frame  streamdec.FrameBuffer

	mu    sync.Mutex
	stats Stats
}

var _ ingest.Handler = (*Receiver)(nil)

// New creates a receiver decoding into sessions of reg.
func New(reg *streamdec.Registry, out sink.Sink, cfg Config) *Receiver {
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	if cfg.Decoder.Logger == nil {
		cfg.Decoder.Logger = cfg.Logger
	}
	if cfg.Decoder.SyncTimeout <= 0 {
		cfg.Decoder.SyncTimeout = time.Second
	}
	if cfg.Name != "" {
		log = log.With().Str("stream", cfg.Name).Logger()
	}
	return &Receiver{reg: reg, sink: out, cfg: cfg, log: log}
}

// HandleConnect implements ingest.Handler.
func (r *Receiver) HandleConnect(remote net.Addr) error {
	r.teardown()

	h := r.reg.NewInstance(r.cfg.Decoder)
	if err := r.reg.Initialize(h); err != nil {
		_ = r.reg.Remove(h)
		return fmt.Errorf("initialize decoder: %w", err)
	}
	r.handle = h
	r.header = false

	r.mu.Lock()
	r.stats.Connects++
	r.mu.Unlock()

	ev := r.log.Info().Stringer("session", h)
	if remote != nil {
		ev = ev.Stringer("remote", remote)
	}
	ev.Msg("decoder session started")
	return nil
}

// HandlePacket implements ingest.Handler.
func (r *Receiver) HandlePacket(ctx context.Context, pkt ingest.Packet) error {
	if r.handle.IsZero() {
		return streamdec.ErrNotInitialized
	}
	r.mu.Lock()
	r.stats.Packets++
	r.mu.Unlock()

	if !r.header {
		err := r.reg.DecodeHeader(r.handle, pkt.Payload)
		if errors.Is(err, streamdec.ErrNeedMoreData) {
			return nil
		}
		if err != nil {
			return err
		}
		r.header = true
		w, _ := r.reg.Width(r.handle)
		h, _ := r.reg.Height(r.handle)
		r.log.Info().Int("width", w).Int("height", h).Msg("stream header decoded")
	}
	return r.feed(ctx, pkt.Payload)
}

// HandleDisconnect implements ingest.Handler.
func (r *Receiver) HandleDisconnect(err error) {
	if r.handle.IsZero() {
		return
	}
	if err == nil && r.header {
		if n, derr := r.drain(context.Background(), true); derr != nil {
			r.log.Warn().Err(derr).Int("frames", n).Msg("drain at end of stream")
		}
	}
	r.log.Info().AnErr("reason", err).Msg("decoder session ended")
	r.teardown()
}

// Close removes the current session, if any.
func (r *Receiver) Close() error {
	return r.teardown()
}

// Stats returns a snapshot of the counters. It is safe to call from any
// goroutine.
func (r *Receiver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Handle returns the current session handle (zero between connections).
func (r *Receiver) Handle() streamdec.Handle { return r.handle }

func (r *Receiver) teardown() error {
	if r.handle.IsZero() {
		return nil
	}
	err := r.reg.Uninitialize(r.handle)
	r.handle = streamdec.Handle{}
	r.header = false
	return err
}

// feed submits payload, retrying while the pool is full, then delivers every
// completed frame.
func (r *Receiver) feed(ctx context.Context, payload []byte) error {
	deadline := time.Now().Add(r.cfg.Decoder.SyncTimeout)
	for {
		st, err := r.reg.Decode(r.handle, payload)
		if st.Fatal() {
			return err
		}
		if st != streamdec.StatusPoolExhausted {
			break
		}

		// Rejected: retrieve what finished and submit again.
		n, err := r.drain(ctx, false)
		if err != nil {
			return err
		}
		if n == 0 {
			if time.Now().After(deadline) {
				return fmt.Errorf("%w: no frame completed within %s", streamdec.ErrPoolExhausted, r.cfg.Decoder.SyncTimeout)
			}
			if err := sleep(ctx, exhaustedPoll); err != nil {
				return err
			}
		}
	}
	_, err := r.drain(ctx, false)
	return err
}

// drain delivers frames until none is ready. With eos it flushes the codec
// and waits for every frame still in flight.
func (r *Receiver) drain(ctx context.Context, eos bool) (int, error) {
	n := 0
	for {
		st, err := r.next(eos)
		if err != nil {
			return n, err
		}
		if st != streamdec.StatusFrame {
			return n, nil
		}
		if err := r.deliver(ctx); err != nil {
			return n, err
		}
		n++
	}
}

// next retrieves one frame into the output buffer, regrowing the buffer once
// when the stream got larger.
func (r *Receiver) next(eos bool) (streamdec.Status, error) {
	for {
		r.resetOutput()
		var (
			st  streamdec.Status
			err error
		)
		if eos {
			st, err = r.reg.DrainFrame(r.handle, &r.frame, r.cfg.Convert)
		} else {
			st, err = r.reg.GetFrame(r.handle, &r.frame, r.cfg.Convert)
		}
		if errors.Is(err, streamdec.ErrBufferTooSmall) && r.frame.Data != nil {
			r.log.Debug().Msg("growing frame buffer")
			r.frame.Data = nil
			continue
		}
		return st, err
	}
}

// resetOutput asks for the configured size, or the stream size when unset.
func (r *Receiver) resetOutput() {
	r.frame.Width, r.frame.Height = r.cfg.OutputWidth, r.cfg.OutputHeight
}

func (r *Receiver) deliver(ctx context.Context) error {
	r.mu.Lock()
	changed := r.stats.Frames > 0 && (r.frame.Width != r.stats.Width || r.frame.Height != r.stats.Height)
	if changed {
		r.stats.ParamChanges++
	}
	prevW, prevH := r.stats.Width, r.stats.Height
	r.stats.Frames++
	r.stats.Width, r.stats.Height = r.frame.Width, r.frame.Height
	r.mu.Unlock()

	if changed {
		r.log.Info().
			Str("from", fmt.Sprintf("%dx%d", prevW, prevH)).
			Str("to", fmt.Sprintf("%dx%d", r.frame.Width, r.frame.Height)).
			Msg("frame size changed")
	}
	if err := r.sink.WriteFrame(ctx, &r.frame); err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
