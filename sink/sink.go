// Package sink consumes decoded frames: discard them, append them to a raw
// file or snapshot them as PNG images.
package sink

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/thesyncim/streamdec"
)

// Sink receives decoded frames. The frame is only valid during the call.
type Sink interface {
	WriteFrame(ctx context.Context, frame *streamdec.FrameBuffer) error
	Close() error
}

// Options selects and configures a sink.
type Options struct {
	Kind  string // null, raw, png
	Path  string // Output file (raw) or directory (png)
	Every int    // Keep every n-th frame (png, 0 = 1)

	// MaxWidth downscales PNG snapshots wider than this (0 = native size).
	MaxWidth int
}

// New creates the sink named by opts.Kind.
func New(opts Options) (Sink, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Kind)) {
	case "", "null", "none":
		return &Null{}, nil
	case "raw":
		return NewRawFile(opts.Path)
	case "png":
		return NewPNG(opts.Path, opts.Every, opts.MaxWidth)
	}
	return nil, fmt.Errorf("unknown sink %q", opts.Kind)
}

// Null counts and discards frames.
type Null struct {
	frames atomic.Uint64
	bytes  atomic.Uint64
}

// WriteFrame implements Sink.
func (n *Null) WriteFrame(_ context.Context, frame *streamdec.FrameBuffer) error {
	n.frames.Add(1)
	n.bytes.Add(uint64(frame.Size()))
	return nil
}

// Close implements Sink.
func (n *Null) Close() error { return nil }

// Frames returns the number of frames received.
func (n *Null) Frames() uint64 { return n.frames.Load() }

// Bytes returns the number of frame bytes received.
func (n *Null) Bytes() uint64 { return n.bytes.Load() }
