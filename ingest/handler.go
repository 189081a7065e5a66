package ingest

import (
	"context"
	"net"
)

// Handler consumes the packets of one source. Calls for a source are never
// concurrent. A HandlePacket error ends the current connection; the source
// then reconnects (TCP) or waits for the next publisher (RTMP).
type Handler interface {
	// HandleConnect is called when a new upstream starts sending. The
	// handler resets any per-stream state here.
	HandleConnect(remote net.Addr) error
	HandlePacket(ctx context.Context, pkt Packet) error
	// HandleDisconnect is called when the upstream went away; err is nil on
	// a clean end of stream.
	HandleDisconnect(err error)
}

// Source delivers packets to a Handler until ctx is done.
type Source interface {
	Run(ctx context.Context, h Handler) error
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are no-ops.
type HandlerFuncs struct {
	OnConnect    func(remote net.Addr) error
	OnPacket     func(ctx context.Context, pkt Packet) error
	OnDisconnect func(err error)
}

// HandleConnect implements Handler.
func (f HandlerFuncs) HandleConnect(remote net.Addr) error {
	if f.OnConnect == nil {
		return nil
	}
	return f.OnConnect(remote)
}

// HandlePacket implements Handler.
func (f HandlerFuncs) HandlePacket(ctx context.Context, pkt Packet) error {
	if f.OnPacket == nil {
		return nil
	}
	return f.OnPacket(ctx, pkt)
}

// HandleDisconnect implements Handler.
func (f HandlerFuncs) HandleDisconnect(err error) {
	if f.OnDisconnect != nil {
		f.OnDisconnect(err)
	}
}
