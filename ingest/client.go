package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultReconnectDelay  = 2 * time.Second
	DefaultRecvBufferBytes = 100 * 1024 * 1024
)

// ClientConfig configures a Client.
type ClientConfig struct {
	Addr            string        // host:port of the sender
	ReconnectDelay  time.Duration // Wait between attempts (0 = 2s)
	RecvBufferBytes int           // Socket receive buffer (0 = 100 MiB, <0 = OS default)
	MaxPayload      int           // Per-packet limit (0 = DefaultMaxPayload)

	// Dial overrides the dialer, mainly for tests.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)

	Logger *zerolog.Logger // nil = disabled
}

// Client connects to a framed TCP sender and keeps reconnecting until its
// context is cancelled.
type Client struct {
	cfg ClientConfig
	log zerolog.Logger
}

// NewClient creates a client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.RecvBufferBytes == 0 {
		cfg.RecvBufferBytes = DefaultRecvBufferBytes
	}
	if cfg.Dial == nil {
		var d net.Dialer
		cfg.Dial = d.DialContext
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	return &Client{
		cfg: cfg,
		log: log.With().Str("component", "ingest.tcp").Str("addr", cfg.Addr).Logger(),
	}
}

// Run connects, reads packets into h and reconnects after every failure. It
// returns ctx.Err() once ctx is done.
func (c *Client) Run(ctx context.Context, h Handler) error {
	for {
		err := c.session(ctx, h)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn().Err(err).Dur("retry_in", c.cfg.ReconnectDelay).Msg("stream connection lost")

		t := time.NewTimer(c.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// session runs one connection to completion.
func (c *Client) session(ctx context.Context, h Handler) error {
	conn, err := c.cfg.Dial(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if tcp, ok := conn.(*net.TCPConn); ok && c.cfg.RecvBufferBytes > 0 {
		if err := tcp.SetReadBuffer(c.cfg.RecvBufferBytes); err != nil {
			c.log.Debug().Err(err).Msg("set receive buffer")
		}
	}

	// Unblock the read when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c.log.Info().Stringer("remote", conn.RemoteAddr()).Msg("stream connected")
	if err := h.HandleConnect(conn.RemoteAddr()); err != nil {
		h.HandleDisconnect(err)
		return err
	}

	err = c.read(ctx, conn, h)
	if errors.Is(err, io.EOF) {
		h.HandleDisconnect(nil)
		return err
	}
	h.HandleDisconnect(err)
	return err
}

func (c *Client) read(ctx context.Context, conn net.Conn, h Handler) error {
	r := NewReader(conn, c.cfg.MaxPayload)
	for {
		pkt, err := r.Next()
		if errors.Is(err, ErrUnknownType) {
			c.log.Warn().Uint32("type", uint32(pkt.Type)).Int("bytes", len(pkt.Payload)).Msg("skipping packet")
			continue
		}
		if err != nil {
			return err
		}
		if err := h.HandlePacket(ctx, pkt); err != nil {
			return fmt.Errorf("handle packet: %w", err)
		}
	}
}
