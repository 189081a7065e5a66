package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/rs/zerolog"
	"github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"

	"github.com/thesyncim/streamdec"
)

// FLV video tag fields.
const (
	flvCodecAVC        = 7
	flvFrameKey        = 1
	flvAVCSeqHeader    = 0
	flvAVCNALU         = 1
	flvVideoHeaderSize = 5 // frame/codec byte, AVC packet type, composition time

	// version, profile, compatibility, level, length size, SPS count, PPS count
	minDecConfRecSize = 7
)

// ErrStreamBusy is returned to a second publisher while one is active.
var ErrStreamBusy = errors.New("stream already publishing")

// RTMPConfig configures an RTMPServer.
type RTMPConfig struct {
	Addr string // TCP listen address, e.g. ":1935"

	// StreamKey restricts publishing to one name (empty = any).
	StreamKey string

	Logger *zerolog.Logger // nil = disabled
}

// RTMPServer accepts one RTMP publisher at a time and delivers its H.264
// video as Annex B access units. Sequence headers are delivered as their
// own SPS/PPS packet and repeated ahead of every keyframe.
type RTMPServer struct {
	cfg RTMPConfig
	log zerolog.Logger

	ln net.Listener

	mu     sync.Mutex
	ctx    context.Context
	h      Handler
	active *rtmpConn
}

// NewRTMPServer creates a server.
func NewRTMPServer(cfg RTMPConfig) *RTMPServer {
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	return &RTMPServer{
		cfg: cfg,
		log: log.With().Str("component", "ingest.rtmp").Logger(),
	}
}

// Listen binds the TCP listener. Run calls it when needed.
func (s *RTMPServer) Listen() error {
	if s.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.ln = ln
	return nil
}

// LocalAddr returns the bound address, or nil before Listen.
func (s *RTMPServer) LocalAddr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Run serves publishers until ctx is done.
func (s *RTMPServer) Run(ctx context.Context, h Handler) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	s.ctx, s.h = ctx, h
	s.mu.Unlock()

	ln := s.ln
	srv := rtmp.NewServer(&rtmp.ServerConfig{
		OnConnect: func(conn net.Conn) (io.ReadWriteCloser, *rtmp.ConnConfig) {
			return conn, &rtmp.ConnConfig{
				Handler: s.newConn(conn.RemoteAddr()),
				ControlState: rtmp.StreamControlStateConfig{
					DefaultBandwidthWindowSize: 6 * 1024 * 1024,
				},
			}
		},
	})
	// Serve only returns once Close has marked the server done; the listener
	// is closed as well in case Serve has not registered it yet.
	stop := context.AfterFunc(ctx, func() {
		srv.Close()
		ln.Close()
	})
	defer stop()

	s.log.Info().Stringer("addr", ln.Addr()).Msg("listening for RTMP publishers")
	err := srv.Serve(ln)
	s.ln = nil
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, rtmp.ErrClosed) {
		return nil
	}
	return err
}

func (s *RTMPServer) newConn(remote net.Addr) *rtmpConn {
	return &rtmpConn{srv: s, remote: remote}
}

// claim makes c the active publisher and announces it to the handler.
func (s *RTMPServer) claim(c *rtmpConn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && s.active != c {
		return ErrStreamBusy
	}
	if s.h == nil {
		return errors.New("server not running")
	}
	if err := s.h.HandleConnect(c.remote); err != nil {
		return err
	}
	s.active = c
	return nil
}

// release ends c's turn as publisher.
func (s *RTMPServer) release(c *rtmpConn, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != c {
		return
	}
	s.active = nil
	s.h.HandleDisconnect(err)
}

// emit delivers pkt when c is the active publisher.
func (s *RTMPServer) emit(c *rtmpConn, pkt Packet) error {
	s.mu.Lock()
	active, ctx, h := s.active == c, s.ctx, s.h
	s.mu.Unlock()
	if !active {
		return nil
	}
	return h.HandlePacket(ctx, pkt)
}

// rtmpConn handles one RTMP connection.
type rtmpConn struct {
	rtmp.DefaultHandler

	srv    *RTMPServer
	remote net.Addr

	publishing bool
	sps, pps   [][]byte
	lastErr    error
	buf        bytes.Buffer
}

func (c *rtmpConn) OnPublish(_ *rtmp.StreamContext, _ uint32, cmd *rtmpmsg.NetStreamPublish) error {
	log := c.srv.log.With().Str("name", cmd.PublishingName).Stringer("remote", c.remote).Logger()
	if key := c.srv.cfg.StreamKey; key != "" && cmd.PublishingName != key {
		log.Warn().Msg("rejecting publisher with unknown stream key")
		return fmt.Errorf("unknown stream key %q", cmd.PublishingName)
	}
	if err := c.srv.claim(c); err != nil {
		log.Warn().Err(err).Msg("rejecting publisher")
		return err
	}
	c.publishing = true
	log.Info().Msg("publishing")
	return nil
}

func (c *rtmpConn) OnVideo(timestamp uint32, payload io.Reader) error {
	if !c.publishing {
		return nil
	}
	c.buf.Reset()
	if _, err := io.Copy(&c.buf, payload); err != nil {
		return err
	}
	pkt, ok, err := c.videoPacket(timestamp, c.buf.Bytes())
	if err != nil {
		c.srv.log.Warn().Err(err).Msg("dropping video tag")
		return nil
	}
	if !ok {
		return nil
	}
	if err := c.srv.emit(c, pkt); err != nil {
		c.lastErr = err
		return err
	}
	return nil
}

// videoPacket turns one FLV video tag into an Annex B packet. ok is false
// for tags that carry nothing to decode.
func (c *rtmpConn) videoPacket(timestamp uint32, data []byte) (pkt Packet, ok bool, err error) {
	if len(data) < flvVideoHeaderSize {
		return Packet{}, false, nil
	}
	frameType := data[0] >> 4 & 0x0F
	if data[0]&0x0F != flvCodecAVC {
		return Packet{}, false, nil
	}
	body := data[flvVideoHeaderSize:]
	pkt = Packet{Type: streamdec.StreamTypeH264, Timestamp: timestamp * 90} // ms to 90 kHz

	switch data[1] {
	case flvAVCSeqHeader:
		if len(body) < minDecConfRecSize {
			return Packet{}, false, fmt.Errorf("decoder configuration record of %d bytes", len(body))
		}
		rec, err := avc.DecodeAVCDecConfRec(body)
		if err != nil {
			return Packet{}, false, fmt.Errorf("decoder configuration record: %w", err)
		}
		if len(rec.SPSnalus) == 0 {
			return Packet{}, false, errors.New("decoder configuration record without SPS")
		}
		// The record points into c.buf, which the next tag overwrites.
		c.sps, c.pps = cloneNALUs(rec.SPSnalus), cloneNALUs(rec.PPSnalus)
		if params, err := streamdec.ParseSPS(c.sps[0]); err == nil {
			c.srv.log.Info().Stringer("params", params).Msg("sequence header")
		}
		pkt.Payload = appendAnnexB(nil, c.sps, c.pps)
		return pkt, true, nil

	case flvAVCNALU:
		if c.sps == nil {
			return Packet{}, false, nil
		}
		nalus, err := avc.GetNalusFromSample(body)
		if err != nil {
			return Packet{}, false, err
		}
		if len(nalus) == 0 {
			return Packet{}, false, nil
		}
		var out []byte
		if frameType == flvFrameKey {
			out = appendAnnexB(out, c.sps, c.pps)
		}
		pkt.Payload = appendAnnexB(out, nalus)
		return pkt, true, nil
	}
	return Packet{}, false, nil
}

func (c *rtmpConn) OnClose() {
	if !c.publishing {
		return
	}
	c.publishing = false
	c.srv.log.Info().Stringer("remote", c.remote).Msg("publisher disconnected")
	c.srv.release(c, c.lastErr)
}

func cloneNALUs(nalus [][]byte) [][]byte {
	out := make([][]byte, len(nalus))
	for i, n := range nalus {
		out[i] = bytes.Clone(n)
	}
	return out
}

// appendAnnexB appends each group of NAL units to dst with 4-byte start codes.
func appendAnnexB(dst []byte, groups ...[][]byte) []byte {
	for _, nalus := range groups {
		for _, nalu := range nalus {
			dst = append(dst, 0, 0, 0, 1)
			dst = append(dst, nalu...)
		}
	}
	return dst
}
