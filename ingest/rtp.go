package ingest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"

	"github.com/thesyncim/streamdec"
)

// RTP payload types carrying several or partial NAL units (RFC 6184).
const (
	nalTypeSTAPA = 24
	nalTypeFUA   = 28
)

// maxRTPPacket is the largest UDP datagram read.
const maxRTPPacket = 65536

// AccessUnit is one reassembled picture in Annex B form.
type AccessUnit struct {
	Data      []byte
	Timestamp uint32 // 90 kHz RTP timestamp
	Keyframe  bool
}

// H264Depacketizer reassembles H.264 access units from RTP packets.
type H264Depacketizer struct {
	frameData   []byte // Annex B data of the current access unit
	fuaBuffer   []byte // NAL unit being assembled from FU-A fragments
	fragmenting bool
	timestamp   uint32
	started     bool
	keyframe    bool
}

// NewH264Depacketizer creates a depacketizer.
func NewH264Depacketizer() *H264Depacketizer {
	return &H264Depacketizer{}
}

// Depacketize processes one packet and returns the access unit it completes,
// or nil. A timestamp change drops any partial unit.
func (d *H264Depacketizer) Depacketize(pkt *rtp.Packet) (*AccessUnit, error) {
	if len(pkt.Payload) == 0 {
		return nil, nil
	}
	if d.started && d.timestamp != pkt.Timestamp {
		d.reset()
	}
	d.timestamp = pkt.Timestamp
	d.started = true

	nalType := pkt.Payload[0] & 0x1F
	switch {
	case nalType >= 1 && nalType <= 23:
		d.appendNAL(pkt.Payload)
	case nalType == nalTypeSTAPA:
		if err := d.depacketizeSTAPA(pkt.Payload); err != nil {
			return nil, err
		}
	case nalType == nalTypeFUA:
		if err := d.depacketizeFUA(pkt.Payload); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported NAL type: %d", nalType)
	}

	if !pkt.Marker || len(d.frameData) == 0 {
		return nil, nil
	}
	au := &AccessUnit{
		Data:      append([]byte(nil), d.frameData...),
		Timestamp: d.timestamp,
		Keyframe:  d.keyframe,
	}
	d.reset()
	return au, nil
}

// DepacketizeBytes parses a raw RTP packet and depacketizes it.
func (d *H264Depacketizer) DepacketizeBytes(data []byte) (*AccessUnit, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		return nil, err
	}
	return d.Depacketize(&pkt)
}

// Reset drops any partial access unit.
func (d *H264Depacketizer) Reset() {
	d.reset()
	d.started = false
	d.timestamp = 0
}

func (d *H264Depacketizer) reset() {
	d.frameData = d.frameData[:0]
	d.fuaBuffer = d.fuaBuffer[:0]
	d.fragmenting = false
	d.keyframe = false
}

func (d *H264Depacketizer) appendNAL(nalu []byte) {
	if nalu[0]&0x1F == streamdec.NALTypeIDR {
		d.keyframe = true
	}
	d.frameData = append(d.frameData, 0, 0, 0, 1)
	d.frameData = append(d.frameData, nalu...)
}

func (d *H264Depacketizer) depacketizeSTAPA(payload []byte) error {
	offset := 1
	for offset+2 <= len(payload) {
		size := int(binary.BigEndian.Uint16(payload[offset:]))
		offset += 2
		if size == 0 || offset+size > len(payload) {
			return fmt.Errorf("STAP-A unit of %d bytes at offset %d overruns packet", size, offset)
		}
		d.appendNAL(payload[offset : offset+size])
		offset += size
	}
	return nil
}

func (d *H264Depacketizer) depacketizeFUA(payload []byte) error {
	if len(payload) < 2 {
		return errors.New("FU-A packet too short")
	}
	fuIndicator := payload[0]
	fuHeader := payload[1]
	isStart := fuHeader&0x80 != 0
	isEnd := fuHeader&0x40 != 0

	if isStart {
		// Rebuild the NAL header from the indicator's F/NRI and the fragment type.
		d.fuaBuffer = append(d.fuaBuffer[:0], fuIndicator&0xE0|fuHeader&0x1F)
		d.fragmenting = true
	}
	if !d.fragmenting {
		// Lost the start fragment; wait for the next one.
		return nil
	}
	d.fuaBuffer = append(d.fuaBuffer, payload[2:]...)

	if isEnd {
		d.appendNAL(d.fuaBuffer)
		d.fuaBuffer = d.fuaBuffer[:0]
		d.fragmenting = false
	}
	return nil
}

// RTPConfig configures an RTPReceiver.
type RTPConfig struct {
	Addr            string // UDP listen address
	PayloadType     uint8  // Accepted payload type (0 = any)
	RecvBufferBytes int    // Socket receive buffer (0 = 100 MiB, <0 = OS default)

	Logger *zerolog.Logger // nil = disabled
}

// RTPReceiver listens for an RTP H.264 stream on UDP and delivers one packet
// per access unit. A new SSRC is reported as a new connection, and so is the
// next datagram after a handler error.
type RTPReceiver struct {
	cfg RTPConfig
	log zerolog.Logger

	conn net.PacketConn
}

// NewRTPReceiver creates a receiver.
func NewRTPReceiver(cfg RTPConfig) *RTPReceiver {
	if cfg.RecvBufferBytes == 0 {
		cfg.RecvBufferBytes = DefaultRecvBufferBytes
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	return &RTPReceiver{
		cfg: cfg,
		log: log.With().Str("component", "ingest.rtp").Logger(),
	}
}

// Listen binds the UDP socket. Run calls it when needed.
func (r *RTPReceiver) Listen() error {
	if r.conn != nil {
		return nil
	}
	conn, err := net.ListenPacket("udp", r.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", r.cfg.Addr, err)
	}
	if udp, ok := conn.(*net.UDPConn); ok && r.cfg.RecvBufferBytes > 0 {
		if err := udp.SetReadBuffer(r.cfg.RecvBufferBytes); err != nil {
			r.log.Debug().Err(err).Msg("set receive buffer")
		}
	}
	r.conn = conn
	return nil
}

// LocalAddr returns the bound address, or nil before Listen.
func (r *RTPReceiver) LocalAddr() net.Addr {
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Run reads datagrams until ctx is done.
func (r *RTPReceiver) Run(ctx context.Context, h Handler) error {
	if err := r.Listen(); err != nil {
		return err
	}
	conn := r.conn
	defer func() {
		conn.Close()
		r.conn = nil
	}()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	r.log.Info().Stringer("addr", conn.LocalAddr()).Msg("listening for RTP")

	var (
		depack    = NewH264Depacketizer()
		buf       = make([]byte, maxRTPPacket)
		ssrc      uint32
		connected bool
		pkt       rtp.Packet
	)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if connected {
				h.HandleDisconnect(nil)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			r.log.Debug().Err(err).Msg("dropping malformed RTP packet")
			continue
		}
		if r.cfg.PayloadType != 0 && pkt.PayloadType != r.cfg.PayloadType {
			continue
		}

		if !connected || pkt.SSRC != ssrc {
			if connected {
				h.HandleDisconnect(nil)
			}
			depack.Reset()
			ssrc = pkt.SSRC
			connected = true
			r.log.Info().Uint32("ssrc", ssrc).Stringer("remote", from).Msg("RTP stream started")
			if err := h.HandleConnect(from); err != nil {
				h.HandleDisconnect(err)
				return err
			}
		}

		au, err := depack.Depacketize(&pkt)
		if err != nil {
			r.log.Debug().Err(err).Uint16("seq", pkt.SequenceNumber).Msg("depacketize")
			continue
		}
		if au == nil {
			continue
		}
		err = h.HandlePacket(ctx, Packet{Type: streamdec.StreamTypeH264, Timestamp: au.Timestamp, Payload: au.Data})
		if err != nil {
			// Restart the stream with the next datagram.
			r.log.Warn().Err(err).Uint32("ssrc", ssrc).Msg("handle packet")
			h.HandleDisconnect(err)
			connected = false
		}
	}
}
