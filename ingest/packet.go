// Package ingest receives H.264 access units from the network and hands them
// to a Handler: the length-prefixed TCP framing, RTP over UDP and RTMP
// publish.
package ingest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/thesyncim/streamdec"
)

// HeaderSize is the size of the framing header: type tag, timestamp and
// payload length, each a little-endian uint32.
const HeaderSize = 12

// DefaultMaxPayload bounds a single framed payload.
const DefaultMaxPayload = streamdec.DefaultMaxBitstreamBytes

var (
	// ErrUnknownType means the type tag is not a known stream type. The
	// payload has been consumed and the reader stays aligned.
	ErrUnknownType = errors.New("unknown stream type")
	// ErrPayloadTooLarge means the length field exceeds the payload limit.
	// The stream cannot be resynchronized.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Packet is one framed payload.
type Packet struct {
	Type      streamdec.StreamType
	Timestamp uint32
	Payload   []byte
}

// Reader reads framed packets, reusing one payload buffer.
type Reader struct {
	r          io.Reader
	hdr        [HeaderSize]byte
	buf        []byte
	maxPayload int
}

// NewReader creates a reader. maxPayload <= 0 selects DefaultMaxPayload.
func NewReader(r io.Reader, maxPayload int) *Reader {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Reader{r: r, maxPayload: maxPayload}
}

// Next reads one packet. The payload is only valid until the next call.
// A clean end of stream between packets yields io.EOF; a stream cut inside a
// packet yields io.ErrUnexpectedEOF.
func (r *Reader) Next() (Packet, error) {
	if _, err := io.ReadFull(r.r, r.hdr[:]); err != nil {
		return Packet{}, err
	}
	pkt := Packet{
		Type:      streamdec.StreamType(binary.LittleEndian.Uint32(r.hdr[0:4])),
		Timestamp: binary.LittleEndian.Uint32(r.hdr[4:8]),
	}
	n := binary.LittleEndian.Uint32(r.hdr[8:12])
	if uint64(n) > uint64(r.maxPayload) {
		return Packet{}, fmt.Errorf("%w: %d bytes (limit %d)", ErrPayloadTooLarge, n, r.maxPayload)
	}

	if cap(r.buf) < int(n) {
		r.buf = make([]byte, n)
	}
	r.buf = r.buf[:n]
	if _, err := io.ReadFull(r.r, r.buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Packet{}, err
	}
	pkt.Payload = r.buf

	if pkt.Type.Codec() == streamdec.VideoCodecUnknown {
		return pkt, fmt.Errorf("%w: tag %d", ErrUnknownType, uint32(pkt.Type))
	}
	return pkt, nil
}

// ReadPacket reads one packet into a freshly allocated payload.
func ReadPacket(r io.Reader, maxPayload int) (Packet, error) {
	pkt, err := NewReader(r, maxPayload).Next()
	if pkt.Payload != nil {
		pkt.Payload = append([]byte(nil), pkt.Payload...)
	}
	return pkt, err
}

// WritePacket writes one framed packet.
func WritePacket(w io.Writer, pkt Packet) error {
	if uint64(len(pkt.Payload)) > uint64(^uint32(0)) {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(pkt.Payload))
	}
	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(pkt.Type))
	binary.LittleEndian.PutUint32(hdr[4:8], pkt.Timestamp)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(pkt.Payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(pkt.Payload)
	return err
}
