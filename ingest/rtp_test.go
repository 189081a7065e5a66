package ingest

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesyncim/streamdec"
	"github.com/thesyncim/streamdec/internal/h264test"
)

func rtpPacket(ts uint32, seq uint16, marker bool, payload []byte) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           0x1234,
			Marker:         marker,
		},
		Payload: payload,
	}
}

// stapA aggregates NAL units into one STAP-A payload.
func stapA(nalus ...[]byte) []byte {
	out := []byte{0x78} // NRI 3, type 24
	for _, n := range nalus {
		out = append(out, byte(len(n)>>8), byte(len(n)))
		out = append(out, n...)
	}
	return out
}

// fuA splits nalu into FU-A fragments of at most size payload bytes.
func fuA(nalu []byte, size int) [][]byte {
	hdr := nalu[0]
	body := nalu[1:]
	var out [][]byte
	for off := 0; off < len(body); off += size {
		end := min(off+size, len(body))
		fu := hdr & 0x1F
		if off == 0 {
			fu |= 0x80
		}
		if end == len(body) {
			fu |= 0x40
		}
		out = append(out, append([]byte{hdr&0xE0 | nalTypeFUA, fu}, body[off:end]...))
	}
	return out
}

func TestH264Depacketizer(t *testing.T) {
	sps := h264test.SPS(320, 240)
	pps := h264test.PPS()
	idr := append(h264test.IDRSlice(1), make([]byte, 40)...)
	p := h264test.PSlice(2)

	tests := []struct {
		name     string
		packets  []*rtp.Packet
		want     []byte
		keyframe bool
	}{
		{
			name: "single NAL units",
			packets: []*rtp.Packet{
				rtpPacket(3000, 1, false, sps),
				rtpPacket(3000, 2, false, pps),
				rtpPacket(3000, 3, true, idr),
			},
			want:     h264test.AnnexB(sps, pps, idr),
			keyframe: true,
		},
		{
			name: "STAP-A then FU-A",
			packets: func() []*rtp.Packet {
				pkts := []*rtp.Packet{rtpPacket(6000, 1, false, stapA(sps, pps))}
				frags := fuA(idr, 16)
				for i, f := range frags {
					pkts = append(pkts, rtpPacket(6000, uint16(2+i), i == len(frags)-1, f))
				}
				return pkts
			}(),
			want:     h264test.AnnexB(sps, pps, idr),
			keyframe: true,
		},
		{
			name:    "delta frame",
			packets: []*rtp.Packet{rtpPacket(9000, 1, true, p)},
			want:    h264test.AnnexB(p),
		},
		{
			name: "timestamp change drops partial unit",
			packets: []*rtp.Packet{
				rtpPacket(100, 1, false, idr),
				rtpPacket(200, 2, true, p),
			},
			want: h264test.AnnexB(p),
		},
		{
			name: "FU-A without start is ignored",
			packets: append(
				[]*rtp.Packet{rtpPacket(300, 1, false, fuA(idr, 16)[1])},
				rtpPacket(300, 2, true, p),
			),
			want: h264test.AnnexB(p),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewH264Depacketizer()
			var got *AccessUnit
			for i, pkt := range tt.packets {
				au, err := d.Depacketize(pkt)
				require.NoError(t, err)
				if i < len(tt.packets)-1 {
					require.Nil(t, au, "unit emitted before the marker")
				}
				got = au
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Data)
			assert.Equal(t, tt.keyframe, got.Keyframe)
			assert.Equal(t, tt.packets[len(tt.packets)-1].Timestamp, got.Timestamp)
		})
	}
}

func TestH264Depacketizer_Errors(t *testing.T) {
	d := NewH264Depacketizer()

	_, err := d.Depacketize(rtpPacket(1, 1, true, []byte{0x1E, 0})) // type 30
	assert.Error(t, err)

	_, err = d.Depacketize(rtpPacket(1, 2, true, []byte{0x1C})) // FU-A header only
	assert.Error(t, err)

	_, err = d.Depacketize(rtpPacket(1, 3, true, []byte{0x18, 0x00, 0x09, 0x65})) // STAP-A overrun
	assert.Error(t, err)

	au, err := d.Depacketize(rtpPacket(1, 4, true, nil))
	assert.NoError(t, err)
	assert.Nil(t, au)

	_, err = d.DepacketizeBytes([]byte{0x80})
	assert.Error(t, err)
}

func TestH264Depacketizer_Bytes(t *testing.T) {
	raw, err := rtpPacket(42, 1, true, h264test.PSlice(3)).Marshal()
	require.NoError(t, err)

	au, err := NewH264Depacketizer().DepacketizeBytes(raw)
	require.NoError(t, err)
	require.NotNil(t, au)
	assert.Equal(t, h264test.DeltaFrame(3), au.Data)
}

func TestRTPReceiver(t *testing.T) {
	r := NewRTPReceiver(RTPConfig{Addr: "127.0.0.1:0", PayloadType: 96, RecvBufferBytes: -1})
	require.NoError(t, r.Listen())
	addr := r.LocalAddr().String()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := newRecorder()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, rec) }()

	conn, err := net.Dial("udp", addr)
	require.NoError(t, err)
	defer conn.Close()

	send := func(p *rtp.Packet) {
		raw, err := p.Marshal()
		require.NoError(t, err)
		_, err = conn.Write(raw)
		require.NoError(t, err)
	}

	key := h264test.Keyframe(320, 240, 1)
	units := streamdec.SplitAnnexB(key)
	for i, u := range units {
		send(rtpPacket(3000, uint16(i), i == len(units)-1, key[u.Start:u.End]))
	}
	other := rtpPacket(3000, 9, true, h264test.PSlice(5))
	other.PayloadType = 97 // filtered out
	send(other)
	send(rtpPacket(6000, 10, true, h264test.PSlice(2)))

	got := waitPackets(t, rec, 2)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("receiver did not stop")
	}

	assert.Equal(t, streamdec.StreamTypeH264, got[0].Type)
	assert.Equal(t, key, got[0].Payload)
	assert.Equal(t, uint32(6000), got[1].Timestamp)
	assert.Equal(t, h264test.DeltaFrame(2), got[1].Payload)

	connects, _, packets := rec.snapshot()
	assert.Equal(t, 1, connects)
	assert.Len(t, packets, 2)
}
