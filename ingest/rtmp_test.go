package ingest

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	rtmpmsg "github.com/yutopp/go-rtmp/message"

	"github.com/thesyncim/streamdec"
	"github.com/thesyncim/streamdec/internal/h264test"
)

// decConfRecord builds an AVCDecoderConfigurationRecord for a Baseline stream.
func decConfRecord(sps, pps []byte) []byte {
	rec := []byte{1, sps[1], sps[2], sps[3], 0xFF, 0xE1}
	rec = append(rec, byte(len(sps)>>8), byte(len(sps)))
	rec = append(rec, sps...)
	rec = append(rec, 1, byte(len(pps)>>8), byte(len(pps)))
	return append(rec, pps...)
}

// avcc length-prefixes NAL units with 4-byte sizes.
func avcc(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, byte(len(n)>>24), byte(len(n)>>16), byte(len(n)>>8), byte(len(n)))
		out = append(out, n...)
	}
	return out
}

func flvVideo(key bool, avcType byte, body []byte) []byte {
	first := byte(2<<4 | flvCodecAVC)
	if key {
		first = 1<<4 | flvCodecAVC
	}
	return append([]byte{first, avcType, 0, 0, 0}, body...)
}

type tcpAddr string

func (a tcpAddr) Network() string { return "tcp" }
func (a tcpAddr) String() string  { return string(a) }

func runningRTMPServer(h Handler, key string) *RTMPServer {
	s := NewRTMPServer(RTMPConfig{Addr: "127.0.0.1:0", StreamKey: key})
	s.ctx, s.h = context.Background(), h
	return s
}

func publish(t *testing.T, c *rtmpConn, name string) error {
	t.Helper()
	return c.OnPublish(nil, 0, &rtmpmsg.NetStreamPublish{PublishingName: name, PublishingType: "live"})
}

func TestRTMPConn_VideoTags(t *testing.T) {
	sps := h264test.SPS(640, 360)
	pps := h264test.PPS()
	idr := h264test.IDRSlice(1)
	p := h264test.PSlice(2)

	rec := newRecorder()
	s := runningRTMPServer(rec, "")
	c := s.newConn(tcpAddr("10.0.0.2:50000"))
	require.NoError(t, publish(t, c, "live"))

	// NAL units before the sequence header are dropped.
	require.NoError(t, c.OnVideo(0, bytes.NewReader(flvVideo(false, flvAVCNALU, avcc(p)))))
	// Non-AVC codec and short tags are ignored.
	require.NoError(t, c.OnVideo(0, bytes.NewReader([]byte{0x12, 0, 0, 0, 0, 1})))
	require.NoError(t, c.OnVideo(0, bytes.NewReader([]byte{0x17, 1})))

	require.NoError(t, c.OnVideo(0, bytes.NewReader(flvVideo(true, flvAVCSeqHeader, decConfRecord(sps, pps)))))
	require.NoError(t, c.OnVideo(40, bytes.NewReader(flvVideo(true, flvAVCNALU, avcc(idr)))))
	require.NoError(t, c.OnVideo(80, bytes.NewReader(flvVideo(false, flvAVCNALU, avcc(p)))))
	// Later keyframes still carry the parameter sets intact.
	idr2 := h264test.IDRSlice(3)
	require.NoError(t, c.OnVideo(120, bytes.NewReader(flvVideo(true, flvAVCNALU, avcc(idr2)))))

	_, _, pkts := rec.snapshot()
	require.Len(t, pkts, 4)

	assert.Equal(t, h264test.AnnexB(sps, pps), pkts[0].Payload, "sequence header")
	assert.Equal(t, h264test.AnnexB(sps, pps, idr), pkts[1].Payload, "keyframe carries parameter sets")
	assert.Equal(t, uint32(40*90), pkts[1].Timestamp)
	assert.Equal(t, h264test.AnnexB(p), pkts[2].Payload)
	assert.Equal(t, h264test.AnnexB(sps, pps, idr2), pkts[3].Payload)
	for _, pkt := range pkts {
		assert.Equal(t, streamdec.StreamTypeH264, pkt.Type)
	}

	params, _, err := streamdec.ParseStreamParams(pkts[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, 640, params.Width)
	assert.Equal(t, 360, params.Height)
}

func TestRTMPConn_MalformedSequenceHeaderDropped(t *testing.T) {
	rec := newRecorder()
	s := runningRTMPServer(rec, "")
	c := s.newConn(tcpAddr("10.0.0.2:50000"))
	require.NoError(t, publish(t, c, "live"))

	require.NoError(t, c.OnVideo(0, bytes.NewReader(flvVideo(true, flvAVCSeqHeader, []byte{1, 66}))))
	_, _, pkts := rec.snapshot()
	assert.Empty(t, pkts)
}

func TestRTMPServer_SinglePublisher(t *testing.T) {
	rec := newRecorder()
	s := runningRTMPServer(rec, "")

	a := s.newConn(tcpAddr("10.0.0.2:1"))
	b := s.newConn(tcpAddr("10.0.0.3:1"))

	require.NoError(t, publish(t, a, "live"))
	assert.ErrorIs(t, publish(t, b, "live"), ErrStreamBusy)

	// b is not publishing: its tags and close are ignored.
	sps, pps := h264test.SPS(320, 240), h264test.PPS()
	require.NoError(t, b.OnVideo(0, bytes.NewReader(flvVideo(true, flvAVCSeqHeader, decConfRecord(sps, pps)))))
	b.OnClose()

	a.OnClose()
	require.NoError(t, publish(t, b, "live"))
	b.OnClose()

	connects, disconnects, pkts := rec.snapshot()
	assert.Equal(t, 2, connects)
	assert.Equal(t, []error{nil, nil}, disconnects)
	assert.Empty(t, pkts)
}

func TestRTMPServer_StreamKey(t *testing.T) {
	rec := newRecorder()
	s := runningRTMPServer(rec, "secret")

	assert.Error(t, publish(t, s.newConn(tcpAddr("10.0.0.2:1")), "guess"))
	assert.NoError(t, publish(t, s.newConn(tcpAddr("10.0.0.2:2")), "secret"))

	connects, _, _ := rec.snapshot()
	assert.Equal(t, 1, connects)
}

func TestRTMPServer_HandlerErrorReported(t *testing.T) {
	boom := errors.New("decode failed")
	rec := newRecorder()
	rec.failOn = 1
	rec.failErr = boom
	s := runningRTMPServer(rec, "")

	c := s.newConn(tcpAddr("10.0.0.2:1"))
	require.NoError(t, publish(t, c, "live"))
	sps, pps := h264test.SPS(320, 240), h264test.PPS()
	err := c.OnVideo(0, bytes.NewReader(flvVideo(true, flvAVCSeqHeader, decConfRecord(sps, pps))))
	require.ErrorIs(t, err, boom)
	c.OnClose()

	_, disconnects, _ := rec.snapshot()
	require.Len(t, disconnects, 1)
	assert.ErrorIs(t, disconnects[0], boom)
}

func TestRTMPServer_RunStopsOnCancel(t *testing.T) {
	s := NewRTMPServer(RTMPConfig{Addr: "127.0.0.1:0"})
	require.NoError(t, s.Listen())
	addr := s.LocalAddr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, newRecorder()) }()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	conn.Close()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRTMPServer_RunCancelledBeforeServe(t *testing.T) {
	s := NewRTMPServer(RTMPConfig{Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, newRecorder()) }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return for a cancelled context")
	}
}
