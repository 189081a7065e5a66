package ingest

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesyncim/streamdec"
	"github.com/thesyncim/streamdec/internal/h264test"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestDetectFileFormat(t *testing.T) {
	tests := []struct {
		name string
		file string
		head []byte
		want FileFormat
	}{
		{"mp4 extension", "clip.MP4", nil, FileMP4},
		{"h264 extension", "clip.h264", nil, FileAnnexB},
		{"ftyp box", "clip.bin", []byte{0, 0, 0, 0x20, 'f', 't', 'y', 'p'}, FileMP4},
		{"4-byte start code", "clip.bin", []byte{0, 0, 0, 1, 0x67}, FileAnnexB},
		{"3-byte start code", "clip.bin", []byte{0, 0, 1, 0x67}, FileAnnexB},
		{"framed", "clip.bin", []byte{1, 0, 0, 0, 0, 0, 0, 0}, FileFramed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFileFormat(tt.file, tt.head))
		})
	}
}

func TestParseFileFormat(t *testing.T) {
	for name, want := range map[string]FileFormat{
		"": FileAuto, "auto": FileAuto, "Framed": FileFramed, "annexb": FileAnnexB, "h264": FileAnnexB, "mp4": FileMP4,
	} {
		got, ok := ParseFileFormat(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got, name)

		again, ok := ParseFileFormat(want.String())
		assert.True(t, ok)
		assert.Equal(t, want, again, "String round trips")
	}
	_, ok := ParseFileFormat("mkv")
	assert.False(t, ok)
}

func TestFileSource_AnnexB(t *testing.T) {
	stream := append(h264test.Keyframe(320, 240, 1), h264test.DeltaFrame(2)...)
	stream = append(stream, h264test.DeltaFrame(3)...)
	path := writeFile(t, "clip.h264", stream)

	rec := newRecorder()
	require.NoError(t, NewFileSource(FileConfig{Path: path}).Run(context.Background(), rec))

	connects, disconnects, pkts := rec.snapshot()
	assert.Equal(t, 1, connects)
	assert.Equal(t, []error{nil}, disconnects)
	require.Len(t, pkts, 3)
	assert.Equal(t, h264test.Keyframe(320, 240, 1), pkts[0].Payload)
	assert.Equal(t, h264test.DeltaFrame(2), pkts[1].Payload)
	assert.Equal(t, h264test.DeltaFrame(3), pkts[2].Payload)
	assert.Equal(t, []uint32{0, frameTicks, 2 * frameTicks}, []uint32{pkts[0].Timestamp, pkts[1].Timestamp, pkts[2].Timestamp})
}

func TestFileSource_Framed(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePacket(&buf, Packet{Type: streamdec.StreamTypeH264, Timestamp: 10, Payload: h264test.Header(320, 240)}))
	require.NoError(t, WritePacket(&buf, Packet{Type: 5, Payload: []byte{1}}))
	require.NoError(t, WritePacket(&buf, Packet{Type: streamdec.StreamTypeH264, Timestamp: 20, Payload: h264test.DeltaFrame(1)}))
	path := writeFile(t, "capture.bin", buf.Bytes())

	rec := newRecorder()
	src := NewFileSource(FileConfig{Path: path, Interval: time.Millisecond})
	require.NoError(t, src.Run(context.Background(), rec))

	_, _, pkts := rec.snapshot()
	require.Len(t, pkts, 2)
	assert.Equal(t, uint32(10), pkts[0].Timestamp)
	assert.Equal(t, uint32(20), pkts[1].Timestamp)
}

func TestFileSource_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		err := NewFileSource(FileConfig{Path: filepath.Join(t.TempDir(), "none.h264")}).Run(context.Background(), newRecorder())
		assert.Error(t, err)
	})
	t.Run("not an mp4", func(t *testing.T) {
		path := writeFile(t, "clip.mp4", []byte("definitely not boxes"))
		rec := newRecorder()
		err := NewFileSource(FileConfig{Path: path}).Run(context.Background(), rec)
		require.Error(t, err)
		_, disconnects, _ := rec.snapshot()
		require.Len(t, disconnects, 1)
		assert.Error(t, disconnects[0])
	})
	t.Run("cancelled", func(t *testing.T) {
		path := writeFile(t, "clip.h264", h264test.Keyframe(320, 240, 1))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := NewFileSource(FileConfig{Path: path}).Run(ctx, newRecorder())
		assert.ErrorIs(t, err, context.Canceled)
	})
}
