package sink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/thesyncim/streamdec"
)

// RawFile appends frames back to back, as ffplay -f rawvideo reads them.
// Every frame must keep the geometry of the first one.
type RawFile struct {
	f *os.File
	w *bufio.Writer

	width, height int
	format        streamdec.PixelFormat
	frames        int
}

// NewRawFile creates or truncates path.
func NewRawFile(path string) (*RawFile, error) {
	if path == "" {
		return nil, errors.New("raw sink needs an output path")
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create raw output: %w", err)
	}
	return &RawFile{f: f, w: bufio.NewWriterSize(f, 1<<20)}, nil
}

// WriteFrame implements Sink.
func (r *RawFile) WriteFrame(ctx context.Context, frame *streamdec.FrameBuffer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.frames == 0 {
		r.width, r.height, r.format = frame.Width, frame.Height, frame.Format
	} else if frame.Width != r.width || frame.Height != r.height || frame.Format != r.format {
		return fmt.Errorf("raw sink: frame %dx%d %s after %dx%d %s",
			frame.Width, frame.Height, frame.Format, r.width, r.height, r.format)
	}
	if _, err := r.w.Write(frame.Data[:frame.Size()]); err != nil {
		return err
	}
	r.frames++
	return nil
}

// Frames returns the number of frames written.
func (r *RawFile) Frames() int { return r.frames }

// Close flushes and closes the file.
func (r *RawFile) Close() error {
	return errors.Join(r.w.Flush(), r.f.Close())
}
