package sink

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"github.com/thesyncim/streamdec"
)

// PNG writes every n-th frame to dir as frame-<seq>.png.
type PNG struct {
	dir      string
	every    int
	maxWidth int

	seq     int
	written int
	scaled  *image.RGBA
}

// NewPNG creates the output directory if needed.
func NewPNG(dir string, every, maxWidth int) (*PNG, error) {
	if dir == "" {
		return nil, errors.New("png sink needs an output directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create png output: %w", err)
	}
	if every <= 0 {
		every = 1
	}
	return &PNG{dir: dir, every: every, maxWidth: maxWidth}, nil
}

// WriteFrame implements Sink.
func (p *PNG) WriteFrame(ctx context.Context, frame *streamdec.FrameBuffer) error {
	seq := p.seq
	p.seq++
	if seq%p.every != 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	img, err := Image(frame)
	if err != nil {
		return err
	}
	if p.maxWidth > 0 && frame.Width > p.maxWidth {
		img = p.downscale(img)
	}

	path := filepath.Join(p.dir, fmt.Sprintf("frame-%06d.png", seq))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode png: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	p.written++
	return nil
}

// downscale fits img into maxWidth, keeping the aspect ratio. The target
// image is reused while the size holds.
func (p *PNG) downscale(img image.Image) image.Image {
	b := img.Bounds()
	w := p.maxWidth
	h := max(1, b.Dy()*w/b.Dx())
	if p.scaled == nil || p.scaled.Bounds().Dx() != w || p.scaled.Bounds().Dy() != h {
		p.scaled = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	draw.CatmullRom.Scale(p.scaled, p.scaled.Bounds(), img, b, draw.Src, nil)
	return p.scaled
}

// Written returns the number of images written.
func (p *PNG) Written() int { return p.written }

// Close implements Sink.
func (p *PNG) Close() error { return nil }
