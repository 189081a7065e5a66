package sink

import (
	"fmt"
	"image"

	"github.com/thesyncim/streamdec"
)

// Image wraps or copies a frame into an image.Image. RGBA32 and I420 frames
// share the frame's memory; other layouts are copied.
func Image(frame *streamdec.FrameBuffer) (image.Image, error) {
	w, h := frame.Width, frame.Height
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("empty frame %dx%d", w, h)
	}
	if len(frame.Data) < frame.Size() {
		return nil, fmt.Errorf("%w: frame data %d < %d", streamdec.ErrBufferTooSmall, len(frame.Data), frame.Size())
	}
	rect := image.Rect(0, 0, w, h)

	switch frame.Format {
	case streamdec.PixelFormatRGBA32:
		return &image.RGBA{Pix: frame.Data[:frame.Size()], Stride: w * 4, Rect: rect}, nil

	case streamdec.PixelFormatBGRA32, streamdec.PixelFormatRGB24, streamdec.PixelFormatBGR24:
		return packedToRGBA(frame), nil

	case streamdec.PixelFormatI420:
		planes := frame.Planes()
		return &image.YCbCr{
			Y:              planes[0],
			Cb:             planes[1],
			Cr:             planes[2],
			YStride:        w,
			CStride:        (w + 1) / 2,
			SubsampleRatio: image.YCbCrSubsampleRatio420,
			Rect:           rect,
		}, nil

	case streamdec.PixelFormatNV12:
		img := image.NewYCbCr(rect, image.YCbCrSubsampleRatio420)
		planes := frame.Planes()
		copy(img.Y, planes[0])
		for i := range img.Cb {
			img.Cb[i] = planes[1][2*i]
			img.Cr[i] = planes[1][2*i+1]
		}
		return img, nil
	}
	return nil, fmt.Errorf("%w: %s frames", streamdec.ErrNotSupported, frame.Format)
}

func packedToRGBA(frame *streamdec.FrameBuffer) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	bpp := frame.Format.BytesPerPixel()
	src := frame.Data
	dst := img.Pix
	for i, j := 0, 0; j < len(dst); i, j = i+bpp, j+4 {
		switch frame.Format {
		case streamdec.PixelFormatRGB24:
			dst[j], dst[j+1], dst[j+2], dst[j+3] = src[i], src[i+1], src[i+2], 0xFF
		case streamdec.PixelFormatBGR24:
			dst[j], dst[j+1], dst[j+2], dst[j+3] = src[i+2], src[i+1], src[i], 0xFF
		case streamdec.PixelFormatBGRA32:
			dst[j], dst[j+1], dst[j+2], dst[j+3] = src[i+2], src[i+1], src[i], src[i+3]
		}
	}
	return img
}
