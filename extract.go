package streamdec

import "fmt"

// Extractor copies decoded surfaces into caller buffers in the requested
// layout, scaling when the buffer asks for a different size. Scaling scratch
// is kept between calls and only reallocated when the geometry changes.
type Extractor struct {
	conv   *Converter
	mode   ScaleMode
	scaler *VideoScaler
}

// NewExtractor creates an extractor converting with matrix and scaling with mode.
func NewExtractor(matrix YCbCrMatrix, mode ScaleMode) *Extractor {
	return &Extractor{conv: NewConverter(matrix), mode: mode}
}

// Converter returns the colour converter in use.
func (e *Extractor) Converter() *Converter { return e.conv }

// Extract writes the visible area of s into out using the layout selected by
// opt. When out already has a size, the frame is scaled to it; a zero-sized
// out takes the surface size. out.Data is only allocated when it is nil; an
// existing buffer that is too small yields ErrBufferTooSmall and is left as is.
func (e *Extractor) Extract(s *Surface, out *FrameBuffer, opt ConvertOption) error {
	if s == nil {
		return fmt.Errorf("%w: nil surface", ErrCodec)
	}
	if out == nil {
		return fmt.Errorf("%w: nil output buffer", ErrBufferTooSmall)
	}
	format, ok := opt.Format()
	if !ok {
		return fmt.Errorf("%w: conversion option %d", ErrNotSupported, int(opt))
	}

	w, h := s.Width, s.Height
	if out.Width > 0 && out.Height > 0 {
		w, h = out.Width, out.Height
	}
	if size := format.FrameSize(w, h); cap(out.Data) < size && out.Data != nil {
		return fmt.Errorf("%w: %s %dx%d needs %d bytes, have %d",
			ErrBufferTooSmall, format, w, h, size, cap(out.Data))
	}
	out.Resize(w, h, format)

	y, yStride, uv, uvStride := s.Y, s.Pitch, s.UV, s.Pitch
	if w != s.Width || h != s.Height {
		if e.scaler == nil || !e.scaler.Matches(s.Width, s.Height, w, h, e.mode) {
			e.scaler = NewVideoScaler(s.Width, s.Height, w, h, e.mode)
		}
		y, yStride, uv, uvStride = e.scaler.ScaleSurface(s)
	}

	switch format {
	case PixelFormatNV12:
		planes := out.Planes()
		CopyPlane(planes[0], w, y, yStride, w, h)
		cw := ((w + 1) / 2) * 2
		CopyPlane(planes[1], cw, uv, uvStride, cw, (h+1)/2)
	case PixelFormatI420:
		planes := out.Planes()
		SemiPlanarToI420(planes[0], planes[1], planes[2], w, (w+1)/2,
			y, yStride, uv, uvStride, ChromaUV, w, h)
	default:
		if err := e.conv.SemiPlanarToPacked(out.Data, out.Stride, format,
			y, yStride, uv, uvStride, ChromaUV, w, h); err != nil {
			return err
		}
	}
	out.TimestampNs = s.TimestampNs
	return nil
}
