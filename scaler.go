package streamdec

// ScaleMode defines how scaling should handle aspect ratio mismatches.
type ScaleMode int

const (
	// ScaleModeStretch scales to exactly match target dimensions (may distort).
	ScaleModeStretch ScaleMode = iota
	// ScaleModeFit scales to fit within target dimensions, preserving aspect ratio (letterboxed).
	ScaleModeFit
	// ScaleModeFill scales to fill target dimensions, preserving aspect ratio (may crop).
	ScaleModeFill
)

func (m ScaleMode) String() string {
	switch m {
	case ScaleModeStretch:
		return "stretch"
	case ScaleModeFit:
		return "fit"
	case ScaleModeFill:
		return "fill"
	default:
		return "unknown"
	}
}

// ParseScaleMode maps a mode name to its ScaleMode.
func ParseScaleMode(name string) (ScaleMode, bool) {
	for m := ScaleModeStretch; m <= ScaleModeFill; m++ {
		if m.String() == name {
			return m, true
		}
	}
	return ScaleModeStretch, false
}

// VideoScaler scales NV12 surfaces to a fixed output size.
type VideoScaler struct {
	srcWidth, srcHeight int
	dstWidth, dstHeight int
	mode                ScaleMode

	// Pre-allocated output planes
	outY, outUV []byte
	uvStride    int
}

// NewVideoScaler creates a new scaler for the given dimensions.
func NewVideoScaler(srcWidth, srcHeight, dstWidth, dstHeight int, mode ScaleMode) *VideoScaler {
	uvStride := ((dstWidth + 1) / 2) * 2
	return &VideoScaler{
		srcWidth:  srcWidth,
		srcHeight: srcHeight,
		dstWidth:  dstWidth,
		dstHeight: dstHeight,
		mode:      mode,
		outY:      make([]byte, dstWidth*dstHeight),
		outUV:     make([]byte, uvStride*((dstHeight+1)/2)),
		uvStride:  uvStride,
	}
}

// Matches reports whether the scaler was built for this geometry.
func (s *VideoScaler) Matches(srcWidth, srcHeight, dstWidth, dstHeight int, mode ScaleMode) bool {
	return s.srcWidth == srcWidth && s.srcHeight == srcHeight &&
		s.dstWidth == dstWidth && s.dstHeight == dstHeight && s.mode == mode
}

// ScaleSurface scales the visible area of src and returns the scaled NV12
// planes with their strides. The planes are reused by the next call.
func (s *VideoScaler) ScaleSurface(src *Surface) (y []byte, yStride int, uv []byte, uvStride int) {
	return s.ScalePlanes(src.Y, src.Pitch, src.UV, src.Pitch, src.Width, src.Height)
}

// ScalePlanes scales an NV12 image given as strided planes.
func (s *VideoScaler) ScalePlanes(srcY []byte, srcYStride int, srcUV []byte, srcUVStride int,
	width, height int) (y []byte, yStride int, uv []byte, uvStride int) {

	srcX, srcYOff, srcW, srcH := s.calculateSourceRegion(width, height)
	dstX, dstY, dstW, dstH := s.calculateDestRegion(width, height)

	if dstW != s.dstWidth || dstH != s.dstHeight {
		// Letterbox: black luma, neutral chroma.
		for i := range s.outY {
			s.outY[i] = 16
		}
		for i := range s.outUV {
			s.outUV[i] = 128
		}
	}

	// Scale Y plane
	s.scalePlane(srcY, srcYStride, srcX, srcYOff, srcW, srcH,
		s.outY[dstY*s.dstWidth+dstX:], s.dstWidth, dstW, dstH, 1)

	// Scale interleaved UV plane (half resolution, two channels)
	s.scalePlane(srcUV, srcUVStride, srcX/2, srcYOff/2, (srcW+1)/2, (srcH+1)/2,
		s.outUV[(dstY/2)*s.uvStride+(dstX/2)*2:], s.uvStride, (dstW+1)/2, (dstH+1)/2, 2)

	return s.outY, s.dstWidth, s.outUV, s.uvStride
}

// calculateSourceRegion determines what region of the source to use based on scale mode.
func (s *VideoScaler) calculateSourceRegion(srcW, srcH int) (x, y, w, h int) {
	if s.mode != ScaleModeFill {
		return 0, 0, srcW, srcH
	}

	// Crop source to match target aspect ratio
	srcAspect := float64(srcW) / float64(srcH)
	dstAspect := float64(s.dstWidth) / float64(s.dstHeight)

	if srcAspect > dstAspect {
		// Source is wider, crop horizontally
		newW := int(float64(srcH) * dstAspect)
		return ((srcW - newW) / 2) &^ 1, 0, newW, srcH
	} else if srcAspect < dstAspect {
		// Source is taller, crop vertically
		newH := int(float64(srcW) / dstAspect)
		return 0, ((srcH - newH) / 2) &^ 1, srcW, newH
	}
	return 0, 0, srcW, srcH
}

// calculateDestRegion determines where in the output the image lands.
func (s *VideoScaler) calculateDestRegion(srcW, srcH int) (x, y, w, h int) {
	if s.mode != ScaleModeFit {
		return 0, 0, s.dstWidth, s.dstHeight
	}
	w, h = CalculateScaledSize(srcW, srcH, s.dstWidth, s.dstHeight, ScaleModeFit)
	if w > s.dstWidth {
		w = s.dstWidth
	}
	if h > s.dstHeight {
		h = s.dstHeight
	}
	return ((s.dstWidth - w) / 2) &^ 1, ((s.dstHeight - h) / 2) &^ 1, w, h
}

// scalePlane scales a single plane of interleaved channels using bilinear interpolation.
func (s *VideoScaler) scalePlane(src []byte, srcStride, srcX, srcY, srcW, srcH int,
	dst []byte, dstStride, dstW, dstH, channels int) {

	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return
	}

	// Fixed-point scaling factors (16.16)
	xRatio := (srcW << 16) / dstW
	yRatio := (srcH << 16) / dstH

	for y := 0; y < dstH; y++ {
		// Source Y coordinate in fixed-point
		srcYFP := y * yRatio
		srcYInt := srcYFP >> 16
		yWeight := srcYFP & 0xFFFF

		// Clamp to valid range
		y0 := srcYInt + srcY
		y1 := y0 + 1
		if y1 >= srcY+srcH {
			y1 = y0
		}
		row0 := y0 * srcStride
		row1 := y1 * srcStride

		for x := 0; x < dstW; x++ {
			// Source X coordinate in fixed-point
			srcXFP := x * xRatio
			srcXInt := srcXFP >> 16
			xWeight := srcXFP & 0xFFFF

			x0 := srcXInt + srcX
			x1 := x0 + 1
			if x1 >= srcX+srcW {
				x1 = x0
			}
			x0 *= channels
			x1 *= channels

			for c := 0; c < channels; c++ {
				// Get four surrounding samples
				p00 := int(src[row0+x0+c])
				p10 := int(src[row0+x1+c])
				p01 := int(src[row1+x0+c])
				p11 := int(src[row1+x1+c])

				// Interpolate horizontally, then vertically
				top := (p00*(0x10000-xWeight) + p10*xWeight) >> 16
				bottom := (p01*(0x10000-xWeight) + p11*xWeight) >> 16
				dst[y*dstStride+x*channels+c] = byte((top*(0x10000-yWeight) + bottom*yWeight) >> 16)
			}
		}
	}
}

// CalculateScaledSize returns the output dimensions when scaling with a given mode.
// This is useful for determining letterbox dimensions in ScaleModeFit.
func CalculateScaledSize(srcW, srcH, maxW, maxH int, mode ScaleMode) (w, h int) {
	if mode != ScaleModeFit || srcW <= 0 || srcH <= 0 {
		return maxW, maxH
	}

	srcAspect := float64(srcW) / float64(srcH)
	dstAspect := float64(maxW) / float64(maxH)

	if srcAspect > dstAspect {
		// Source is wider, fit to width
		w = maxW
		h = int(float64(maxW) / srcAspect)
	} else {
		// Source is taller, fit to height
		h = maxH
		w = int(float64(maxH) * srcAspect)
	}
	// Ensure even dimensions for YUV
	w = (w + 1) &^ 1
	h = (h + 1) &^ 1
	return w, h
}
