package streamdec

import (
	"fmt"

	"github.com/Eyevinn/mp4ff/avc"
)

// StreamParams describes a decoded stream. Width and Height are the display
// (cropped) size; CodedWidth and CodedHeight are macroblock aligned.
type StreamParams struct {
	Width       int         `yaml:"width"`
	Height      int         `yaml:"height"`
	CodedWidth  int         `yaml:"coded_width"`
	CodedHeight int         `yaml:"coded_height"`
	Format      PixelFormat `yaml:"-"`
	Profile     H264Profile `yaml:"-"`
	ProfileIDC  int         `yaml:"profile_idc"`
	Level       int         `yaml:"level"`
}

// SameGeometry reports whether o needs the same surfaces as p.
func (p StreamParams) SameGeometry(o StreamParams) bool {
	return p.Width == o.Width && p.Height == o.Height &&
		p.CodedWidth == o.CodedWidth && p.CodedHeight == o.CodedHeight
}

// Valid reports whether the parameters describe a decodable frame size.
func (p StreamParams) Valid() bool {
	return p.Width > 0 && p.Height > 0
}

func (p StreamParams) String() string {
	return fmt.Sprintf("%dx%d %s profile=%s level=%d", p.Width, p.Height, p.Format, p.Profile, p.Level)
}

// ParseSPS resolves stream parameters from one SPS NAL unit (header included).
func ParseSPS(nalu []byte) (StreamParams, error) {
	if len(nalu) == 0 || nalu[0]&0x1F != NALTypeSPS {
		return StreamParams{}, fmt.Errorf("%w: not an SPS NAL unit", ErrHeader)
	}
	// header, profile_idc, constraint flags, level_idc and at least one ue(v) byte
	if len(nalu) < 5 {
		return StreamParams{}, fmt.Errorf("%w: SPS of %d bytes", ErrHeader, len(nalu))
	}
	sps, err := avc.ParseSPSNALUnit(nalu, false)
	if err != nil {
		return StreamParams{}, fmt.Errorf("%w: %v", ErrHeader, err)
	}
	cropX, cropY := cropUnits(sps)
	params := StreamParams{
		Width:       int(sps.Width),
		Height:      int(sps.Height),
		CodedWidth:  int(sps.Width + (sps.FrameCropLeftOffset+sps.FrameCropRightOffset)*cropX),
		CodedHeight: int(sps.Height + (sps.FrameCropTopOffset+sps.FrameCropBottomOffset)*cropY),
		Format:      PixelFormatNV12,
		ProfileIDC:  int(sps.Profile),
		Profile:     H264ProfileFromIDC(int(sps.Profile)),
		Level:       int(sps.Level),
	}
	if !params.Valid() {
		return StreamParams{}, fmt.Errorf("%w: empty picture %dx%d", ErrHeader, params.Width, params.Height)
	}
	return params, nil
}

// cropUnits returns the luma samples per crop offset step. avc.SPS reports the
// cropped size only, so the coded size is rebuilt from the offsets.
func cropUnits(sps *avc.SPS) (x, y uint) {
	if !sps.FrameCroppingFlag {
		return 0, 0
	}
	fieldMul := uint(1)
	if !sps.FrameMbsOnlyFlag {
		fieldMul = 2
	}
	switch sps.ChromaFormatIDC {
	case 0, 3:
		return 1, fieldMul
	case 2:
		return 2, fieldMul
	default:
		return 2, 2 * fieldMul
	}
}

// ParseStreamParams scans an Annex B byte stream for the first SPS and
// resolves stream parameters from it, along with the offset of the SPS
// payload in data. It returns ErrNeedMoreData when no SPS
// is present yet or when the SPS is cut off at the end of data.
func ParseStreamParams(data []byte) (StreamParams, int, error) {
	for _, u := range SplitAnnexB(data) {
		if u.Type != NALTypeSPS {
			continue
		}
		params, err := ParseSPS(data[u.Start:u.End])
		if err != nil {
			if !u.Terminated {
				return StreamParams{}, 0, fmt.Errorf("%w: truncated SPS", ErrNeedMoreData)
			}
			return StreamParams{}, 0, err
		}
		return params, u.Start, nil
	}
	return StreamParams{}, 0, fmt.Errorf("%w: no SPS in %d bytes", ErrNeedMoreData, len(data))
}

// InBandParamsChange reports ErrParamsChanged when a sequence header ahead of
// the next slice in bs describes a geometry other than current. Bytes before
// that header are consumed so the header sits at the head of bs. A malformed
// header yields an ErrHeader error.
func InBandParamsChange(bs *Bitstream, current StreamParams, complete bool) error {
	data := bs.Bytes()
	units := SplitAnnexB(data)
	for i, u := range units {
		if u.IsVCL() {
			return nil
		}
		if u.Type != NALTypeSPS || (!u.Terminated && !complete) {
			continue
		}
		params, err := ParseSPS(data[u.Start:u.End])
		if err != nil {
			return err
		}
		if !params.SameGeometry(current) {
			if i > 0 {
				bs.Consume(units[i-1].End)
			}
			return ErrParamsChanged
		}
	}
	return nil
}
