// Package h264test builds small H.264 Annex B streams for tests: a real
// Baseline SPS for any picture size plus opaque slice payloads.
package h264test

import "math/bits"

// bitWriter writes RBSP fields MSB first.
type bitWriter struct {
	buf  []byte
	nbit int
}

func (w *bitWriter) u(n int, v uint32) {
	for i := n - 1; i >= 0; i-- {
		if w.nbit%8 == 0 {
			w.buf = append(w.buf, 0)
		}
		if v>>uint(i)&1 == 1 {
			w.buf[len(w.buf)-1] |= 0x80 >> uint(w.nbit%8)
		}
		w.nbit++
	}
}

func (w *bitWriter) ue(v uint32) {
	n := bits.Len32(v+1) - 1
	w.u(n, 0)
	w.u(n+1, v+1)
}

func (w *bitWriter) trailing() []byte {
	w.u(1, 1)
	for w.nbit%8 != 0 {
		w.u(1, 0)
	}
	return w.buf
}

// emulationPrevent inserts 0x03 after every 0x0000 followed by a byte <= 3.
func emulationPrevent(rbsp []byte) []byte {
	out := make([]byte, 0, len(rbsp)+4)
	zeros := 0
	for _, b := range rbsp {
		if zeros >= 2 && b <= 3 {
			out = append(out, 3)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

// SPS builds a Baseline SPS NAL unit (header included) for a 4:2:0
// progressive picture. Sizes that are not multiples of 16 are cropped.
func SPS(width, height int) []byte {
	mbW := (width + 15) / 16
	mbH := (height + 15) / 16

	w := &bitWriter{}
	w.u(8, 66) // profile_idc
	w.u(8, 0)  // constraint flags
	w.u(8, 40) // level_idc
	w.ue(0)    // seq_parameter_set_id
	w.ue(0)    // log2_max_frame_num_minus4
	w.ue(2)    // pic_order_cnt_type
	w.ue(1)    // max_num_ref_frames
	w.u(1, 0)  // gaps_in_frame_num_value_allowed_flag
	w.ue(uint32(mbW - 1))
	w.ue(uint32(mbH - 1))
	w.u(1, 1) // frame_mbs_only_flag
	w.u(1, 1) // direct_8x8_inference_flag

	cropRight := (mbW*16 - width) / 2
	cropBottom := (mbH*16 - height) / 2
	if cropRight > 0 || cropBottom > 0 {
		w.u(1, 1)
		w.ue(0)
		w.ue(uint32(cropRight))
		w.ue(0)
		w.ue(uint32(cropBottom))
	} else {
		w.u(1, 0)
	}
	w.u(1, 0) // vui_parameters_present_flag

	return append([]byte{0x67}, emulationPrevent(w.trailing())...)
}

// StartCode is the 4-byte Annex B start code.
var StartCode = []byte{0, 0, 0, 1}

// PPS returns a fixed PPS NAL unit.
func PPS() []byte { return []byte{0x68, 0xCE, 0x38, 0x80} }

// AnnexB joins NAL units with 4-byte start codes.
func AnnexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, StartCode...)
		out = append(out, n...)
	}
	return out
}

// IDRSlice and PSlice are opaque slice payloads that start a picture
// (first_mb_in_slice 0); beyond that only the NAL type is meaningful.
func IDRSlice(tag byte) []byte { return []byte{0x65, 0x88, 0x84, tag, 0x21} }
func PSlice(tag byte) []byte   { return []byte{0x41, 0x9A, 0x02, tag, 0x11} }

// NextPSlice is a P slice with first_mb_in_slice 1, continuing the picture
// of the slice before it.
func NextPSlice(tag byte) []byte { return []byte{0x41, 0x5A, 0x02, tag, 0x11} }

// Header returns SPS + PPS for the given size.
func Header(width, height int) []byte {
	return AnnexB(SPS(width, height), PPS())
}

// Keyframe returns SPS + PPS + IDR, what an encoder emits at a GOP start.
func Keyframe(width, height int, tag byte) []byte {
	return AnnexB(SPS(width, height), PPS(), IDRSlice(tag))
}

// DeltaFrame returns a single P slice.
func DeltaFrame(tag byte) []byte { return AnnexB(PSlice(tag)) }
