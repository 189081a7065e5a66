package streamdec

// H264 NAL unit types
const (
	NALTypeSlice = 1
	NALTypeIDR   = 5
	NALTypeSEI   = 6
	NALTypeSPS   = 7
	NALTypePPS   = 8
	NALTypeAUD   = 9
)

// NALUnit locates one NAL unit inside an Annex B byte stream.
// Start is the first byte after the start code, End the offset of the next
// start code (or len(data)), so data[Start:End] is the unit itself.
type NALUnit struct {
	Type  byte
	Start int
	End   int
	// Terminated is true when another start code follows the unit.
	Terminated bool
}

// IsVCL reports whether the unit carries slice data.
func (n NALUnit) IsVCL() bool { return n.Type >= NALTypeSlice && n.Type <= NALTypeIDR }

// SplitAnnexB locates the NAL units in an Annex B byte stream.
// Annex B uses start codes: 0x00000001 or 0x000001
func SplitAnnexB(data []byte) []NALUnit {
	var units []NALUnit
	start := -1

	closeUnit := func(end int, terminated bool) {
		if start >= 0 && end > start {
			units = append(units, NALUnit{
				Type:       data[start] & 0x1F,
				Start:      start,
				End:        end,
				Terminated: terminated,
			})
		}
	}

	for i := 0; i < len(data); i++ {
		if i+3 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 0 && data[i+3] == 1 {
			// 4-byte start code
			closeUnit(i, true)
			start = i + 4
			i += 3
		} else if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			// 3-byte start code
			closeUnit(i, true)
			start = i + 3
			i += 2
		}
	}

	// Handle last NAL unit
	if start >= 0 && start < len(data) {
		closeUnit(len(data), false)
	}

	return units
}

// firstSliceOfPicture reports whether a slice unit has first_mb_in_slice 0.
// known is false when the unit is too short to tell.
func firstSliceOfPicture(data []byte, u NALUnit) (first, known bool) {
	if u.End-u.Start < 2 {
		return false, false
	}
	// ue(v) codes 0 as a single 1 bit.
	return data[u.Start+1]&0x80 != 0, true
}

// opensAccessUnit reports whether a non-slice unit type can only appear
// before the first slice of a picture.
func opensAccessUnit(t byte) bool {
	return (t >= NALTypeSEI && t <= NALTypeAUD) || (t >= 14 && t <= 18)
}

// NextAccessUnit returns the length of the leading chunk of data that ends
// with the last slice of the first picture. ok is false when data holds no
// slice yet. When complete is false the chunk is only returned once the unit
// that starts the next picture is visible, since more slices of the current
// one may still arrive.
func NextAccessUnit(data []byte, complete bool) (n int, ok bool) {
	end := -1
	for _, u := range SplitAnnexB(data) {
		if !u.IsVCL() {
			if end >= 0 && opensAccessUnit(u.Type) {
				return end, true
			}
			continue
		}
		if end >= 0 {
			first, known := firstSliceOfPicture(data, u)
			if !known && !complete {
				return 0, false
			}
			if first {
				return end, true
			}
		}
		end = u.End
	}
	if end < 0 || !complete {
		return 0, false
	}
	return end, true
}
