package streamdec

// VideoCodec identifies the video codec type.
type VideoCodec int

const (
	VideoCodecUnknown VideoCodec = iota
	VideoCodecH264
	VideoCodecH265
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecH264:
		return "H264"
	case VideoCodecH265:
		return "H265"
	default:
		return "Unknown"
	}
}

// MimeType returns the MIME type for this codec.
func (c VideoCodec) MimeType() string {
	switch c {
	case VideoCodecH264:
		return "video/H264"
	case VideoCodecH265:
		return "video/H265"
	default:
		return ""
	}
}

// StreamType is the type tag carried in the receive framing header.
type StreamType uint32

const (
	StreamTypeH264 StreamType = 1
)

// Codec maps a framing type tag to its codec.
func (t StreamType) Codec() VideoCodec {
	switch t {
	case StreamTypeH264:
		return VideoCodecH264
	default:
		return VideoCodecUnknown
	}
}

// H264Profile identifies the H.264 profile signalled in the SPS.
type H264Profile int

const (
	H264ProfileUnknown H264Profile = iota
	H264ProfileBaseline
	H264ProfileMain
	H264ProfileExtended
	H264ProfileHigh
	H264ProfileHigh10
	H264ProfileHigh422
	H264ProfileHigh444
)

func (p H264Profile) String() string {
	switch p {
	case H264ProfileBaseline:
		return "Baseline"
	case H264ProfileMain:
		return "Main"
	case H264ProfileExtended:
		return "Extended"
	case H264ProfileHigh:
		return "High"
	case H264ProfileHigh10:
		return "High10"
	case H264ProfileHigh422:
		return "High422"
	case H264ProfileHigh444:
		return "High444"
	default:
		return "Unknown"
	}
}

// H264ProfileFromIDC converts a profile_idc value to H264Profile.
func H264ProfileFromIDC(idc int) H264Profile {
	switch idc {
	case 66:
		return H264ProfileBaseline
	case 77:
		return H264ProfileMain
	case 88:
		return H264ProfileExtended
	case 100:
		return H264ProfileHigh
	case 110:
		return H264ProfileHigh10
	case 122:
		return H264ProfileHigh422
	case 244:
		return H264ProfileHigh444
	default:
		return H264ProfileUnknown
	}
}
