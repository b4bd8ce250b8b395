package recorder

// VideoCodec identifies the video codec type.
type VideoCodec int

const (
	VideoCodecUnknown VideoCodec = iota
	VideoCodecH264
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecH264:
		return "H264"
	default:
		return "Unknown"
	}
}

// MimeType returns the MIME type for this codec.
func (c VideoCodec) MimeType() string {
	switch c {
	case VideoCodecH264:
		return "video/H264"
	default:
		return ""
	}
}

// ClockRate returns the RTP/MP4 clock rate for this codec.
func (c VideoCodec) ClockRate() uint32 {
	return 90000
}

// DefaultPayloadType returns a typical dynamic RTP payload type for this codec.
func (c VideoCodec) DefaultPayloadType() uint8 {
	switch c {
	case VideoCodecH264:
		return 102
	default:
		return 96
	}
}

// RateControlMode defines the encoder rate control mode.
type RateControlMode int

const (
	RateControlVBR RateControlMode = iota // Variable bitrate
	RateControlCBR                        // Constant bitrate
	RateControlCQ                         // Constant quality (CRF)
)

func (r RateControlMode) String() string {
	switch r {
	case RateControlVBR:
		return "VBR"
	case RateControlCBR:
		return "CBR"
	case RateControlCQ:
		return "CQ"
	default:
		return "Unknown"
	}
}

// H264Profile defines H.264 encoding profiles.
type H264Profile int

const (
	H264ProfileBaseline H264Profile = iota
	H264ProfileMain
	H264ProfileHigh
)

func (p H264Profile) String() string {
	switch p {
	case H264ProfileBaseline:
		return "Baseline"
	case H264ProfileMain:
		return "Main"
	case H264ProfileHigh:
		return "High"
	default:
		return "Unknown"
	}
}

// ProfileIDC returns the profile_idc value signalled in the SPS.
func (p H264Profile) ProfileIDC() int {
	switch p {
	case H264ProfileMain:
		return 77
	case H264ProfileHigh:
		return 100
	default:
		return 66
	}
}
