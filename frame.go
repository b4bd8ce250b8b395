// Core frame and sample types used across the recorder package.
package recorder

import "time"

// PixelFormat represents video pixel formats.
type PixelFormat int

const (
	PixelFormatI420   PixelFormat = iota // YUV 4:2:0 planar (Y + U + V)
	PixelFormatNV12                      // YUV 4:2:0 semi-planar (Y + interleaved UV)
	PixelFormatRGB24                     // Packed RGB, 3 bytes per pixel
	PixelFormatRGBA32                    // Packed RGBA, 4 bytes per pixel
	PixelFormatBGRA32                    // Packed BGRA, 4 bytes per pixel
	PixelFormatYUYV                      // YUV 4:2:2 packed (Y0 U Y1 V)
	PixelFormatGray                      // 8-bit luma only
	PixelFormatMJPEG                     // Motion JPEG, one JPEG image per frame
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatI420:
		return "I420"
	case PixelFormatNV12:
		return "NV12"
	case PixelFormatRGB24:
		return "RGB24"
	case PixelFormatRGBA32:
		return "RGBA32"
	case PixelFormatBGRA32:
		return "BGRA32"
	case PixelFormatYUYV:
		return "YUYV"
	case PixelFormatGray:
		return "GRAY"
	case PixelFormatMJPEG:
		return "MJPEG"
	default:
		return "Unknown"
	}
}

// BytesPerPixel returns the packed pixel size, or 0 for planar and
// compressed formats.
func (p PixelFormat) BytesPerPixel() int {
	switch p {
	case PixelFormatRGBA32, PixelFormatBGRA32:
		return 4
	case PixelFormatRGB24:
		return 3
	case PixelFormatYUYV:
		return 2
	case PixelFormatGray:
		return 1
	default:
		return 0
	}
}

// AudioFormat represents audio sample formats.
type AudioFormat int

const (
	AudioFormatS16 AudioFormat = iota // Signed 16-bit PCM
	AudioFormatF32                    // 32-bit float
)

func (a AudioFormat) String() string {
	switch a {
	case AudioFormatS16:
		return "S16"
	case AudioFormatF32:
		return "F32"
	default:
		return "Unknown"
	}
}

// BytesPerSample returns the number of bytes per sample for this format.
func (a AudioFormat) BytesPerSample() int {
	switch a {
	case AudioFormatS16:
		return 2
	case AudioFormatF32:
		return 4
	default:
		return 0
	}
}

// CapturedFrame is one raw frame as delivered by a capture device.
// It is immutable once created; the pacer may hand the same frame to
// several ticks when it has to repeat it.
type CapturedFrame struct {
	Data      []byte      // Raw pixel bytes in Format
	Width     int         // Frame width in pixels
	Height    int         // Frame height in pixels
	Stride    int         // Row stride in bytes (0 = tightly packed)
	Format    PixelFormat // Device-native pixel format
	Timestamp time.Time   // Arrival time (monotonic reading)
}

// RowStride returns the stride of a packed frame, deriving it from the
// width when Stride is unset.
func (f *CapturedFrame) RowStride() int {
	if f.Stride > 0 {
		return f.Stride
	}
	return f.Width * f.Format.BytesPerPixel()
}

// PacedFrame is a captured frame assigned to one output tick.
type PacedFrame struct {
	Index  uint64         // Sequence index, starts at 0, no gaps
	Frame  *CapturedFrame // Frame shown during this tick
	Repeat bool           // Frame was already emitted for an earlier tick
}

// VideoFrame represents a raw planar video frame.
type VideoFrame struct {
	Data   [][]byte    // Plane data (Y, U, V for I420)
	Stride []int       // Stride for each plane in bytes
	Width  int         // Frame width in pixels
	Height int         // Frame height in pixels
	Format PixelFormat // Pixel format
	Index  uint64      // Sequence index of the paced frame this came from
}

// NewI420Frame allocates a contiguous I420 frame.
func NewI420Frame(width, height int) *VideoFrame {
	ySize := width * height
	uvSize := (width / 2) * (height / 2)
	buf := make([]byte, ySize+2*uvSize)
	return &VideoFrame{
		Data:   [][]byte{buf[:ySize], buf[ySize : ySize+uvSize], buf[ySize+uvSize:]},
		Stride: []int{width, width / 2, width / 2},
		Width:  width,
		Height: height,
		Format: PixelFormatI420,
	}
}

// Clone creates a deep copy of the video frame.
func (f *VideoFrame) Clone() *VideoFrame {
	clone := &VideoFrame{
		Data:   make([][]byte, len(f.Data)),
		Stride: make([]int, len(f.Stride)),
		Width:  f.Width,
		Height: f.Height,
		Format: f.Format,
		Index:  f.Index,
	}
	copy(clone.Stride, f.Stride)
	for i, plane := range f.Data {
		if plane != nil {
			clone.Data[i] = make([]byte, len(plane))
			copy(clone.Data[i], plane)
		}
	}
	return clone
}

// I420Size returns the total buffer size needed for an I420 frame.
func I420Size(width, height int) int {
	ySize := width * height
	uvSize := (width / 2) * (height / 2)
	return ySize + uvSize*2
}

// AudioSamples represents raw audio samples pushed by an audio device.
type AudioSamples struct {
	Data        []byte      // Interleaved sample data
	SampleRate  int         // Sample rate (e.g., 48000)
	Channels    int         // Number of channels (1 = mono, 2 = stereo)
	SampleCount int         // Number of samples (per channel)
	Format      AudioFormat // Sample format
	Timestamp   time.Time   // Capture time
}

// Clone creates a deep copy of the audio samples.
func (s *AudioSamples) Clone() *AudioSamples {
	clone := &AudioSamples{
		SampleRate:  s.SampleRate,
		Channels:    s.Channels,
		SampleCount: s.SampleCount,
		Format:      s.Format,
		Timestamp:   s.Timestamp,
	}
	if s.Data != nil {
		clone.Data = make([]byte, len(s.Data))
		copy(clone.Data, s.Data)
	}
	return clone
}

// FrameType indicates whether a frame is a keyframe or delta frame.
type FrameType int

const (
	FrameTypeUnknown FrameType = iota
	FrameTypeKey               // IDR, can be decoded independently
	FrameTypeDelta             // P/B-frame, requires previous frames
)

func (f FrameType) String() string {
	switch f {
	case FrameTypeKey:
		return "Key"
	case FrameTypeDelta:
		return "Delta"
	default:
		return "Unknown"
	}
}

// EncodedFrame holds one encoded access unit in Annex-B form.
type EncodedFrame struct {
	Data      []byte    // Annex-B bitstream (start-code delimited NAL units)
	FrameType FrameType // Key or delta frame
	Index     uint64    // Sequence index of the source frame
	Timestamp uint32    // 90kHz presentation timestamp
	Duration  uint32    // Duration in 90kHz units
}

// IsKeyframe returns true if this is a keyframe.
func (f *EncodedFrame) IsKeyframe() bool {
	return f.FrameType == FrameTypeKey
}

// Clone creates a deep copy of the encoded frame.
func (f *EncodedFrame) Clone() *EncodedFrame {
	clone := &EncodedFrame{
		FrameType: f.FrameType,
		Index:     f.Index,
		Timestamp: f.Timestamp,
		Duration:  f.Duration,
	}
	if f.Data != nil {
		clone.Data = make([]byte, len(f.Data))
		copy(clone.Data, f.Data)
	}
	return clone
}
