package recorder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrAudioFormat is returned when appended samples do not match the
// buffer's layout.
var ErrAudioFormat = errors.New("audio format mismatch")

// AudioBuffer accumulates interleaved PCM for one recording. The layout is
// fixed by the first Append after a Reset unless it was preset.
type AudioBuffer struct {
	SampleRate int
	Channels   int
	Format     AudioFormat

	mu   sync.Mutex
	data []byte
}

// NewAudioBuffer creates a buffer with a preset layout. Zero values are
// adopted from the first appended samples.
func NewAudioBuffer(sampleRate, channels int, format AudioFormat) *AudioBuffer {
	return &AudioBuffer{SampleRate: sampleRate, Channels: channels, Format: format}
}

// Append copies samples into the buffer.
func (b *AudioBuffer) Append(s *AudioSamples) error {
	if s == nil || len(s.Data) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.SampleRate == 0 {
		b.SampleRate = s.SampleRate
	}
	if b.Channels == 0 {
		b.Channels = s.Channels
	}
	if len(b.data) == 0 && b.Format != s.Format {
		b.Format = s.Format
	}
	if s.SampleRate != b.SampleRate || s.Channels != b.Channels || s.Format != b.Format {
		return fmt.Errorf("%w: got %dHz/%dch/%s, buffer is %dHz/%dch/%s", ErrAudioFormat,
			s.SampleRate, s.Channels, s.Format, b.SampleRate, b.Channels, b.Format)
	}

	frame := b.frameSize()
	n := len(s.Data) - len(s.Data)%frame
	b.data = append(b.data, s.Data[:n]...)
	return nil
}

// Snapshot returns a detached copy holding everything appended so far.
func (b *AudioBuffer) Snapshot() *AudioBuffer {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := &AudioBuffer{
		SampleRate: b.SampleRate,
		Channels:   b.Channels,
		Format:     b.Format,
		data:       make([]byte, len(b.data)),
	}
	copy(snap.data, b.data)
	return snap
}

// Reset discards all samples. The layout is kept.
func (b *AudioBuffer) Reset() {
	b.mu.Lock()
	b.data = nil
	b.mu.Unlock()
}

// Bytes returns the buffered PCM. The slice must not be modified.
func (b *AudioBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// Frames returns the number of sample frames (one sample per channel).
func (b *AudioBuffer) Frames() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frameSize() == 0 {
		return 0
	}
	return len(b.data) / b.frameSize()
}

// Duration returns the playback length of the buffered audio.
func (b *AudioBuffer) Duration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.SampleRate <= 0 || b.frameSize() == 0 {
		return 0
	}
	frames := len(b.data) / b.frameSize()
	return time.Duration(frames) * time.Second / time.Duration(b.SampleRate)
}

// BitRate returns the PCM bit rate in bits per second.
func (b *AudioBuffer) BitRate() int {
	return b.SampleRate * b.Channels * b.Format.BytesPerSample() * 8
}

func (b *AudioBuffer) frameSize() int {
	return b.Channels * b.Format.BytesPerSample()
}

// S16LE returns the buffered audio as signed 16-bit little-endian PCM,
// converting from float samples when needed.
func (b *AudioBuffer) S16LE() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Format == AudioFormatS16 {
		return b.data
	}
	out := make([]byte, len(b.data)/2)
	for i := 0; i+4 <= len(b.data); i += 4 {
		f := math.Float32frombits(binary.LittleEndian.Uint32(b.data[i:]))
		binary.LittleEndian.PutUint16(out[i/2:], uint16(floatToS16(f)))
	}
	return out
}

func floatToS16(f float32) int16 {
	switch {
	case f >= 1:
		return math.MaxInt16
	case f <= -1:
		return math.MinInt16 + 1
	default:
		return int16(f * math.MaxInt16)
	}
}

// peakLevel returns the absolute peak of samples normalized to 0..1.
func peakLevel(s *AudioSamples) float64 {
	var peak float64
	switch s.Format {
	case AudioFormatS16:
		for i := 0; i+2 <= len(s.Data); i += 2 {
			v := math.Abs(float64(int16(binary.LittleEndian.Uint16(s.Data[i:]))))
			peak = math.Max(peak, v/32768)
		}
	case AudioFormatF32:
		for i := 0; i+4 <= len(s.Data); i += 4 {
			v := math.Abs(float64(math.Float32frombits(binary.LittleEndian.Uint32(s.Data[i:]))))
			peak = math.Max(peak, v)
		}
	}
	return math.Min(peak, 1)
}
