package recorder

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudioBuffer_AppendAndDuration(t *testing.T) {
	buf := NewAudioBuffer(0, 0, AudioFormatS16)
	require.NoError(t, buf.Append(pcmSeconds(500*time.Millisecond)))
	require.NoError(t, buf.Append(pcmSeconds(250*time.Millisecond)))

	assert.Equal(t, 48000, buf.SampleRate)
	assert.Equal(t, 2, buf.Channels)
	assert.Equal(t, 36000, buf.Frames())
	assert.Equal(t, 750*time.Millisecond, buf.Duration())
	assert.Equal(t, 48000*2*16, buf.BitRate())
}

func TestAudioBuffer_FormatMismatch(t *testing.T) {
	buf := NewAudioBuffer(48000, 2, AudioFormatS16)
	require.NoError(t, buf.Append(pcmSeconds(10*time.Millisecond)))

	mono := pcmSeconds(10 * time.Millisecond)
	mono.Channels = 1
	assert.ErrorIs(t, buf.Append(mono), ErrAudioFormat)

	other := pcmSeconds(10 * time.Millisecond)
	other.SampleRate = 44100
	assert.ErrorIs(t, buf.Append(other), ErrAudioFormat)

	assert.Equal(t, 480, buf.Frames(), "rejected samples are not buffered")
}

func TestAudioBuffer_AdoptsFormatWhileEmpty(t *testing.T) {
	buf := NewAudioBuffer(48000, 2, AudioFormatS16)
	tone := NewToneSource(ToneConfig{Format: AudioFormatF32, Pattern: ToneSine})
	require.NoError(t, buf.Append(tone.Next(time.Now())))
	assert.Equal(t, AudioFormatF32, buf.Format)
	assert.Equal(t, 960, buf.Frames())
}

func TestAudioBuffer_TruncatesPartialFrames(t *testing.T) {
	buf := NewAudioBuffer(48000, 2, AudioFormatS16)
	require.NoError(t, buf.Append(&AudioSamples{
		Data: make([]byte, 10), SampleRate: 48000, Channels: 2, Format: AudioFormatS16,
	}))
	assert.Len(t, buf.Bytes(), 8)
}

func TestAudioBuffer_SnapshotIsDetached(t *testing.T) {
	buf := NewAudioBuffer(48000, 2, AudioFormatS16)
	require.NoError(t, buf.Append(pcmSeconds(100*time.Millisecond)))

	snap := buf.Snapshot()
	require.NoError(t, buf.Append(pcmSeconds(100*time.Millisecond)))
	buf.Reset()

	assert.Equal(t, 100*time.Millisecond, snap.Duration())
	assert.Zero(t, buf.Duration())
	assert.Equal(t, 48000, buf.SampleRate, "reset keeps the layout")
}

func TestAudioBuffer_ConcurrentAppend(t *testing.T) {
	buf := NewAudioBuffer(48000, 2, AudioFormatS16)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				assert.NoError(t, buf.Append(pcmSeconds(10*time.Millisecond)))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 4*time.Second, buf.Duration())
}

func TestAudioBuffer_S16LEFromFloat(t *testing.T) {
	buf := NewAudioBuffer(48000, 1, AudioFormatF32)
	data := make([]byte, 16)
	for i, v := range []float32{0, 0.5, -1.5, 1} {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	require.NoError(t, buf.Append(&AudioSamples{Data: data, SampleRate: 48000, Channels: 1, Format: AudioFormatF32}))

	out := buf.S16LE()
	require.Len(t, out, 8)
	got := make([]int16, 4)
	for i := range got {
		got[i] = int16(binary.LittleEndian.Uint16(out[i*2:]))
	}
	assert.Equal(t, []int16{0, 16383, -32767, 32767}, got)
}

func TestPeakLevel(t *testing.T) {
	assert.Zero(t, peakLevel(pcmSeconds(10*time.Millisecond)))

	tone := NewToneSource(ToneConfig{Pattern: ToneSquare, Amplitude: 0.25})
	assert.InDelta(t, 0.25, peakLevel(tone.Next(time.Now())), 0.001)

	f32 := NewToneSource(ToneConfig{Pattern: ToneSquare, Amplitude: 0.75, Format: AudioFormatF32})
	assert.InDelta(t, 0.75, peakLevel(f32.Next(time.Now())), 0.001)
}

func TestToneSource_SampleClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src := NewToneSource(DefaultToneConfig())

	for i := 0; i < 5; i++ {
		s := src.Next(start)
		assert.Equal(t, 960, s.SampleCount)
		assert.Len(t, s.Data, 960*2*2)
		assert.Equal(t, start.Add(time.Duration(i)*20*time.Millisecond), s.Timestamp)
	}
}

func TestToneSource_ZeroConfigIsAudible(t *testing.T) {
	src := NewToneSource(ToneConfig{})
	chunk := src.Next(time.Now())
	assert.Equal(t, 48000, chunk.SampleRate)
	assert.Equal(t, 2, chunk.Channels)
	assert.InDelta(t, 0.5, peakLevel(chunk), 0.01)
}

func TestToneSource_Silence(t *testing.T) {
	src := NewToneSource(ToneConfig{Pattern: ToneSilence})
	for _, b := range src.Next(time.Now()).Data {
		require.Zero(t, b)
	}
}

func TestToneSource_Run(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	buf := NewAudioBuffer(0, 0, AudioFormatS16)
	src := NewToneSource(ToneConfig{Pattern: ToneSweep, FrameSize: 480})
	err := src.Run(ctx, func(s *AudioSamples) { assert.NoError(t, buf.Append(s)) })

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, buf.Duration(), time.Duration(0))
}
