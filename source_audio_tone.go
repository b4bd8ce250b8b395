package recorder

import (
	"context"
	"encoding/binary"
	"math"
	"time"
)

// TonePattern defines the waveform produced by a ToneSource. The zero
// value is a sine so an empty ToneConfig is audible.
type TonePattern int

const (
	ToneSine    TonePattern = iota // Sine wave
	ToneSquare                     // Square wave
	ToneSweep                      // Logarithmic frequency sweep
	ToneSilence                    // Silence
)

func (p TonePattern) String() string {
	switch p {
	case ToneSine:
		return "Sine"
	case ToneSquare:
		return "Square"
	case ToneSweep:
		return "Sweep"
	case ToneSilence:
		return "Silence"
	default:
		return "Unknown"
	}
}

// ToneConfig configures a synthetic audio source.
type ToneConfig struct {
	SampleRate int         // Sample rate (default: 48000)
	Channels   int         // Number of channels (default: 2)
	FrameSize  int         // Samples per channel per chunk (default: 960 = 20ms at 48kHz)
	Format     AudioFormat // Sample format
	Pattern    TonePattern
	Frequency  float64 // Tone frequency in Hz (default: 440)
	Amplitude  float64 // Amplitude 0.0-1.0 (default: 0.5)

	SweepStartHz  float64
	SweepEndHz    float64
	SweepDuration time.Duration
}

// DefaultToneConfig returns a 440 Hz stereo sine at 48 kHz.
func DefaultToneConfig() ToneConfig {
	return ToneConfig{
		SampleRate:    48000,
		Channels:      2,
		FrameSize:     960,
		Format:        AudioFormatS16,
		Pattern:       ToneSine,
		Frequency:     440.0,
		Amplitude:     0.5,
		SweepStartHz:  200,
		SweepEndHz:    2000,
		SweepDuration: 2 * time.Second,
	}
}

// ToneSource generates PCM chunks. Next is deterministic; Run delivers
// chunks in real time to a sink such as Session.AudioSink.
type ToneSource struct {
	config ToneConfig
	phase  float64
	total  uint64 // sample frames generated
	start  time.Time
}

// NewToneSource creates a tone source, filling in defaults.
func NewToneSource(config ToneConfig) *ToneSource {
	def := DefaultToneConfig()
	if config.SampleRate <= 0 {
		config.SampleRate = def.SampleRate
	}
	if config.Channels <= 0 {
		config.Channels = def.Channels
	}
	if config.FrameSize <= 0 {
		config.FrameSize = def.FrameSize
	}
	if config.Frequency <= 0 {
		config.Frequency = def.Frequency
	}
	if config.Amplitude <= 0 {
		config.Amplitude = def.Amplitude
	}
	config.Amplitude = math.Min(config.Amplitude, 1)
	if config.SweepStartHz <= 0 || config.SweepEndHz <= 0 {
		config.SweepStartHz, config.SweepEndHz = def.SweepStartHz, def.SweepEndHz
	}
	if config.SweepDuration <= 0 {
		config.SweepDuration = def.SweepDuration
	}
	return &ToneSource{config: config}
}

// Next generates the next chunk of FrameSize sample frames, stamped on the
// source's own sample clock starting at start.
func (s *ToneSource) Next(start time.Time) *AudioSamples {
	cfg := s.config
	if s.start.IsZero() {
		s.start = start
	}
	bps := cfg.Format.BytesPerSample()
	data := make([]byte, cfg.FrameSize*cfg.Channels*bps)
	ts := s.start.Add(time.Duration(s.total) * time.Second / time.Duration(cfg.SampleRate))

	idx := 0
	for i := 0; i < cfg.FrameSize; i++ {
		v := s.sample()
		for c := 0; c < cfg.Channels; c++ {
			switch cfg.Format {
			case AudioFormatF32:
				binary.LittleEndian.PutUint32(data[idx:], math.Float32bits(float32(v)))
			default:
				binary.LittleEndian.PutUint16(data[idx:], uint16(int16(v*math.MaxInt16)))
			}
			idx += bps
		}
	}

	return &AudioSamples{
		Data:        data,
		SampleRate:  cfg.SampleRate,
		Channels:    cfg.Channels,
		SampleCount: cfg.FrameSize,
		Format:      cfg.Format,
		Timestamp:   ts,
	}
}

// sample returns the next sample in -1..1 and advances the phase.
func (s *ToneSource) sample() float64 {
	cfg := s.config
	freq := cfg.Frequency
	if cfg.Pattern == ToneSweep {
		span := float64(cfg.SampleRate) * cfg.SweepDuration.Seconds()
		progress := math.Mod(float64(s.total), span) / span
		logStart, logEnd := math.Log(cfg.SweepStartHz), math.Log(cfg.SweepEndHz)
		freq = math.Exp(logStart + progress*(logEnd-logStart))
	}

	var v float64
	switch cfg.Pattern {
	case ToneSine, ToneSweep:
		v = math.Sin(s.phase)
	case ToneSquare:
		v = 1
		if math.Sin(s.phase) < 0 {
			v = -1
		}
	}

	s.phase += 2 * math.Pi * freq / float64(cfg.SampleRate)
	if s.phase > 2*math.Pi {
		s.phase -= 2 * math.Pi
	}
	s.total++
	return v * cfg.Amplitude
}

// Run delivers chunks to sink at real-time pace until ctx is done.
func (s *ToneSource) Run(ctx context.Context, sink func(*AudioSamples)) error {
	chunk := time.Duration(s.config.FrameSize) * time.Second / time.Duration(s.config.SampleRate)
	ticker := time.NewTicker(chunk)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sink(s.Next(start))
		}
	}
}
