package recorder

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// Common errors
var (
	ErrNotSupported      = errors.New("operation not supported")
	ErrProviderNotFound  = errors.New("provider not available")
	ErrCodecNotSupported = errors.New("codec not supported by provider")
)

// VideoEncoderConfig configures a video encoder.
type VideoEncoderConfig struct {
	Codec    VideoCodec // Codec type
	Provider Provider   // Provider to use (ProviderAuto = library chooses)

	Width      int // Frame width
	Height     int // Frame height
	FPS        int // Target framerate
	BitrateBps int // Target bitrate in bits per second

	RateControlMode RateControlMode // Rate control mode
	Threads         int             // Encoder threads (0 = auto)
	H264Profile     H264Profile     // H.264 profile
}

// DefaultVideoEncoderConfig returns a default encoder configuration.
func DefaultVideoEncoderConfig(width, height, fps int) VideoEncoderConfig {
	return VideoEncoderConfig{
		Codec:           VideoCodecH264,
		Provider:        ProviderAuto,
		Width:           width,
		Height:          height,
		FPS:             fps,
		BitrateBps:      2500000, // 2.5 Mbps
		RateControlMode: RateControlVBR,
		H264Profile:     H264ProfileBaseline,
	}
}

// Validate checks the configuration for values no encoder can accept.
func (c VideoEncoderConfig) Validate() error {
	if c.Width <= 0 || c.Height <= 0 || c.Width%2 != 0 || c.Height%2 != 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidResolution, c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("invalid fps %d", c.FPS)
	}
	return nil
}

// EncoderStats provides encoding metrics.
type EncoderStats struct {
	FramesEncoded    uint64 // Total frames encoded
	KeyframesEncoded uint64 // Total keyframes encoded
	BytesEncoded     uint64 // Total bytes of encoded data
}

// VideoEncoder encodes raw I420 frames to an H.264 Annex-B bitstream.
// Implementations are used from a single goroutine.
type VideoEncoder interface {
	io.Closer

	// Encode encodes a video frame.
	// Returns nil if the encoder is buffering and no output is ready.
	// Keyframes carry their SPS and PPS in-band.
	Encode(frame *VideoFrame) (*EncodedFrame, error)

	// RequestKeyframe forces the next frame to be a keyframe.
	RequestKeyframe()

	// Provider returns which provider created this encoder.
	Provider() Provider

	// Config returns the encoder configuration.
	Config() VideoEncoderConfig

	// Stats returns encoding statistics.
	Stats() EncoderStats

	// Flush drains any buffered frames at end of stream.
	Flush() ([]*EncodedFrame, error)
}

// VideoEncoderFactory creates an encoder for a configuration.
type VideoEncoderFactory func(VideoEncoderConfig) (VideoEncoder, error)

type encoderRegistry struct {
	mu sync.RWMutex

	// codec -> provider -> factory
	providers map[VideoCodec]map[Provider]VideoEncoderFactory
	defaults  map[VideoCodec]Provider
}

var globalEncoderRegistry = &encoderRegistry{
	providers: make(map[VideoCodec]map[Provider]VideoEncoderFactory),
	defaults:  make(map[VideoCodec]Provider),
}

// RegisterVideoEncoder registers a video encoder factory for a codec+provider
// and marks the provider available.
func RegisterVideoEncoder(codec VideoCodec, provider Provider, factory VideoEncoderFactory) {
	globalEncoderRegistry.mu.Lock()
	defer globalEncoderRegistry.mu.Unlock()

	if globalEncoderRegistry.providers[codec] == nil {
		globalEncoderRegistry.providers[codec] = make(map[Provider]VideoEncoderFactory)
	}
	globalEncoderRegistry.providers[codec][provider] = factory
	setProviderAvailable(provider, true)

	// Prefer permissively licensed providers as the default.
	current, exists := globalEncoderRegistry.defaults[codec]
	if !exists || (provider.License().Permissive() && !current.License().Permissive()) {
		globalEncoderRegistry.defaults[codec] = provider
	}
}

// SetDefaultVideoEncoderProvider sets the default provider for a video codec.
func SetDefaultVideoEncoderProvider(codec VideoCodec, provider Provider) {
	globalEncoderRegistry.mu.Lock()
	defer globalEncoderRegistry.mu.Unlock()
	globalEncoderRegistry.defaults[codec] = provider
}

// NewVideoEncoder creates a video encoder.
func NewVideoEncoder(config VideoEncoderConfig) (VideoEncoder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	globalEncoderRegistry.mu.RLock()
	providers := globalEncoderRegistry.providers[config.Codec]
	p := config.Provider
	if p == ProviderAuto {
		p = globalEncoderRegistry.defaults[config.Codec]
	}
	factory, ok := providers[p]
	globalEncoderRegistry.mu.RUnlock()

	if providers == nil {
		return nil, fmt.Errorf("%w: no providers for %s", ErrCodecNotSupported, config.Codec)
	}
	if !ok || !p.Available() {
		return nil, fmt.Errorf("%w: %s for %s", ErrProviderNotFound, p, config.Codec)
	}

	return factory(config)
}

// VideoEncoderProviders returns available providers for a video codec.
func VideoEncoderProviders(codec VideoCodec) []Provider {
	globalEncoderRegistry.mu.RLock()
	defer globalEncoderRegistry.mu.RUnlock()

	providers := globalEncoderRegistry.providers[codec]
	result := make([]Provider, 0, len(providers))
	for p := range providers {
		if p.Available() {
			result = append(result, p)
		}
	}
	return result
}
