package recorder

import (
	"context"
	"io"
	"math"
	"sync"
	"time"
)

// PatternType defines the type of test pattern to generate.
type PatternType int

const (
	PatternColorBars    PatternType = iota // SMPTE color bars
	PatternGradient                        // Horizontal gradient
	PatternCheckerboard                    // Checkerboard pattern
	PatternSolidColor                      // Solid color
	PatternMovingBox                       // Box circling the center
)

func (p PatternType) String() string {
	switch p {
	case PatternColorBars:
		return "ColorBars"
	case PatternGradient:
		return "Gradient"
	case PatternCheckerboard:
		return "Checkerboard"
	case PatternSolidColor:
		return "SolidColor"
	case PatternMovingBox:
		return "MovingBox"
	default:
		return "Unknown"
	}
}

// SMPTE color bars (simplified 8-bar pattern)
var colorBars = [][3]uint8{
	{192, 192, 192}, // White (75%)
	{192, 192, 0},   // Yellow
	{0, 192, 192},   // Cyan
	{0, 192, 0},     // Green
	{192, 0, 192},   // Magenta
	{192, 0, 0},     // Red
	{0, 0, 192},     // Blue
	{16, 16, 16},    // Black
}

// PatternConfig configures a PatternSource.
type PatternConfig struct {
	Width   int         // Frame width (default: 640)
	Height  int         // Frame height (default: 360)
	FPS     int         // Capture rate (default: 30)
	Pattern PatternType // Pattern type (default: ColorBars)

	// Jitter shifts each timestamp forward by up to this much, clamped to
	// half a frame interval so timestamps stay increasing.
	Jitter time.Duration

	// Frames ends the stream with io.EOF after this many frames (0 = endless).
	Frames int

	// Virtual stamps frames on a simulated clock starting at Start and
	// returns them immediately instead of waiting for real time.
	Virtual bool
	Start   time.Time

	SolidR, SolidG, SolidB uint8
	CheckerSize            int // Checker square size (default: 32)
	Seed                   uint64
}

// DefaultPatternConfig returns a default pattern configuration.
func DefaultPatternConfig() PatternConfig {
	return PatternConfig{
		Width:       640,
		Height:      360,
		FPS:         30,
		Pattern:     PatternColorBars,
		CheckerSize: 32,
	}
}

// PatternSource generates RGBA test frames with slightly irregular
// timestamps, the way a real camera delivers them.
type PatternSource struct {
	config   PatternConfig
	interval time.Duration

	mu       sync.Mutex
	count    int
	start    time.Time
	rngState uint64
}

// NewPatternSource creates a pattern source, filling in defaults.
func NewPatternSource(config PatternConfig) *PatternSource {
	if config.Width <= 0 {
		config.Width = 640
	}
	if config.Height <= 0 {
		config.Height = 360
	}
	if config.FPS <= 0 {
		config.FPS = 30
	}
	if config.CheckerSize <= 0 {
		config.CheckerSize = 32
	}
	interval := time.Second / time.Duration(config.FPS)
	if config.Jitter > interval/2 {
		config.Jitter = interval / 2
	}
	seed := config.Seed
	if seed == 0 {
		seed = 0x9E3779B97F4A7C15
	}
	return &PatternSource{
		config:   config,
		interval: interval,
		start:    config.Start,
		rngState: seed,
	}
}

// Config returns the effective configuration.
func (s *PatternSource) Config() PatternConfig {
	return s.config
}

// NextFrame implements FrameSource.
func (s *PatternSource) NextFrame(ctx context.Context) (*CapturedFrame, error) {
	s.mu.Lock()
	if s.config.Frames > 0 && s.count >= s.config.Frames {
		s.mu.Unlock()
		return nil, io.EOF
	}
	if s.start.IsZero() {
		s.start = time.Now()
	}
	n := s.count
	s.count++
	due := s.start.Add(time.Duration(n)*s.interval + s.jitter())
	s.mu.Unlock()

	if !s.config.Virtual {
		if wait := time.Until(due); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &CapturedFrame{
		Data:      s.render(n),
		Width:     s.config.Width,
		Height:    s.config.Height,
		Stride:    s.config.Width * 4,
		Format:    PixelFormatRGBA32,
		Timestamp: due,
	}, nil
}

// jitter returns the next pseudo-random offset in [0, Jitter).
func (s *PatternSource) jitter() time.Duration {
	if s.config.Jitter <= 0 {
		return 0
	}
	s.rngState ^= s.rngState << 13
	s.rngState ^= s.rngState >> 7
	s.rngState ^= s.rngState << 17
	return time.Duration(s.rngState % uint64(s.config.Jitter))
}

func (s *PatternSource) render(n int) []byte {
	w, h := s.config.Width, s.config.Height
	buf := make([]byte, w*h*4)

	switch s.config.Pattern {
	case PatternGradient:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := uint8((x * 255) / w)
				setRGBA(buf, (y*w+x)*4, v, v, v)
			}
		}
	case PatternCheckerboard:
		size := s.config.CheckerSize
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				var v uint8 = 16
				if ((x/size)+(y/size))%2 == 0 {
					v = 235
				}
				setRGBA(buf, (y*w+x)*4, v, v, v)
			}
		}
	case PatternSolidColor:
		for i := 0; i < len(buf); i += 4 {
			setRGBA(buf, i, s.config.SolidR, s.config.SolidG, s.config.SolidB)
		}
	case PatternMovingBox:
		s.renderMovingBox(buf, n)
	default:
		barWidth := max(w/len(colorBars), 1)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				rgb := colorBars[min(x/barWidth, len(colorBars)-1)]
				setRGBA(buf, (y*w+x)*4, rgb[0], rgb[1], rgb[2])
			}
		}
	}
	return buf
}

func (s *PatternSource) renderMovingBox(buf []byte, n int) {
	w, h := s.config.Width, s.config.Height
	for i := 0; i < len(buf); i += 4 {
		setRGBA(buf, i, 16, 16, 16)
	}

	boxSize := min(w, h) / 5
	radius := float64(min(w, h)) / 4
	angle := float64(n) * 0.05
	boxX := w/2 + int(radius*math.Cos(angle)) - boxSize/2
	boxY := h/2 + int(radius*math.Sin(angle)) - boxSize/2

	for y := max(boxY, 0); y < boxY+boxSize && y < h; y++ {
		for x := max(boxX, 0); x < boxX+boxSize && x < w; x++ {
			setRGBA(buf, (y*w+x)*4, 235, 235, 235)
		}
	}
}

func setRGBA(buf []byte, i int, r, g, b uint8) {
	buf[i] = r
	buf[i+1] = g
	buf[i+2] = b
	buf[i+3] = 0xFF
}
