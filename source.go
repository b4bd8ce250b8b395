package recorder

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
)

// FrameSource delivers captured frames to the pacing loop.
//
// NextFrame may block until a frame is available. A polling source that
// has nothing yet returns (nil, nil) and is asked again after a short
// backoff. io.EOF ends the stream; any other error is a capture error and
// fails the recording.
type FrameSource interface {
	NextFrame(ctx context.Context) (*CapturedFrame, error)
}

// FuncSource adapts a function to FrameSource.
type FuncSource func(ctx context.Context) (*CapturedFrame, error)

// NextFrame implements FrameSource.
func (f FuncSource) NextFrame(ctx context.Context) (*CapturedFrame, error) {
	return f(ctx)
}

// ChanSource adapts a push-style capture callback to FrameSource.
// Push never blocks the capture thread: when the buffer is full the frame
// is dropped and counted.
type ChanSource struct {
	frames  chan *CapturedFrame
	dropped atomic.Uint64
	pushed  atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

// NewChanSource creates a source buffering up to depth frames.
func NewChanSource(depth int) *ChanSource {
	if depth <= 0 {
		depth = 8
	}
	return &ChanSource{frames: make(chan *CapturedFrame, depth)}
}

// Push hands a frame to the source. It reports false if the frame was
// dropped because the buffer is full or the source is closed.
func (s *ChanSource) Push(f *CapturedFrame) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.dropped.Add(1)
		return false
	}
	select {
	case s.frames <- f:
		s.pushed.Add(1)
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Close ends the stream. Buffered frames are still delivered, then
// NextFrame returns io.EOF.
func (s *ChanSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

// NextFrame implements FrameSource. Buffered frames are returned even
// after ctx ends, so a stopped recording still gets what was captured.
func (s *ChanSource) NextFrame(ctx context.Context) (*CapturedFrame, error) {
	select {
	case f, ok := <-s.frames:
		if !ok {
			return nil, io.EOF
		}
		return f, nil
	default:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case f, ok := <-s.frames:
		if !ok {
			return nil, io.EOF
		}
		return f, nil
	}
}

// Dropped returns the number of frames dropped by Push.
func (s *ChanSource) Dropped() uint64 { return s.dropped.Load() }

// Pushed returns the number of frames accepted by Push.
func (s *ChanSource) Pushed() uint64 { return s.pushed.Load() }
