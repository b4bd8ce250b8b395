package recorder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/sirupsen/logrus"
)

// FailurePolicy decides what a failed frame conversion does to the session.
type FailurePolicy int

const (
	// SubstitutePlaceholder pushes a black frame in place of the failed one
	// and keeps recording.
	SubstitutePlaceholder FailurePolicy = iota
	// FailSession also pushes a placeholder so the encoder never stalls,
	// but marks the recording failed; no file is written.
	FailSession
)

func (f FailurePolicy) String() string {
	switch f {
	case SubstitutePlaceholder:
		return "substitute"
	case FailSession:
		return "fail"
	default:
		return "unknown"
	}
}

// ErrConvertFailed wraps frame conversion failures reported by Err.
var ErrConvertFailed = errors.New("frame conversion failed")

// ConvertPoolConfig configures a ConvertPool.
type ConvertPoolConfig struct {
	Workers   int           // Concurrent conversions (default: 2)
	Width     int           // Output width
	Height    int           // Output height
	ScaleMode ScaleMode     // Used when the capture size differs
	Policy    FailurePolicy // What a failed frame does to the session

	// OnFirstFrame receives a private copy of the scaled RGBA image of
	// index 0, for thumbnails.
	OnFirstFrame func(*image.RGBA)

	Logger *logrus.Entry
}

// PoolStats provides conversion metrics.
type PoolStats struct {
	Submitted    uint64 // Frames accepted by Submit
	Converted    uint64 // Frames decoded and converted
	Reused       uint64 // Repeats served from the last conversion
	Placeholders uint64 // Failed frames replaced by black
	Panics       uint64 // Conversions that panicked
	Workers      int    // Current width
}

// ConvertPool converts captured frames to I420 in parallel and pushes the
// results into an OrderedQueue keyed by sequence index.
//
// At most Workers conversions are in flight; Submit blocks beyond that,
// which bounds the out-of-order items the queue has to hold.
type ConvertPool struct {
	cfg     ConvertPoolConfig
	out     *OrderedQueue[*VideoFrame]
	log     *logrus.Entry
	scalers sync.Pool

	mu       sync.Mutex
	cond     *sync.Cond
	width    int
	inflight int
	stats    PoolStats
	err      error

	// Most recent conversion, reused when the pacer repeats a frame.
	lastSrc   *CapturedFrame
	lastFrame *VideoFrame

	wg sync.WaitGroup
}

// NewConvertPool creates a pool that pushes converted frames into out.
func NewConvertPool(cfg ConvertPoolConfig, out *OrderedQueue[*VideoFrame]) *ConvertPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	p := &ConvertPool{
		cfg:   cfg,
		out:   out,
		log:   log.WithField("stage", "convert"),
		width: cfg.Workers,
	}
	p.cond = sync.NewCond(&p.mu)
	p.scalers.New = func() any {
		return NewFrameScaler(cfg.Width, cfg.Height, cfg.ScaleMode)
	}
	return p
}

// Submit schedules conversion of f for index. It blocks while the pool is
// at full width and returns ctx's error if ctx ends first.
func (p *ConvertPool) Submit(ctx context.Context, index uint64, f *CapturedFrame) error {
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	p.mu.Lock()
	for p.inflight >= p.width {
		if err := ctx.Err(); err != nil {
			p.mu.Unlock()
			return err
		}
		p.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		p.mu.Unlock()
		return err
	}
	p.inflight++
	p.stats.Submitted++
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(index, f)
	return nil
}

// SetWorkers changes the pool width. Widening takes effect immediately.
func (p *ConvertPool) SetWorkers(n int) {
	if n <= 0 {
		return
	}
	p.mu.Lock()
	p.width = n
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Wait blocks until every submitted conversion has been pushed.
func (p *ConvertPool) Wait() {
	p.wg.Wait()
}

// Err returns the first conversion failure under FailSession.
func (p *ConvertPool) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stats returns conversion statistics.
func (p *ConvertPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Workers = p.width
	return s
}

func (p *ConvertPool) run(index uint64, f *CapturedFrame) {
	defer p.wg.Done()

	frame, err := p.convert(index, f)
	if err != nil {
		frame = NewI420Frame(p.cfg.Width, p.cfg.Height)
		FillBlack(frame)
		p.log.WithError(err).WithField("index", index).Warn("substituting placeholder frame")

		p.mu.Lock()
		p.stats.Placeholders++
		if p.cfg.Policy == FailSession && p.err == nil {
			p.err = fmt.Errorf("%w: index %d: %v", ErrConvertFailed, index, err)
		}
		p.mu.Unlock()
	}
	frame.Index = index

	if err := p.out.Push(index, frame); err != nil {
		entry := p.log.WithError(err).WithField("index", index)
		if errors.Is(err, ErrQueueClosed) {
			entry.Debug("queue closed, dropping frame")
		} else {
			entry.Error("ordered queue rejected frame")
		}
	}

	p.mu.Lock()
	p.inflight--
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *ConvertPool) convert(index uint64, f *CapturedFrame) (vf *VideoFrame, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			p.mu.Lock()
			p.stats.Panics++
			p.mu.Unlock()
		}
	}()

	if f == nil {
		return nil, errors.New("nil frame")
	}
	if cached := p.reuse(f); cached != nil {
		return cached, nil
	}

	img, err := DecodeToRGBA(f)
	if err != nil {
		return nil, err
	}

	scaler := p.scalers.Get().(*FrameScaler)
	defer p.scalers.Put(scaler)
	img = scaler.Scale(img)

	if index == 0 && p.cfg.OnFirstFrame != nil {
		p.cfg.OnFirstFrame(cloneRGBA(img))
	}

	vf = NewI420Frame(p.cfg.Width, p.cfg.Height)
	RGBAToI420Into(vf, img.Pix, img.Stride)

	p.mu.Lock()
	p.stats.Converted++
	p.lastSrc, p.lastFrame = f, vf
	p.mu.Unlock()
	return vf, nil
}

// reuse returns a frame sharing the planes of the last conversion when f
// is the same captured frame. Planes are read-only downstream.
func (p *ConvertPool) reuse(f *CapturedFrame) *VideoFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastSrc != f || p.lastFrame == nil {
		return nil
	}
	p.stats.Reused++
	last := p.lastFrame
	return &VideoFrame{
		Data:   last.Data,
		Stride: last.Stride,
		Width:  last.Width,
		Height: last.Height,
		Format: last.Format,
	}
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		row := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
		copy(dst.Pix[y*dst.Stride:(y+1)*dst.Stride], row[:b.Dx()*4])
	}
	return dst
}
