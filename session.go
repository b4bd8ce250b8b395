package recorder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// Polling backoff for sources that report "nothing yet".
const (
	pollMinBackoff = 5 * time.Millisecond
	pollMaxBackoff = 400 * time.Millisecond

	// Upper bound on frames read from the source after a stop.
	maxDrainFrames = 4096
)

// FrameRateMode selects the frame rate written to the container.
type FrameRateMode int

const (
	// FrameRateTarget paces frames to the configured FPS, repeating frames
	// to fill gaps, and writes that FPS. Audio and video stay in sync.
	FrameRateTarget FrameRateMode = iota
	// FrameRateMeasured encodes every captured frame once and writes the
	// achieved rate, frames divided by elapsed time.
	FrameRateMeasured
)

func (m FrameRateMode) String() string {
	switch m {
	case FrameRateTarget:
		return "target"
	case FrameRateMeasured:
		return "measured"
	default:
		return "unknown"
	}
}

// SessionConfig configures a recording session.
type SessionConfig struct {
	FPS    int // Output frame rate (default: 24)
	Width  int // Output width unless the request overrides it (default: 1280)
	Height int // Output height unless the request overrides it (default: 720)

	Workers       int // Conversion workers while collecting (default: 2)
	SavingWorkers int // Conversion workers once capture stopped (default: 8)

	ScaleMode     ScaleMode
	FailurePolicy FailurePolicy
	FrameRateMode FrameRateMode

	// Encoder holds codec, provider, bitrate and profile; size and FPS
	// are filled in per recording.
	Encoder          VideoEncoderConfig
	NewEncoder       VideoEncoderFactory // default: NewVideoEncoder
	KeyframeInterval int                 // Frames between IDRs (default: 2s)

	TempDir   string // Intermediate stream location (default: os.TempDir)
	Thumbnail bool   // Write <dir>/thumbnails/<name>.png

	// Audio layout; zero values are taken from the first pushed samples.
	AudioSampleRate int
	AudioChannels   int
	AudioFormat     AudioFormat

	Observers []Observer
	Tap       EncodedTap
	Logger    *logrus.Entry
	Clock     func() time.Time
}

// DefaultSessionConfig returns a 1280x720 24fps configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		FPS:           DefaultFPS,
		Width:         1280,
		Height:        720,
		Workers:       2,
		SavingWorkers: 8,
		ScaleMode:     ScaleModeFit,
		Encoder:       DefaultVideoEncoderConfig(1280, 720, DefaultFPS),
		Thumbnail:     true,
	}
}

// RecordRequest describes one recording.
type RecordRequest struct {
	Source FrameSource // Captured frames
	Path   string      // Output file; the extension is forced to .mp4
	Width  int         // Overrides SessionConfig.Width when set
	Height int         // Overrides SessionConfig.Height when set
}

// RecordingResult describes a finished recording.
type RecordingResult struct {
	ID            string
	Path          string
	Thumbnail     string
	Width         int
	Height        int
	Frames        int
	FrameRate     float64
	Elapsed       time.Duration
	VideoDuration time.Duration
	AudioDuration time.Duration
	Captured      uint64
	Pacer         PacerStats
	Convert       PoolStats
	Stream        StreamStats
}

// Session records camera frames and audio to MP4 files, one recording at
// a time. The same Session is reused for any number of recordings.
//
// Lifecycle: Idle -> Collecting (StartRecording) -> Encoding
// (StopRecording) -> Saving (stream complete) -> Idle. Every failure
// path ends in Idle.
type Session struct {
	cfg    SessionConfig
	log    *logrus.Entry
	notify *notifier
	clock  func() time.Time

	state     atomic.Int32
	recording atomic.Bool
	audio     *AudioBuffer
	level     atomic.Uint64 // float64 bits

	mu     sync.Mutex
	cur    *cycle
	closed bool
}

// cycle is the state of one recording.
type cycle struct {
	id     string
	log    *logrus.Entry
	source FrameSource
	path   string
	width  int
	height int

	ctx     context.Context // cancelled on abort or fatal error
	cancel  context.CancelFunc
	srcCtx  context.Context // cancelled when capture stops
	stopSrc context.CancelFunc

	pacer   *FramePacer
	queue   *OrderedQueue[*VideoFrame]
	pool    *ConvertPool
	stream  *H264StreamEncoder
	tmp     *os.File
	start   time.Time
	aborted atomic.Bool

	captured atomic.Uint64
	paceDone chan struct{}
	done     chan struct{}

	mu     sync.Mutex
	stopAt time.Time
	audio  *AudioBuffer
	thumb  *image.RGBA
	fatal  error
	result *RecordingResult
	err    error
}

// NewSession creates an idle session.
func NewSession(cfg SessionConfig) (*Session, error) {
	def := DefaultSessionConfig()
	if cfg.FPS <= 0 {
		cfg.FPS = def.FPS
	}
	if cfg.Width == 0 && cfg.Height == 0 {
		cfg.Width, cfg.Height = def.Width, def.Height
	}
	if err := validateResolution(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.SavingWorkers < cfg.Workers {
		cfg.SavingWorkers = max(def.SavingWorkers, cfg.Workers)
	}
	if cfg.Encoder.Codec == VideoCodecUnknown {
		cfg.Encoder = DefaultVideoEncoderConfig(cfg.Width, cfg.Height, cfg.FPS)
	}
	if cfg.NewEncoder == nil {
		cfg.NewEncoder = NewVideoEncoder
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("module", "recorder")

	s := &Session{
		cfg:    cfg,
		log:    log,
		notify: newNotifier(cfg.Observers, 64, log),
		clock:  cfg.Clock,
		audio:  NewAudioBuffer(cfg.AudioSampleRate, cfg.AudioChannels, cfg.AudioFormat),
	}
	s.state.Store(int32(StateIdle))
	return s, nil
}

// State returns the current writing state.
func (s *Session) State() WritingState {
	return WritingState(s.state.Load())
}

// Recording reports whether capture is active.
func (s *Session) Recording() bool {
	return s.recording.Load()
}

func (s *Session) setState(st WritingState) {
	prev := WritingState(s.state.Swap(int32(st)))
	if prev != st {
		s.log.WithFields(logrus.Fields{"from": prev, "to": st}).Debug("writing state")
		s.notify.writing(st)
	}
}

func (s *Session) current() *cycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// StartRecording begins a recording. It fails with ErrSessionBusy unless
// the session is Idle, leaving any recording in flight untouched.
// Cancelling ctx aborts the recording.
func (s *Session) StartRecording(ctx context.Context, req RecordRequest) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}

	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateCollecting)) {
		return fmt.Errorf("%w: state %s", ErrSessionBusy, s.State())
	}

	c, err := s.newCycle(ctx, req)
	if err != nil {
		s.state.Store(int32(StateIdle))
		return err
	}

	s.mu.Lock()
	s.cur = c
	s.mu.Unlock()

	s.audio.Reset()
	c.start = s.clock()
	c.pacer.Start(c.start)
	s.recording.Store(true)

	s.notify.writing(StateCollecting)
	s.notify.recording(true)
	c.log.WithFields(logrus.Fields{
		"path":       c.path,
		"resolution": fmt.Sprintf("%dx%d", c.width, c.height),
		"fps":        s.cfg.FPS,
		"mode":       s.cfg.FrameRateMode,
	}).Info("recording started")

	go s.run(c)
	return nil
}

func (s *Session) newCycle(ctx context.Context, req RecordRequest) (*cycle, error) {
	if req.Source == nil {
		return nil, errors.New("record request has no frame source")
	}
	if req.Path == "" {
		return nil, errors.New("record request has no output path")
	}
	w, h := s.cfg.Width, s.cfg.Height
	if req.Width != 0 || req.Height != 0 {
		w, h = req.Width, req.Height
	}
	if err := validateResolution(w, h); err != nil {
		return nil, err
	}

	encCfg := s.cfg.Encoder
	encCfg.Width, encCfg.Height, encCfg.FPS = w, h, s.cfg.FPS
	enc, err := s.cfg.NewEncoder(encCfg)
	if err != nil {
		return nil, fmt.Errorf("create encoder: %w", err)
	}

	tmp, err := os.CreateTemp(s.cfg.TempDir, "recorder-*.h264")
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create stream file: %w", err)
	}

	id := uuid.NewString()
	c := &cycle{
		id:       id,
		log:      s.log.WithField("session", id),
		source:   req.Source,
		path:     NormalizeMP4Path(req.Path),
		width:    w,
		height:   h,
		pacer:    NewFramePacer(s.cfg.FPS),
		queue:    NewOrderedQueue[*VideoFrame](),
		tmp:      tmp,
		paceDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.srcCtx, c.stopSrc = context.WithCancel(c.ctx)

	poolCfg := ConvertPoolConfig{
		Workers:   s.cfg.Workers,
		Width:     w,
		Height:    h,
		ScaleMode: s.cfg.ScaleMode,
		Policy:    s.cfg.FailurePolicy,
		Logger:    c.log,
	}
	if s.cfg.Thumbnail {
		poolCfg.OnFirstFrame = func(img *image.RGBA) {
			c.mu.Lock()
			c.thumb = img
			c.mu.Unlock()
		}
	}
	c.pool = NewConvertPool(poolCfg, c.queue)
	c.stream = NewH264StreamEncoder(enc, tmp, StreamEncoderConfig{
		FPS:              s.cfg.FPS,
		KeyframeInterval: s.cfg.KeyframeInterval,
		Tap:              s.cfg.Tap,
		Logger:           c.log,
	})
	return c, nil
}

// StopRecording stops capture. Frames already captured are still paced,
// converted and encoded; the file is written in the background. Use Wait
// for the outcome.
func (s *Session) StopRecording() error {
	if !s.recording.CompareAndSwap(true, false) {
		return ErrNotRecording
	}
	c := s.current()

	c.mu.Lock()
	c.stopAt = s.clock()
	c.audio = s.audio.Snapshot()
	elapsed := c.stopAt.Sub(c.start)
	c.mu.Unlock()

	if s.state.CompareAndSwap(int32(StateCollecting), int32(StateEncoding)) {
		s.notify.writing(StateEncoding)
	}
	s.notify.recording(false)

	// Capture no longer competes for CPU.
	c.pool.SetWorkers(s.cfg.SavingWorkers)
	c.stopSrc()

	c.log.WithFields(logrus.Fields{
		"elapsed":  elapsed,
		"captured": c.captured.Load(),
	}).Info("recording stopped")
	return nil
}

// Abort drops the recording in flight without writing a file. Frames not
// yet encoded are discarded and counted in the log.
func (s *Session) Abort() {
	c := s.current()
	if c == nil || s.State() == StateIdle || c.aborted.Swap(true) {
		return
	}
	if s.recording.CompareAndSwap(true, false) {
		s.notify.recording(false)
	}
	c.stopSrc()
	c.cancel()
	queued := c.queue.Abort()

	// Everything submitted but not yet taken by the encoder is lost,
	// whether it was waiting in the queue or still converting.
	var dropped uint64
	if submitted, taken := c.pool.Stats().Submitted, c.queue.Cursor(); submitted > taken {
		dropped = submitted - taken
	}
	c.log.WithFields(logrus.Fields{
		"dropped": dropped,
		"queued":  queued,
	}).Warn("recording aborted, dropping unencoded frames")
}

// Wait blocks until the current or most recent recording is finished
// and returns its outcome.
func (s *Session) Wait(ctx context.Context) (*RecordingResult, error) {
	c := s.current()
	if c == nil {
		return nil, ErrNotRecording
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.result, c.err
	}
}

// Done returns a channel closed when the current recording is finished.
// With no recording it returns a closed channel.
func (s *Session) Done() <-chan struct{} {
	if c := s.current(); c != nil {
		return c.done
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Captured returns how many frames the current recording has read from
// its source.
func (s *Session) Captured() uint64 {
	if c := s.current(); c != nil {
		return c.captured.Load()
	}
	return 0
}

// AudioSink returns the push entry for the audio collaborator. Samples
// are buffered only while recording; the level meter always updates.
func (s *Session) AudioSink() func(*AudioSamples) {
	return func(a *AudioSamples) {
		if a == nil {
			return
		}
		s.level.Store(math.Float64bits(peakLevel(a)))
		if !s.recording.Load() {
			return
		}
		if err := s.audio.Append(a); err != nil {
			s.log.WithError(err).Debug("dropping audio chunk")
		}
	}
}

// AudioLevel returns the peak level of the last pushed audio, 0..1.
func (s *Session) AudioLevel() float64 {
	return math.Float64frombits(s.level.Load())
}

// Close aborts any recording, waits for it and stops notifications.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.Abort()
	<-s.Done()
	s.notify.close()
	return nil
}

// run supervises one recording: pacing in its own goroutine, encoding
// here, then saving.
func (s *Session) run(c *cycle) {
	go s.paceLoop(c)

	stats, encErr := c.stream.Run(c.ctx, c.queue)
	<-c.paceDone
	s.finish(c, stats, encErr)
}

// paceLoop reads the source until capture stops, paces frames and feeds
// the conversion pool. It closes the queue when done.
func (s *Session) paceLoop(c *cycle) {
	defer close(c.paceDone)
	defer func() {
		c.pool.Wait()
		c.queue.Close()
	}()

	measured := s.cfg.FrameRateMode == FrameRateMeasured
	var next uint64
	backoff := pollMinBackoff

	accept := func(f *CapturedFrame) bool {
		c.captured.Add(1)
		s.notify.preview(f)
		if measured {
			if c.pool.Submit(c.ctx, next, f) != nil {
				return false
			}
			next++
			return true
		}
		c.pacer.Push(f)
		return s.submit(c, c.pacer.Flush())
	}

	for {
		f, err := c.source.NextFrame(c.srcCtx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.log.Debug("frame source ended")
				<-c.srcCtx.Done()
			} else if c.srcCtx.Err() == nil {
				s.fail(c, fmt.Errorf("capture: %w", err))
			}
			break
		}
		if f == nil {
			select {
			case <-c.srcCtx.Done():
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, pollMaxBackoff)
			if c.srcCtx.Err() != nil {
				break
			}
			continue
		}
		backoff = pollMinBackoff
		if c.srcCtx.Err() != nil {
			// Stopped while this frame was being read.
			if c.ctx.Err() == nil && s.beforeStop(c, f) && !accept(f) {
				return
			}
			break
		}
		if !accept(f) {
			return
		}
	}

	if c.ctx.Err() != nil {
		return
	}

	// Frames captured before the stop may still sit in the source. The
	// source context is already done, so the source does not block.
	drained := 0
	for drained < maxDrainFrames {
		f, err := c.source.NextFrame(c.srcCtx)
		if err != nil || f == nil || !s.beforeStop(c, f) {
			break
		}
		if !accept(f) {
			return
		}
		drained++
	}
	if drained > 0 {
		c.log.WithField("frames", drained).Debug("drained buffered frames after stop")
	}

	if measured {
		return
	}
	c.mu.Lock()
	stopAt := c.stopAt
	c.mu.Unlock()
	s.submit(c, c.pacer.Finish(stopAt))
}

// beforeStop reports whether f was captured no later than the stop.
func (s *Session) beforeStop(c *cycle, f *CapturedFrame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.stopAt.IsZero() && !f.Timestamp.After(c.stopAt)
}

func (s *Session) submit(c *cycle, frames []PacedFrame) bool {
	for _, pf := range frames {
		if err := c.pool.Submit(c.ctx, pf.Index, pf.Frame); err != nil {
			return false
		}
	}
	return true
}

// fail ends the recording on a capture error; no file is written.
func (s *Session) fail(c *cycle, err error) {
	c.mu.Lock()
	if c.fatal == nil {
		c.fatal = err
	}
	c.mu.Unlock()

	c.log.WithError(err).Error("recording failed")
	if s.recording.CompareAndSwap(true, false) {
		s.notify.recording(false)
	}
	c.stopSrc()
	c.cancel()
	c.queue.Abort()
}

func (s *Session) finish(c *cycle, stats StreamStats, encErr error) {
	// The caller's context may have ended the recording without a stop.
	if s.recording.CompareAndSwap(true, false) {
		s.notify.recording(false)
	}

	c.mu.Lock()
	fatal := c.fatal
	c.mu.Unlock()

	var err error
	switch {
	case c.aborted.Load():
		err = ErrAborted
	case fatal != nil:
		err = fatal
	case c.ctx.Err() != nil:
		err = fmt.Errorf("%w: %w", ErrAborted, context.Cause(c.ctx))
	case encErr != nil:
		err = encErr
	case c.pool.Err() != nil:
		err = c.pool.Err()
	}

	res := &RecordingResult{
		ID:       c.id,
		Width:    c.width,
		Height:   c.height,
		Captured: c.captured.Load(),
		Pacer:    c.pacer.Stats(),
		Convert:  c.pool.Stats(),
		Stream:   stats,
	}
	c.mu.Lock()
	if !c.stopAt.IsZero() {
		res.Elapsed = c.stopAt.Sub(c.start)
	}
	c.mu.Unlock()

	if err == nil {
		s.setState(StateSaving)
		err = s.save(c, res)
	}

	if cerr := c.cleanup(); cerr != nil {
		c.log.WithError(cerr).Warn("failed to remove intermediate stream")
	}

	entry := c.log.WithFields(logrus.Fields{
		"frames":   res.Frames,
		"captured": res.Captured,
		"repeated": res.Pacer.Repeated,
		"elapsed":  res.Elapsed,
	})
	if err != nil {
		entry.WithError(err).Error("recording failed")
		res = nil
	} else {
		entry.WithField("path", res.Path).Info("recording saved")
	}

	c.mu.Lock()
	c.result, c.err = res, err
	c.audio, c.thumb = nil, nil
	c.mu.Unlock()

	c.cancel()
	s.setState(StateIdle)
	close(c.done)
}

func (s *Session) save(c *cycle, res *RecordingResult) error {
	stream, err := os.ReadFile(c.tmp.Name())
	if err != nil {
		return fmt.Errorf("read stream: %w", err)
	}

	c.mu.Lock()
	audio, thumb := c.audio, c.thumb
	c.mu.Unlock()

	fps := float64(s.cfg.FPS)
	if s.cfg.FrameRateMode == FrameRateMeasured && res.Elapsed > 0 && res.Stream.FramesOut > 0 {
		fps = float64(res.Stream.FramesOut) / res.Elapsed.Seconds()
	}
	res.FrameRate = fps

	mux, err := MuxMP4(MuxConfig{
		Path:      c.path,
		FrameRate: fps,
		Width:     c.width,
		Height:    c.height,
	}, stream, audio)
	if err != nil {
		return fmt.Errorf("save recording: %w", err)
	}
	res.Path = mux.Path
	res.Frames = mux.VideoFrames
	res.VideoDuration = mux.VideoDuration
	res.AudioDuration = mux.AudioDuration

	if thumb != nil {
		path := ThumbnailPath(mux.Path)
		if err := WriteThumbnail(path, thumb); err != nil {
			c.log.WithError(err).Warn("thumbnail not written")
		} else {
			res.Thumbnail = path
		}
	}
	return nil
}

// cleanup closes and removes the intermediate stream file.
func (c *cycle) cleanup() error {
	var result *multierror.Error
	if err := c.tmp.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		result = multierror.Append(result, err)
	}
	if err := os.Remove(c.tmp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func validateResolution(w, h int) error {
	if w <= 0 || h <= 0 || w%2 != 0 || h%2 != 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidResolution, w, h)
	}
	return nil
}
