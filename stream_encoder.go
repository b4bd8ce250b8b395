package recorder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// EncodedTap observes every access unit written to the stream, for live
// previews. Implementations must not retain frame.Data past the call.
type EncodedTap interface {
	OnEncoded(frame *EncodedFrame)
}

// StreamEncoderConfig configures an H264StreamEncoder.
type StreamEncoderConfig struct {
	FPS int // Output frame rate, for timestamps

	// KeyframeInterval forces an IDR every this many frames
	// (default: 2 seconds of video).
	KeyframeInterval int

	Tap    EncodedTap
	Logger *logrus.Entry
}

// StreamStats provides stream encoding metrics.
type StreamStats struct {
	FramesIn   uint64        // Frames taken from the queue
	FramesOut  uint64        // Access units written
	Keyframes  uint64        // IDR access units written
	Bytes      uint64        // Bytes written to the stream
	Discarded  uint64        // Frames drained without encoding after a failure
	EncodeTime time.Duration // Time spent inside the encoder
}

// H264StreamEncoder is the sequential stage of the pipeline: it drains
// an OrderedQueue in index order and writes an Annex-B elementary stream.
type H264StreamEncoder struct {
	enc VideoEncoder
	w   io.Writer
	cfg StreamEncoderConfig
	log *logrus.Entry

	stats StreamStats
}

// NewH264StreamEncoder creates a stream encoder writing to w. The encoder
// is owned by the stream encoder from here on and closed by Run.
func NewH264StreamEncoder(enc VideoEncoder, w io.Writer, cfg StreamEncoderConfig) *H264StreamEncoder {
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	if cfg.KeyframeInterval <= 0 {
		cfg.KeyframeInterval = 2 * cfg.FPS
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &H264StreamEncoder{
		enc: enc,
		w:   w,
		cfg: cfg,
		log: log.WithField("stage", "encode"),
	}
}

// Run encodes frames until the queue is closed and drained, or aborted.
//
// After the first error Run stops encoding but keeps draining the queue,
// so the conversion workers pushing into it always finish. Cancelling ctx
// has the same effect.
func (e *H264StreamEncoder) Run(ctx context.Context, q *OrderedQueue[*VideoFrame]) (StreamStats, error) {
	bw := bufio.NewWriterSize(e.w, 256<<10)
	var runErr error

	defer e.enc.Close()

	for {
		frame, ok := q.Next()
		if !ok {
			break
		}
		e.stats.FramesIn++

		if runErr == nil {
			runErr = ctx.Err()
		}
		if runErr != nil {
			e.stats.Discarded++
			continue
		}

		if frame.Index%uint64(e.cfg.KeyframeInterval) == 0 {
			e.enc.RequestKeyframe()
		}

		start := time.Now()
		out, err := e.enc.Encode(frame)
		e.stats.EncodeTime += time.Since(start)
		if err != nil {
			runErr = fmt.Errorf("encode frame %d: %w", frame.Index, err)
			e.log.WithError(err).WithField("index", frame.Index).Error("encoder failed, draining queue")
			continue
		}
		if out == nil {
			continue // encoder buffering
		}
		if err := e.write(bw, out); err != nil {
			runErr = err
		}
	}

	if runErr == nil {
		tail, err := e.enc.Flush()
		if err != nil {
			runErr = fmt.Errorf("flush encoder: %w", err)
		}
		for _, out := range tail {
			if runErr != nil {
				break
			}
			runErr = e.write(bw, out)
		}
	}
	if err := bw.Flush(); err != nil && runErr == nil {
		runErr = fmt.Errorf("write stream: %w", err)
	}

	e.log.WithFields(logrus.Fields{
		"frames":    e.stats.FramesOut,
		"keyframes": e.stats.Keyframes,
		"bytes":     e.stats.Bytes,
		"discarded": e.stats.Discarded,
	}).Debug("stream encoder finished")

	return e.stats, runErr
}

func (e *H264StreamEncoder) write(w io.Writer, out *EncodedFrame) error {
	out.Timestamp = uint32(out.Index * 90000 / uint64(e.cfg.FPS))
	out.Duration = uint32(90000 / e.cfg.FPS)

	if _, err := w.Write(out.Data); err != nil {
		return fmt.Errorf("write stream: %w", err)
	}
	e.stats.FramesOut++
	e.stats.Bytes += uint64(len(out.Data))
	if out.IsKeyframe() {
		e.stats.Keyframes++
	}

	if e.cfg.Tap != nil {
		e.cfg.Tap.OnEncoded(out)
	}
	return nil
}
