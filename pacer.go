package recorder

import (
	"time"
)

// DefaultFPS is the output frame rate used when none is configured.
const DefaultFPS = 24

// PacerStats provides pacing metrics.
type PacerStats struct {
	Emitted          uint64        // Paced frames emitted, repeats included
	Repeated         uint64        // Ticks filled by repeating the previous frame
	Skipped          uint64        // Input frames superseded by a newer frame in the same tick
	Late             uint64        // Input frames older than an already emitted tick
	AccumulatedDrift time.Duration // Sum of (chosen frame time - ideal tick start)
}

// FramePacer re-times an irregular stream of captured frames onto a fixed
// cadence of fps ticks per second.
//
// Tick k covers [origin + k/fps, origin + (k+1)/fps). Boundaries are
// computed from k directly, so rounding never accumulates from one tick
// to the next. Every tick gets exactly one frame: the newest frame that
// arrived before the tick ended, or a repeat of the previous one when
// nothing new arrived. Frames are never dropped to catch up.
//
// FramePacer is not safe for concurrent use; the pacing loop owns it.
type FramePacer struct {
	fps       int
	origin    time.Time
	hasOrigin bool

	ticks   uint64           // ticks emitted so far (next sequence index)
	pending []*CapturedFrame // pushed, not yet assigned to a tick
	newest  time.Time        // newest timestamp pushed
	pushed  bool
	last    *CapturedFrame // frame emitted for the previous tick

	stats PacerStats
}

// NewFramePacer creates a pacer for the given output frame rate.
func NewFramePacer(fps int) *FramePacer {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &FramePacer{fps: fps}
}

// FPS returns the output frame rate.
func (p *FramePacer) FPS() int { return p.fps }

// Start anchors tick 0 at origin. Without Start the first pushed frame
// becomes the origin.
func (p *FramePacer) Start(origin time.Time) {
	p.origin = origin
	p.hasOrigin = true
}

// boundary returns the ideal start of tick k.
func (p *FramePacer) boundary(k uint64) time.Time {
	return p.origin.Add(time.Duration(k) * time.Second / time.Duration(p.fps))
}

// NextDeadline returns the end of the tick that will be emitted next.
func (p *FramePacer) NextDeadline() time.Time {
	return p.boundary(p.ticks + 1)
}

// Push buffers a captured frame. It never emits; call Flush afterwards.
func (p *FramePacer) Push(f *CapturedFrame) {
	if f == nil {
		return
	}
	if !p.hasOrigin {
		p.Start(f.Timestamp)
	}
	if p.ticks > 0 && f.Timestamp.Before(p.boundary(p.ticks)) {
		p.stats.Late++
		return
	}
	if p.pushed && f.Timestamp.Before(p.newest) {
		// Out-of-order arrival within the open tick window.
		p.stats.Late++
		return
	}

	p.pending = append(p.pending, f)
	p.newest = f.Timestamp
	p.pushed = true
}

// Flush emits one paced frame for every tick whose end boundary has been
// crossed by a pushed frame. It returns an empty slice when no boundary
// was crossed yet.
func (p *FramePacer) Flush() []PacedFrame {
	if !p.pushed {
		return nil
	}

	var out []PacedFrame
	for !p.newest.Before(p.NextDeadline()) {
		out = append(out, p.emit(p.NextDeadline()))
	}
	return out
}

// Finish emits the remaining ticks so the stream covers the span from
// origin to end, rounded to the nearest tick. Frames buffered past the
// final tick are discarded. Finish returns nil if no frame was ever
// pushed since there is nothing to show.
func (p *FramePacer) Finish(end time.Time) []PacedFrame {
	if !p.hasOrigin || (!p.pushed && p.last == nil) {
		return nil
	}

	total := p.TicksAt(end)
	var out []PacedFrame
	for p.ticks < total {
		out = append(out, p.emit(p.NextDeadline()))
	}

	p.stats.Skipped += uint64(len(p.pending))
	p.pending = nil
	return out
}

// TicksAt returns the number of ticks that cover origin..t, rounded to
// the nearest tick.
func (p *FramePacer) TicksAt(t time.Time) uint64 {
	span := t.Sub(p.origin)
	if span <= 0 {
		return 0
	}
	half := time.Second / 2
	return uint64((span*time.Duration(p.fps) + half) / time.Second)
}

// emit assigns a frame to the next tick, whose end boundary is end.
func (p *FramePacer) emit(end time.Time) PacedFrame {
	var chosen *CapturedFrame
	for len(p.pending) > 0 && p.pending[0].Timestamp.Before(end) {
		if chosen != nil {
			p.stats.Skipped++
		}
		chosen = p.pending[0]
		p.pending[0] = nil
		p.pending = p.pending[1:]
	}

	repeat := false
	switch {
	case chosen != nil:
		p.stats.AccumulatedDrift += chosen.Timestamp.Sub(p.boundary(p.ticks))
	case p.last != nil:
		chosen = p.last
		repeat = true
		p.stats.Repeated++
	default:
		// Ticks before the first frame show the first frame.
		chosen = p.pending[0]
		repeat = true
		p.stats.Repeated++
	}

	pf := PacedFrame{Index: p.ticks, Frame: chosen, Repeat: repeat}
	p.ticks++
	p.last = chosen
	p.stats.Emitted++
	return pf
}

// Stats returns pacing statistics.
func (p *FramePacer) Stats() PacerStats {
	return p.stats
}
