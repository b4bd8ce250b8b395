package recorder

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Observer receives best-effort state notifications, typically a UI.
// Calls come from a single dispatcher goroutine, never from the pipeline.
type Observer interface {
	MarkRecordingState(recording bool)
	MarkWritingState(state WritingState)
}

// PreviewObserver is implemented by observers that also want live frames.
type PreviewObserver interface {
	Preview(frame *CapturedFrame)
}

type eventKind int

const (
	eventRecording eventKind = iota
	eventWriting
	eventPreview
)

type event struct {
	kind      eventKind
	recording bool
	state     WritingState
	frame     *CapturedFrame
}

// notifier fans events out to observers without ever blocking the
// sender. A full queue drops the event.
type notifier struct {
	observers []Observer
	previews  []PreviewObserver
	events    chan event
	log       *logrus.Entry

	dropped atomic.Uint64
	closeMu sync.RWMutex
	closed  bool
	done    chan struct{}
}

func newNotifier(observers []Observer, depth int, log *logrus.Entry) *notifier {
	if depth <= 0 {
		depth = 64
	}
	n := &notifier{
		observers: observers,
		events:    make(chan event, depth),
		log:       log.WithField("stage", "notify"),
		done:      make(chan struct{}),
	}
	for _, o := range observers {
		if p, ok := o.(PreviewObserver); ok {
			n.previews = append(n.previews, p)
		}
	}
	go n.run()
	return n
}

func (n *notifier) send(ev event) {
	n.closeMu.RLock()
	defer n.closeMu.RUnlock()
	if n.closed || len(n.observers) == 0 {
		return
	}
	select {
	case n.events <- ev:
	default:
		n.dropped.Add(1)
	}
}

func (n *notifier) recording(on bool) {
	n.send(event{kind: eventRecording, recording: on})
}

func (n *notifier) writing(s WritingState) {
	n.send(event{kind: eventWriting, state: s})
}

func (n *notifier) preview(f *CapturedFrame) {
	if len(n.previews) == 0 {
		return
	}
	n.send(event{kind: eventPreview, frame: f})
}

func (n *notifier) close() {
	n.closeMu.Lock()
	if !n.closed {
		n.closed = true
		close(n.events)
	}
	n.closeMu.Unlock()
	<-n.done
}

func (n *notifier) run() {
	defer close(n.done)
	for ev := range n.events {
		switch ev.kind {
		case eventPreview:
			for _, p := range n.previews {
				n.call(func() { p.Preview(ev.frame) })
			}
		default:
			for _, o := range n.observers {
				if ev.kind == eventRecording {
					n.call(func() { o.MarkRecordingState(ev.recording) })
				} else {
					n.call(func() { o.MarkWritingState(ev.state) })
				}
			}
		}
	}
}

// call isolates one observer callback; a panicking observer is logged
// and otherwise ignored.
func (n *notifier) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			n.log.WithField("panic", r).Error("observer panicked")
		}
	}()
	fn()
}
