package recorder

import "errors"

// WritingState is the phase of a recording cycle.
type WritingState int32

const (
	StateIdle       WritingState = iota // Ready for StartRecording
	StateCollecting                     // Capturing, pacing and encoding live
	StateEncoding                       // Capture stopped, draining the encoder
	StateSaving                         // Writing the container to disk
)

func (s WritingState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateCollecting:
		return "Collecting"
	case StateEncoding:
		return "Encoding"
	case StateSaving:
		return "Saving"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s WritingState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Session errors.
var (
	ErrSessionBusy   = errors.New("recording already in progress")
	ErrNotRecording  = errors.New("not recording")
	ErrAborted       = errors.New("recording aborted")
	ErrSessionClosed = errors.New("session closed")
)
