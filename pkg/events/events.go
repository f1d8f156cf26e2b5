// Package events turns a camera's ONVIF pull-point subscription into a
// stream of motion events.
package events

import (
	"errors"
	"time"
)

// ErrSourceUnavailable marks an event source whose transport is broken
// beyond what the source itself can fix. The supervisor reacts by restarting
// the source with backoff; nothing else should swallow it.
var ErrSourceUnavailable = errors.New("event source unavailable")

// Transition is the motion edge reported by the camera firmware.
type Transition int

const (
	MotionStarted Transition = iota
	MotionStopped
)

func (t Transition) String() string {
	if t == MotionStarted {
		return "started"
	}
	return "stopped"
}

// MotionEvent is one motion edge for one camera. Produced by a Source,
// consumed once by the camera's session.
type MotionEvent struct {
	Camera     string
	Time       time.Time
	Transition Transition
}
