// Package capture produces media artifacts from a camera's live stream.
//
// A Capturer is a pure function of (request) -> artifact or failure. It never
// retries; retry policy belongs to the camera session that asked.
package capture

import (
	"context"
	"fmt"
	"time"
)

// Kind selects the media type of a capture.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Request describes one capture invocation. Ephemeral; produced by a camera
// session or a chat command, consumed once by a Capturer.
type Request struct {
	ID       string
	Camera   string
	URL      string // RTSP stream URL
	Kind     Kind
	Duration time.Duration // video only
}

// Artifact is the captured media blob. Ownership transfers to the notifier
// once the owning session hands it off.
type Artifact struct {
	Camera    string
	Kind      Kind
	Data      []byte
	Timestamp time.Time
}

// Filename returns a platform-friendly attachment name for the artifact.
func (a Artifact) Filename() string {
	ext := "jpg"
	if a.Kind == KindVideo {
		ext = "mp4"
	}
	return fmt.Sprintf("%s-%s.%s", a.Camera, a.Timestamp.Format("20060102-150405"), ext)
}

// Failure reasons for CaptureError.
const (
	ReasonUnreachable  = "stream unreachable"
	ReasonAuthRejected = "auth rejected"
	ReasonTimeout      = "timeout"
	ReasonEmpty        = "zero bytes written"
)

// CaptureError reports a failed capture with a classified reason.
type CaptureError struct {
	Camera string
	Kind   Kind
	Reason string
	Err    error
}

func (e *CaptureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capture %s from %s: %s: %v", e.Kind, e.Camera, e.Reason, e.Err)
	}
	return fmt.Sprintf("capture %s from %s: %s", e.Kind, e.Camera, e.Reason)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Capturer produces a media artifact for a request. Implementations must
// bound their own worst-case runtime with a hard timeout strictly greater
// than the requested duration.
type Capturer interface {
	Capture(ctx context.Context, req Request) (*Artifact, error)
}
