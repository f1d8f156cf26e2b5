package bus

import "github.com/tinyland-inc/camgate/pkg/capture"

// Origin records what caused a capture command.
type Origin string

const (
	OriginCommand  Origin = "command"
	OriginSchedule Origin = "schedule"
)

// CaptureCommand is an on-demand capture request raised by a chat command
// or the snapshot scheduler, routed by the supervisor to a camera session.
type CaptureCommand struct {
	ID        string       `json:"id"`
	Bot       string       `json:"bot"`
	Camera    string       `json:"camera,omitempty"` // empty: resolve from bot association
	Kind      capture.Kind `json:"kind"`
	Origin    Origin       `json:"origin"`
	Requester string       `json:"requester,omitempty"`
}
