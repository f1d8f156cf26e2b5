// Package session runs the per-camera control loop: it turns motion events
// and on-demand commands into captures and notifications while enforcing the
// one-in-flight-capture and cooldown policies.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tinyland-inc/camgate/pkg/bus"
	"github.com/tinyland-inc/camgate/pkg/capture"
	"github.com/tinyland-inc/camgate/pkg/config"
	"github.com/tinyland-inc/camgate/pkg/events"
	"github.com/tinyland-inc/camgate/pkg/logger"
	"github.com/tinyland-inc/camgate/pkg/notify"
)

// State is the session's trigger-handling phase. All transitions happen on
// the session's own goroutine; State() is a read-only snapshot for status
// reporting.
type State int32

const (
	StateIdle State = iota
	StateCapturing
	StateCoolingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateCoolingDown:
		return "cooling-down"
	default:
		return "unknown"
	}
}

// TriggerOrigin distinguishes what started a capture, for captions and for
// the cooldown-bypass rule.
type TriggerOrigin int

const (
	TriggerMotion TriggerOrigin = iota
	TriggerCommand
	TriggerSchedule
)

type trigger struct {
	id     string
	kind   capture.Kind
	origin TriggerOrigin
	at     time.Time
}

type captureResult struct {
	trig     trigger
	artifact *capture.Artifact
	err      error
}

// Session owns one camera's state machine. Motion events arrive on the sink
// channel fed by the camera's event source; commands arrive via Offer from
// the supervisor's routing loop.
type Session struct {
	cam      config.CameraConfig
	capturer capture.Capturer
	notifier notify.Notifier
	cooldown time.Duration
	clip     time.Duration

	motions chan events.MotionEvent
	demands chan bus.CaptureCommand

	state atomic.Int32
}

func New(cam config.CameraConfig, capturer capture.Capturer, notifier notify.Notifier) *Session {
	return &Session{
		cam:      cam,
		capturer: capturer,
		notifier: notifier,
		cooldown: time.Duration(cam.CooldownSeconds) * time.Second,
		clip:     time.Duration(cam.ClipSeconds) * time.Second,
		motions:  make(chan events.MotionEvent, 16),
		demands:  make(chan bus.CaptureCommand, 4),
	}
}

func (s *Session) Camera() string { return s.cam.Name }

func (s *Session) State() State { return State(s.state.Load()) }

// MotionSink is where the camera's event source writes. The buffer absorbs
// bursts while a delivery is in progress.
func (s *Session) MotionSink() chan<- events.MotionEvent { return s.motions }

// Offer hands an on-demand command to the session without blocking the
// caller. False means the session's demand queue is full.
func (s *Session) Offer(cmd bus.CaptureCommand) bool {
	select {
	case s.demands <- cmd:
		return true
	default:
		return false
	}
}

// Run drives the state machine until ctx is canceled. An in-flight capture
// at shutdown is drained: the session waits for it and delivers the result
// before returning.
func (s *Session) Run(ctx context.Context) error {
	s.setState(StateIdle)
	results := make(chan captureResult, 1)
	var cooldownC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if s.State() == StateCapturing {
				s.drain(ctx, results)
			}
			return ctx.Err()

		case ev := <-s.motions:
			if ev.Transition != events.MotionStarted {
				logger.DebugCF("session", "Motion cleared", map[string]any{"camera": s.cam.Name})
				continue
			}
			if st := s.State(); st != StateIdle {
				logger.InfoCF("session", "Motion dropped", map[string]any{
					"camera": s.cam.Name, "state": st.String(),
				})
				continue
			}
			trig := trigger{id: uuid.New().String(), kind: capture.KindImage, origin: TriggerMotion, at: ev.Time}
			if s.cam.NoMedia {
				s.alertOnly(ctx, trig)
				cooldownC = s.enterCooldown()
				continue
			}
			s.begin(ctx, trig, results)

		case cmd := <-s.demands:
			// Commands bypass cooldown suppression but never overlap a
			// running capture.
			if s.State() == StateCapturing {
				logger.InfoCF("session", "Command dropped, capture in flight", map[string]any{
					"camera": s.cam.Name, "command": cmd.ID,
				})
				continue
			}
			trig := trigger{id: cmd.ID, kind: cmd.Kind, origin: commandOrigin(cmd.Origin), at: time.Now()}
			if s.cam.NoMedia {
				s.alertOnly(ctx, trig)
				continue
			}
			cooldownC = nil
			s.begin(ctx, trig, results)

		case res := <-results:
			s.deliver(ctx, res)
			cooldownC = s.enterCooldown()

		case <-cooldownC:
			cooldownC = nil
			if s.State() == StateCoolingDown {
				s.setState(StateIdle)
				logger.DebugCF("session", "Cooldown elapsed", map[string]any{"camera": s.cam.Name})
			}
		}
	}
}

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

func commandOrigin(o bus.Origin) TriggerOrigin {
	if o == bus.OriginSchedule {
		return TriggerSchedule
	}
	return TriggerCommand
}

// begin launches the capture on its own goroutine. The capture keeps running
// through shutdown so the drain path can deliver its result; the capturer's
// hard timeout bounds how long that can take.
func (s *Session) begin(ctx context.Context, trig trigger, results chan<- captureResult) {
	s.setState(StateCapturing)
	req := capture.Request{
		ID:     trig.id,
		Camera: s.cam.Name,
		URL:    s.cam.RTSPURL(),
		Kind:   trig.kind,
	}
	if trig.kind == capture.KindVideo {
		req.Duration = s.clip
	}
	logger.InfoCF("session", "Capture started", map[string]any{
		"camera": s.cam.Name, "kind": string(trig.kind), "id": trig.id,
	})

	captureCtx := context.WithoutCancel(ctx)
	go func() {
		artifact, err := s.capturer.Capture(captureCtx, req)
		results <- captureResult{trig: trig, artifact: artifact, err: err}
	}()
}

// enterCooldown arms the cooldown timer, or goes straight back to Idle when
// the interval is zero.
func (s *Session) enterCooldown() <-chan time.Time {
	if s.cooldown <= 0 {
		s.setState(StateIdle)
		return nil
	}
	s.setState(StateCoolingDown)
	return time.After(s.cooldown)
}

// drain waits out the in-flight capture at shutdown and delivers its result
// on a bounded, cancellation-independent context.
func (s *Session) drain(ctx context.Context, results <-chan captureResult) {
	logger.InfoCF("session", "Draining in-flight capture", map[string]any{"camera": s.cam.Name})
	res := <-results
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	s.deliver(dctx, res)
}

func (s *Session) deliver(ctx context.Context, res captureResult) {
	if res.err != nil {
		logger.ErrorCF("session", "Capture failed", map[string]any{
			"camera": s.cam.Name, "id": res.trig.id, "error": res.err.Error(),
		})
		s.sendAlert(ctx, failureText(s.cam.Name, res.err))
		return
	}

	caption := s.caption(res.trig)
	var err error
	if res.artifact.Kind == capture.KindVideo {
		err = s.notifier.SendVideo(ctx, res.artifact.Data, res.artifact.Filename(), caption)
	} else {
		err = s.notifier.SendImage(ctx, res.artifact.Data, res.artifact.Filename(), caption)
	}
	if err != nil {
		// At-most-once delivery. Log and keep going so a chat outage cannot
		// stall future captures.
		logger.ErrorCF("session", "Delivery failed", map[string]any{
			"camera": s.cam.Name, "id": res.trig.id, "error": err.Error(),
		})
		return
	}
	logger.InfoCF("session", "Capture delivered", map[string]any{
		"camera": s.cam.Name, "kind": string(res.trig.kind), "bytes": len(res.artifact.Data),
	})
}

func (s *Session) alertOnly(ctx context.Context, trig trigger) {
	s.sendAlert(ctx, s.caption(trig))
}

func (s *Session) sendAlert(ctx context.Context, text string) {
	if err := s.notifier.SendAlert(ctx, text); err != nil {
		logger.ErrorCF("session", "Alert delivery failed", map[string]any{
			"camera": s.cam.Name, "error": err.Error(),
		})
	}
}

func (s *Session) caption(trig trigger) string {
	switch trig.origin {
	case TriggerCommand:
		return fmt.Sprintf("On-demand capture from %s", s.cam.Name)
	case TriggerSchedule:
		return fmt.Sprintf("Scheduled snapshot from %s", s.cam.Name)
	default:
		return fmt.Sprintf("Motion detected on %s at %s", s.cam.Name, trig.at.Format("15:04:05"))
	}
}

// failureText turns a capture error into the offline alert users see.
func failureText(camera string, err error) string {
	var capErr *capture.CaptureError
	if errors.As(err, &capErr) {
		return fmt.Sprintf("Camera %s: %s capture failed (%s)", camera, capErr.Kind, capErr.Reason)
	}
	return fmt.Sprintf("Camera %s: capture failed (%v)", camera, err)
}
