package events

import (
	"context"
	"fmt"
	"time"

	"github.com/tinyland-inc/camgate/pkg/logger"
	"github.com/tinyland-inc/camgate/pkg/onvif"
)

// Source produces motion events on out until the context is canceled or the
// transport fails. A source is not restartable: after Run returns, build a
// new one.
type Source interface {
	Run(ctx context.Context, out chan<- MotionEvent) error
}

// pullClient is the slice of the ONVIF client the source needs. *onvif.Client
// satisfies it; tests substitute a fake camera.
type pullClient interface {
	GetDeviceInformation(ctx context.Context) (*onvif.DeviceInformation, error)
	EventServiceAddr(ctx context.Context) (string, error)
	CreatePullPointSubscription(ctx context.Context, eventsAddr string, termination time.Duration) (*onvif.Subscription, error)
	PullMessages(ctx context.Context, sub *onvif.Subscription, wait time.Duration, limit int) ([]onvif.Notification, error)
	Renew(ctx context.Context, sub *onvif.Subscription, termination time.Duration) error
	Unsubscribe(ctx context.Context, sub *onvif.Subscription) error
}

// Options tune the subscription cycle. Zero values take defaults matching
// common camera firmware limits.
type Options struct {
	SubscriptionTerm time.Duration // pull-point lifetime requested from the camera
	PullWait         time.Duration // max server-side block per PullMessages
	MessageLimit     int
}

func (o *Options) applyDefaults() {
	if o.SubscriptionTerm <= 0 {
		o.SubscriptionTerm = 10 * time.Minute
	}
	if o.PullWait <= 0 {
		o.PullWait = 30 * time.Second
	}
	if o.MessageLimit <= 0 {
		o.MessageLimit = 100
	}
}

// PullPointSource drives one camera's pull-point subscription and emits
// coalesced motion events.
type PullPointSource struct {
	camera string
	client pullClient
	opts   Options

	// inMotion tracks the last emitted edge so duplicate consecutive
	// "started" notifications from the camera collapse into one event.
	inMotion bool
}

func NewPullPointSource(camera string, client *onvif.Client, opts Options) *PullPointSource {
	return newPullPointSource(camera, client, opts)
}

func newPullPointSource(camera string, client pullClient, opts Options) *PullPointSource {
	opts.applyDefaults()
	return &PullPointSource{camera: camera, client: client, opts: opts}
}

// Run subscribes and pulls until ctx is canceled (returns ctx.Err()) or the
// transport breaks (returns an error wrapping ErrSourceUnavailable).
func (s *PullPointSource) Run(ctx context.Context, out chan<- MotionEvent) error {
	if info, err := s.client.GetDeviceInformation(ctx); err == nil {
		logger.InfoCF("events", "Camera identified", map[string]any{
			"camera":   s.camera,
			"model":    info.Model,
			"firmware": info.FirmwareVersion,
		})
	} else {
		logger.WarnCF("events", "GetDeviceInformation failed", map[string]any{
			"camera": s.camera, "error": err.Error(),
		})
	}

	eventsAddr, err := s.client.EventServiceAddr(ctx)
	if err != nil {
		return s.unavailable("resolve events service", err)
	}

	sub, err := s.client.CreatePullPointSubscription(ctx, eventsAddr, s.opts.SubscriptionTerm)
	if err != nil {
		return s.unavailable("create subscription", err)
	}
	defer s.teardown(sub)

	logger.InfoCF("events", "Pull point subscribed", map[string]any{
		"camera":  s.camera,
		"address": sub.Address,
	})

	// Renewal is scheduled at half the granted lifetime, measured on our
	// clock. Renewing strictly before expiry is a correctness requirement:
	// a lapsed subscription silently drops motion edges.
	renewAt := renewDeadline(sub)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !time.Now().Before(renewAt) {
			if err := s.client.Renew(ctx, sub, s.opts.SubscriptionTerm); err != nil {
				return s.unavailable("renew subscription", err)
			}
			renewAt = renewDeadline(sub)
			logger.DebugCF("events", "Subscription renewed", map[string]any{
				"camera":      s.camera,
				"termination": sub.TerminationTime.Format(time.RFC3339),
			})
		}

		// Cap the pull wait so it returns before the renewal deadline. The
		// floor avoids hammering the camera but never extends past that
		// deadline, even for firmware granting very short terms.
		remaining := time.Until(renewAt)
		wait := min(s.opts.PullWait, remaining)
		if floor := min(time.Second, remaining); wait < floor {
			wait = floor
		}
		if wait <= 0 {
			// Renewal is already due; handle it at the top of the loop.
			continue
		}

		notifications, err := s.client.PullMessages(ctx, sub, wait, s.opts.MessageLimit)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return s.unavailable("pull messages", err)
		}

		for _, n := range notifications {
			ev, ok := s.toEvent(n)
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// toEvent maps a notification to a motion edge, applying coalescing.
func (s *PullPointSource) toEvent(n onvif.Notification) (MotionEvent, bool) {
	value, ok := motionValue(n)
	if !ok {
		return MotionEvent{}, false
	}

	started := value == "true"
	if started == s.inMotion {
		logger.DebugCF("events", "Coalesced duplicate notification", map[string]any{
			"camera": s.camera, "value": value,
		})
		return MotionEvent{}, false
	}
	s.inMotion = started

	transition := MotionStopped
	if started {
		transition = MotionStarted
	}
	return MotionEvent{Camera: s.camera, Time: n.Time, Transition: transition}, true
}

// motionValue extracts the motion state item. Firmware disagrees on the item
// name, so known names are tried before falling back to any lone item.
func motionValue(n onvif.Notification) (string, bool) {
	for _, name := range []string{"IsMotion", "State", "Motion"} {
		if v, ok := n.Value(name); ok {
			return v, true
		}
	}
	if len(n.Items) == 1 {
		for _, v := range n.Items {
			return v, true
		}
	}
	return "", false
}

func (s *PullPointSource) unavailable(op string, err error) error {
	return fmt.Errorf("%w: camera %s: %s: %v", ErrSourceUnavailable, s.camera, op, err)
}

// teardown unsubscribes on a short independent deadline; shutdown must not
// hang on a dead camera.
func (s *PullPointSource) teardown(sub *onvif.Subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Unsubscribe(ctx, sub); err != nil {
		logger.DebugCF("events", "Unsubscribe failed", map[string]any{
			"camera": s.camera, "error": err.Error(),
		})
	}
}

func renewDeadline(sub *onvif.Subscription) time.Time {
	lifetime := sub.TerminationTime.Sub(sub.CurrentTime)
	if lifetime <= 0 {
		lifetime = time.Minute
	}
	return time.Now().Add(lifetime / 2)
}
