// Package notify delivers alerts and captured media to chat backends and
// listens for inbound grab commands on the same connections.
//
// Each backend implements the Notifier capability set {alert, image, video}
// plus the command listener for its bot. The supervisor never branches on
// backend kind; it selects an implementation here once, at startup.
package notify

import (
	"context"
	"fmt"

	"github.com/tinyland-inc/camgate/pkg/bus"
	"github.com/tinyland-inc/camgate/pkg/config"
)

// Notifier is the capability set a messaging backend must support.
// Delivery is at-most-once: implementations report DeliveryError and never
// retry on their own.
type Notifier interface {
	Name() string
	Kind() string

	// Start brings up the inbound command listener. Stop tears it down.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	SendAlert(ctx context.Context, text string) error
	SendImage(ctx context.Context, data []byte, filename, caption string) error
	SendVideo(ctx context.Context, data []byte, filename, caption string) error
}

// DeliveryError reports a failed send. The session logs it and moves on;
// a delivery outage must not stall future captures.
type DeliveryError struct {
	Bot    string
	Reason string
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("delivery via %s failed: %s: %v", e.Bot, e.Reason, e.Err)
	}
	return fmt.Sprintf("delivery via %s failed: %s", e.Bot, e.Reason)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// New builds the notifier for a bot from its declared kind.
func New(bot config.BotConfig, cb *bus.CaptureBus) (Notifier, error) {
	switch bot.Kind {
	case config.KindTelegram:
		return newTelegram(bot, cb)
	case config.KindSlack:
		return newSlack(bot, cb)
	case config.KindDiscord:
		return newDiscord(bot, cb)
	default:
		return nil, fmt.Errorf("bot %q: unknown backend kind %q", bot.Name, bot.Kind)
	}
}
