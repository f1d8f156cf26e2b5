package notify

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/tinyland-inc/camgate/pkg/bus"
	"github.com/tinyland-inc/camgate/pkg/config"
	"github.com/tinyland-inc/camgate/pkg/logger"
)

// baseNotifier carries the state every backend shares: the bot descriptor,
// the capture bus for inbound commands, and the running flag.
type baseNotifier struct {
	bot     config.BotConfig
	bus     *bus.CaptureBus
	running atomic.Bool
}

func newBase(bot config.BotConfig, cb *bus.CaptureBus) baseNotifier {
	return baseNotifier{bot: bot, bus: cb}
}

func (b *baseNotifier) Name() string { return b.bot.Name }

func (b *baseNotifier) Kind() string { return b.bot.Kind }

func (b *baseNotifier) IsRunning() bool { return b.running.Load() }

func (b *baseNotifier) setRunning(running bool) { b.running.Store(running) }

// IsAllowed checks a sender against the bot's allowlist. An empty allowlist
// admits everyone. Sender IDs may be compound "id|username" so entries can
// match either half.
func (b *baseNotifier) IsAllowed(senderID string) bool {
	if len(b.bot.AllowFrom) == 0 {
		return true
	}

	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range b.bot.AllowFrom {
		trimmed := strings.TrimPrefix(allowed, "@")
		if senderID == allowed || senderID == trimmed ||
			idPart == allowed || idPart == trimmed ||
			(userPart != "" && (userPart == allowed || userPart == trimmed)) {
			return true
		}
	}

	return false
}

// handleCommand parses an inbound chat message and, if it is a grab command
// from an allowed sender, publishes it on the capture bus.
func (b *baseNotifier) handleCommand(ctx context.Context, senderID, text string) {
	kind, camera, ok := ParseGrabCommand(text)
	if !ok {
		return
	}
	if !b.IsAllowed(senderID) {
		logger.WarnCF("notify", "Command from disallowed sender dropped", map[string]any{
			"bot": b.bot.Name, "sender": senderID,
		})
		return
	}

	cmd := bus.CaptureCommand{
		ID:        uuid.New().String(),
		Bot:       b.bot.Name,
		Camera:    camera,
		Kind:      kind,
		Origin:    bus.OriginCommand,
		Requester: senderID,
	}
	if err := b.bus.Publish(ctx, cmd); err != nil {
		logger.ErrorCF("notify", "Failed to publish command", map[string]any{
			"bot": b.bot.Name, "error": err.Error(),
		})
		return
	}
	logger.InfoCF("notify", "Grab command accepted", map[string]any{
		"bot": b.bot.Name, "kind": string(kind), "camera": camera, "sender": senderID,
	})
}
