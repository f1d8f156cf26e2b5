package notify

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/tinyland-inc/camgate/pkg/bus"
	"github.com/tinyland-inc/camgate/pkg/config"
	"github.com/tinyland-inc/camgate/pkg/logger"
)

// TelegramNotifier delivers to a Telegram chat and watches the same bot's
// update stream for grab commands.
type TelegramNotifier struct {
	baseNotifier
	api    *telego.Bot
	chatID telego.ChatID

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newTelegram(bot config.BotConfig, cb *bus.CaptureBus) (*TelegramNotifier, error) {
	api, err := telego.NewBot(bot.Token, telego.WithDefaultLogger(false, true))
	if err != nil {
		return nil, fmt.Errorf("telegram bot %q: %w", bot.Name, err)
	}
	return &TelegramNotifier{
		baseNotifier: newBase(bot, cb),
		api:          api,
		chatID:       telegramChatID(bot.Channel),
	}, nil
}

// telegramChatID accepts a numeric chat ID or a public @channelusername.
func telegramChatID(channel string) telego.ChatID {
	if id, err := strconv.ParseInt(channel, 10, 64); err == nil {
		return tu.ID(id)
	}
	if !strings.HasPrefix(channel, "@") {
		channel = "@" + channel
	}
	return telego.ChatID{Username: channel}
}

func (n *TelegramNotifier) Start(ctx context.Context) error {
	me, err := n.api.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram bot %q: getMe: %w", n.bot.Name, err)
	}
	logger.InfoCF("notify", "Telegram bot connected", map[string]any{
		"bot": n.bot.Name, "username": me.Username,
	})

	pollCtx, cancel := context.WithCancel(ctx)
	updates, err := n.api.UpdatesViaLongPolling(pollCtx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("telegram bot %q: long polling: %w", n.bot.Name, err)
	}

	n.mu.Lock()
	n.cancel = cancel
	n.done = make(chan struct{})
	done := n.done
	n.mu.Unlock()
	n.setRunning(true)

	go func() {
		defer close(done)
		for update := range updates {
			msg := update.Message
			if msg == nil || msg.From == nil || msg.From.IsBot {
				continue
			}
			sender := strconv.FormatInt(msg.From.ID, 10)
			if msg.From.Username != "" {
				sender += "|" + msg.From.Username
			}
			n.handleCommand(pollCtx, sender, msg.Text)
		}
	}()
	return nil
}

func (n *TelegramNotifier) Stop(ctx context.Context) error {
	n.mu.Lock()
	cancel, done := n.cancel, n.done
	n.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	n.setRunning(false)
	return nil
}

func (n *TelegramNotifier) SendAlert(ctx context.Context, text string) error {
	if _, err := n.api.SendMessage(ctx, tu.Message(n.chatID, text)); err != nil {
		return &DeliveryError{Bot: n.bot.Name, Reason: "send message", Err: err}
	}
	return nil
}

func (n *TelegramNotifier) SendImage(ctx context.Context, data []byte, filename, caption string) error {
	params := tu.Photo(n.chatID, tu.File(tu.NameReader(bytes.NewReader(data), filename))).
		WithCaption(caption)
	if _, err := n.api.SendPhoto(ctx, params); err != nil {
		return &DeliveryError{Bot: n.bot.Name, Reason: "send photo", Err: err}
	}
	return nil
}

func (n *TelegramNotifier) SendVideo(ctx context.Context, data []byte, filename, caption string) error {
	params := tu.Video(n.chatID, tu.File(tu.NameReader(bytes.NewReader(data), filename))).
		WithCaption(caption)
	if _, err := n.api.SendVideo(ctx, params); err != nil {
		return &DeliveryError{Bot: n.bot.Name, Reason: "send video", Err: err}
	}
	return nil
}
