package notify

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/tinyland-inc/camgate/pkg/bus"
	"github.com/tinyland-inc/camgate/pkg/config"
	"github.com/tinyland-inc/camgate/pkg/logger"
)

// SlackNotifier delivers to a Slack channel over the Web API and receives
// commands over Socket Mode, so no public inbound endpoint is needed.
type SlackNotifier struct {
	baseNotifier
	api    *slack.Client
	socket *socketmode.Client

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newSlack(bot config.BotConfig, cb *bus.CaptureBus) (*SlackNotifier, error) {
	api := slack.New(bot.Token, slack.OptionAppLevelToken(bot.AppToken))
	return &SlackNotifier{
		baseNotifier: newBase(bot, cb),
		api:          api,
		socket:       socketmode.New(api),
	}, nil
}

func (n *SlackNotifier) Start(ctx context.Context) error {
	if _, err := n.api.AuthTestContext(ctx); err != nil {
		return fmt.Errorf("slack bot %q: auth test: %w", n.bot.Name, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	n.mu.Lock()
	n.cancel = cancel
	n.done = make(chan struct{})
	done := n.done
	n.mu.Unlock()
	n.setRunning(true)

	go func() {
		if err := n.socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			logger.ErrorCF("notify", "Slack socket mode exited", map[string]any{
				"bot": n.bot.Name, "error": err.Error(),
			})
		}
	}()
	go n.eventLoop(runCtx, done)
	return nil
}

func (n *SlackNotifier) eventLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-n.socket.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeConnected:
				logger.InfoCF("notify", "Slack socket connected", map[string]any{"bot": n.bot.Name})
			case socketmode.EventTypeConnectionError:
				logger.WarnCF("notify", "Slack socket connection error", map[string]any{"bot": n.bot.Name})
			case socketmode.EventTypeSlashCommand:
				cmd, ok := evt.Data.(slack.SlashCommand)
				if !ok {
					continue
				}
				n.socket.Ack(*evt.Request)
				text := cmd.Command
				if cmd.Text != "" {
					text += " " + cmd.Text
				}
				n.handleCommand(ctx, cmd.UserID, text)
			case socketmode.EventTypeEventsAPI:
				apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				n.socket.Ack(*evt.Request)
				msg, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
				if !ok || msg.BotID != "" {
					continue
				}
				n.handleCommand(ctx, msg.User, strings.TrimSpace(msg.Text))
			}
		}
	}
}

func (n *SlackNotifier) Stop(ctx context.Context) error {
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

func (n *SlackNotifier) SendAlert(ctx context.Context, text string) error {
	_, _, err := n.api.PostMessageContext(ctx, n.bot.Channel, slack.MsgOptionText(text, false))
	if err != nil {
		return &DeliveryError{Bot: n.bot.Name, Reason: "post message", Err: err}
	}
	return nil
}

func (n *SlackNotifier) SendImage(ctx context.Context, data []byte, filename, caption string) error {
	return n.upload(ctx, data, filename, caption)
}

func (n *SlackNotifier) SendVideo(ctx context.Context, data []byte, filename, caption string) error {
	return n.upload(ctx, data, filename, caption)
}

func (n *SlackNotifier) upload(ctx context.Context, data []byte, filename, caption string) error {
	_, err := n.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Reader:         bytes.NewReader(data),
		FileSize:       len(data),
		Filename:       filename,
		Title:          filename,
		InitialComment: caption,
		Channel:        n.bot.Channel,
	})
	if err != nil {
		return &DeliveryError{Bot: n.bot.Name, Reason: "upload file", Err: err}
	}
	return nil
}
