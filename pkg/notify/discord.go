package notify

import (
	"bytes"
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/tinyland-inc/camgate/pkg/bus"
	"github.com/tinyland-inc/camgate/pkg/config"
	"github.com/tinyland-inc/camgate/pkg/logger"
)

// DiscordNotifier delivers to a Discord channel and reads grab commands from
// messages in the guilds the bot belongs to.
type DiscordNotifier struct {
	baseNotifier
	session *discordgo.Session
}

func newDiscord(bot config.BotConfig, cb *bus.CaptureBus) (*DiscordNotifier, error) {
	session, err := discordgo.New("Bot " + bot.Token)
	if err != nil {
		return nil, fmt.Errorf("discord bot %q: %w", bot.Name, err)
	}
	// Message content requires an explicit intent since API v10.
	session.Identify.Intents = discordgo.IntentGuildMessages |
		discordgo.IntentDirectMessages |
		discordgo.IntentMessageContent
	return &DiscordNotifier{baseNotifier: newBase(bot, cb), session: session}, nil
}

func (n *DiscordNotifier) Start(ctx context.Context) error {
	n.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		sender := m.Author.ID
		if m.Author.Username != "" {
			sender += "|" + m.Author.Username
		}
		n.handleCommand(ctx, sender, m.Content)
	})

	if err := n.session.Open(); err != nil {
		return fmt.Errorf("discord bot %q: open gateway: %w", n.bot.Name, err)
	}
	n.setRunning(true)
	logger.InfoCF("notify", "Discord gateway connected", map[string]any{"bot": n.bot.Name})
	return nil
}

func (n *DiscordNotifier) Stop(context.Context) error {
	n.setRunning(false)
	return n.session.Close()
}

func (n *DiscordNotifier) SendAlert(ctx context.Context, text string) error {
	_, err := n.session.ChannelMessageSend(n.bot.Channel, text, discordgo.WithContext(ctx))
	if err != nil {
		return &DeliveryError{Bot: n.bot.Name, Reason: "send message", Err: err}
	}
	return nil
}

func (n *DiscordNotifier) SendImage(ctx context.Context, data []byte, filename, caption string) error {
	return n.sendFile(ctx, data, filename, caption, "image/jpeg")
}

func (n *DiscordNotifier) SendVideo(ctx context.Context, data []byte, filename, caption string) error {
	return n.sendFile(ctx, data, filename, caption, "video/mp4")
}

func (n *DiscordNotifier) sendFile(ctx context.Context, data []byte, filename, caption, contentType string) error {
	_, err := n.session.ChannelMessageSendComplex(n.bot.Channel, &discordgo.MessageSend{
		Content: caption,
		Files: []*discordgo.File{{
			Name:        filename,
			ContentType: contentType,
			Reader:      bytes.NewReader(data),
		}},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return &DeliveryError{Bot: n.bot.Name, Reason: "send file", Err: err}
	}
	return nil
}
