// Package discord is a thin Discord channel adapter built on
// bwmarrin/discordgo, demonstrating the channel interface's
// pluggability; grounded on the teacher's internal/channels/discord
// package and original_source/core/channels/discord.py.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/channels"
)

// Channel adapts a Discord bot to the channels.Channel interface.
type Channel struct {
	*channels.BaseChannel
	token   string
	session *discordgo.Session
	log     *slog.Logger
}

func New(token string, msgBus *bus.MessageBus, log *slog.Logger) *Channel {
	if log == nil {
		log = slog.Default()
	}
	return &Channel{BaseChannel: channels.NewBaseChannel("discord", msgBus), token: token, log: log}
}

func (c *Channel) Start(ctx context.Context) error {
	session, err := discordgo.New("Bot " + c.token)
	if err != nil {
		return fmt.Errorf("discord: new session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		c.HandleMessage(m.Author.ID, m.Content, map[string]string{"channel_id": m.ChannelID})
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}
	c.session = session
	c.SetRunning(true)
	return nil
}

func (c *Channel) Stop(ctx context.Context) error {
	if c.session != nil {
		err := c.session.Close()
		c.SetRunning(false)
		return err
	}
	return nil
}

func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if c.session == nil {
		return fmt.Errorf("discord: channel not started")
	}
	channelID := msg.UserID
	if v, ok := msg.Metadata["channel_id"]; ok {
		channelID = v
	}
	_, err := c.session.ChannelMessageSend(channelID, msg.Text)
	return err
}
