// Package telegram is a thin Telegram channel adapter built on
// mymmrac/telego, demonstrating the channel interface's pluggability;
// grounded on the teacher's internal/channels/telegram package and
// original_source/core/channels/telegram.py for the inbound/outbound
// shape.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/channels"
)

// Channel adapts a Telegram bot to the channels.Channel interface.
type Channel struct {
	*channels.BaseChannel
	token   string
	bot     *telego.Bot
	handler *th.BotHandler
	log     *slog.Logger
}

func New(token string, msgBus *bus.MessageBus, log *slog.Logger) *Channel {
	if log == nil {
		log = slog.Default()
	}
	return &Channel{BaseChannel: channels.NewBaseChannel("telegram", msgBus), token: token, log: log}
}

func (c *Channel) Start(ctx context.Context) error {
	bot, err := telego.NewBot(c.token)
	if err != nil {
		return fmt.Errorf("telegram: new bot: %w", err)
	}
	c.bot = bot

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("telegram: long polling: %w", err)
	}

	handler, err := th.NewBotHandler(bot, updates)
	if err != nil {
		return fmt.Errorf("telegram: new handler: %w", err)
	}
	c.handler = handler

	handler.HandleMessage(func(botCtx *th.Context, msg telego.Message) error {
		c.HandleMessage(strconv.FormatInt(msg.From.ID, 10), msg.Text, map[string]string{
			"chat_id": strconv.FormatInt(msg.Chat.ID, 10),
		})
		return nil
	})

	go handler.Start()
	c.SetRunning(true)
	return nil
}

func (c *Channel) Stop(ctx context.Context) error {
	if c.handler != nil {
		c.handler.Stop()
	}
	c.SetRunning(false)
	return nil
}

func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if c.bot == nil {
		return fmt.Errorf("telegram: channel not started")
	}
	chatID := msg.UserID
	if v, ok := msg.Metadata["chat_id"]; ok {
		chatID = v
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", chatID, err)
	}
	_, err = c.bot.SendMessage(ctx, tu.Message(tu.ID(id), msg.Text))
	return err
}
