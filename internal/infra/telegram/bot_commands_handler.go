// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"time"

	"application_stats_bot/internal/app"
	"application_stats_bot/internal/domain/report"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const commandTimeout = 30 * time.Second

// CommandFunc answers one inbound chat message, or returns nil to stay silent.
type CommandFunc func(ctx context.Context, req *app.Request) *app.Reply

// RegisterCommands routes text messages into dispatch. Telegram-style "/ping" and
// "/ping@botname" are accepted in addition to the configured prefix.
func (m *Mirror) RegisterCommands(prefix string, dispatch CommandFunc) {
	handlerLogger := m.logger.WithField("handler_group", "commands")

	m.bot.Handle(telebot.OnText, func(c telebot.Context) error {
		return handleText(c, prefix, dispatch, handlerLogger)
	})
}

func handleText(c telebot.Context, prefix string, dispatch CommandFunc, logger *logrus.Entry) error {
	sender := c.Sender()
	if sender == nil || c.Message() == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	reply := dispatch(ctx, &app.Request{
		Content:     normalizeCommand(c.Text(), prefix),
		AuthorID:    strconv.FormatInt(sender.ID, 10),
		AuthorIsBot: sender.IsBot,
		ChannelID:   strconv.FormatInt(c.Chat().ID, 10),
		SentAt:      c.Message().Time(),
	})
	if reply == nil {
		return nil
	}

	logCtx := logger.WithField("sender_id", sender.ID)
	if text := replyText(reply); text != "" {
		if err := c.Reply(text, telebot.NoPreview); err != nil {
			logCtx.WithError(err).Error("Failed to send command reply")
			return err
		}
	}
	for _, f := range reply.Files {
		doc := &telebot.Document{
			File:     telebot.FromReader(bytes.NewReader(f.Data)),
			FileName: f.Name,
			MIME:     f.ContentType,
		}
		if err := c.Send(doc); err != nil {
			logCtx.WithError(err).WithField("file", f.Name).Error("Failed to send command attachment")
			return err
		}
	}
	return nil
}

func normalizeCommand(text, prefix string) string {
	if prefix == "/" || !strings.HasPrefix(text, "/") {
		return text
	}
	cmd, rest, _ := strings.Cut(text[1:], " ")
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	if rest != "" {
		return prefix + cmd + " " + rest
	}
	return prefix + cmd
}

func replyText(r *app.Reply) string {
	var parts []string
	if r.Content != "" {
		parts = append(parts, r.Content)
	}
	if r.Embed != nil {
		parts = append(parts, report.RenderText(r.Embed))
	}
	return strings.Join(parts, "\n\n")
}
