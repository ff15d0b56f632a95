// internal/infra/telegram/client.go
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"application_stats_bot/internal/domain/chat"
	"application_stats_bot/internal/domain/report"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// botAPI is the subset of *telebot.Bot used by the mirror.
type botAPI interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
	Edit(msg telebot.Editable, what interface{}, opts ...interface{}) (*telebot.Message, error)
	ChatByID(id int64) (*telebot.Chat, error)
}

// Mirror posts the stats report into a Telegram chat.
//
// The Bot API cannot read chat history, so the last message the mirror sent is
// remembered in memory per chat. After a restart the first tick sends a new message.
type Mirror struct {
	bot    *telebot.Bot
	api    botAPI
	selfID string
	logger *logrus.Entry

	mu   sync.Mutex
	last map[string]*chat.Message
}

// NewMirror creates a long-polling Telegram bot. It does not start polling.
func NewMirror(token string, logger *logrus.Entry) (*Mirror, error) {
	pref := telebot.Settings{
		Token:  token,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) {
			entry := logger.WithError(err)
			if c != nil && c.Sender() != nil && c.Chat() != nil {
				entry = entry.WithFields(logrus.Fields{"sender_id": c.Sender().ID, "chat_id": c.Chat().ID})
			}
			entry.Error("Telegram handler error")
		},
	}
	b, err := telebot.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	m := newMirror(b, strconv.FormatInt(b.Me.ID, 10), logger)
	m.bot = b
	return m, nil
}

func newMirror(api botAPI, selfID string, logger *logrus.Entry) *Mirror {
	return &Mirror{api: api, selfID: selfID, logger: logger, last: map[string]*chat.Message{}}
}

// Start begins long polling for command intake. It blocks until Stop.
func (m *Mirror) Start() {
	m.logger.Info("Telegram polling started")
	m.bot.Start()
}

func (m *Mirror) Stop() {
	m.bot.Stop()
	m.logger.Info("Telegram polling stopped")
}

func (m *Mirror) SelfID() string {
	return m.selfID
}

// ResolveChannel checks that the bot can see the chat. Telegram has no guilds.
func (m *Mirror) ResolveChannel(_ context.Context, _ string, channelID string) error {
	id, err := parseChatID(channelID)
	if err != nil {
		return err
	}
	if _, err := m.api.ChatByID(id); err != nil {
		return fmt.Errorf("failed to fetch chat %s: %w", channelID, err)
	}
	return nil
}

func (m *Mirror) LastMessage(_ context.Context, channelID string) (*chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.last[channelID]; ok {
		cp := *msg
		return &cp, nil
	}
	return nil, nil
}

func (m *Mirror) SendEmbed(_ context.Context, channelID string, embed *chat.Embed) (*chat.Message, error) {
	id, err := parseChatID(channelID)
	if err != nil {
		return nil, err
	}
	sent, err := m.api.Send(&telebot.Chat{ID: id}, report.RenderText(embed), telebot.NoPreview)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	msg := &chat.Message{
		ID:        strconv.Itoa(sent.ID),
		ChannelID: channelID,
		AuthorID:  m.selfID,
		CreatedAt: sent.Time(),
	}
	m.mu.Lock()
	m.last[channelID] = msg
	m.mu.Unlock()
	return msg, nil
}

// EditEmbed replaces the text of a message sent earlier. If the edit fails the
// remembered message is dropped so the next report is sent fresh.
func (m *Mirror) EditEmbed(_ context.Context, channelID, messageID string, embed *chat.Embed) error {
	id, err := parseChatID(channelID)
	if err != nil {
		return err
	}
	_, err = m.api.Edit(&telebot.StoredMessage{MessageID: messageID, ChatID: id}, report.RenderText(embed), telebot.NoPreview)
	if err != nil && !errors.Is(err, telebot.ErrSameMessageContent) {
		m.mu.Lock()
		delete(m.last, channelID)
		m.mu.Unlock()
		return fmt.Errorf("failed to edit message %s: %w", messageID, err)
	}
	return nil
}

func parseChatID(channelID string) (int64, error) {
	id, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", channelID, err)
	}
	return id, nil
}
