package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"application_stats_bot/internal/app"
	"application_stats_bot/internal/domain/chat"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
)

const (
	restTimeout  = 15 * time.Second
	replyTimeout = 30 * time.Second
	restRetries  = 3

	customStatusName = "Custom Status"
)

var (
	errConnectionClosed  = errors.New("gateway connection closed")
	errChannelNotInGuild = errors.New("channel does not belong to the configured guild")
	errNotTextChannel    = errors.New("channel is not a text channel")
)

// restAPI is the subset of *discordgo.Session REST calls the bot makes.
type restAPI interface {
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Handlers receives gateway events. Any of them may be nil.
type Handlers struct {
	OnReady      func(ctx context.Context)
	OnDisconnect func(ctx context.Context, err error)
	OnCommand    func(ctx context.Context, req *app.Request) *app.Reply
}

// Bot is the Discord gateway and REST client. It is the connection supervised by
// app.Supervisor and the messenger used by the stats report.
type Bot struct {
	session *discordgo.Session
	rest    restAPI
	logger  *logrus.Entry

	mu       sync.RWMutex
	selfID   string
	closing  bool
	handlers Handlers
}

func NewBot(token string, logger *logrus.Entry) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	// The supervisor owns reconnection.
	session.ShouldReconnectOnError = false
	session.MaxRestRetries = restRetries
	session.Client = &http.Client{Timeout: restTimeout}
	session.LogLevel = sessionLogLevel(logger.Logger.GetLevel())

	b := newBot(session, logger)
	b.session = session
	session.AddHandler(b.handleReady)
	// A reopened session resumes and the gateway answers RESUMED instead of READY.
	session.AddHandler(b.handleResumed)
	session.AddHandler(b.handleDisconnect)
	session.AddHandler(b.handleMessageCreate)
	return b, nil
}

func newBot(rest restAPI, logger *logrus.Entry) *Bot {
	return &Bot{rest: rest, logger: logger}
}

// SetHandlers installs the event callbacks. It must be called before Connect.
func (b *Bot) SetHandlers(h Handlers) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = h
}

func (b *Bot) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.logger.Info("Opening gateway connection")
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open gateway connection: %w", err)
	}
	return nil
}

// Disconnect closes the gateway. The resulting close event is not reported as an error.
func (b *Bot) Disconnect() error {
	b.mu.Lock()
	b.closing = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.closing = false
		b.mu.Unlock()
	}()

	if err := b.session.Close(); err != nil && !errors.Is(err, discordgo.ErrWSNotFound) {
		return fmt.Errorf("failed to close gateway connection: %w", err)
	}
	return nil
}

// Latency is the last measured gateway heartbeat round trip.
func (b *Bot) Latency() time.Duration {
	if b.session == nil {
		return 0
	}
	return b.session.HeartbeatLatency()
}

func (b *Bot) SelfID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.selfID
}

func (b *Bot) ResolveChannel(ctx context.Context, guildID, channelID string) error {
	if _, err := b.rest.Guild(guildID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to fetch guild %s: %w", guildID, err)
	}
	ch, err := b.rest.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to fetch channel %s: %w", channelID, err)
	}
	if ch.GuildID != guildID {
		return fmt.Errorf("channel %s: %w", channelID, errChannelNotInGuild)
	}
	if ch.Type != discordgo.ChannelTypeGuildText && ch.Type != discordgo.ChannelTypeGuildNews {
		return fmt.Errorf("channel %s: %w", channelID, errNotTextChannel)
	}
	return nil
}

func (b *Bot) LastMessage(ctx context.Context, channelID string) (*chat.Message, error) {
	msgs, err := b.rest.ChannelMessages(channelID, 1, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch last message: %w", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return toChatMessage(msgs[0]), nil
}

func (b *Bot) SendEmbed(ctx context.Context, channelID string, embed *chat.Embed) (*chat.Message, error) {
	m, err := b.rest.ChannelMessageSendEmbed(channelID, toDiscordEmbed(embed), discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to send embed: %w", err)
	}
	return toChatMessage(m), nil
}

func (b *Bot) EditEmbed(ctx context.Context, channelID, messageID string, embed *chat.Embed) error {
	if _, err := b.rest.ChannelMessageEditEmbed(channelID, messageID, toDiscordEmbed(embed), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to edit message %s: %w", messageID, err)
	}
	return nil
}

// SetPresence shows text as the bot's custom status.
func (b *Bot) SetPresence(_ context.Context, text string) error {
	return b.session.UpdateStatusComplex(discordgo.UpdateStatusData{
		Activities: []*discordgo.Activity{{
			Name:  customStatusName,
			Type:  discordgo.ActivityTypeCustom,
			State: text,
		}},
		Status: string(discordgo.StatusOnline),
	})
}

func (b *Bot) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	b.mu.Lock()
	if r.User != nil {
		b.selfID = r.User.ID
	}
	onReady := b.handlers.OnReady
	b.mu.Unlock()

	fields := logrus.Fields{"guilds": len(r.Guilds)}
	if r.User != nil {
		fields["user"] = r.User.Username
		fields["user_id"] = r.User.ID
	}
	b.logger.WithFields(fields).Info("Gateway ready")

	if onReady != nil {
		onReady(context.Background())
	}
}

// handleResumed reports readiness after a resumed session. The self id from the
// earlier READY stays valid.
func (b *Bot) handleResumed(_ *discordgo.Session, _ *discordgo.Resumed) {
	b.mu.RLock()
	onReady := b.handlers.OnReady
	b.mu.RUnlock()

	b.logger.Info("Gateway session resumed")
	if onReady != nil {
		onReady(context.Background())
	}
}

func (b *Bot) handleDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	b.mu.RLock()
	closing := b.closing
	onDisconnect := b.handlers.OnDisconnect
	b.mu.RUnlock()

	if closing {
		b.logger.Debug("Gateway closed locally")
		return
	}
	if onDisconnect != nil {
		onDisconnect(context.Background(), errConnectionClosed)
	}
}

func (b *Bot) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	b.mu.RLock()
	onCommand := b.handlers.OnCommand
	b.mu.RUnlock()
	if onCommand == nil || m.Message == nil || m.Author == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()

	reply := onCommand(ctx, &app.Request{
		Content:     m.Content,
		AuthorID:    m.Author.ID,
		AuthorIsBot: m.Author.Bot,
		ChannelID:   m.ChannelID,
		SentAt:      m.Timestamp,
	})
	if reply == nil {
		return
	}

	log := b.logger.WithField("channel_id", m.ChannelID)
	if _, err := b.rest.ChannelMessageSendComplex(m.ChannelID, toMessageSend(reply, m.Reference()), discordgo.WithContext(ctx)); err != nil {
		log.WithError(err).Error("Failed to send command reply")
		fallback := &discordgo.MessageSend{Content: app.FailureReply, Reference: m.Reference()}
		if _, err := b.rest.ChannelMessageSendComplex(m.ChannelID, fallback, discordgo.WithContext(ctx)); err != nil {
			log.WithError(err).Error("Failed to send failure reply")
		}
	}
}
