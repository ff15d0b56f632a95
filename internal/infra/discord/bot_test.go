package discord

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"application_stats_bot/internal/app"
	"application_stats_bot/internal/domain/chat"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeREST struct {
	guildErr error
	channel  *discordgo.Channel
	messages []*discordgo.Message
	sent     []*discordgo.MessageEmbed
	edited   map[string]*discordgo.MessageEmbed
	complex  []*discordgo.MessageSend
	failSend bool

	rejectComplex int
}

func (f *fakeREST) Guild(guildID string, _ ...discordgo.RequestOption) (*discordgo.Guild, error) {
	if f.guildErr != nil {
		return nil, f.guildErr
	}
	return &discordgo.Guild{ID: guildID}, nil
}

func (f *fakeREST) Channel(string, ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if f.channel == nil {
		return nil, errors.New("unknown channel")
	}
	return f.channel, nil
}

func (f *fakeREST) ChannelMessages(_ string, limit int, _, _, _ string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	if len(f.messages) > limit {
		return f.messages[:limit], nil
	}
	return f.messages, nil
}

func (f *fakeREST) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.failSend {
		return nil, errors.New("missing permissions")
	}
	f.sent = append(f.sent, embed)
	return &discordgo.Message{ID: "new", ChannelID: channelID, Author: &discordgo.User{ID: "bot-1"}}, nil
}

func (f *fakeREST) ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.edited == nil {
		f.edited = map[string]*discordgo.MessageEmbed{}
	}
	f.edited[messageID] = embed
	return &discordgo.Message{ID: messageID, ChannelID: channelID}, nil
}

func (f *fakeREST) ChannelMessageSendComplex(_ string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.complex = append(f.complex, data)
	if f.rejectComplex > 0 {
		f.rejectComplex--
		return nil, errors.New("HTTP 400 Bad Request: Invalid Form Body")
	}
	return &discordgo.Message{}, nil
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestResolveChannel(t *testing.T) {
	ctx := context.Background()

	rest := &fakeREST{channel: &discordgo.Channel{ID: "c1", GuildID: "g1", Type: discordgo.ChannelTypeGuildText}}
	b := newBot(rest, testLogger())
	assert.NoError(t, b.ResolveChannel(ctx, "g1", "c1"))
	assert.ErrorIs(t, b.ResolveChannel(ctx, "g2", "c1"), errChannelNotInGuild)

	rest.channel.Type = discordgo.ChannelTypeGuildVoice
	assert.ErrorIs(t, b.ResolveChannel(ctx, "g1", "c1"), errNotTextChannel)

	rest.guildErr = errors.New("unknown guild")
	assert.Error(t, b.ResolveChannel(ctx, "g1", "c1"))
}

func TestLastMessage(t *testing.T) {
	rest := &fakeREST{}
	b := newBot(rest, testLogger())

	m, err := b.LastMessage(context.Background(), "c1")
	require.NoError(t, err)
	assert.Nil(t, m)

	at := time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)
	rest.messages = []*discordgo.Message{{ID: "m9", ChannelID: "c1", Author: &discordgo.User{ID: "bot-1"}, Timestamp: at}}
	m, err = b.LastMessage(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, &chat.Message{ID: "m9", ChannelID: "c1", AuthorID: "bot-1", CreatedAt: at}, m)
}

func TestSendAndEditEmbed(t *testing.T) {
	rest := &fakeREST{}
	b := newBot(rest, testLogger())
	e := &chat.Embed{
		Title:     "Current Application Stats",
		Color:     0x0099FF,
		Fields:    []chat.EmbedField{{Name: "Current Apps", Value: "120", Inline: true}},
		Footer:    "footer",
		Timestamp: time.Date(2025, 6, 20, 12, 0, 0, 0, time.FixedZone("EDT", -4*3600)),
	}

	m, err := b.SendEmbed(context.Background(), "c1", e)
	require.NoError(t, err)
	assert.Equal(t, "new", m.ID)
	assert.Equal(t, "bot-1", m.AuthorID)
	require.Len(t, rest.sent, 1)
	assert.Equal(t, "Current Application Stats", rest.sent[0].Title)
	assert.Equal(t, "2025-06-20T16:00:00Z", rest.sent[0].Timestamp)
	assert.Equal(t, "footer", rest.sent[0].Footer.Text)
	assert.Equal(t, &discordgo.MessageEmbedField{Name: "Current Apps", Value: "120", Inline: true}, rest.sent[0].Fields[0])

	require.NoError(t, b.EditEmbed(context.Background(), "c1", "m1", e))
	assert.Contains(t, rest.edited, "m1")

	rest.failSend = true
	_, err = b.SendEmbed(context.Background(), "c1", e)
	assert.Error(t, err)
}

func TestHandleReady_RecordsSelfAndNotifies(t *testing.T) {
	b := newBot(&fakeREST{}, testLogger())
	ready := make(chan struct{}, 1)
	b.SetHandlers(Handlers{OnReady: func(context.Context) { ready <- struct{}{} }})

	assert.Empty(t, b.SelfID())
	b.handleReady(nil, &discordgo.Ready{User: &discordgo.User{ID: "bot-1", Username: "stats"}})

	assert.Equal(t, "bot-1", b.SelfID())
	assert.Len(t, ready, 1)
}

func TestHandleResumed_ReportsReady(t *testing.T) {
	b := newBot(&fakeREST{}, testLogger())
	readies := 0
	b.SetHandlers(Handlers{OnReady: func(context.Context) { readies++ }})

	b.handleReady(nil, &discordgo.Ready{User: &discordgo.User{ID: "bot-1"}})
	b.handleResumed(nil, &discordgo.Resumed{})

	assert.Equal(t, 2, readies)
	assert.Equal(t, "bot-1", b.SelfID())
}

func TestResumedSessionLetsSupervisorRecover(t *testing.T) {
	b := newBot(&fakeREST{}, testLogger())
	conn := &resumingConnector{bot: b}
	sup := app.NewSupervisor(conn, app.SupervisorConfig{
		Sleep:     func(context.Context, time.Duration) error { return nil },
		AfterFunc: func(time.Duration, func()) {},
	}, testLogger())
	b.SetHandlers(Handlers{OnReady: sup.HandleReady, OnDisconnect: sup.HandleError})

	require.NoError(t, sup.Start(context.Background()))
	assert.Equal(t, app.PhaseReady, sup.Phase())

	sup.Reconnect(context.Background())
	assert.Equal(t, app.PhaseReady, sup.Phase())
	assert.Zero(t, sup.Attempts())
	assert.False(t, sup.Reconnecting())

	// A later drop must start a fresh sequence.
	b.handleDisconnect(nil, &discordgo.Disconnect{})
	assert.Eventually(t, func() bool { return conn.opens() == 3 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return sup.Phase() == app.PhaseReady }, time.Second, 5*time.Millisecond)
}

// resumingConnector answers the first open with READY and later ones with RESUMED,
// as the gateway does for a session that keeps its id.
type resumingConnector struct {
	bot *Bot
	mu  sync.Mutex
	n   int
}

func (c *resumingConnector) Connect(context.Context) error {
	c.mu.Lock()
	c.n++
	first := c.n == 1
	c.mu.Unlock()
	if first {
		c.bot.handleReady(nil, &discordgo.Ready{User: &discordgo.User{ID: "bot-1"}})
	} else {
		c.bot.handleResumed(nil, &discordgo.Resumed{})
	}
	return nil
}

func (c *resumingConnector) Disconnect() error { return nil }

func (c *resumingConnector) opens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestHandleDisconnect_IgnoresLocalClose(t *testing.T) {
	b := newBot(&fakeREST{}, testLogger())
	var got []error
	b.SetHandlers(Handlers{OnDisconnect: func(_ context.Context, err error) { got = append(got, err) }})

	b.closing = true
	b.handleDisconnect(nil, &discordgo.Disconnect{})
	assert.Empty(t, got)

	b.closing = false
	b.handleDisconnect(nil, &discordgo.Disconnect{})
	require.Len(t, got, 1)
	assert.ErrorIs(t, got[0], errConnectionClosed)
}

func TestHandleMessageCreate_SendsReply(t *testing.T) {
	rest := &fakeREST{}
	b := newBot(rest, testLogger())
	var seen *app.Request
	b.SetHandlers(Handlers{OnCommand: func(_ context.Context, req *app.Request) *app.Reply {
		seen = req
		if req.Content != "!get applications a1" {
			return nil
		}
		return &app.Reply{
			Embed: &chat.Embed{Title: "Document: a1"},
			Files: []chat.Attachment{{Name: "a1.json", ContentType: "application/json", Data: []byte(`{"id":"a1"}`)}},
		}
	}})

	msg := &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		GuildID:   "g1",
		Content:   "!get applications a1",
		Author:    &discordgo.User{ID: "u1"},
	}}
	b.handleMessageCreate(nil, msg)

	require.NotNil(t, seen)
	assert.Equal(t, "u1", seen.AuthorID)
	assert.False(t, seen.AuthorIsBot)
	require.Len(t, rest.complex, 1)
	sent := rest.complex[0]
	assert.Equal(t, "m1", sent.Reference.MessageID)
	require.Len(t, sent.Embeds, 1)
	assert.Equal(t, "Document: a1", sent.Embeds[0].Title)
	require.Len(t, sent.Files, 1)
	assert.Equal(t, "a1.json", sent.Files[0].Name)

	msg.Content = "hello"
	b.handleMessageCreate(nil, msg)
	assert.Len(t, rest.complex, 1)
}

func TestHandleMessageCreate_RejectedReplyFallsBack(t *testing.T) {
	rest := &fakeREST{rejectComplex: 1}
	b := newBot(rest, testLogger())
	b.SetHandlers(Handlers{OnCommand: func(context.Context, *app.Request) *app.Reply {
		return &app.Reply{Embed: &chat.Embed{Title: "Collection: applications"}}
	}})

	b.handleMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		Content:   "!query applications 40",
		Author:    &discordgo.User{ID: "u1"},
	}})

	require.Len(t, rest.complex, 2)
	assert.Equal(t, app.FailureReply, rest.complex[1].Content)
	assert.Empty(t, rest.complex[1].Embeds)
}

func TestLogLevels(t *testing.T) {
	assert.Equal(t, logrus.ErrorLevel, logrusLevel(discordgo.LogError))
	assert.Equal(t, logrus.DebugLevel, logrusLevel(discordgo.LogDebug))
	assert.Equal(t, discordgo.LogInformational, sessionLogLevel(logrus.InfoLevel))
	assert.Equal(t, discordgo.LogError, sessionLogLevel(logrus.ErrorLevel))
}
