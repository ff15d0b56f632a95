package chat

import (
	"context"
	"time"
)

// Message is the subset of a platform message the bot cares about.
type Message struct {
	ID        string
	ChannelID string
	AuthorID  string
	Content   string
	CreatedAt time.Time
}

// EmbedField is one name/value row of an embed.
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Embed is a platform-neutral rich message body.
type Embed struct {
	Title       string
	Description string
	Color       int
	Fields      []EmbedField
	Footer      string
	Timestamp   time.Time
}

// Attachment is a file sent alongside a reply.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Messenger defines the channel operations used by the stats report.
// This keeps the reconciliation logic independent of the chat library.
type Messenger interface {
	// SelfID is the bot's own author id. Empty until the connection is ready.
	SelfID() string
	ResolveChannel(ctx context.Context, guildID, channelID string) error
	// LastMessage returns nil without error when the channel is empty.
	LastMessage(ctx context.Context, channelID string) (*Message, error)
	SendEmbed(ctx context.Context, channelID string, embed *Embed) (*Message, error)
	EditEmbed(ctx context.Context, channelID, messageID string, embed *Embed) error
}
