package discord

import (
	"bytes"
	"time"

	"application_stats_bot/internal/app"
	"application_stats_bot/internal/domain/chat"

	"github.com/bwmarrin/discordgo"
)

func toDiscordEmbed(e *chat.Embed) *discordgo.MessageEmbed {
	if e == nil {
		return nil
	}
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if e.Footer != "" {
		out.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	if !e.Timestamp.IsZero() {
		out.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
	}
	return out
}

func toChatMessage(m *discordgo.Message) *chat.Message {
	if m == nil {
		return nil
	}
	out := &chat.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
		CreatedAt: m.Timestamp,
	}
	if m.Author != nil {
		out.AuthorID = m.Author.ID
	}
	return out
}

func toMessageSend(r *app.Reply, ref *discordgo.MessageReference) *discordgo.MessageSend {
	send := &discordgo.MessageSend{Content: r.Content, Reference: ref}
	if r.Embed != nil {
		send.Embeds = []*discordgo.MessageEmbed{toDiscordEmbed(r.Embed)}
	}
	for _, f := range r.Files {
		send.Files = append(send.Files, &discordgo.File{
			Name:        f.Name,
			ContentType: f.ContentType,
			Reader:      bytes.NewReader(f.Data),
		})
	}
	return send
}
