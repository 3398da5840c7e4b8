package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rpggio/dutylog/internal/ingest"
)

// ErrMissingToken is returned when no bot token is configured.
var ErrMissingToken = errors.New("discord bot token is not configured")

// maxFetchLimit is the largest page the channel messages endpoint returns.
const maxFetchLimit = 100

type messageFetcher interface {
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
}

// Source reads channel messages through the Discord REST API.
type Source struct {
	api messageFetcher
}

// NewSource creates a Source authenticated as a bot.
func NewSource(token string, timeout time.Duration) (*Source, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}
	session, err := discordgo.New("Bot " + strings.TrimPrefix(token, "Bot "))
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	if timeout > 0 {
		session.Client = &http.Client{Timeout: timeout}
	}
	return &Source{api: session}, nil
}

// FetchRecent returns up to limit of the newest messages in channelID.
func (s *Source) FetchRecent(ctx context.Context, channelID string, limit int) ([]ingest.Message, error) {
	if limit <= 0 || limit > maxFetchLimit {
		limit = maxFetchLimit
	}
	raw, err := s.api.ChannelMessages(channelID, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("listing messages of channel %s: %w", channelID, err)
	}

	messages := make([]ingest.Message, 0, len(raw))
	for _, m := range raw {
		if m == nil {
			continue
		}
		messages = append(messages, convert(m))
	}
	return messages, nil
}

func convert(m *discordgo.Message) ingest.Message {
	msg := ingest.Message{ID: m.ID, Content: m.Content}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
	}
	for _, e := range m.Embeds {
		if e == nil {
			continue
		}
		embed := ingest.Embed{Title: e.Title}
		for _, f := range e.Fields {
			if f == nil {
				continue
			}
			embed.Fields = append(embed.Fields, ingest.Field{Name: f.Name, Value: f.Value})
		}
		msg.Embeds = append(msg.Embeds, embed)
	}
	return msg
}
