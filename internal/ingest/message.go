package ingest

import "context"

// Message is one chat message as returned by a Source.
type Message struct {
	ID       string
	AuthorID string
	Content  string
	Embeds   []Embed
}

// Embed is the structured part of a message.
type Embed struct {
	Title  string
	Fields []Field
}

// Field is a named embed value.
type Field struct {
	Name  string
	Value string
}

// Source fetches the most recent messages of a channel, newest first.
type Source interface {
	FetchRecent(ctx context.Context, channelID string, limit int) ([]Message, error)
}
