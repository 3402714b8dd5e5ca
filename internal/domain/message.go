package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageID string

type Message struct {
	ID        MessageID `json:"id"`
	ChannelID ChannelID `json:"channel_id"`
	AuthorID  UserID    `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

func NewMessage(channelID ChannelID, authorID UserID, body string) *Message {
	return &Message{
		ID:        MessageID(uuid.NewString()),
		ChannelID: channelID,
		AuthorID:  authorID,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
}
