package domain

import "github.com/google/uuid"

type ChannelID string

// ChannelKind decides which operations a channel accepts. Text channels
// take user messages, voice channels host a VoiceRoom, feed channels are
// written only by the feed ingestor, file channels hold upload references.
type ChannelKind string

const (
	ChannelText  ChannelKind = "text"
	ChannelVoice ChannelKind = "voice"
	ChannelFeed  ChannelKind = "feed"
	ChannelFile  ChannelKind = "file"
)

type Channel struct {
	ID       ChannelID   `json:"id"`
	ParentID ChannelID   `json:"parent_id,omitempty"`
	Name     string      `json:"name"`
	Kind     ChannelKind `json:"kind"`
	Position int         `json:"position"`
	// FeedURL is set only for feed channels and names the external
	// source the poller ingests from.
	FeedURL string `json:"feed_url,omitempty"`
}

func NewChannel(name string, kind ChannelKind) *Channel {
	return &Channel{ID: ChannelID(uuid.NewString()), Name: name, Kind: kind}
}

// Voice reports whether the channel can host a voice room.
func (c *Channel) Voice() bool { return c.Kind == ChannelVoice }

// ReadOnly reports whether ordinary users may post messages.
func (c *Channel) ReadOnly() bool { return c.Kind == ChannelFeed }
