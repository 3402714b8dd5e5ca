package domain

import "time"

// FeedItem is a normalized item produced by an external feed fetcher.
// Fetching and parsing of the raw document happen outside the core; the
// ingestor only ever sees this shape.
type FeedItem struct {
	Title       string
	Link        string
	GUID        string
	Summary     string
	PublishedAt time.Time
}

// FeedItemReservation is the durable claim on one (channel, fingerprint)
// pair. MessageID stays empty until the chat message has been created.
type FeedItemReservation struct {
	ChannelID   ChannelID
	Fingerprint string
	MessageID   MessageID
	ReservedAt  time.Time
}
