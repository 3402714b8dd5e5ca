package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harborchat/harbor/internal/domain"
	"github.com/harborchat/harbor/internal/store"
)

// Source fetches and normalizes an external feed document. The network
// and parsing side lives outside the core.
type Source interface {
	Fetch(ctx context.Context, feedURL string) ([]domain.FeedItem, error)
}

// Publisher fans a freshly persisted message out to the channel's
// current subscribers. Implemented by the session hub.
type Publisher interface {
	PublishMessage(m *domain.Message)
}

// Poller walks feed-backed channels on a timer and posts new items as
// chat messages authored by the feed bot user. The ledger keeps
// overlapping cycles from posting an item twice.
type Poller struct {
	channels  store.Channels
	messages  store.Messages
	ledger    *Ledger
	source    Source
	publisher Publisher
	botUser   domain.UserID
	interval  time.Duration
}

func NewPoller(st store.Store, ledger *Ledger, source Source, publisher Publisher, botUser domain.UserID, interval time.Duration) *Poller {
	return &Poller{
		channels:  st.Channels(),
		messages:  st.Messages(),
		ledger:    ledger,
		source:    source,
		publisher: publisher,
		botUser:   botUser,
		interval:  interval,
	}
}

func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce runs one cycle over every feed channel. Failures on one
// channel never stop the others.
func (p *Poller) PollOnce(ctx context.Context) {
	chans, err := p.channels.List(ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "feed").Msg("list channels")
		return
	}
	for _, ch := range chans {
		if ch.Kind != domain.ChannelFeed || ch.FeedURL == "" {
			continue
		}
		items, err := p.source.Fetch(ctx, ch.FeedURL)
		if err != nil {
			log.Warn().Err(err).Str("module", "feed").Str("channel", string(ch.ID)).Msg("fetch failed")
			continue
		}
		for _, item := range items {
			if err := p.ingest(ctx, ch.ID, item); err != nil {
				log.Error().Err(err).Str("module", "feed").Str("channel", string(ch.ID)).Msg("ingest failed")
			}
		}
	}
}

func (p *Poller) ingest(ctx context.Context, channel domain.ChannelID, item domain.FeedItem) error {
	fp := Fingerprint(item)
	won, err := p.ledger.Reserve(ctx, channel, fp)
	if err != nil {
		return fmt.Errorf("reserve: %w", err)
	}
	if !won {
		return nil
	}

	msg := domain.NewMessage(channel, p.botUser, renderItem(item))
	if err := p.messages.Create(ctx, msg); err != nil {
		// Give the fingerprint back so a later cycle can retry.
		if relErr := p.ledger.Release(ctx, channel, fp); relErr != nil {
			log.Error().Err(relErr).Str("module", "feed").Str("fingerprint", fp).Msg("release failed")
		}
		return fmt.Errorf("create message: %w", err)
	}

	if err := p.ledger.Complete(ctx, channel, fp, msg.ID); err != nil {
		// The message exists; a dangling incomplete reservation still
		// dedups, so log and move on.
		log.Error().Err(err).Str("module", "feed").Str("fingerprint", fp).Msg("complete failed")
	}

	p.publisher.PublishMessage(msg)
	log.Info().Str("module", "feed").Str("channel", string(channel)).
		Str("message", string(msg.ID)).Msg("feed item posted")
	return nil
}

func renderItem(item domain.FeedItem) string {
	if item.Link == "" {
		return item.Title
	}
	return fmt.Sprintf("%s\n%s", item.Title, item.Link)
}
