package feed

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/harborchat/harbor/internal/domain"
	"github.com/harborchat/harbor/internal/store"
)

// Ledger is the reservation-based idempotency guard for feed ingestion.
// Reserve wins at most once per (channel, fingerprint); Release undoes a
// claim whose posting failed so a later cycle can retry.
type Ledger struct {
	reservations store.Reservations
}

func NewLedger(reservations store.Reservations) *Ledger {
	return &Ledger{reservations: reservations}
}

func (l *Ledger) Reserve(ctx context.Context, channel domain.ChannelID, fingerprint string) (bool, error) {
	ok, err := l.reservations.Reserve(ctx, channel, fingerprint)
	if err != nil {
		return false, err
	}
	if !ok {
		log.Debug().Str("module", "feed").Str("channel", string(channel)).
			Str("fingerprint", fingerprint).Msg("fingerprint already reserved, skipping")
	}
	return ok, nil
}

func (l *Ledger) Complete(ctx context.Context, channel domain.ChannelID, fingerprint string, msg domain.MessageID) error {
	return l.reservations.Complete(ctx, channel, fingerprint, msg)
}

func (l *Ledger) Release(ctx context.Context, channel domain.ChannelID, fingerprint string) error {
	return l.reservations.Release(ctx, channel, fingerprint)
}
