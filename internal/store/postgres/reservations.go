package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborchat/harbor/internal/domain"
	"github.com/harborchat/harbor/internal/store"
)

type reservations struct {
	pool *pgxpool.Pool
}

// Reserve relies on the (channel_id, fingerprint) primary key: the insert
// either claims the row or hits the conflict and reports false. No
// separate read, so two racing poll cycles cannot both win.
func (r *reservations) Reserve(ctx context.Context, id domain.ChannelID, fingerprint string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO feed_reservations (channel_id, fingerprint)
		 VALUES ($1, $2)
		 ON CONFLICT (channel_id, fingerprint) DO NOTHING`,
		id, fingerprint)
	if err != nil {
		return false, fmt.Errorf("reserve: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *reservations) Complete(ctx context.Context, id domain.ChannelID, fingerprint string, msg domain.MessageID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE feed_reservations SET message_id = $3
		 WHERE channel_id = $1 AND fingerprint = $2`,
		id, fingerprint, msg)
	if err != nil {
		return fmt.Errorf("complete reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *reservations) Release(ctx context.Context, id domain.ChannelID, fingerprint string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM feed_reservations WHERE channel_id = $1 AND fingerprint = $2`,
		id, fingerprint)
	if err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	return nil
}
