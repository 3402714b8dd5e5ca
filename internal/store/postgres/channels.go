package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborchat/harbor/internal/domain"
	"github.com/harborchat/harbor/internal/store"
)

type channels struct {
	pool *pgxpool.Pool
}

const channelColumns = `id, parent_id, name, kind, position, feed_url`

func (r *channels) Get(ctx context.Context, id domain.ChannelID) (*domain.Channel, error) {
	var c domain.Channel
	err := r.pool.QueryRow(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE id = $1`, id).
		Scan(&c.ID, &c.ParentID, &c.Name, &c.Kind, &c.Position, &c.FeedURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan channel: %w", err)
	}
	return &c, nil
}

func (r *channels) List(ctx context.Context) ([]*domain.Channel, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+channelColumns+` FROM channels ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("select channels: %w", err)
	}
	defer rows.Close()

	var out []*domain.Channel
	for rows.Next() {
		var c domain.Channel
		if err := rows.Scan(&c.ID, &c.ParentID, &c.Name, &c.Kind, &c.Position, &c.FeedURL); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (r *channels) Create(ctx context.Context, c *domain.Channel) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO channels (id, parent_id, name, kind, position, feed_url)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.ParentID, c.Name, c.Kind, c.Position, c.FeedURL)
	if err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	return nil
}
