package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborchat/harbor/internal/domain"
)

type messages struct {
	pool *pgxpool.Pool
}

func (r *messages) Create(ctx context.Context, m *domain.Message) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, channel_id, author_id, body, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.ChannelID, m.AuthorID, m.Body, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *messages) ListByChannel(ctx context.Context, id domain.ChannelID, limit int) ([]*domain.Message, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, channel_id, author_id, body, created_at
		 FROM (
		     SELECT id, channel_id, author_id, body, created_at
		     FROM messages WHERE channel_id = $1
		     ORDER BY created_at DESC LIMIT $2
		 ) last ORDER BY created_at`,
		id, limit)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.AuthorID, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
