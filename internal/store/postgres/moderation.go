package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborchat/harbor/internal/domain"
	"github.com/harborchat/harbor/internal/store"
)

type moderation struct {
	pool *pgxpool.Pool
}

func (r *moderation) Add(ctx context.Context, a *domain.ModerationAction) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO moderation_actions (id, user_id, kind, reason, issued_by, issued_at, applied)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.UserID, a.Kind, a.Reason, a.IssuedBy, a.IssuedAt, a.Applied)
	if err != nil {
		return fmt.Errorf("insert moderation action: %w", err)
	}
	return nil
}

func (r *moderation) PendingFor(ctx context.Context, id domain.UserID) ([]*domain.ModerationAction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, kind, reason, issued_by, issued_at, applied
		 FROM moderation_actions
		 WHERE user_id = $1 AND NOT applied
		 ORDER BY issued_at`,
		id)
	if err != nil {
		return nil, fmt.Errorf("select pending actions: %w", err)
	}
	defer rows.Close()

	var out []*domain.ModerationAction
	for rows.Next() {
		var a domain.ModerationAction
		if err := rows.Scan(&a.ID, &a.UserID, &a.Kind, &a.Reason, &a.IssuedBy, &a.IssuedAt, &a.Applied); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (r *moderation) MarkApplied(ctx context.Context, actionID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE moderation_actions SET applied = TRUE WHERE id = $1`, actionID)
	if err != nil {
		return fmt.Errorf("mark applied: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
