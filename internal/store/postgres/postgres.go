// Package postgres implements the store interfaces over pgx.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborchat/harbor/internal/store"
)

type Store struct {
	pool *pgxpool.Pool
}

// New connects, runs pending migrations and returns the store.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgx ping: %w", err)
	}
	if err := migrate(pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Users() store.Users               { return &users{pool: s.pool} }
func (s *Store) Channels() store.Channels         { return &channels{pool: s.pool} }
func (s *Store) Messages() store.Messages         { return &messages{pool: s.pool} }
func (s *Store) Reservations() store.Reservations { return &reservations{pool: s.pool} }
func (s *Store) Moderation() store.Moderation     { return &moderation{pool: s.pool} }

func (s *Store) Close() { s.pool.Close() }
