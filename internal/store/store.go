// Package store defines the persistence boundary of the core. The core
// only calls these operations; schema and row encoding live behind them.
package store

import (
	"context"
	"errors"

	"github.com/harborchat/harbor/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a unique-constraint violation (duplicate
	// username or credential).
	ErrConflict = errors.New("already exists")
)

type Users interface {
	GetByID(ctx context.Context, id domain.UserID) (*domain.User, error)
	GetByCredential(ctx context.Context, credential string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	UpdateRole(ctx context.Context, id domain.UserID, role domain.Role) error
}

type Channels interface {
	Get(ctx context.Context, id domain.ChannelID) (*domain.Channel, error)
	List(ctx context.Context) ([]*domain.Channel, error)
	Create(ctx context.Context, c *domain.Channel) error
}

type Messages interface {
	Create(ctx context.Context, m *domain.Message) error
	ListByChannel(ctx context.Context, id domain.ChannelID, limit int) ([]*domain.Message, error)
}

// Reservations is the feed dedup ledger's backing table. Reserve must be
// an atomic insert-if-absent: it is the only guard against two poll
// cycles ingesting the same item.
type Reservations interface {
	Reserve(ctx context.Context, id domain.ChannelID, fingerprint string) (bool, error)
	Complete(ctx context.Context, id domain.ChannelID, fingerprint string, msg domain.MessageID) error
	Release(ctx context.Context, id domain.ChannelID, fingerprint string) error
}

type Moderation interface {
	Add(ctx context.Context, a *domain.ModerationAction) error
	// PendingFor returns un-applied actions for the user, oldest first.
	PendingFor(ctx context.Context, id domain.UserID) ([]*domain.ModerationAction, error)
	MarkApplied(ctx context.Context, actionID string) error
}

// Store bundles the collaborator repositories the core consumes.
type Store interface {
	Users() Users
	Channels() Channels
	Messages() Messages
	Reservations() Reservations
	Moderation() Moderation
	Close()
}
