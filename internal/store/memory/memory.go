// Package memory is the self-contained storage backend: everything lives
// in process memory and is gone after a restart. It backs the default
// dev mode and the test suites.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/harborchat/harbor/internal/domain"
	"github.com/harborchat/harbor/internal/store"
)

type Store struct {
	users        *users
	channels     *channels
	messages     *messages
	reservations *reservations
	moderation   *moderation
}

func New() *Store {
	return &Store{
		users:        &users{byID: make(map[domain.UserID]*domain.User), byCred: make(map[string]domain.UserID)},
		channels:     &channels{byID: make(map[domain.ChannelID]*domain.Channel)},
		messages:     &messages{byChannel: make(map[domain.ChannelID][]*domain.Message)},
		reservations: &reservations{rows: make(map[resKey]*domain.FeedItemReservation)},
		moderation:   &moderation{},
	}
}

func (s *Store) Users() store.Users               { return s.users }
func (s *Store) Channels() store.Channels         { return s.channels }
func (s *Store) Messages() store.Messages         { return s.messages }
func (s *Store) Reservations() store.Reservations { return s.reservations }
func (s *Store) Moderation() store.Moderation     { return s.moderation }
func (s *Store) Close()                           {}

type users struct {
	mu     sync.RWMutex
	byID   map[domain.UserID]*domain.User
	byCred map[string]domain.UserID
}

func (r *users) GetByID(_ context.Context, id domain.UserID) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *users) GetByCredential(_ context.Context, credential string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byCred[credential]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *users) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byCred[u.Credential]; taken {
		return store.ErrConflict
	}
	for _, existing := range r.byID {
		if existing.Username == u.Username {
			return store.ErrConflict
		}
	}
	cp := *u
	r.byID[cp.ID] = &cp
	r.byCred[cp.Credential] = cp.ID
	return nil
}

func (r *users) UpdateRole(_ context.Context, id domain.UserID, role domain.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	u.Role = role
	return nil
}

type channels struct {
	mu   sync.RWMutex
	byID map[domain.ChannelID]*domain.Channel
}

func (r *channels) Get(_ context.Context, id domain.ChannelID) (*domain.Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *channels) List(_ context.Context) ([]*domain.Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Channel, 0, len(r.byID))
	for _, c := range r.byID {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (r *channels) Create(_ context.Context, c *domain.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.byID[cp.ID] = &cp
	return nil
}

type messages struct {
	mu        sync.RWMutex
	byChannel map[domain.ChannelID][]*domain.Message
}

func (r *messages) Create(_ context.Context, m *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.byChannel[cp.ChannelID] = append(r.byChannel[cp.ChannelID], &cp)
	return nil
}

func (r *messages) ListByChannel(_ context.Context, id domain.ChannelID, limit int) ([]*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	msgs := r.byChannel[id]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*domain.Message, 0, len(msgs))
	for _, m := range msgs {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

type resKey struct {
	channel     domain.ChannelID
	fingerprint string
}

type reservations struct {
	mu   sync.Mutex
	rows map[resKey]*domain.FeedItemReservation
}

// Reserve holds the mutex for the whole check-and-insert so that two
// concurrent poll cycles can never both win the same fingerprint.
func (r *reservations) Reserve(_ context.Context, id domain.ChannelID, fingerprint string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := resKey{channel: id, fingerprint: fingerprint}
	if _, ok := r.rows[key]; ok {
		return false, nil
	}
	r.rows[key] = &domain.FeedItemReservation{ChannelID: id, Fingerprint: fingerprint}
	return true, nil
}

func (r *reservations) Complete(_ context.Context, id domain.ChannelID, fingerprint string, msg domain.MessageID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[resKey{channel: id, fingerprint: fingerprint}]
	if !ok {
		return store.ErrNotFound
	}
	row.MessageID = msg
	return nil
}

func (r *reservations) Release(_ context.Context, id domain.ChannelID, fingerprint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, resKey{channel: id, fingerprint: fingerprint})
	return nil
}

type moderation struct {
	mu      sync.Mutex
	actions []*domain.ModerationAction
}

func (r *moderation) Add(_ context.Context, a *domain.ModerationAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.actions = append(r.actions, &cp)
	return nil
}

func (r *moderation) PendingFor(_ context.Context, id domain.UserID) ([]*domain.ModerationAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.ModerationAction
	for _, a := range r.actions {
		if a.UserID == id && !a.Applied {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}

func (r *moderation) MarkApplied(_ context.Context, actionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.actions {
		if a.ID == actionID {
			a.Applied = true
			return nil
		}
	}
	return store.ErrNotFound
}
