// Package auth implements the challenge/response handshake and the
// per-process admin elevation key.
package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harborchat/harbor/internal/core"
	"github.com/harborchat/harbor/internal/domain"
	"github.com/harborchat/harbor/internal/store"
)

const NonceLen = 32

// Challenge is a one-time nonce bound to a connection. The client signs
// the nonce with the ed25519 key behind its public credential.
type Challenge struct {
	Nonce     []byte
	ConnID    core.ConnectionID
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ChallengeStore issues and verifies challenges. One active challenge
// per connection; issuing again supersedes the previous one and any
// verify attempt consumes the active challenge.
type ChallengeStore struct {
	mu     sync.Mutex
	byConn map[core.ConnectionID]*Challenge
	ttl    time.Duration
	users  store.Users
	now    func() time.Time
}

func NewChallengeStore(users store.Users, ttl time.Duration) *ChallengeStore {
	return &ChallengeStore{
		byConn: make(map[core.ConnectionID]*Challenge),
		ttl:    ttl,
		users:  users,
		now:    time.Now,
	}
}

func (s *ChallengeStore) Issue(connID core.ConnectionID) (*Challenge, error) {
	nonce := make([]byte, NonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	now := s.now()
	ch := &Challenge{
		Nonce:     nonce,
		ConnID:    connID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.mu.Lock()
	s.byConn[connID] = ch
	s.mu.Unlock()
	log.Debug().Str("module", "auth").Str("conn", string(connID)).Msg("challenge issued")
	return ch, nil
}

// Verify checks the signature over the connection's active challenge and
// resolves (or creates) the user keyed by the claimed credential. The
// challenge is consumed whatever the outcome; after a failure the client
// must request a fresh one.
func (s *ChallengeStore) Verify(ctx context.Context, connID core.ConnectionID, credential, username string, signature []byte) (*domain.User, error) {
	s.mu.Lock()
	ch, ok := s.byConn[connID]
	delete(s.byConn, connID)
	s.mu.Unlock()

	if !ok {
		return nil, core.ErrNotChallenged
	}
	if s.now().After(ch.ExpiresAt) {
		return nil, core.ErrChallengeExpired
	}

	pub, err := hex.DecodeString(credential)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, core.ErrInvalidSignature
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), ch.Nonce, signature) {
		return nil, core.ErrInvalidSignature
	}

	user, err := s.users.GetByCredential(ctx, credential)
	if errors.Is(err, store.ErrNotFound) {
		user, err = domain.NewUser(username, credential)
		if err != nil {
			return nil, err
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		log.Info().Str("module", "auth").Str("user", string(user.ID)).Msg("registered new user")
	} else if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	return user, nil
}

// Drop discards the connection's outstanding challenge, if any.
func (s *ChallengeStore) Drop(connID core.ConnectionID) {
	s.mu.Lock()
	delete(s.byConn, connID)
	s.mu.Unlock()
}

// Sweep removes expired challenges. An unanswered challenge holds no
// resources, so this only bounds map growth.
func (s *ChallengeStore) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, ch := range s.byConn {
		if now.After(ch.ExpiresAt) {
			delete(s.byConn, id)
			n++
		}
	}
	return n
}
