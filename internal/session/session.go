package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/harborchat/harbor/internal/core"
	"github.com/harborchat/harbor/internal/domain"
)

// State is the connection lifecycle. Non-handshake events are rejected
// until the session reaches StateAuthenticated.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateChallenged      State = "challenged"
	StateAuthenticated   State = "authenticated"
	StateClosing         State = "closing"
	StateClosed          State = "closed"
)

// Session is one live connection. The manager owns it exclusively and
// destroys it on socket close or fatal protocol error.
type Session struct {
	ID     core.ConnectionID
	Signal core.SignalConnection

	mu    sync.Mutex
	state State
	user  *domain.User
	muted bool
	// voiceRooms tracks the voice channels this connection joined, so
	// teardown can leave each one.
	voiceRooms map[domain.ChannelID]struct{}
}

func newSession(sig core.SignalConnection) *Session {
	return &Session{
		ID:         core.ConnectionID(uuid.NewString()),
		Signal:     sig,
		state:      StateUnauthenticated,
		voiceRooms: make(map[domain.ChannelID]struct{}),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// User returns the authenticated identity, nil before authentication.
func (s *Session) User() *domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *Session) setMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) authenticate(u *domain.User) {
	s.mu.Lock()
	s.state = StateAuthenticated
	s.user = u
	s.mu.Unlock()
}

// beginClose flips the session into closing exactly once. The caller
// that wins runs teardown.
func (s *Session) beginClose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosing || s.state == StateClosed {
		return false
	}
	s.state = StateClosing
	return true
}

func (s *Session) trackVoiceRoom(id domain.ChannelID) {
	s.mu.Lock()
	s.voiceRooms[id] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) untrackVoiceRoom(id domain.ChannelID) {
	s.mu.Lock()
	delete(s.voiceRooms, id)
	s.mu.Unlock()
}

func (s *Session) voiceRoomsSnapshot() []domain.ChannelID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChannelID, 0, len(s.voiceRooms))
	for id := range s.voiceRooms {
		out = append(out, id)
	}
	return out
}

// alive reports whether late-arriving results may still be applied.
func (s *Session) alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != StateClosing && s.state != StateClosed
}
