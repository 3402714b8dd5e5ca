package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/harborchat/harbor/internal/auth"
	"github.com/harborchat/harbor/internal/core"
	"github.com/harborchat/harbor/internal/domain"
	"github.com/harborchat/harbor/internal/media"
	"github.com/harborchat/harbor/internal/presence"
	"github.com/harborchat/harbor/internal/store"
)

// Manager is the top-level per-connection orchestrator: it owns every
// live session, runs the handshake, dispatches events and tears
// sessions down on disconnect.
type Manager struct {
	store      store.Store
	challenges *auth.ChallengeStore
	presence   *presence.Registry
	voice      *media.Coordinator

	mu       sync.RWMutex
	sessions map[core.ConnectionID]*Session
	byUser   map[domain.UserID]map[core.ConnectionID]struct{}
}

func NewManager(st store.Store, challenges *auth.ChallengeStore, reg *presence.Registry) *Manager {
	return &Manager{
		store:      st,
		challenges: challenges,
		presence:   reg,
		sessions:   make(map[core.ConnectionID]*Session),
		byUser:     make(map[domain.UserID]map[core.ConnectionID]struct{}),
	}
}

// BindVoice attaches the media coordinator. Separate from the
// constructor because the coordinator needs the manager as its Events
// sink.
func (m *Manager) BindVoice(v *media.Coordinator) { m.voice = v }

// Connect registers a new unauthenticated session for the transport.
func (m *Manager) Connect(sig core.SignalConnection) *Session {
	sess := newSession(sig)
	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
	log.Info().Str("module", "session").Str("conn", string(sess.ID)).Msg("connected")
	return sess
}

// Disconnect runs the unconditional teardown: every voice room is
// left, every channel subscription removed, the outstanding challenge
// dropped. It is safe to call more than once and runs the same way for
// explicit close, timeout, protocol violation and mid-handshake errors.
func (m *Manager) Disconnect(ctx context.Context, sess *Session) {
	if !sess.beginClose() {
		return
	}

	for _, channelID := range sess.voiceRoomsSnapshot() {
		if m.voice != nil {
			m.voice.Leave(ctx, channelID, sess.ID)
		}
		sess.untrackVoiceRoom(channelID)
	}
	m.presence.UnsubscribeAll(sess.ID)
	m.challenges.Drop(sess.ID)

	m.mu.Lock()
	delete(m.sessions, sess.ID)
	if u := sess.User(); u != nil {
		if conns, ok := m.byUser[u.ID]; ok {
			delete(conns, sess.ID)
			if len(conns) == 0 {
				delete(m.byUser, u.ID)
			}
		}
	}
	m.mu.Unlock()

	sess.setState(StateClosed)
	sess.Signal.Close()
	log.Info().Str("module", "session").Str("conn", string(sess.ID)).Msg("closed")
}

// Session looks a live session up by connection id.
func (m *Manager) Session(id core.ConnectionID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// SessionsOf returns the live sessions authenticated as the user.
func (m *Manager) SessionsOf(userID domain.UserID) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conns := m.byUser[userID]
	out := make([]*Session, 0, len(conns))
	for id := range conns {
		if s, ok := m.sessions[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (m *Manager) bindUser(sess *Session, userID domain.UserID) {
	m.mu.Lock()
	if _, ok := m.byUser[userID]; !ok {
		m.byUser[userID] = make(map[core.ConnectionID]struct{})
	}
	m.byUser[userID][sess.ID] = struct{}{}
	m.mu.Unlock()
}

// ApplyModeration records the action and enforces it immediately on
// any live session of the target. Offline targets are caught by the
// pending check on their next authentication.
func (m *Manager) ApplyModeration(ctx context.Context, action *domain.ModerationAction) error {
	if err := m.store.Moderation().Add(ctx, action); err != nil {
		return err
	}

	live := m.SessionsOf(action.UserID)
	if len(live) == 0 {
		return nil
	}
	for _, sess := range live {
		m.enforce(ctx, sess, action)
	}
	// Kicks and mutes are one-shot; once enforced live they are spent.
	// Bans stay standing so every future authentication re-blocks.
	if action.Kind != domain.ModerationBan {
		if err := m.store.Moderation().MarkApplied(ctx, action.ID); err != nil {
			log.Error().Err(err).Str("module", "session").Str("action", action.ID).Msg("mark applied")
		}
	}
	return nil
}

func (m *Manager) enforce(ctx context.Context, sess *Session, action *domain.ModerationAction) {
	switch action.Kind {
	case domain.ModerationMute:
		sess.setMuted(true)
		log.Info().Str("module", "session").Str("conn", string(sess.ID)).Msg("muted")
	case domain.ModerationKick, domain.ModerationBan:
		_ = sess.Signal.TrySend(encode(EvError, "", errorPayload{
			Code:    core.Code(core.ErrModerationBlocked),
			Message: action.Reason,
		}))
		log.Info().Str("module", "session").Str("conn", string(sess.ID)).
			Str("kind", string(action.Kind)).Msg("moderation enforced, closing")
		m.Disconnect(ctx, sess)
	}
}

// applyPending runs the offline-issued actions at authentication time.
// It reports whether the connection may stay.
func (m *Manager) applyPending(ctx context.Context, sess *Session, user *domain.User) (allowed bool, reason string, err error) {
	pending, err := m.store.Moderation().PendingFor(ctx, user.ID)
	if err != nil {
		return false, "", err
	}
	allowed = true
	for _, action := range pending {
		switch action.Kind {
		case domain.ModerationMute:
			sess.setMuted(true)
			if e := m.store.Moderation().MarkApplied(ctx, action.ID); e != nil {
				log.Error().Err(e).Str("module", "session").Str("action", action.ID).Msg("mark applied")
			}
		case domain.ModerationKick:
			allowed = false
			reason = action.Reason
			if e := m.store.Moderation().MarkApplied(ctx, action.ID); e != nil {
				log.Error().Err(e).Str("module", "session").Str("action", action.ID).Msg("mark applied")
			}
		case domain.ModerationBan:
			// A ban is never marked applied; it blocks every attempt
			// until lifted by deleting the row.
			allowed = false
			reason = action.Reason
		}
	}
	return allowed, reason, nil
}
