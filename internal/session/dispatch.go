package session

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/harborchat/harbor/internal/core"
	"github.com/harborchat/harbor/internal/domain"
	"github.com/harborchat/harbor/internal/media"
	"github.com/harborchat/harbor/internal/store"
)

const historyLimit = 50

// HandleEvent routes one inbound frame. Unknown and malformed events
// fail closed with a reported error; they are never silently ignored.
// While the session is unauthenticated only the handshake events and
// ping are admitted.
func (m *Manager) HandleEvent(ctx context.Context, sess *Session, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		m.replyErr(sess, env.ID, core.ErrMalformedEvent)
		return
	}

	switch env.Type {
	case EvPing:
		_ = sess.Signal.TrySend(encode(EvPong, env.ID, nil))
		return
	case EvAuthChallenge:
		m.handleAuthChallenge(sess, env)
		return
	case EvAuthVerify:
		m.handleAuthVerify(ctx, sess, env)
		return
	}

	if sess.State() != StateAuthenticated {
		m.replyErr(sess, env.ID, core.ErrUnauthenticated)
		return
	}

	switch env.Type {
	case EvChannelJoin:
		m.handleChannelJoin(ctx, sess, env)
	case EvChannelLeave:
		m.handleChannelLeave(sess, env)
	case EvMessageSend:
		m.handleMessageSend(ctx, sess, env)
	case EvVoiceJoin:
		m.handleVoiceJoin(ctx, sess, env)
	case EvVoiceLeave:
		m.handleVoiceLeave(ctx, sess, env)
	case EvVoiceCreateTransport, EvVoiceConnectTransport, EvVoiceProduce, EvVoiceConsume, EvVoiceResumeConsumer:
		// Engine round-trips must not stall this connection's event
		// loop; they answer out of band via the correlation id.
		go m.handleMediaSignal(ctx, sess, env)
	default:
		m.replyErr(sess, env.ID, core.ErrUnknownEvent)
	}
}

func (m *Manager) handleAuthChallenge(sess *Session, env Envelope) {
	switch sess.State() {
	case StateUnauthenticated, StateChallenged:
	default:
		m.replyErr(sess, env.ID, core.ErrMalformedEvent)
		return
	}
	ch, err := m.challenges.Issue(sess.ID)
	if err != nil {
		m.replyErr(sess, env.ID, err)
		return
	}
	sess.setState(StateChallenged)
	_ = sess.Signal.TrySend(encode(EvAuthNonce, env.ID, map[string]any{
		"nonce":      ch.Nonce,
		"expires_at": ch.ExpiresAt,
	}))
}

func (m *Manager) handleAuthVerify(ctx context.Context, sess *Session, env Envelope) {
	var p authVerifyPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		m.replyErr(sess, env.ID, core.ErrMalformedEvent)
		return
	}

	user, err := m.challenges.Verify(ctx, sess.ID, p.Credential, p.Username, p.Signature)
	if err != nil {
		sess.setState(StateUnauthenticated)
		m.replyErr(sess, env.ID, err)
		return
	}

	// Moderation issued while the user was offline is applied before
	// the session becomes usable.
	allowed, reason, err := m.applyPending(ctx, sess, user)
	if err != nil {
		sess.setState(StateUnauthenticated)
		m.replyErr(sess, env.ID, err)
		return
	}
	if !allowed {
		_ = sess.Signal.TrySend(encode(EvError, env.ID, errorPayload{
			Code:    core.Code(core.ErrModerationBlocked),
			Message: reason,
		}))
		m.Disconnect(ctx, sess)
		return
	}

	sess.authenticate(user)
	m.bindUser(sess, user.ID)
	log.Info().Str("module", "session").Str("conn", string(sess.ID)).
		Str("user", string(user.ID)).Msg("authenticated")
	_ = sess.Signal.TrySend(encode(EvAuthOK, env.ID, user))
}

type channelJoinResult struct {
	Channel  *domain.Channel   `json:"channel"`
	Messages []*domain.Message `json:"messages,omitempty"`
}

func (m *Manager) handleChannelJoin(ctx context.Context, sess *Session, env Envelope) {
	var p channelPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		m.replyErr(sess, env.ID, core.ErrMalformedEvent)
		return
	}
	channel, err := m.store.Channels().Get(ctx, p.ChannelID)
	if errors.Is(err, store.ErrNotFound) {
		m.replyErr(sess, env.ID, core.ErrUnknownChannel)
		return
	}
	if err != nil {
		m.replyErr(sess, env.ID, err)
		return
	}

	m.presence.Subscribe(sess.ID, channel.ID, sess.Signal)

	result := channelJoinResult{Channel: channel}
	if channel.Kind == domain.ChannelText || channel.Kind == domain.ChannelFeed {
		if result.Messages, err = m.store.Messages().ListByChannel(ctx, channel.ID, historyLimit); err != nil {
			log.Error().Err(err).Str("module", "session").Str("channel", string(channel.ID)).Msg("load history")
		}
	}
	m.reply(sess, env.ID, result)
}

func (m *Manager) handleChannelLeave(sess *Session, env Envelope) {
	var p channelPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		m.replyErr(sess, env.ID, core.ErrMalformedEvent)
		return
	}
	m.presence.Unsubscribe(sess.ID, p.ChannelID)
	m.reply(sess, env.ID, nil)
}

func (m *Manager) handleMessageSend(ctx context.Context, sess *Session, env Envelope) {
	var p messageSendPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.Body == "" {
		m.replyErr(sess, env.ID, core.ErrMalformedEvent)
		return
	}
	channel, err := m.store.Channels().Get(ctx, p.ChannelID)
	if errors.Is(err, store.ErrNotFound) {
		m.replyErr(sess, env.ID, core.ErrUnknownChannel)
		return
	}
	if err != nil {
		m.replyErr(sess, env.ID, err)
		return
	}
	if sess.Muted() {
		m.replyErr(sess, env.ID, core.ErrMuted)
		return
	}

	// Privileged decision: the role is re-read from the store, not
	// taken from the session's cached user.
	author, err := m.store.Users().GetByID(ctx, sess.User().ID)
	if err != nil {
		m.replyErr(sess, env.ID, err)
		return
	}
	if channel.ReadOnly() && !author.Role.Privileged() {
		m.replyErr(sess, env.ID, core.ErrReadOnlyChannel)
		return
	}

	msg := domain.NewMessage(channel.ID, author.ID, p.Body)
	if err := m.store.Messages().Create(ctx, msg); err != nil {
		m.replyErr(sess, env.ID, err)
		return
	}
	m.presence.Broadcast(channel.ID, encode(EvMessageNew, "", msg))
	m.reply(sess, env.ID, msg)
}

type voiceJoinResult struct {
	RTPCapabilities webrtc.RTPCapabilities `json:"rtp_capabilities"`
	Producers       []media.ProducerInfo   `json:"producers,omitempty"`
}

func (m *Manager) handleVoiceJoin(ctx context.Context, sess *Session, env Envelope) {
	var p channelPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		m.replyErr(sess, env.ID, core.ErrMalformedEvent)
		return
	}
	channel, err := m.store.Channels().Get(ctx, p.ChannelID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !channel.Voice()) {
		m.replyErr(sess, env.ID, core.ErrUnknownChannel)
		return
	}
	if err != nil {
		m.replyErr(sess, env.ID, err)
		return
	}

	user := sess.User()
	// Subscribe first so this connection sees subsequent voice
	// presence; its own join broadcast doubles as confirmation.
	m.presence.Subscribe(sess.ID, channel.ID, sess.Signal)
	if _, err := m.voice.Join(ctx, channel.ID, sess.ID, user.ID, user.DisplayName, sess.Signal); err != nil {
		m.presence.Unsubscribe(sess.ID, channel.ID)
		m.replyErr(sess, env.ID, err)
		return
	}
	sess.trackVoiceRoom(channel.ID)

	room, _ := m.voice.Room(channel.ID)
	result := voiceJoinResult{Producers: m.voice.Producers(channel.ID, sess.ID)}
	if room != nil {
		result.RTPCapabilities = room.Router().RTPCapabilities()
	}
	m.reply(sess, env.ID, result)
}

func (m *Manager) handleVoiceLeave(ctx context.Context, sess *Session, env Envelope) {
	var p channelPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		m.replyErr(sess, env.ID, core.ErrMalformedEvent)
		return
	}
	m.voice.Leave(ctx, p.ChannelID, sess.ID)
	sess.untrackVoiceRoom(p.ChannelID)
	m.presence.Unsubscribe(sess.ID, p.ChannelID)
	m.reply(sess, env.ID, nil)
}

// handleMediaSignal runs one engine-facing sub-action. Before the
// result is applied or answered the session's liveness is re-checked:
// a completion that lands after teardown is a no-op.
func (m *Manager) handleMediaSignal(ctx context.Context, sess *Session, env Envelope) {
	var result any
	var err error

	switch env.Type {
	case EvVoiceCreateTransport:
		var p createTransportPayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			result, err = m.voice.CreateTransport(ctx, p.ChannelID, sess.ID, p.Direction)
		}
	case EvVoiceConnectTransport:
		var p connectTransportPayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			err = m.voice.ConnectTransport(ctx, p.ChannelID, sess.ID, p.TransportID, p.DTLSParameters)
		}
	case EvVoiceProduce:
		var p producePayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			result, err = m.voice.Produce(ctx, p.ChannelID, sess.ID, p.TransportID, p.Kind, p.RTPParameters)
		}
	case EvVoiceConsume:
		var p consumePayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			result, err = m.voice.Consume(ctx, p.ChannelID, sess.ID, p.TransportID, p.ProducerID, p.RTPCapabilities)
		}
	case EvVoiceResumeConsumer:
		var p resumeConsumerPayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			err = m.voice.ResumeConsumer(ctx, p.ChannelID, sess.ID, p.ConsumerID)
		}
	}

	if !sess.alive() {
		return
	}

	var jsonErr *json.UnmarshalTypeError
	var synErr *json.SyntaxError
	if errors.As(err, &jsonErr) || errors.As(err, &synErr) {
		err = core.ErrMalformedEvent
	}
	if err != nil {
		m.replyErr(sess, env.ID, err)
		return
	}
	m.reply(sess, env.ID, result)
}

func (m *Manager) reply(sess *Session, id string, payload any) {
	_ = sess.Signal.TrySend(encode(EvResponse, id, payload))
}

func (m *Manager) replyErr(sess *Session, id string, err error) {
	_ = sess.Signal.TrySend(encode(EvError, id, errorPayload{
		Code:    core.Code(err),
		Message: err.Error(),
	}))
}
