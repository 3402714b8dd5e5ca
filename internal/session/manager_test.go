package session

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborchat/harbor/internal/auth"
	"github.com/harborchat/harbor/internal/core"
	"github.com/harborchat/harbor/internal/domain"
	"github.com/harborchat/harbor/internal/media"
	"github.com/harborchat/harbor/internal/media/mediatest"
	"github.com/harborchat/harbor/internal/presence"
	"github.com/harborchat/harbor/internal/store"
	"github.com/harborchat/harbor/internal/store/memory"
)

type frameConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (c *frameConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnectionClosed
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *frameConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *frameConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *frameConn) envelopes(t *testing.T) []Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Envelope, 0, len(c.frames))
	for _, f := range c.frames {
		var env Envelope
		require.NoError(t, json.Unmarshal(f, &env))
		out = append(out, env)
	}
	return out
}

// last returns the most recent envelope of the given type, or fails.
func (c *frameConn) last(t *testing.T, eventType string) Envelope {
	t.Helper()
	envs := c.envelopes(t)
	for i := len(envs) - 1; i >= 0; i-- {
		if envs[i].Type == eventType {
			return envs[i]
		}
	}
	t.Fatalf("no %q envelope among %d frames", eventType, len(envs))
	return Envelope{}
}

func (c *frameConn) count(t *testing.T, eventType string) int {
	t.Helper()
	n := 0
	for _, env := range c.envelopes(t) {
		if env.Type == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	store   store.Store
	manager *Manager
	engine  *mediatest.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	challenges := auth.NewChallengeStore(st.Users(), 2*time.Minute)
	mgr := NewManager(st, challenges, presence.NewRegistry())
	engine := mediatest.NewEngine()
	mgr.BindVoice(media.NewCoordinator(engine, mgr))
	return &fixture{store: st, manager: mgr, engine: engine}
}

func ev(t *testing.T, eventType, id string, payload any) []byte {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		raw = b
	}
	b, err := json.Marshal(Envelope{Type: eventType, ID: id, Payload: raw})
	require.NoError(t, err)
	return b
}

type identity struct {
	credential string
	priv       ed25519.PrivateKey
}

func newIdentity(t *testing.T) identity {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return identity{credential: hex.EncodeToString(pub), priv: priv}
}

// handshake runs the full challenge/verify flow for the session.
func handshake(t *testing.T, f *fixture, sess *Session, conn *frameConn, id identity, username string) {
	t.Helper()
	ctx := context.Background()

	f.manager.HandleEvent(ctx, sess, ev(t, EvAuthChallenge, "hs-1", nil))
	nonceEnv := conn.last(t, EvAuthNonce)
	var noncePayload struct {
		Nonce []byte `json:"nonce"`
	}
	require.NoError(t, json.Unmarshal(nonceEnv.Payload, &noncePayload))

	f.manager.HandleEvent(ctx, sess, ev(t, EvAuthVerify, "hs-2", authVerifyPayload{
		Credential: id.credential,
		Username:   username,
		Signature:  ed25519.Sign(id.priv, noncePayload.Nonce),
	}))
}

func connect(f *fixture) (*Session, *frameConn) {
	conn := &frameConn{}
	return f.manager.Connect(conn), conn
}

func authedSession(t *testing.T, f *fixture, username string) (*Session, *frameConn) {
	t.Helper()
	sess, conn := connect(f)
	handshake(t, f, sess, conn, newIdentity(t), username)
	require.Equal(t, StateAuthenticated, sess.State())
	return sess, conn
}

func textChannel(t *testing.T, f *fixture, name string) *domain.Channel {
	t.Helper()
	ch := domain.NewChannel(name, domain.ChannelText)
	require.NoError(t, f.store.Channels().Create(context.Background(), ch))
	return ch
}

func TestUnauthenticatedEventsRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sess, conn := connect(f)

	f.manager.HandleEvent(context.Background(), sess, ev(t, EvChannelJoin, "1", channelPayload{ChannelID: "general"}))

	errEnv := conn.last(t, EvError)
	var p errorPayload
	require.NoError(t, json.Unmarshal(errEnv.Payload, &p))
	assert.Equal(t, "unauthenticated", p.Code)
	assert.Equal(t, "1", errEnv.ID)
}

func TestHandshakeFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sess, conn := connect(f)

	handshake(t, f, sess, conn, newIdentity(t), "alice")

	assert.Equal(t, StateAuthenticated, sess.State())
	okEnv := conn.last(t, EvAuthOK)
	var user domain.User
	require.NoError(t, json.Unmarshal(okEnv.Payload, &user))
	assert.Equal(t, "alice", user.Username)
	require.NotNil(t, sess.User())
	assert.Len(t, f.manager.SessionsOf(sess.User().ID), 1)
}

func TestHandshakeBadSignature(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sess, conn := connect(f)
	ctx := context.Background()
	id := newIdentity(t)

	f.manager.HandleEvent(ctx, sess, ev(t, EvAuthChallenge, "1", nil))
	f.manager.HandleEvent(ctx, sess, ev(t, EvAuthVerify, "2", authVerifyPayload{
		Credential: id.credential,
		Username:   "alice",
		Signature:  []byte("garbage"),
	}))

	var p errorPayload
	require.NoError(t, json.Unmarshal(conn.last(t, EvError).Payload, &p))
	assert.Equal(t, "invalid_signature", p.Code)
	assert.Equal(t, StateUnauthenticated, sess.State())
	assert.False(t, conn.isClosed())
}

func TestPingBeforeAuth(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sess, conn := connect(f)

	f.manager.HandleEvent(context.Background(), sess, ev(t, EvPing, "p1", nil))
	assert.Equal(t, "p1", conn.last(t, EvPong).ID)
}

func TestUnknownAndMalformedEvents(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sess, conn := connect(f)
	ctx := context.Background()

	f.manager.HandleEvent(ctx, sess, []byte("{not json"))
	var p errorPayload
	require.NoError(t, json.Unmarshal(conn.last(t, EvError).Payload, &p))
	assert.Equal(t, "malformed_event", p.Code)

	sess2, conn2 := authedSession(t, f, "bob")
	f.manager.HandleEvent(ctx, sess2, ev(t, "bogus:event", "9", nil))
	require.NoError(t, json.Unmarshal(conn2.last(t, EvError).Payload, &p))
	assert.Equal(t, "unknown_event", p.Code)
}

func TestMessageSendBroadcasts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	ch := textChannel(t, f, "general")

	alice, aliceConn := authedSession(t, f, "alice")
	bob, bobConn := authedSession(t, f, "bob")
	f.manager.HandleEvent(ctx, alice, ev(t, EvChannelJoin, "1", channelPayload{ChannelID: ch.ID}))
	f.manager.HandleEvent(ctx, bob, ev(t, EvChannelJoin, "2", channelPayload{ChannelID: ch.ID}))

	f.manager.HandleEvent(ctx, alice, ev(t, EvMessageSend, "3", messageSendPayload{ChannelID: ch.ID, Body: "hello"}))

	var msg domain.Message
	require.NoError(t, json.Unmarshal(bobConn.last(t, EvMessageNew).Payload, &msg))
	assert.Equal(t, "hello", msg.Body)
	assert.Equal(t, alice.User().ID, msg.AuthorID)
	// Sender gets the broadcast too, plus the correlated reply.
	assert.Equal(t, 1, aliceConn.count(t, EvMessageNew))
	assert.Equal(t, "3", aliceConn.last(t, EvResponse).ID)

	stored, err := f.store.Messages().ListByChannel(ctx, ch.ID, 10)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestMessageSendUnknownChannel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sess, conn := authedSession(t, f, "alice")

	f.manager.HandleEvent(context.Background(), sess, ev(t, EvMessageSend, "1", messageSendPayload{ChannelID: "nope", Body: "x"}))
	var p errorPayload
	require.NoError(t, json.Unmarshal(conn.last(t, EvError).Payload, &p))
	assert.Equal(t, "unknown_channel", p.Code)
}

func TestFeedChannelReadOnly(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	ch := domain.NewChannel("releases", domain.ChannelFeed)
	ch.FeedURL = "https://example.com/feed"
	require.NoError(t, f.store.Channels().Create(ctx, ch))

	sess, conn := authedSession(t, f, "alice")
	f.manager.HandleEvent(ctx, sess, ev(t, EvMessageSend, "1", messageSendPayload{ChannelID: ch.ID, Body: "spam"}))
	var p errorPayload
	require.NoError(t, json.Unmarshal(conn.last(t, EvError).Payload, &p))
	assert.Equal(t, "read_only_channel", p.Code)

	// A freshly elevated role is honored without re-authentication.
	require.NoError(t, f.store.Users().UpdateRole(ctx, sess.User().ID, domain.RoleModerator))
	f.manager.HandleEvent(ctx, sess, ev(t, EvMessageSend, "2", messageSendPayload{ChannelID: ch.ID, Body: "announcement"}))
	assert.Equal(t, "2", conn.last(t, EvResponse).ID)
}

func TestPendingBanBlocksAuthentication(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	id := newIdentity(t)

	// Register the user, then ban while offline.
	sess, conn := connect(f)
	handshake(t, f, sess, conn, id, "mallory")
	userID := sess.User().ID
	f.manager.Disconnect(ctx, sess)
	require.NoError(t, f.store.Moderation().Add(ctx, domain.NewModerationAction(userID, domain.ModerationBan, "spamming", "admin-1")))

	// Every reconnect attempt is blocked with no surviving state.
	for i := 0; i < 2; i++ {
		sess, conn = connect(f)
		handshake(t, f, sess, conn, id, "mallory")
		var p errorPayload
		require.NoError(t, json.Unmarshal(conn.last(t, EvError).Payload, &p))
		assert.Equal(t, "moderation_blocked", p.Code)
		assert.True(t, conn.isClosed())
		assert.Equal(t, StateClosed, sess.State())
		assert.Empty(t, f.manager.SessionsOf(userID))
	}
}

func TestPendingKickIsOneShot(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	id := newIdentity(t)

	sess, conn := connect(f)
	handshake(t, f, sess, conn, id, "carol")
	userID := sess.User().ID
	f.manager.Disconnect(ctx, sess)
	require.NoError(t, f.store.Moderation().Add(ctx, domain.NewModerationAction(userID, domain.ModerationKick, "cooldown", "admin-1")))

	sess, conn = connect(f)
	handshake(t, f, sess, conn, id, "carol")
	assert.True(t, conn.isClosed())

	// The kick was spent; the next attempt goes through.
	sess, conn = connect(f)
	handshake(t, f, sess, conn, id, "carol")
	assert.Equal(t, StateAuthenticated, sess.State())
}

func TestLiveModerationMute(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	ch := textChannel(t, f, "general")

	sess, conn := authedSession(t, f, "dave")
	f.manager.HandleEvent(ctx, sess, ev(t, EvChannelJoin, "1", channelPayload{ChannelID: ch.ID}))

	require.NoError(t, f.manager.ApplyModeration(ctx, domain.NewModerationAction(sess.User().ID, domain.ModerationMute, "", "admin-1")))
	assert.True(t, sess.Muted())

	f.manager.HandleEvent(ctx, sess, ev(t, EvMessageSend, "2", messageSendPayload{ChannelID: ch.ID, Body: "x"}))
	var p errorPayload
	require.NoError(t, json.Unmarshal(conn.last(t, EvError).Payload, &p))
	assert.Equal(t, "muted", p.Code)
	assert.False(t, conn.isClosed())
}

func TestLiveModerationKickClosesAllSessions(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	id := newIdentity(t)

	s1, c1 := connect(f)
	handshake(t, f, s1, c1, id, "eve")
	s2, c2 := connect(f)
	handshake(t, f, s2, c2, id, "eve")
	userID := s1.User().ID
	require.Len(t, f.manager.SessionsOf(userID), 2)

	require.NoError(t, f.manager.ApplyModeration(ctx, domain.NewModerationAction(userID, domain.ModerationKick, "bye", "admin-1")))
	assert.True(t, c1.isClosed())
	assert.True(t, c2.isClosed())
	assert.Empty(t, f.manager.SessionsOf(userID))
}

func voiceChannel(t *testing.T, f *fixture, name string) *domain.Channel {
	t.Helper()
	ch := domain.NewChannel(name, domain.ChannelVoice)
	require.NoError(t, f.store.Channels().Create(context.Background(), ch))
	return ch
}

func TestVoiceJoinAndLeave(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	ch := voiceChannel(t, f, "lounge")

	alice, aliceConn := authedSession(t, f, "alice")
	f.manager.HandleEvent(ctx, alice, ev(t, EvVoiceJoin, "1", channelPayload{ChannelID: ch.ID}))
	assert.Equal(t, "1", aliceConn.last(t, EvResponse).ID)
	// The joiner subscribes before joining, so it observes its own join.
	assert.Equal(t, 1, aliceConn.count(t, EvVoiceUserJoined))

	bob, bobConn := authedSession(t, f, "bob")
	f.manager.HandleEvent(ctx, bob, ev(t, EvVoiceJoin, "2", channelPayload{ChannelID: ch.ID}))
	assert.Equal(t, 2, aliceConn.count(t, EvVoiceUserJoined))

	f.manager.HandleEvent(ctx, bob, ev(t, EvVoiceLeave, "3", channelPayload{ChannelID: ch.ID}))
	assert.Equal(t, 1, aliceConn.count(t, EvVoiceUserLeft))
	// Bob unsubscribed on leave and must not see later room events.
	before := bobConn.count(t, EvVoiceUserLeft)
	f.manager.HandleEvent(ctx, alice, ev(t, EvVoiceLeave, "4", channelPayload{ChannelID: ch.ID}))
	assert.Equal(t, before, bobConn.count(t, EvVoiceUserLeft))
}

func TestVoiceJoinRejectsTextChannel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ch := textChannel(t, f, "general")
	sess, conn := authedSession(t, f, "alice")

	f.manager.HandleEvent(context.Background(), sess, ev(t, EvVoiceJoin, "1", channelPayload{ChannelID: ch.ID}))
	var p errorPayload
	require.NoError(t, json.Unmarshal(conn.last(t, EvError).Payload, &p))
	assert.Equal(t, "unknown_channel", p.Code)
}

func TestDisconnectTeardownIsUnconditional(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	text := textChannel(t, f, "general")
	lounge := voiceChannel(t, f, "lounge")

	alice, _ := authedSession(t, f, "alice")
	watcher, watcherConn := authedSession(t, f, "bob")
	f.manager.HandleEvent(ctx, watcher, ev(t, EvVoiceJoin, "w1", channelPayload{ChannelID: lounge.ID}))
	f.manager.HandleEvent(ctx, alice, ev(t, EvChannelJoin, "1", channelPayload{ChannelID: text.ID}))
	f.manager.HandleEvent(ctx, alice, ev(t, EvVoiceJoin, "2", channelPayload{ChannelID: lounge.ID}))

	// Abrupt disconnect, no voice:leave, no channel:leave.
	f.manager.Disconnect(ctx, alice)

	assert.Equal(t, 1, watcherConn.count(t, EvVoiceUserLeft))
	room, ok := f.manager.voice.Room(lounge.ID)
	require.True(t, ok)
	assert.False(t, room.Has(alice.ID))

	_, live := f.manager.Session(alice.ID)
	assert.False(t, live)
	assert.Equal(t, StateClosed, alice.State())

	// Double disconnect is a no-op.
	f.manager.Disconnect(ctx, alice)
}

func TestFeedPublisherBroadcast(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	ch := textChannel(t, f, "general")

	sess, conn := authedSession(t, f, "alice")
	f.manager.HandleEvent(ctx, sess, ev(t, EvChannelJoin, "1", channelPayload{ChannelID: ch.ID}))

	f.manager.PublishMessage(domain.NewMessage(ch.ID, "bot-1", "posted by feed"))
	var msg domain.Message
	require.NoError(t, json.Unmarshal(conn.last(t, EvMessageNew).Payload, &msg))
	assert.Equal(t, "posted by feed", msg.Body)
}

func TestConcurrentConnects(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, _ := connect(f)
			f.manager.HandleEvent(ctx, sess, ev(t, EvPing, fmt.Sprintf("p%d", i), nil))
			f.manager.Disconnect(ctx, sess)
		}(i)
	}
	wg.Wait()
}
