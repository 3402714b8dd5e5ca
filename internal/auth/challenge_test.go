package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborchat/harbor/internal/core"
	"github.com/harborchat/harbor/internal/store"
	"github.com/harborchat/harbor/internal/store/memory"
)

func newKeypair(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return hex.EncodeToString(pub), priv
}

func newStore(t *testing.T) *ChallengeStore {
	t.Helper()
	return NewChallengeStore(memory.New().Users(), 2*time.Minute)
}

func TestVerifyRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	credential, priv := newKeypair(t)

	ch, err := s.Issue("conn-1")
	require.NoError(t, err)
	require.Len(t, ch.Nonce, NonceLen)

	sig := ed25519.Sign(priv, ch.Nonce)
	user, err := s.Verify(ctx, "conn-1", credential, "alice", sig)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, credential, user.Credential)
}

func TestVerifyResolvesExistingUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	credential, priv := newKeypair(t)

	ch, err := s.Issue("conn-1")
	require.NoError(t, err)
	first, err := s.Verify(ctx, "conn-1", credential, "alice", ed25519.Sign(priv, ch.Nonce))
	require.NoError(t, err)

	// Same credential on a new connection resolves to the same user,
	// whatever username is claimed.
	ch, err = s.Issue("conn-2")
	require.NoError(t, err)
	second, err := s.Verify(ctx, "conn-2", credential, "impostor", ed25519.Sign(priv, ch.Nonce))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "alice", second.Username)
}

func TestVerifyWithoutChallenge(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	credential, _ := newKeypair(t)

	_, err := s.Verify(context.Background(), "conn-1", credential, "alice", []byte("sig"))
	assert.ErrorIs(t, err, core.ErrNotChallenged)
}

func TestVerifyConsumesChallengeOnFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	credential, priv := newKeypair(t)

	ch, err := s.Issue("conn-1")
	require.NoError(t, err)

	_, err = s.Verify(ctx, "conn-1", credential, "alice", []byte("garbage"))
	assert.ErrorIs(t, err, core.ErrInvalidSignature)

	// The old nonce is gone even with a now-correct signature.
	_, err = s.Verify(ctx, "conn-1", credential, "alice", ed25519.Sign(priv, ch.Nonce))
	assert.ErrorIs(t, err, core.ErrNotChallenged)
}

func TestVerifyExpiredChallenge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	credential, priv := newKeypair(t)

	now := time.Now()
	s.now = func() time.Time { return now }
	ch, err := s.Issue("conn-1")
	require.NoError(t, err)

	s.now = func() time.Time { return now.Add(3 * time.Minute) }
	_, err = s.Verify(ctx, "conn-1", credential, "alice", ed25519.Sign(priv, ch.Nonce))
	assert.ErrorIs(t, err, core.ErrChallengeExpired)
}

func TestIssueSupersedes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	credential, priv := newKeypair(t)

	first, err := s.Issue("conn-1")
	require.NoError(t, err)
	second, err := s.Issue("conn-1")
	require.NoError(t, err)
	require.NotEqual(t, first.Nonce, second.Nonce)

	// Signing the superseded nonce fails; only the latest one counts.
	_, err = s.Verify(ctx, "conn-1", credential, "alice", ed25519.Sign(priv, first.Nonce))
	assert.ErrorIs(t, err, core.ErrInvalidSignature)
}

func TestVerifyBadCredentialEncoding(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	_, err := s.Issue("conn-1")
	require.NoError(t, err)
	_, err = s.Verify(ctx, "conn-1", "not-hex", "alice", []byte("sig"))
	assert.ErrorIs(t, err, core.ErrInvalidSignature)
}

func TestSweepRemovesExpired(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	now := time.Now()
	s.now = func() time.Time { return now }
	_, err := s.Issue("conn-1")
	require.NoError(t, err)
	_, err = s.Issue("conn-2")
	require.NoError(t, err)

	assert.Equal(t, 0, s.Sweep())
	s.now = func() time.Time { return now.Add(3 * time.Minute) }
	assert.Equal(t, 2, s.Sweep())
}

func TestVerifyRejectsTakenUsername(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	cred1, priv1 := newKeypair(t)
	ch, err := s.Issue("conn-1")
	require.NoError(t, err)
	_, err = s.Verify(ctx, "conn-1", cred1, "alice", ed25519.Sign(priv1, ch.Nonce))
	require.NoError(t, err)

	// A different credential claiming the taken username fails the
	// insert; the credential stays unregistered.
	cred2, priv2 := newKeypair(t)
	ch, err = s.Issue("conn-2")
	require.NoError(t, err)
	_, err = s.Verify(ctx, "conn-2", cred2, "alice", ed25519.Sign(priv2, ch.Nonce))
	assert.ErrorIs(t, err, store.ErrConflict)
}
