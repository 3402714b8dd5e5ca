package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/harborchat/harbor/internal/domain"
)

// ElevationKey signs short-lived admin tokens for the moderation REST
// API. The key is generated at process start and rotates on every
// restart, so previously minted tokens die with the process. Dev-only
// mechanism; a durable credential/policy store should replace it.
type ElevationKey struct {
	secret []byte
	ttl    time.Duration
}

type ElevationClaims struct {
	Role domain.Role `json:"role"`
	jwt.RegisteredClaims
}

func NewElevationKey(ttl time.Duration) (*ElevationKey, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate elevation key: %w", err)
	}
	sum := sha256.Sum256(secret)
	log.Info().Str("module", "auth").
		Str("key_fingerprint", hex.EncodeToString(sum[:8])).
		Msg("elevation key rotated")
	return &ElevationKey{secret: secret, ttl: ttl}, nil
}

func (k *ElevationKey) Mint(subject domain.UserID, role domain.Role) (string, error) {
	now := time.Now()
	claims := ElevationClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(subject),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(k.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(k.secret)
}

func (k *ElevationKey) Verify(token string) (*ElevationClaims, error) {
	var claims ElevationClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return k.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, jwt.ErrTokenUnverifiable
	}
	return &claims, nil
}
