// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxUsernameLen    = 36
	MaxDisplayNameLen = 64
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrCredentialEmpty = errors.New("credential empty")
)

type UserID string

// Role gates privileged decisions. Re-read it from the store when a
// decision is made; never trust a cached copy.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
	RoleBot       Role = "bot"
	RoleSystem    Role = "system"
)

// Privileged reports whether the role may post into read-only (feed)
// channels and perform moderation.
func (r Role) Privileged() bool {
	switch r {
	case RoleModerator, RoleAdmin, RoleBot, RoleSystem:
		return true
	}
	return false
}

type User struct {
	ID          UserID `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	// Credential is the hex-encoded ed25519 public key the user
	// authenticates with. It is the durable identity key.
	Credential string `json:"-"`
	Role       Role   `json:"role"`
	AvatarURL  string `json:"avatar_url,omitempty"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(username, credential string) (*User, error) {
	if len(username) == 0 {
		return nil, ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return nil, ErrUsernameTooLong
	}
	if len(credential) == 0 {
		return nil, ErrCredentialEmpty
	}
	return &User{
		ID:          UserID(uuid.NewString()),
		Username:    username,
		DisplayName: username,
		Credential:  credential,
		Role:        RoleUser,
	}, nil
}

func (u *User) SetDisplayName(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrUsernameTooLong
	}
	u.DisplayName = name
	return nil
}
