package domain

import (
	"time"

	"github.com/google/uuid"
)

type ModerationKind string

const (
	ModerationKick ModerationKind = "kick"
	ModerationBan  ModerationKind = "ban"
	ModerationMute ModerationKind = "mute"
)

// ModerationAction is recorded durably so that an action issued while the
// target is offline is enforced the next time their connection
// authenticates.
type ModerationAction struct {
	ID       string         `json:"id"`
	UserID   UserID         `json:"user_id"`
	Kind     ModerationKind `json:"kind"`
	Reason   string         `json:"reason,omitempty"`
	IssuedBy UserID         `json:"issued_by"`
	IssuedAt time.Time      `json:"issued_at"`
	Applied  bool           `json:"applied"`
}

func NewModerationAction(target UserID, kind ModerationKind, reason string, issuedBy UserID) *ModerationAction {
	return &ModerationAction{
		ID:       uuid.NewString(),
		UserID:   target,
		Kind:     kind,
		Reason:   reason,
		IssuedBy: issuedBy,
		IssuedAt: time.Now().UTC(),
	}
}

// Blocking reports whether the action prevents the user from keeping the
// connection at all. Mutes restrict posting but keep the session alive.
func (a *ModerationAction) Blocking() bool {
	return a.Kind == ModerationKick || a.Kind == ModerationBan
}
