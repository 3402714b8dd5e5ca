package core

import "errors"

// Failure taxonomy. Auth failures require the client to request a fresh
// challenge; state conflicts are per-request and retryable; protocol
// errors are fatal or per-request depending on where they surface;
// moderation blocks always close the connection with a reason code.
var (
	ErrBackpressure     = errors.New("backpressure")
	ErrConnectionClosed = errors.New("connection closed")

	// Auth failures.
	ErrNotChallenged    = errors.New("no active challenge")
	ErrChallengeExpired = errors.New("challenge expired")
	ErrInvalidSignature = errors.New("invalid signature")

	// Protocol errors.
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrUnknownEvent    = errors.New("unknown event type")
	ErrMalformedEvent  = errors.New("malformed event")

	// State conflicts (non-fatal, caller retries the sub-step).
	ErrAlreadyConnected = errors.New("transport already connected")
	ErrUnknownTransport = errors.New("unknown transport")
	ErrProducerGone     = errors.New("producer gone")
	ErrDuplicateKind    = errors.New("producer of this kind already exists")
	ErrNoSuchRoom       = errors.New("no such voice room")
	ErrNotInRoom        = errors.New("participant not in room")

	// Access failures.
	ErrReadOnlyChannel   = errors.New("channel is read-only")
	ErrModerationBlocked = errors.New("blocked by moderation")
	ErrMuted             = errors.New("muted by moderation")
	ErrUnknownChannel    = errors.New("unknown channel")
)

// Code maps an error to the stable reason code carried in outbound error
// envelopes. Unrecognized errors collapse to "internal".
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotChallenged):
		return "not_challenged"
	case errors.Is(err, ErrChallengeExpired):
		return "challenge_expired"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(err, ErrMalformedEvent):
		return "malformed_event"
	case errors.Is(err, ErrAlreadyConnected):
		return "already_connected"
	case errors.Is(err, ErrUnknownTransport):
		return "unknown_transport"
	case errors.Is(err, ErrProducerGone):
		return "producer_gone"
	case errors.Is(err, ErrDuplicateKind):
		return "duplicate_kind"
	case errors.Is(err, ErrNoSuchRoom):
		return "no_such_room"
	case errors.Is(err, ErrNotInRoom):
		return "not_in_room"
	case errors.Is(err, ErrReadOnlyChannel):
		return "read_only_channel"
	case errors.Is(err, ErrModerationBlocked):
		return "moderation_blocked"
	case errors.Is(err, ErrMuted):
		return "muted"
	case errors.Is(err, ErrUnknownChannel):
		return "unknown_channel"
	case errors.Is(err, ErrBackpressure):
		return "backpressure"
	default:
		return "internal"
	}
}
