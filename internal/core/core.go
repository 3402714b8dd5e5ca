// Package core holds the transport-facing primitives shared by the
// presence registry, the media coordinator and the session manager.
package core

// Frame is a raw outbound payload, already encoded for the wire.
type Frame []byte

// ConnectionID identifies one live client connection. It is ephemeral;
// a reconnect gets a new one.
type ConnectionID string

// SignalConnection abstracts the system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend enqueues a frame without blocking. It returns
	// ErrBackpressure when the outbound queue is full so that one slow
	// consumer never stalls a broadcast to the others.
	TrySend(Frame) error
	Close()
}

// PublishResult reports delivery stats/backpressure to the caller.
type PublishResult struct {
	SentTo  int
	Dropped []ConnectionID
}
