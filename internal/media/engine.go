// Package media owns the per-voice-channel room abstraction and drives
// the external selective-forwarding engine through a narrow capability
// interface. The engine does the RTP work; this package only tracks
// lifecycle.
package media

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Engine-assigned identifiers. The coordinator treats them as opaque.
type (
	RouterID    string
	TransportID string
	ProducerID  string
	ConsumerID  string
)

type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// Kind is the media kind of a producer. A participant holds at most one
// producer per kind.
type Kind string

const (
	KindAudio  Kind = "audio"
	KindVideo  Kind = "video"
	KindScreen Kind = "screen"
)

// TransportParams is what the client needs to establish the ICE/DTLS
// path to the engine.
type TransportParams struct {
	ID             TransportID           `json:"id"`
	ICEParameters  webrtc.ICEParameters  `json:"ice_parameters"`
	ICECandidates  []webrtc.ICECandidate `json:"ice_candidates"`
	DTLSParameters webrtc.DTLSParameters `json:"dtls_parameters"`
	Direction      Direction             `json:"direction"`
}

// ConsumerParams describes a freshly created consumer to the client.
type ConsumerParams struct {
	ID            ConsumerID           `json:"id"`
	ProducerID    ProducerID           `json:"producer_id"`
	Kind          Kind                 `json:"kind"`
	RTPParameters webrtc.RTPParameters `json:"rtp_parameters"`
}

// Engine creates one router per voice room.
type Engine interface {
	CreateRouter(ctx context.Context) (Router, error)
}

// Router scopes transports, producers and consumers to one room. Close
// releases everything the router still holds on the engine side.
//
// Implementations surface core.ErrProducerGone when a consume targets a
// producer the engine already closed.
type Router interface {
	ID() RouterID
	RTPCapabilities() webrtc.RTPCapabilities

	CreateTransport(ctx context.Context, direction Direction) (TransportParams, error)
	ConnectTransport(ctx context.Context, id TransportID, dtls webrtc.DTLSParameters) error
	CloseTransport(ctx context.Context, id TransportID) error

	Produce(ctx context.Context, transport TransportID, kind Kind, rtp webrtc.RTPParameters) (ProducerID, error)
	CloseProducer(ctx context.Context, id ProducerID) error

	Consume(ctx context.Context, transport TransportID, producer ProducerID, caps webrtc.RTPCapabilities) (ConsumerParams, error)
	ResumeConsumer(ctx context.Context, id ConsumerID) error
	CloseConsumer(ctx context.Context, id ConsumerID) error

	Close(ctx context.Context) error
}
