// Package session owns the per-connection state machine and routes
// inbound events to the presence registry, the media coordinator and
// the persistence collaborators.
package session

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/harborchat/harbor/internal/core"
	"github.com/harborchat/harbor/internal/domain"
	"github.com/harborchat/harbor/internal/media"
)

// Envelope is the typed frame both directions share. ID correlates a
// request with its response; notifications leave it empty.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound event types.
const (
	EvAuthChallenge         = "auth:challenge"
	EvAuthVerify            = "auth:verify"
	EvChannelJoin           = "channel:join"
	EvChannelLeave          = "channel:leave"
	EvMessageSend           = "message:send"
	EvVoiceJoin             = "voice:join"
	EvVoiceLeave            = "voice:leave"
	EvVoiceCreateTransport  = "voice:create_transport"
	EvVoiceConnectTransport = "voice:connect_transport"
	EvVoiceProduce          = "voice:produce"
	EvVoiceConsume          = "voice:consume"
	EvVoiceResumeConsumer   = "voice:resume_consumer"
	EvPing                  = "ping"
)

// Outbound event types.
const (
	EvAuthNonce        = "auth:nonce"
	EvAuthOK           = "auth:ok"
	EvError            = "error"
	EvPong             = "pong"
	EvMessageNew       = "message:new"
	EvVoiceUserJoined  = "voice:user_joined"
	EvVoiceUserLeft    = "voice:user_left"
	EvVoiceUserActive  = "voice:user_active"
	EvVoiceNewProducer = "voice:new_producer"
	EvResponse         = "response"
)

type authVerifyPayload struct {
	Credential string `json:"credential"`
	Username   string `json:"username"`
	Signature  []byte `json:"signature"`
}

type channelPayload struct {
	ChannelID domain.ChannelID `json:"channel_id"`
}

type messageSendPayload struct {
	ChannelID domain.ChannelID `json:"channel_id"`
	Body      string           `json:"body"`
}

type createTransportPayload struct {
	ChannelID domain.ChannelID `json:"channel_id"`
	Direction media.Direction  `json:"direction"`
}

type connectTransportPayload struct {
	ChannelID      domain.ChannelID      `json:"channel_id"`
	TransportID    media.TransportID     `json:"transport_id"`
	DTLSParameters webrtc.DTLSParameters `json:"dtls_parameters"`
}

type producePayload struct {
	ChannelID     domain.ChannelID     `json:"channel_id"`
	TransportID   media.TransportID    `json:"transport_id"`
	Kind          media.Kind           `json:"kind"`
	RTPParameters webrtc.RTPParameters `json:"rtp_parameters"`
}

type consumePayload struct {
	ChannelID       domain.ChannelID       `json:"channel_id"`
	TransportID     media.TransportID      `json:"transport_id"`
	ProducerID      media.ProducerID       `json:"producer_id"`
	RTPCapabilities webrtc.RTPCapabilities `json:"rtp_capabilities"`
}

type resumeConsumerPayload struct {
	ChannelID  domain.ChannelID `json:"channel_id"`
	ConsumerID media.ConsumerID `json:"consumer_id"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type voicePresencePayload struct {
	ChannelID   domain.ChannelID      `json:"channel_id"`
	Participant media.ParticipantInfo `json:"participant"`
	Kind        media.Kind            `json:"kind,omitempty"`
}

type newProducerPayload struct {
	ChannelID domain.ChannelID   `json:"channel_id"`
	Producer  media.ProducerInfo `json:"producer"`
}

// encode builds a wire frame. Marshal failures are programming errors
// on our own types; they are logged, not propagated.
func encode(eventType, id string, payload any) core.Frame {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Str("module", "session").Str("type", eventType).Msg("encode payload")
			return nil
		}
		raw = b
	}
	b, err := json.Marshal(Envelope{Type: eventType, ID: id, Payload: raw})
	if err != nil {
		log.Error().Err(err).Str("module", "session").Str("type", eventType).Msg("encode envelope")
		return nil
	}
	return core.Frame(b)
}
