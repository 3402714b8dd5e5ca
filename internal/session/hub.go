package session

import (
	"github.com/harborchat/harbor/internal/core"
	"github.com/harborchat/harbor/internal/domain"
	"github.com/harborchat/harbor/internal/media"
)

// The manager is the fan-out sink for the media coordinator and the
// feed poller: room lifecycle goes out as presence broadcasts on the
// voice channel, producer notifications are targeted at single
// connections, and feed-posted messages ride the ordinary message
// broadcast path.

var _ media.Events = (*Manager)(nil)

func (m *Manager) VoiceJoined(channel domain.ChannelID, p media.ParticipantInfo) {
	m.presence.Broadcast(channel, encode(EvVoiceUserJoined, "", voicePresencePayload{
		ChannelID:   channel,
		Participant: p,
	}))
}

func (m *Manager) VoiceLeft(channel domain.ChannelID, p media.ParticipantInfo) {
	m.presence.Broadcast(channel, encode(EvVoiceUserLeft, "", voicePresencePayload{
		ChannelID:   channel,
		Participant: p,
	}))
}

func (m *Manager) ProducerActive(channel domain.ChannelID, p media.ParticipantInfo, kind media.Kind) {
	m.presence.Broadcast(channel, encode(EvVoiceUserActive, "", voicePresencePayload{
		ChannelID:   channel,
		Participant: p,
		Kind:        kind,
	}))
}

func (m *Manager) NewProducer(channel domain.ChannelID, target core.ConnectionID, producer media.ProducerInfo) {
	sess, ok := m.Session(target)
	if !ok {
		return
	}
	// Best effort: a target that disconnected between snapshot and
	// send simply misses the notification.
	_ = sess.Signal.TrySend(encode(EvVoiceNewProducer, "", newProducerPayload{
		ChannelID: channel,
		Producer:  producer,
	}))
}

// PublishMessage implements feed.Publisher.
func (m *Manager) PublishMessage(msg *domain.Message) {
	m.presence.Broadcast(msg.ChannelID, encode(EvMessageNew, "", msg))
}
