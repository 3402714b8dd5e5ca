package media

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"

	"github.com/harborchat/harbor/internal/core"
	"github.com/harborchat/harbor/internal/domain"
)

const (
	engineRetries    = 2
	engineRetryDelay = 100 * time.Millisecond
)

// ParticipantInfo is the read-only view of a participant carried in
// notifications.
type ParticipantInfo struct {
	ConnID      core.ConnectionID `json:"conn_id"`
	UserID      domain.UserID     `json:"user_id"`
	DisplayName string            `json:"display_name"`
}

// ProducerInfo describes a live producer to prospective consumers.
type ProducerInfo struct {
	ID    ProducerID      `json:"id"`
	Kind  Kind            `json:"kind"`
	Owner ParticipantInfo `json:"owner"`
}

// Events is how room lifecycle surfaces to the rest of the server. The
// session hub implements it: joined/left/active go out as presence
// broadcasts on the voice channel, NewProducer is targeted at one
// participant's connection.
type Events interface {
	VoiceJoined(channel domain.ChannelID, p ParticipantInfo)
	VoiceLeft(channel domain.ChannelID, p ParticipantInfo)
	ProducerActive(channel domain.ChannelID, p ParticipantInfo, kind Kind)
	NewProducer(channel domain.ChannelID, target core.ConnectionID, producer ProducerInfo)
}

// Coordinator owns every live voice room and the participant state
// machines inside them.
type Coordinator struct {
	engine Engine
	events Events

	mu    sync.Mutex
	rooms map[domain.ChannelID]*roomEntry
}

// roomEntry guards router creation: concurrent EnsureRoom calls for one
// channel share the once, so the engine never sees two routers for the
// same channel.
type roomEntry struct {
	once sync.Once
	room *Room
	err  error
}

func NewCoordinator(engine Engine, events Events) *Coordinator {
	return &Coordinator{
		engine: engine,
		events: events,
		rooms:  make(map[domain.ChannelID]*roomEntry),
	}
}

// EnsureRoom returns the channel's live room, creating it against the
// engine on first use. The second of two concurrent callers receives
// the first caller's room.
func (c *Coordinator) EnsureRoom(ctx context.Context, channelID domain.ChannelID) (*Room, error) {
	for {
		c.mu.Lock()
		entry, ok := c.rooms[channelID]
		if !ok {
			entry = &roomEntry{}
			c.rooms[channelID] = entry
		}
		c.mu.Unlock()

		entry.once.Do(func() {
			var router Router
			err := c.withRetry(ctx, func(ctx context.Context) error {
				var e error
				router, e = c.engine.CreateRouter(ctx)
				return e
			})
			if err != nil {
				entry.err = err
				return
			}
			entry.room = newRoom(channelID, router)
			log.Info().Str("module", "media").Str("channel", string(channelID)).
				Str("router", string(router.ID())).Msg("room created")
		})

		if entry.err != nil {
			c.mu.Lock()
			if c.rooms[channelID] == entry {
				delete(c.rooms, channelID)
			}
			c.mu.Unlock()
			return nil, entry.err
		}

		entry.room.mu.Lock()
		closed := entry.room.closed
		entry.room.mu.Unlock()
		if !closed {
			return entry.room, nil
		}
		// Lost a race with the destroy of an emptied room; start over.
	}
}

// Room returns the live room for the channel without creating one.
func (c *Coordinator) Room(channelID domain.ChannelID) (*Room, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.rooms[channelID]
	if !ok || entry.room == nil {
		return nil, false
	}
	return entry.room, true
}

// Join adds the connection to the channel's room, creating the room if
// needed. Re-joining a room the connection is already in is a no-op.
func (c *Coordinator) Join(ctx context.Context, channelID domain.ChannelID, connID core.ConnectionID, userID domain.UserID, name string, sig core.SignalConnection) (*Participant, error) {
	room, err := c.EnsureRoom(ctx, channelID)
	if err != nil {
		return nil, err
	}

	room.mu.Lock()
	if room.closed {
		room.mu.Unlock()
		return c.Join(ctx, channelID, connID, userID, name, sig)
	}
	if existing, ok := room.participants[connID]; ok {
		room.mu.Unlock()
		return existing, nil
	}
	p := newParticipant(connID, userID, name, sig)
	room.participants[connID] = p
	room.mu.Unlock()

	c.events.VoiceJoined(channelID, participantInfo(p))
	log.Info().Str("module", "media").Str("channel", string(channelID)).
		Str("conn", string(connID)).Msg("participant joined")
	return p, nil
}

// CreateTransport asks the engine for a transport scoped to the room.
func (c *Coordinator) CreateTransport(ctx context.Context, channelID domain.ChannelID, connID core.ConnectionID, direction Direction) (TransportParams, error) {
	room, ok := c.Room(channelID)
	if !ok {
		return TransportParams{}, core.ErrNoSuchRoom
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	p, ok := room.participants[connID]
	if !ok {
		return TransportParams{}, core.ErrNotInRoom
	}

	var params TransportParams
	err := c.withRetry(ctx, func(ctx context.Context) error {
		var e error
		params, e = room.router.CreateTransport(ctx, direction)
		return e
	})
	if err != nil {
		return TransportParams{}, err
	}

	p.transports[params.ID] = &transport{id: params.ID, direction: direction}
	if p.state == StateIdle {
		p.state = StateTransportPending
	}
	return params, nil
}

// ConnectTransport finalizes a previously created transport with the
// client's DTLS parameters. Connecting a transport twice is a state
// conflict; connecting one the participant does not own is
// ErrUnknownTransport.
func (c *Coordinator) ConnectTransport(ctx context.Context, channelID domain.ChannelID, connID core.ConnectionID, transportID TransportID, dtls webrtc.DTLSParameters) error {
	room, ok := c.Room(channelID)
	if !ok {
		return core.ErrNoSuchRoom
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	p, ok := room.participants[connID]
	if !ok {
		return core.ErrNotInRoom
	}
	t, ok := p.transports[transportID]
	if !ok {
		return core.ErrUnknownTransport
	}
	if t.connected {
		return core.ErrAlreadyConnected
	}

	err := c.withRetry(ctx, func(ctx context.Context) error {
		return room.router.ConnectTransport(ctx, transportID, dtls)
	})
	if err != nil {
		return err
	}

	t.connected = true
	if p.state == StateTransportPending {
		p.state = StateTransportConnected
	}
	return nil
}

// Produce creates a producer on a connected send transport. On success
// every other participant in the room is told about the new producer
// and a presence broadcast marks this participant active in the voice
// channel.
func (c *Coordinator) Produce(ctx context.Context, channelID domain.ChannelID, connID core.ConnectionID, transportID TransportID, kind Kind, rtp webrtc.RTPParameters) (ProducerID, error) {
	room, ok := c.Room(channelID)
	if !ok {
		return "", core.ErrNoSuchRoom
	}

	room.mu.Lock()
	p, ok := room.participants[connID]
	if !ok {
		room.mu.Unlock()
		return "", core.ErrNotInRoom
	}
	t, ok := p.transports[transportID]
	if !ok || t.direction != DirectionSend || !t.connected {
		// Anything that is not this participant's connected send
		// transport does not qualify.
		room.mu.Unlock()
		return "", core.ErrUnknownTransport
	}
	if _, exists := p.producers[kind]; exists {
		room.mu.Unlock()
		return "", core.ErrDuplicateKind
	}

	var producerID ProducerID
	err := c.withRetry(ctx, func(ctx context.Context) error {
		var e error
		producerID, e = room.router.Produce(ctx, transportID, kind, rtp)
		return e
	})
	if err != nil {
		room.mu.Unlock()
		return "", err
	}

	p.producers[kind] = producerRec{id: producerID, kind: kind}
	p.state = StateActive
	info := participantInfo(p)
	targets := make([]core.ConnectionID, 0, len(room.participants)-1)
	for id := range room.participants {
		if id != connID {
			targets = append(targets, id)
		}
	}
	room.mu.Unlock()

	producer := ProducerInfo{ID: producerID, Kind: kind, Owner: info}
	for _, target := range targets {
		c.events.NewProducer(channelID, target, producer)
	}
	c.events.ProducerActive(channelID, info, kind)
	log.Info().Str("module", "media").Str("channel", string(channelID)).
		Str("conn", string(connID)).Str("kind", string(kind)).Msg("producing")
	return producerID, nil
}

// Consume binds a consumer on the participant's connected receive
// transport to a still-live remote producer. A producer that closed
// between notification and consumption surfaces as ErrProducerGone,
// which callers treat as a non-fatal skip.
func (c *Coordinator) Consume(ctx context.Context, channelID domain.ChannelID, connID core.ConnectionID, transportID TransportID, producerID ProducerID, caps webrtc.RTPCapabilities) (ConsumerParams, error) {
	room, ok := c.Room(channelID)
	if !ok {
		return ConsumerParams{}, core.ErrNoSuchRoom
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	p, ok := room.participants[connID]
	if !ok {
		return ConsumerParams{}, core.ErrNotInRoom
	}
	t, ok := p.transports[transportID]
	if !ok || t.direction != DirectionRecv || !t.connected {
		return ConsumerParams{}, core.ErrUnknownTransport
	}
	if !room.producerLive(producerID) {
		return ConsumerParams{}, core.ErrProducerGone
	}

	var params ConsumerParams
	err := c.withRetry(ctx, func(ctx context.Context) error {
		var e error
		params, e = room.router.Consume(ctx, transportID, producerID, caps)
		return e
	})
	if err != nil {
		return ConsumerParams{}, err
	}

	p.consumers[params.ID] = consumerRec{id: params.ID, producer: producerID}
	return params, nil
}

// ResumeConsumer unpauses a consumer created by Consume. An unknown
// consumer id means its producer already went away; callers skip it.
func (c *Coordinator) ResumeConsumer(ctx context.Context, channelID domain.ChannelID, connID core.ConnectionID, consumerID ConsumerID) error {
	room, ok := c.Room(channelID)
	if !ok {
		return core.ErrNoSuchRoom
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	p, ok := room.participants[connID]
	if !ok {
		return core.ErrNotInRoom
	}
	if _, ok := p.consumers[consumerID]; !ok {
		return core.ErrProducerGone
	}
	return c.withRetry(ctx, func(ctx context.Context) error {
		return room.router.ResumeConsumer(ctx, consumerID)
	})
}

// Leave tears the participant down completely: producers first (which
// cascade-closes every remote consumer bound to them), then the
// participant's own consumers and transports, then room membership.
// The emptied room is destroyed and its engine router released. Safe to
// call repeatedly and on rooms the connection never joined; runs on
// both explicit leave and abrupt disconnect.
func (c *Coordinator) Leave(ctx context.Context, channelID domain.ChannelID, connID core.ConnectionID) {
	room, ok := c.Room(channelID)
	if !ok {
		return
	}

	room.mu.Lock()
	p, ok := room.participants[connID]
	if !ok {
		room.mu.Unlock()
		return
	}

	for _, prod := range p.producers {
		for _, peer := range room.participants {
			if peer == p {
				continue
			}
			for id, cons := range peer.consumers {
				if cons.producer != prod.id {
					continue
				}
				if err := room.router.CloseConsumer(ctx, id); err != nil {
					log.Warn().Err(err).Str("module", "media").Str("consumer", string(id)).Msg("close consumer")
				}
				delete(peer.consumers, id)
			}
		}
		if err := room.router.CloseProducer(ctx, prod.id); err != nil {
			log.Warn().Err(err).Str("module", "media").Str("producer", string(prod.id)).Msg("close producer")
		}
	}
	for id := range p.consumers {
		if err := room.router.CloseConsumer(ctx, id); err != nil {
			log.Warn().Err(err).Str("module", "media").Str("consumer", string(id)).Msg("close consumer")
		}
	}
	for id := range p.transports {
		if err := room.router.CloseTransport(ctx, id); err != nil {
			log.Warn().Err(err).Str("module", "media").Str("transport", string(id)).Msg("close transport")
		}
	}

	p.state = StateClosed
	delete(room.participants, connID)
	info := participantInfo(p)
	empty := len(room.participants) == 0
	if empty {
		room.closed = true
	}
	room.mu.Unlock()

	if empty {
		if err := room.router.Close(ctx); err != nil {
			log.Warn().Err(err).Str("module", "media").Str("channel", string(channelID)).Msg("close router")
		}
		c.mu.Lock()
		if entry, ok := c.rooms[channelID]; ok && entry.room == room {
			delete(c.rooms, channelID)
		}
		c.mu.Unlock()
		log.Info().Str("module", "media").Str("channel", string(channelID)).Msg("room destroyed")
	}

	c.events.VoiceLeft(channelID, info)
	log.Info().Str("module", "media").Str("channel", string(channelID)).
		Str("conn", string(connID)).Msg("participant left")
}

// producerLive reports whether any current participant owns the
// producer. Callers hold room.mu.
func (r *Room) producerLive(id ProducerID) bool {
	for _, p := range r.participants {
		for _, prod := range p.producers {
			if prod.id == id {
				return true
			}
		}
	}
	return false
}

// Producers lists the live producers other participants own, for a
// client that just joined and wants to consume everything current.
func (c *Coordinator) Producers(channelID domain.ChannelID, except core.ConnectionID) []ProducerInfo {
	room, ok := c.Room(channelID)
	if !ok {
		return nil
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	var out []ProducerInfo
	for id, p := range room.participants {
		if id == except {
			continue
		}
		for _, prod := range p.producers {
			out = append(out, ProducerInfo{ID: prod.id, Kind: prod.kind, Owner: participantInfo(p)})
		}
	}
	return out
}

func participantInfo(p *Participant) ParticipantInfo {
	return ParticipantInfo{ConnID: p.ConnID, UserID: p.UserID, DisplayName: p.DisplayName}
}

// withRetry wraps transient engine failures in a small bounded retry.
// Permanent conditions (a producer that is simply gone, a cancelled
// context) are surfaced immediately.
func (c *Coordinator) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(engineRetries, retry.NewConstant(engineRetryDelay))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, core.ErrProducerGone) || errors.Is(err, context.Canceled) {
			return err
		}
		return retry.RetryableError(err)
	})
}
