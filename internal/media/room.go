package media

import (
	"sync"

	"github.com/harborchat/harbor/internal/core"
	"github.com/harborchat/harbor/internal/domain"
)

// ParticipantState is the coarse lifecycle of one participant.
// idle -> transport_pending -> transport_connected -> producing or
// consuming, terminal closed.
type ParticipantState string

const (
	StateIdle               ParticipantState = "idle"
	StateTransportPending   ParticipantState = "transport_pending"
	StateTransportConnected ParticipantState = "transport_connected"
	StateActive             ParticipantState = "active"
	StateClosed             ParticipantState = "closed"
)

type transport struct {
	id        TransportID
	direction Direction
	connected bool
}

type producerRec struct {
	id   ProducerID
	kind Kind
}

type consumerRec struct {
	id       ConsumerID
	producer ProducerID
}

// Participant belongs to exactly one Room and one connection. All
// fields are guarded by the owning room's mutex.
type Participant struct {
	ConnID      core.ConnectionID
	UserID      domain.UserID
	DisplayName string
	Signal      core.SignalConnection

	state      ParticipantState
	transports map[TransportID]*transport
	producers  map[Kind]producerRec
	consumers  map[ConsumerID]consumerRec
}

func newParticipant(connID core.ConnectionID, userID domain.UserID, name string, sig core.SignalConnection) *Participant {
	return &Participant{
		ConnID:      connID,
		UserID:      userID,
		DisplayName: name,
		Signal:      sig,
		state:       StateIdle,
		transports:  make(map[TransportID]*transport),
		producers:   make(map[Kind]producerRec),
		consumers:   make(map[ConsumerID]consumerRec),
	}
}

// State is only meaningful while the room lock is held; exposed for the
// coordinator and tests.
func (p *Participant) State() ParticipantState { return p.state }

// Room is the in-memory voice room for one voice channel. Created
// lazily on first join, destroyed when the last participant leaves.
// The mutex serializes every mutation, including the engine calls made
// on behalf of this room, so join/leave and producer/consumer creation
// on one room are linearizable while other rooms proceed independently.
type Room struct {
	ChannelID domain.ChannelID

	mu           sync.Mutex
	router       Router
	participants map[core.ConnectionID]*Participant
	closed       bool
}

func newRoom(channelID domain.ChannelID, router Router) *Room {
	return &Room{
		ChannelID:    channelID,
		router:       router,
		participants: make(map[core.ConnectionID]*Participant),
	}
}

// Router exposes the engine-side router handle (for capabilities).
func (r *Room) Router() Router { return r.router }

// Participants snapshots the current participant set.
func (r *Room) Participants() []*Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	return out
}

func (r *Room) Has(connID core.ConnectionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.participants[connID]
	return ok
}

func (r *Room) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}
