// Package presence tracks which connections are subscribed to which
// channels and fans events out to them.
package presence

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/harborchat/harbor/internal/core"
	"github.com/harborchat/harbor/internal/domain"
)

// Registry is a many-to-many membership map between connections and
// channels. Delivery is best-effort per connection: a full outbound
// queue drops the frame for that subscriber only. Events on one channel
// reach all current subscribers in broadcast order because the
// channel's lock is held across the whole fan-out.
type Registry struct {
	mu       sync.RWMutex
	channels map[domain.ChannelID]*channelSet
	byConn   map[core.ConnectionID]map[domain.ChannelID]struct{}
}

type channelSet struct {
	mu   sync.Mutex
	subs map[core.ConnectionID]core.SignalConnection
}

func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[domain.ChannelID]*channelSet),
		byConn:   make(map[core.ConnectionID]map[domain.ChannelID]struct{}),
	}
}

func (r *Registry) Subscribe(connID core.ConnectionID, channelID domain.ChannelID, sig core.SignalConnection) {
	r.mu.Lock()
	cs, ok := r.channels[channelID]
	if !ok {
		cs = &channelSet{subs: make(map[core.ConnectionID]core.SignalConnection)}
		r.channels[channelID] = cs
	}
	if _, ok := r.byConn[connID]; !ok {
		r.byConn[connID] = make(map[domain.ChannelID]struct{})
	}
	r.byConn[connID][channelID] = struct{}{}
	// The insert must happen before r.mu is released: the reap in
	// Unsubscribe deletes an empty channelSet under r.mu, and a
	// subscriber added to a reaped set would never see a broadcast.
	cs.mu.Lock()
	cs.subs[connID] = sig
	cs.mu.Unlock()
	r.mu.Unlock()
	log.Debug().Str("module", "presence").Str("conn", string(connID)).
		Str("channel", string(channelID)).Msg("subscribed")
}

func (r *Registry) Unsubscribe(connID core.ConnectionID, channelID domain.ChannelID) {
	r.mu.Lock()
	cs, ok := r.channels[channelID]
	if set, have := r.byConn[connID]; have {
		delete(set, channelID)
		if len(set) == 0 {
			delete(r.byConn, connID)
		}
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	cs.mu.Lock()
	delete(cs.subs, connID)
	empty := len(cs.subs) == 0
	cs.mu.Unlock()

	if empty {
		r.mu.Lock()
		// Re-check under the registry lock; a new subscriber may have
		// slipped in between.
		cs.mu.Lock()
		if len(cs.subs) == 0 && r.channels[channelID] == cs {
			delete(r.channels, channelID)
		}
		cs.mu.Unlock()
		r.mu.Unlock()
	}
}

// UnsubscribeAll removes the connection from every channel. Called
// during teardown.
func (r *Registry) UnsubscribeAll(connID core.ConnectionID) {
	r.mu.RLock()
	set := r.byConn[connID]
	channels := make([]domain.ChannelID, 0, len(set))
	for id := range set {
		channels = append(channels, id)
	}
	r.mu.RUnlock()
	for _, id := range channels {
		r.Unsubscribe(connID, id)
	}
}

// Broadcast enqueues the frame to every current subscriber of the
// channel. A new subscriber only receives events broadcast after it
// subscribed; a departed one receives nothing broadcast after it left.
func (r *Registry) Broadcast(channelID domain.ChannelID, frame core.Frame) core.PublishResult {
	r.mu.RLock()
	cs, ok := r.channels[channelID]
	r.mu.RUnlock()

	res := core.PublishResult{}
	if !ok {
		return res
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	for connID, sig := range cs.subs {
		if err := sig.TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, connID)
			continue
		}
		res.SentTo++
	}
	return res
}

func (r *Registry) Subscribed(connID core.ConnectionID, channelID domain.ChannelID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byConn[connID][channelID]
	return ok
}

func (r *Registry) SubscriberCount(channelID domain.ChannelID) int {
	r.mu.RLock()
	cs, ok := r.channels[channelID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.subs)
}

// ChannelsOf snapshots the channels a connection is subscribed to.
func (r *Registry) ChannelsOf(connID core.ConnectionID) []domain.ChannelID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byConn[connID]
	out := make([]domain.ChannelID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
