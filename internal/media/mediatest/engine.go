// Package mediatest provides an in-memory media engine for tests. It
// records every lifecycle call so suites can assert on cascade order
// and leaks.
package mediatest

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/harborchat/harbor/internal/core"
	"github.com/harborchat/harbor/internal/media"
)

var ErrEngineDown = errors.New("engine unavailable")

type Engine struct {
	mu sync.Mutex

	// FailCreateRouter / FailCreateTransport make the next n calls fail
	// with a transient error, to exercise the retry path.
	FailCreateRouter    int
	FailCreateTransport int

	routers []*Router
}

func NewEngine() *Engine { return &Engine{} }

func (e *Engine) CreateRouter(_ context.Context) (media.Router, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailCreateRouter > 0 {
		e.FailCreateRouter--
		return nil, ErrEngineDown
	}
	r := &Router{
		id:         media.RouterID(uuid.NewString()),
		engine:     e,
		transports: make(map[media.TransportID]*fakeTransport),
		producers:  make(map[media.ProducerID]bool),
		consumers:  make(map[media.ConsumerID]bool),
	}
	e.routers = append(e.routers, r)
	return r, nil
}

// Routers snapshots every router ever created, closed ones included.
func (e *Engine) Routers() []*Router {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Router(nil), e.routers...)
}

type fakeTransport struct {
	direction media.Direction
	connected bool
}

type Router struct {
	id     media.RouterID
	engine *Engine

	mu         sync.Mutex
	transports map[media.TransportID]*fakeTransport
	producers  map[media.ProducerID]bool
	consumers  map[media.ConsumerID]bool

	ClosedTransports []media.TransportID
	ClosedProducers  []media.ProducerID
	ClosedConsumers  []media.ConsumerID
	RouterClosed     bool
}

func (r *Router) ID() media.RouterID { return r.id }

func (r *Router) RTPCapabilities() webrtc.RTPCapabilities {
	return webrtc.RTPCapabilities{}
}

func (r *Router) CreateTransport(_ context.Context, direction media.Direction) (media.TransportParams, error) {
	r.engine.mu.Lock()
	if r.engine.FailCreateTransport > 0 {
		r.engine.FailCreateTransport--
		r.engine.mu.Unlock()
		return media.TransportParams{}, ErrEngineDown
	}
	r.engine.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	id := media.TransportID(uuid.NewString())
	r.transports[id] = &fakeTransport{direction: direction}
	return media.TransportParams{ID: id, Direction: direction}, nil
}

func (r *Router) ConnectTransport(_ context.Context, id media.TransportID, _ webrtc.DTLSParameters) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transports[id]
	if !ok {
		return core.ErrUnknownTransport
	}
	if t.connected {
		return core.ErrAlreadyConnected
	}
	t.connected = true
	return nil
}

func (r *Router) CloseTransport(_ context.Context, id media.TransportID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.transports, id)
	r.ClosedTransports = append(r.ClosedTransports, id)
	return nil
}

func (r *Router) Produce(_ context.Context, transport media.TransportID, _ media.Kind, _ webrtc.RTPParameters) (media.ProducerID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transports[transport]
	if !ok || !t.connected {
		return "", core.ErrUnknownTransport
	}
	id := media.ProducerID(uuid.NewString())
	r.producers[id] = true
	return id, nil
}

func (r *Router) CloseProducer(_ context.Context, id media.ProducerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.producers, id)
	r.ClosedProducers = append(r.ClosedProducers, id)
	return nil
}

func (r *Router) Consume(_ context.Context, transport media.TransportID, producer media.ProducerID, _ webrtc.RTPCapabilities) (media.ConsumerParams, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transports[transport]
	if !ok || !t.connected {
		return media.ConsumerParams{}, core.ErrUnknownTransport
	}
	if !r.producers[producer] {
		return media.ConsumerParams{}, core.ErrProducerGone
	}
	id := media.ConsumerID(uuid.NewString())
	r.consumers[id] = true
	return media.ConsumerParams{ID: id, ProducerID: producer}, nil
}

func (r *Router) ResumeConsumer(_ context.Context, id media.ConsumerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.consumers[id] {
		return core.ErrProducerGone
	}
	return nil
}

func (r *Router) CloseConsumer(_ context.Context, id media.ConsumerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.consumers, id)
	r.ClosedConsumers = append(r.ClosedConsumers, id)
	return nil
}

func (r *Router) Close(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RouterClosed = true
	return nil
}

// LiveProducers counts producers the engine still considers open.
func (r *Router) LiveProducers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.producers)
}

// LiveConsumers counts consumers the engine still considers open.
func (r *Router) LiveConsumers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.consumers)
}

// LiveTransports counts transports the engine still considers open.
func (r *Router) LiveTransports() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transports)
}
