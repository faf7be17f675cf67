package signaling

import (
	"errors"
	"log/slog"
	"sync"
)

const defaultQueueSize = 256

var (
	ErrUnknownRecipient = errors.New("unknown recipient")
	ErrQueueFull        = errors.New("recipient queue full")
	ErrEndpointClosed   = errors.New("endpoint closed")
)

// Bus is an in-process Channel implementation. Every participant gets its
// own Endpoint with a FIFO inbox drained by a single goroutine.
type Bus struct {
	log       *slog.Logger
	queueSize int

	mu        sync.RWMutex
	endpoints map[string]*Endpoint
}

// NewBus creates an empty bus. A nil logger uses slog.Default().
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		log:       log.With("component", "bus"),
		queueSize: defaultQueueSize,
		endpoints: make(map[string]*Endpoint),
	}
}

// Endpoint returns the endpoint for participant id, creating it on first use.
func (b *Bus) Endpoint(id string) *Endpoint {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ep, ok := b.endpoints[id]; ok {
		return ep
	}
	ep := &Endpoint{
		id:    id,
		bus:   b,
		inbox: make(chan Envelope, b.queueSize),
		done:  make(chan struct{}),
	}
	b.endpoints[id] = ep
	go ep.deliver()
	return ep
}

// Remove closes and forgets the endpoint for id. Envelopes still queued
// for it are dropped.
func (b *Bus) Remove(id string) {
	b.mu.Lock()
	ep, ok := b.endpoints[id]
	delete(b.endpoints, id)
	b.mu.Unlock()

	if ok {
		close(ep.done)
	}
}

// Close removes every endpoint.
func (b *Bus) Close() {
	b.mu.Lock()
	eps := b.endpoints
	b.endpoints = make(map[string]*Endpoint)
	b.mu.Unlock()

	for _, ep := range eps {
		close(ep.done)
	}
}

func (b *Bus) route(env Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ep, ok := b.endpoints[env.To]
	if !ok {
		return ErrUnknownRecipient
	}

	select {
	case ep.inbox <- env:
		return nil
	default:
		b.log.Warn("dropping envelope, recipient queue full", "envelope", env.String())
		return ErrQueueFull
	}
}

// Endpoint is one participant's view of the bus.
type Endpoint struct {
	id    string
	bus   *Bus
	inbox chan Envelope
	done  chan struct{}

	mu      sync.RWMutex
	handler func(Envelope)
}

// ID returns the participant this endpoint belongs to.
func (e *Endpoint) ID() string {
	return e.id
}

// Send routes env to its recipient. From is filled in when empty.
func (e *Endpoint) Send(env Envelope) error {
	select {
	case <-e.done:
		return ErrEndpointClosed
	default:
	}
	if env.From == "" {
		env.From = e.id
	}
	return e.bus.route(env)
}

func (e *Endpoint) OnEnvelope(handler func(Envelope)) {
	e.mu.Lock()
	e.handler = handler
	e.mu.Unlock()
}

func (e *Endpoint) deliver() {
	for {
		select {
		case <-e.done:
			return
		case env := <-e.inbox:
			e.mu.RLock()
			h := e.handler
			e.mu.RUnlock()

			if h == nil {
				e.bus.log.Debug("no handler, dropping envelope", "envelope", env.String())
				continue
			}
			h(env)
		}
	}
}

var _ Channel = (*Endpoint)(nil)
