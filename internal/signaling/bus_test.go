package signaling

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu  sync.Mutex
	got []Envelope
}

func (r *recorder) handle(env Envelope) {
	r.mu.Lock()
	r.got = append(r.got, env)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.got...)
}

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	a := bus.Endpoint("a")
	b := bus.Endpoint("b")

	rec := &recorder{}
	b.OnEnvelope(rec.handle)

	for i := 0; i < 20; i++ {
		require.NoError(t, a.Send(Envelope{Type: TypeCandidate, To: "b", Payload: []byte(fmt.Sprint(i))}))
	}

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 20 }, time.Second, 5*time.Millisecond)
	for i, env := range rec.snapshot() {
		assert.Equal(t, "a", env.From)
		assert.Equal(t, fmt.Sprint(i), string(env.Payload))
	}
}

func TestBusUnknownRecipient(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	err := bus.Endpoint("a").Send(Envelope{Type: TypeOffer, To: "ghost"})
	assert.ErrorIs(t, err, ErrUnknownRecipient)
}

func TestBusRemovedEndpoint(t *testing.T) {
	bus := NewBus(nil)
	a := bus.Endpoint("a")
	bus.Endpoint("b")

	bus.Remove("b")
	assert.ErrorIs(t, a.Send(Envelope{Type: TypeLeave, To: "b"}), ErrUnknownRecipient)

	bus.Remove("a")
	assert.ErrorIs(t, a.Send(Envelope{Type: TypeLeave, To: "b"}), ErrEndpointClosed)
}

func TestBusEndpointReused(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()
	assert.Same(t, bus.Endpoint("a"), bus.Endpoint("a"))
}
