package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avanishpal143/meetify/internal/config"
	"github.com/avanishpal143/meetify/internal/errs"
	"github.com/avanishpal143/meetify/internal/media"
	"github.com/avanishpal143/meetify/internal/peer"
)

type description struct {
	kind    peer.DescriptionKind
	payload []byte
}

type recordingEvents struct {
	descs chan description

	mu     sync.Mutex
	states []peer.TransportState
}

func newRecordingEvents() *recordingEvents {
	return &recordingEvents{descs: make(chan description, 4)}
}

func (e *recordingEvents) LocalDescription(kind peer.DescriptionKind, payload []byte) {
	e.descs <- description{kind, payload}
}

func (e *recordingEvents) LocalCandidate([]byte) {}

func (e *recordingEvents) StateChange(s peer.TransportState) {
	e.mu.Lock()
	e.states = append(e.states, s)
	e.mu.Unlock()
}

func (e *recordingEvents) failed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.states {
		if s == peer.TransportFailed {
			return true
		}
	}
	return false
}

func (e *recordingEvents) next(t *testing.T) description {
	t.Helper()
	select {
	case d := <-e.descs:
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("no local description")
		return description{}
	}
}

func TestPeerOfferAnswer(t *testing.T) {
	// No ICE servers: gathering stays on host candidates.
	cfg := &config.Config{}

	sender := NewLocalMedia(MediaOptions{StreamID: "a"})
	_, err := sender.AcquireCamera(context.Background())
	require.NoError(t, err)

	evA, evB := newRecordingEvents(), newRecordingEvents()
	a, err := NewPeer("a", "b", evA, Options{Config: cfg, Media: sender})
	require.NoError(t, err)
	defer a.Close()
	b, err := NewPeer("b", "a", evB, Options{Config: cfg})
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.BindLocalDescription(peer.Offer))
	offer := evA.next(t)
	assert.Equal(t, peer.Offer, offer.kind)

	require.NoError(t, b.ApplyRemoteDescription(peer.Offer, offer.payload))
	require.NoError(t, b.BindLocalDescription(peer.Answer))
	answer := evB.next(t)
	assert.Equal(t, peer.Answer, answer.kind)

	require.NoError(t, a.ApplyRemoteDescription(peer.Answer, answer.payload))
	assert.Never(t, func() bool { return evA.failed() || evB.failed() }, 200*time.Millisecond, 20*time.Millisecond)

	screen, err := sender.AcquireScreen(context.Background())
	require.NoError(t, err)
	assert.NoError(t, a.ReplaceOutboundVideo(screen))
}

func TestPeerClosed(t *testing.T) {
	p, err := NewPeer("a", "b", newRecordingEvents(), Options{Config: &config.Config{}})
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.BindLocalDescription(peer.Offer), errs.ErrConnectionClosed)
	assert.ErrorIs(t, p.AddRemoteCandidate(nil), errs.ErrConnectionClosed)
}

func TestReplaceRejectsForeignSource(t *testing.T) {
	p, err := NewPeer("a", "b", newRecordingEvents(), Options{Config: &config.Config{}})
	require.NoError(t, err)
	defer p.Close()

	assert.ErrorIs(t, p.ReplaceOutboundVideo(foreignSource{}), errs.ErrTransportFailed)
}

func TestReplaceWithNilClearsVideo(t *testing.T) {
	p, err := NewPeer("a", "b", newRecordingEvents(), Options{Config: &config.Config{}})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.ReplaceOutboundVideo(nil))
	assert.Nil(t, p.video.Track())
}

type foreignSource struct{}

func (foreignSource) Kind() media.Kind             { return media.Screen }
func (foreignSource) SetEnabled(media.Track, bool) {}
func (foreignSource) OnEnded(func())               {}
func (foreignSource) Stop()                        {}
