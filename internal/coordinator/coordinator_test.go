package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avanishpal143/meetify/internal/errs"
	"github.com/avanishpal143/meetify/internal/media"
	"github.com/avanishpal143/meetify/internal/peer"
	"github.com/avanishpal143/meetify/internal/signaling"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fixture struct {
	c   *Coordinator
	bus *signaling.Bus
	ts  *transports
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()
	bus := signaling.NewBus(nil)
	t.Cleanup(bus.Close)
	if timeout == 0 {
		timeout = -1
	}
	return &fixture{
		c:   New(Options{Origin: "https://example.test/app", NegotiationTimeout: timeout}),
		bus: bus,
		ts:  newTransports(),
	}
}

func (f *fixture) attach(t *testing.T, id, name string, p *testProvider) {
	t.Helper()
	if p == nil {
		p = &testProvider{}
	}
	err := f.c.Attach(context.Background(), Participant{ID: id, DisplayName: name}, Endpoint{
		Channel:    f.bus.Endpoint(id),
		Transports: f.ts.factory,
		Media:      p,
	})
	if !p.noCamera {
		require.NoError(t, err)
	}
}

func (f *fixture) members(t *testing.T, roomID string) []string {
	t.Helper()
	snap, err := f.c.Snapshot(roomID)
	require.NoError(t, err)
	ids := make([]string, len(snap.Members))
	for i, m := range snap.Members {
		ids[i] = m.ID
	}
	return ids
}

func (f *fixture) state(local, remote string) peer.State {
	l, ok := f.c.Link(local, remote)
	if !ok {
		return peer.StateClosed
	}
	return l.State()
}

// connect drives the pair (joiner, existing) to CONNECTED.
func (f *fixture) connect(t *testing.T, joiner, existing string) {
	t.Helper()
	require.Eventually(t, func() bool {
		tr := f.ts.get(joiner, existing)
		return tr != nil && tr.hasApplied(peer.Answer)
	}, waitFor, tick)

	f.ts.get(joiner, existing).events.StateChange(peer.TransportConnected)
	f.ts.get(existing, joiner).events.StateChange(peer.TransportConnected)

	require.Eventually(t, func() bool {
		return f.state(joiner, existing) == peer.StateConnected &&
			f.state(existing, joiner) == peer.StateConnected
	}, waitFor, tick)
}

func TestCreateJoinConnectLeave(t *testing.T) {
	f := newFixture(t, 0)
	f.attach(t, "A", "Alice", nil)
	f.attach(t, "B", "Bob", nil)

	roomID, err := f.c.CreateRoom("A")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, f.members(t, roomID))
	assert.Empty(t, f.c.Links("A"))

	joined, err := f.c.JoinRoom("B", roomID)
	require.NoError(t, err)
	assert.Equal(t, roomID, joined)
	assert.Equal(t, []string{"A", "B"}, f.members(t, roomID))

	bLinks := f.c.Links("B")
	require.Len(t, bLinks, 1)
	assert.True(t, bLinks[0].Initiator)
	assert.Equal(t, "B", bLinks[0].InitiatorID)
	assert.Equal(t, peer.StateOffering, bLinks[0].State)

	aLinks := f.c.Links("A")
	require.Len(t, aLinks, 1)
	assert.False(t, aLinks[0].Initiator)
	assert.Equal(t, "B", aLinks[0].InitiatorID)

	require.Eventually(t, func() bool { return f.state("A", "B") == peer.StateAnswering }, waitFor, tick)
	f.connect(t, "B", "A")

	bToA, ok := f.c.Link("B", "A")
	require.True(t, ok)
	aToB, ok := f.c.Link("A", "B")
	require.True(t, ok)

	require.NoError(t, f.c.LeaveRoom("A"))
	assert.Equal(t, []string{"B"}, f.members(t, roomID))
	assert.Equal(t, peer.StateClosed, bToA.State())
	assert.Equal(t, peer.StateClosed, aToB.State())
	assert.Equal(t, peer.ReasonRemoteLeft, bToA.Status().Reason)
	assert.Empty(t, f.c.Links("A"))
	assert.Empty(t, f.c.Links("B"))
	assert.True(t, f.ts.get("B", "A").isClosed())
}

func TestNewcomerAlwaysInitiates(t *testing.T) {
	f := newFixture(t, 0)
	for _, id := range []string{"A", "B", "C", "D"} {
		f.attach(t, id, "user-"+id, nil)
	}

	roomID, err := f.c.CreateRoom("A")
	require.NoError(t, err)
	for _, id := range []string{"B", "C", "D"} {
		_, err := f.c.JoinRoom(id, f.c.RoomLink(roomID))
		require.NoError(t, err)
	}

	order := map[string]int{"A": 0, "B": 1, "C": 2, "D": 3}
	for id := range order {
		links := f.c.Links(id)
		assert.Len(t, links, 3, id)
		for _, st := range links {
			later := order[st.Local] > order[st.Remote]
			assert.Equal(t, later, st.Initiator, "%s->%s", st.Local, st.Remote)
			if order[st.Local] > order[st.Remote] {
				assert.Equal(t, st.Local, st.InitiatorID)
			} else {
				assert.Equal(t, st.Remote, st.InitiatorID)
			}
		}
	}
}

func TestJoinErrors(t *testing.T) {
	f := newFixture(t, 0)
	f.attach(t, "A", "Alice", nil)
	f.attach(t, "B", "Bob", nil)

	_, err := f.c.JoinRoom("B", "no-room-param-here")
	assert.ErrorIs(t, err, errs.ErrInvalidRoomReference)

	_, err = f.c.JoinRoom("B", "https://example.test/app?room=missing")
	assert.ErrorIs(t, err, errs.ErrRoomNotFound)

	roomID, err := f.c.CreateRoom("A")
	require.NoError(t, err)
	_, err = f.c.JoinRoom("A", roomID)
	assert.ErrorIs(t, err, errs.ErrAlreadyInRoom)

	_, err = f.c.CreateRoom("A")
	assert.ErrorIs(t, err, errs.ErrAlreadyInRoom)

	_, err = f.c.JoinRoom("ghost", roomID)
	assert.ErrorIs(t, err, errs.ErrNotAttached)
}

func TestLeaveTwice(t *testing.T) {
	f := newFixture(t, 0)
	f.attach(t, "A", "Alice", nil)
	f.attach(t, "B", "Bob", nil)

	roomID, _ := f.c.CreateRoom("A")
	_, err := f.c.JoinRoom("B", roomID)
	require.NoError(t, err)

	require.NoError(t, f.c.LeaveRoom("B"))
	assert.ErrorIs(t, f.c.LeaveRoom("B"), errs.ErrNotInRoom)
	assert.Equal(t, []string{"A"}, f.members(t, roomID))

	require.NoError(t, f.c.LeaveRoom("A"))
	_, err = f.c.Snapshot(roomID)
	assert.ErrorIs(t, err, errs.ErrRoomNotFound)
}

func TestStaleEnvelopeIgnored(t *testing.T) {
	f := newFixture(t, 0)
	f.attach(t, "A", "Alice", nil)
	f.attach(t, "B", "Bob", nil)

	roomID, _ := f.c.CreateRoom("A")
	_, err := f.c.JoinRoom("B", roomID)
	require.NoError(t, err)
	bToA, _ := f.c.Link("B", "A")

	require.NoError(t, f.c.LeaveRoom("B"))
	require.Equal(t, peer.StateClosed, bToA.State())

	require.NoError(t, f.bus.Endpoint("A").Send(signaling.Envelope{
		Type: signaling.TypeAnswer, To: "B", Payload: []byte("late"),
	}))
	require.NoError(t, f.bus.Endpoint("A").Send(signaling.Envelope{
		Type: signaling.TypeCandidate, To: "B", Payload: []byte("late"),
	}))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, peer.StateClosed, bToA.State())
	assert.Equal(t, peer.ReasonHangup, bToA.Status().Reason)
	assert.Empty(t, f.c.Links("B"))
	assert.Equal(t, []string{"A"}, f.members(t, roomID))
}

func TestRemoteLeaveEnvelope(t *testing.T) {
	f := newFixture(t, 0)
	f.attach(t, "A", "Alice", nil)
	f.attach(t, "B", "Bob", nil)

	roomID, _ := f.c.CreateRoom("A")
	_, err := f.c.JoinRoom("B", roomID)
	require.NoError(t, err)

	require.NoError(t, f.bus.Endpoint("B").Send(signaling.Envelope{Type: signaling.TypeLeave, To: "A"}))

	require.Eventually(t, func() bool {
		_, in := f.c.RoomOf("B")
		return !in
	}, waitFor, tick)
	assert.Equal(t, []string{"A"}, f.members(t, roomID))
	assert.Empty(t, f.c.Links("A"))
}

func TestScreenShareAcrossLinks(t *testing.T) {
	f := newFixture(t, 0)
	for _, id := range []string{"A", "B", "C"} {
		f.attach(t, id, "user-"+id, nil)
	}
	roomID, _ := f.c.CreateRoom("A")
	for _, id := range []string{"B", "C"} {
		_, err := f.c.JoinRoom(id, roomID)
		require.NoError(t, err)
	}
	f.connect(t, "B", "A")
	f.connect(t, "C", "A")

	ctrl, err := f.c.Media("A")
	require.NoError(t, err)
	require.NoError(t, ctrl.StartScreenShare(context.Background()))

	links := f.c.Links("A")
	require.Len(t, links, 2)
	for _, st := range links {
		assert.Equal(t, media.Screen, st.Source)
	}

	ctrl.StopScreenShare()
	for _, st := range f.c.Links("A") {
		assert.Equal(t, media.Camera, st.Source)
	}
	for _, st := range f.c.Links("B") {
		assert.Equal(t, media.Camera, st.Source)
	}
}

func TestScreenShareDeniedLeavesCamera(t *testing.T) {
	f := newFixture(t, 0)
	f.attach(t, "A", "Alice", &testProvider{denyScreen: true})
	f.attach(t, "B", "Bob", nil)
	roomID, _ := f.c.CreateRoom("A")
	_, err := f.c.JoinRoom("B", roomID)
	require.NoError(t, err)
	f.connect(t, "B", "A")

	ctrl, _ := f.c.Media("A")
	assert.ErrorIs(t, ctrl.StartScreenShare(context.Background()), errs.ErrCaptureUnavailable)
	for _, st := range f.c.Links("A") {
		assert.Equal(t, media.Camera, st.Source)
	}
}

func TestNewLinkFollowsActiveShare(t *testing.T) {
	f := newFixture(t, 0)
	f.attach(t, "A", "Alice", nil)
	f.attach(t, "B", "Bob", nil)
	roomID, _ := f.c.CreateRoom("A")

	ctrl, _ := f.c.Media("A")
	require.NoError(t, ctrl.StartScreenShare(context.Background()))

	_, err := f.c.JoinRoom("B", roomID)
	require.NoError(t, err)

	l, ok := f.c.Link("A", "B")
	require.True(t, ok)
	assert.Equal(t, media.Screen, l.ActiveSource())
}

func TestDeferredJoinResumesOnName(t *testing.T) {
	f := newFixture(t, 0)
	f.attach(t, "A", "Alice", nil)
	f.attach(t, "B", "", nil)
	roomID, _ := f.c.CreateRoom("A")

	got, err := f.c.JoinRoom("B", f.c.RoomLink(roomID))
	require.NoError(t, err)
	assert.Equal(t, roomID, got)
	_, in := f.c.RoomOf("B")
	assert.False(t, in)
	assert.Equal(t, []string{"A"}, f.members(t, roomID))

	joined, err := f.c.SetDisplayName("B", "Bob")
	require.NoError(t, err)
	assert.Equal(t, roomID, joined)
	assert.Equal(t, []string{"A", "B"}, f.members(t, roomID))

	snap, _ := f.c.Snapshot(roomID)
	assert.Equal(t, "Bob", snap.Members[1].DisplayName)
	require.Len(t, f.c.Links("B"), 1)
}

func TestTransportFailureClosesPair(t *testing.T) {
	f := newFixture(t, 0)
	f.attach(t, "A", "Alice", nil)
	f.attach(t, "B", "Bob", nil)
	roomID, _ := f.c.CreateRoom("A")
	_, err := f.c.JoinRoom("B", roomID)
	require.NoError(t, err)
	f.connect(t, "B", "A")

	aToB, _ := f.c.Link("A", "B")
	f.ts.get("B", "A").events.StateChange(peer.TransportFailed)

	assert.Empty(t, f.c.Links("B"))
	assert.Empty(t, f.c.Links("A"))
	assert.Equal(t, peer.StateClosed, aToB.State())
	assert.Equal(t, peer.ReasonTransportFailed, aToB.Status().Reason)
	assert.Equal(t, []string{"A", "B"}, f.members(t, roomID))
}

func TestNegotiationTimeoutClosesPair(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)
	f.ts.silent = true
	f.attach(t, "A", "Alice", nil)
	f.attach(t, "B", "Bob", nil)
	roomID, _ := f.c.CreateRoom("A")
	_, err := f.c.JoinRoom("B", roomID)
	require.NoError(t, err)

	bToA, _ := f.c.Link("B", "A")
	require.Eventually(t, func() bool { return len(f.c.Links("B")) == 0 && len(f.c.Links("A")) == 0 }, waitFor, tick)
	assert.Equal(t, peer.ReasonNegotiationTimeout, bToA.Status().Reason)
}

func TestReceiveOnlyParticipantCanJoin(t *testing.T) {
	f := newFixture(t, 0)
	f.attach(t, "A", "Alice", nil)
	f.attach(t, "B", "Bob", &testProvider{noCamera: true})

	ctrl, err := f.c.Media("B")
	require.NoError(t, err)
	assert.True(t, ctrl.State().ReceiveOnly)

	roomID, _ := f.c.CreateRoom("A")
	_, err = f.c.JoinRoom("B", roomID)
	require.NoError(t, err)
	f.connect(t, "B", "A")
}

func TestReceiveOnlyShareThenStop(t *testing.T) {
	f := newFixture(t, 0)
	f.attach(t, "A", "Alice", nil)
	f.attach(t, "B", "Bob", &testProvider{noCamera: true})

	roomID, _ := f.c.CreateRoom("A")
	_, err := f.c.JoinRoom("B", roomID)
	require.NoError(t, err)
	f.connect(t, "B", "A")

	ctrl, err := f.c.Media("B")
	require.NoError(t, err)
	require.NoError(t, ctrl.StartScreenShare(context.Background()))
	ctrl.StopScreenShare()

	links := f.c.Links("B")
	require.Len(t, links, 1)
	assert.Equal(t, media.Camera, links[0].Source)
	assert.Equal(t, []string{"screen", "none"}, f.ts.get("B", "A").replacements())
}

func TestDetachLeavesRoom(t *testing.T) {
	f := newFixture(t, 0)
	f.attach(t, "A", "Alice", nil)
	f.attach(t, "B", "Bob", nil)
	roomID, _ := f.c.CreateRoom("A")
	_, err := f.c.JoinRoom("B", roomID)
	require.NoError(t, err)

	f.c.Detach("B")
	assert.Equal(t, []string{"A"}, f.members(t, roomID))
	_, ok := f.c.Participant("B")
	assert.False(t, ok)
	assert.Empty(t, f.c.Links("A"))
}

func TestChatBroadcast(t *testing.T) {
	f := newFixture(t, 0)
	f.attach(t, "A", "Alice", nil)
	f.attach(t, "B", "Bob", nil)
	roomID, _ := f.c.CreateRoom("A")
	_, err := f.c.JoinRoom("B", roomID)
	require.NoError(t, err)

	msg, err := f.c.Chat("B", "hello")
	require.NoError(t, err)
	assert.Equal(t, "Bob", msg.Sender.DisplayName)
	assert.ElementsMatch(t, []string{"A", "B"}, msg.Recipients())

	found := false
	for !found {
		select {
		case u := <-f.c.Updates():
			if cm, ok := u.(ChatMessage); ok {
				assert.Equal(t, "hello", cm.Content)
				found = true
			}
		case <-time.After(waitFor):
			t.Fatal("chat message not emitted")
		}
	}

	require.NoError(t, f.c.LeaveRoom("B"))
	_, err = f.c.Chat("B", "anyone?")
	assert.ErrorIs(t, err, errs.ErrNotInRoom)
}
