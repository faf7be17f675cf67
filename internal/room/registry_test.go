package room

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avanishpal143/meetify/internal/errs"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) Allocate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("room-%d", s.n)
}

func TestCreate(t *testing.T) {
	r := NewRegistry(&seqIDs{})

	id, err := r.Create("alice")
	require.NoError(t, err)
	assert.Equal(t, "room-1", id)

	members, err := r.Members(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, members)

	_, err = r.Create("alice")
	assert.ErrorIs(t, err, errs.ErrAlreadyInRoom)
}

func TestJoinReturnsMembersBefore(t *testing.T) {
	r := NewRegistry(&seqIDs{})
	id, err := r.Create("alice")
	require.NoError(t, err)

	before, err := r.Join(id, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, before)

	before, err = r.Join(id, "carol")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, before)

	members, _ := r.Members(id)
	assert.Equal(t, []string{"alice", "bob", "carol"}, members)
}

func TestJoinErrors(t *testing.T) {
	r := NewRegistry(&seqIDs{})
	id, _ := r.Create("alice")
	other, _ := r.Create("dave")

	_, err := r.Join("missing", "bob")
	assert.ErrorIs(t, err, errs.ErrRoomNotFound)

	_, err = r.Join(id, "dave")
	assert.ErrorIs(t, err, errs.ErrAlreadyInRoom)

	_, err = r.Join(other, "alice")
	assert.ErrorIs(t, err, errs.ErrAlreadyInRoom)
}

func TestLeaveIdempotent(t *testing.T) {
	r := NewRegistry(&seqIDs{})
	id, _ := r.Create("alice")
	_, err := r.Join(id, "bob")
	require.NoError(t, err)

	remaining := r.Leave(id, "bob")
	assert.Equal(t, []string{"alice"}, remaining)

	remaining = r.Leave(id, "bob")
	assert.Equal(t, []string{"alice"}, remaining)

	_, inRoom := r.RoomOf("bob")
	assert.False(t, inRoom)
}

func TestLeaveDeletesEmptyRoom(t *testing.T) {
	r := NewRegistry(&seqIDs{})
	id, _ := r.Create("alice")

	assert.Empty(t, r.Leave(id, "alice"))
	assert.False(t, r.Exists(id))
	assert.Empty(t, r.Leave(id, "alice"))

	_, err := r.Join(id, "bob")
	assert.ErrorIs(t, err, errs.ErrRoomNotFound)
}

func TestMembershipTracksJoinsAndLeaves(t *testing.T) {
	r := NewRegistry(&seqIDs{})
	id, _ := r.Create("p0")

	want := map[string]bool{"p0": true}
	ops := []struct {
		join bool
		who  string
	}{
		{true, "p1"}, {true, "p2"}, {false, "p1"}, {true, "p3"},
		{false, "p1"}, {true, "p1"}, {false, "p2"}, {false, "p2"},
	}
	for _, op := range ops {
		if op.join {
			_, err := r.Join(id, op.who)
			require.NoError(t, err)
			want[op.who] = true
		} else {
			r.Leave(id, op.who)
			delete(want, op.who)
		}

		members, err := r.Members(id)
		require.NoError(t, err)
		assert.Len(t, members, len(want))
		for _, m := range members {
			assert.True(t, want[m], "phantom member %s", m)
		}
	}
}

func TestConcurrentJoinsSerialize(t *testing.T) {
	r := NewRegistry(&seqIDs{})
	id, _ := r.Create("host")

	const n = 50
	snapshots := make([][]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			before, err := r.Join(id, fmt.Sprintf("guest-%d", i))
			assert.NoError(t, err)
			snapshots[i] = before
		}(i)
	}
	wg.Wait()

	sizes := make(map[int]bool)
	for _, s := range snapshots {
		assert.False(t, sizes[len(s)], "two joins observed the same snapshot size %d", len(s))
		sizes[len(s)] = true
	}

	members, _ := r.Members(id)
	assert.Len(t, members, n+1)
}

func TestRoomsListing(t *testing.T) {
	r := NewRegistry(&seqIDs{})
	a, _ := r.Create("alice")
	b, _ := r.Create("bob")
	_, err := r.Join(b, "carol")
	require.NoError(t, err)

	rooms := r.Rooms()
	require.Len(t, rooms, 2)

	byID := map[string]int{}
	for _, s := range rooms {
		byID[s.ID] = s.Members
	}
	assert.Equal(t, 1, byID[a])
	assert.Equal(t, 2, byID[b])
}
