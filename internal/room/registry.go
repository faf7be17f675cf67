// Package room tracks which participants are in which room.
package room

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/avanishpal143/meetify/internal/errs"
	"github.com/avanishpal143/meetify/internal/identity"
)

// Room is a single meeting. Members are kept in join order.
type Room struct {
	ID        string
	Members   []string
	CreatedAt time.Time
}

// Summary describes a room for listings.
type Summary struct {
	ID        string    `json:"id"`
	Members   int       `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

// Registry maps room IDs to their members.
//
// All mutations run under one mutex, so two joins to the same room are
// always serialized and each sees the other in its snapshot if it ran
// second.
type Registry struct {
	ids identity.Allocator

	mu       sync.Mutex
	rooms    map[string]*Room
	memberOf map[string]string // participant -> room
}

// NewRegistry creates an empty registry that allocates room IDs with ids.
func NewRegistry(ids identity.Allocator) *Registry {
	if ids == nil {
		ids = identity.New()
	}
	return &Registry{
		ids:      ids,
		rooms:    make(map[string]*Room),
		memberOf: make(map[string]string),
	}
}

// Create allocates a new room whose only member is creator.
func (r *Registry) Create(creator string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.memberOf[creator]; ok {
		return "", errs.NewError("create room", errs.ErrAlreadyInRoom)
	}

	id := r.ids.Allocate()
	for {
		if _, taken := r.rooms[id]; !taken {
			break
		}
		id = r.ids.Allocate()
	}

	r.rooms[id] = &Room{
		ID:        id,
		Members:   []string{creator},
		CreatedAt: time.Now(),
	}
	r.memberOf[creator] = id
	return id, nil
}

// Join adds participant to the room and returns the members that were
// present before the insertion.
func (r *Registry) Join(roomID, participant string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, errs.WrapError("join room", errs.ErrRoomNotFound, roomID)
	}
	if _, ok := r.memberOf[participant]; ok {
		return nil, errs.NewError("join room", errs.ErrAlreadyInRoom)
	}

	before := slices.Clone(room.Members)
	room.Members = append(room.Members, participant)
	r.memberOf[participant] = roomID
	return before, nil
}

// Leave removes participant from the room and returns the remaining
// members. Leaving a room twice, or a room that no longer exists, is a
// no-op. An empty room is deleted.
func (r *Registry) Leave(roomID, participant string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}

	if idx := slices.Index(room.Members, participant); idx >= 0 {
		room.Members = slices.Delete(room.Members, idx, idx+1)
		if r.memberOf[participant] == roomID {
			delete(r.memberOf, participant)
		}
	}

	if len(room.Members) == 0 {
		delete(r.rooms, roomID)
		return nil
	}
	return slices.Clone(room.Members)
}

// Members returns the current members of a room in join order.
func (r *Registry) Members(roomID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, errs.WrapError("members", errs.ErrRoomNotFound, roomID)
	}
	return slices.Clone(room.Members), nil
}

// RoomOf returns the room participant is in, if any.
func (r *Registry) RoomOf(participant string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.memberOf[participant]
	return id, ok
}

// Exists reports whether roomID is a live room.
func (r *Registry) Exists(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.rooms[roomID]
	return ok
}

// Rooms lists every live room, oldest first.
func (r *Registry) Rooms() []Summary {
	r.mu.Lock()
	out := make([]Summary, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, Summary{
			ID:        room.ID,
			Members:   len(room.Members),
			CreatedAt: room.CreatedAt,
		})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
