package coordinator

import (
	"time"

	"github.com/avanishpal143/meetify/internal/peer"
)

// Participant is a connected client.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Update is anything the coordinator reports to participants' UIs.
type Update interface {
	// Recipients lists the participants the update is addressed to.
	Recipients() []string
}

// PeerUpdate describes one of LocalID's links.
type PeerUpdate struct {
	LocalID     string      `json:"-"`
	PeerID      string      `json:"peer_id"`
	DisplayName string      `json:"display_name"`
	State       string      `json:"state"`
	Initiator   bool        `json:"initiator"`
	Source      string      `json:"source"`
	Reason      peer.Reason `json:"reason,omitempty"`
	// MediaHandle is the key the local endpoint files the remote tracks
	// under for this peer.
	MediaHandle string `json:"media_handle"`
}

func (u PeerUpdate) Recipients() []string { return []string{u.LocalID} }

// RoomSnapshot is the member list of a room, in join order.
type RoomSnapshot struct {
	RoomID  string        `json:"room_id"`
	Members []Participant `json:"members"`
}

func (u RoomSnapshot) Recipients() []string {
	out := make([]string, len(u.Members))
	for i, m := range u.Members {
		out[i] = m.ID
	}
	return out
}

// ChatMessage is a best-effort broadcast to everyone in a room.
type ChatMessage struct {
	ID        string      `json:"id"`
	RoomID    string      `json:"room_id"`
	Sender    Participant `json:"sender"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`

	to []string
}

func (u ChatMessage) Recipients() []string { return u.to }

func peerUpdate(st peer.Status, name string) PeerUpdate {
	return PeerUpdate{
		LocalID:     st.Local,
		PeerID:      st.Remote,
		DisplayName: name,
		State:       st.State.String(),
		Initiator:   st.Initiator,
		Source:      st.Source.String(),
		Reason:      st.Reason,
		MediaHandle: st.Remote,
	}
}
