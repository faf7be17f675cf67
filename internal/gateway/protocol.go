package gateway

import (
	"encoding/json"

	"github.com/avanishpal143/meetify/internal/media"
)

// Message defines the structure for all C2S (Client to Server)
// and S2C (Server to Client) websocket messages.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RoomID    string          `json:"room_id,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	PeerID    string          `json:"peer_id,omitempty"`
	LinkID    string          `json:"link_id,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Session messages.
const (
	TypeWelcome      = "welcome"
	TypeSetName      = "set_name"
	TypeCreateRoom   = "create_room"
	TypeJoinRoom     = "join_room"
	TypeLeaveRoom    = "leave_room"
	TypeRoomCreated  = "room_created"
	TypeJoinSuccess  = "join_success"
	TypeJoinDeferred = "join_deferred"
	TypeLeft         = "left"
	TypeError        = "error"
	TypeMembers      = "members"
	TypePeerUpdate   = "peer_update"
	TypeChat         = "chat"
)

// Media actions.
const (
	TypeSetMuted    = "set_muted"
	TypeSetVideo    = "set_video"
	TypeShareScreen = "share_screen"
	TypeStopShare   = "stop_share"
	TypeMediaState  = "media_state"
)

// Transport commands (S2C) and events (C2S), keyed by LinkID.
const (
	TypeBindLocal        = "bind_local"
	TypeApplyRemote      = "apply_remote"
	TypeAddCandidate     = "add_candidate"
	TypeReplaceVideo     = "replace_video"
	TypeClosePeer        = "close_peer"
	TypeLocalDescription = "local_description"
	TypeLocalCandidate   = "local_candidate"
	TypeTransportState   = "transport_state"
)

// Media provider commands (S2C) and replies (C2S).
const (
	TypeAcquireCamera = "acquire_camera"
	TypeAcquireScreen = "acquire_screen"
	TypeSetTrack      = "set_track"
	TypeStopSource    = "stop_source"
	TypeResult        = "result"
	TypeSourceEnded   = "source_ended"
)

type WelcomePayload struct {
	ID    string      `json:"id"`
	Media media.State `json:"media"`
}

type NamePayload struct {
	DisplayName string `json:"display_name"`
}

type JoinPayload struct {
	Reference string `json:"reference"`
}

type RoomPayload struct {
	Link string `json:"link"`
}

type TogglePayload struct {
	Value bool `json:"value"`
}

type ChatPayload struct {
	Content string `json:"content"`
}

// TransportPayload carries a description or candidate for one link.
type TransportPayload struct {
	Kind  string `json:"kind,omitempty"`
	Data  []byte `json:"data,omitempty"`
	State string `json:"state,omitempty"`
}

// SourcePayload addresses one local capture source.
type SourcePayload struct {
	Source  string `json:"source"`
	Track   string `json:"track,omitempty"`
	Enabled bool   `json:"enabled,omitempty"`
}

// DecodePayload decodes the message payload into the provided struct
func (m *Message) DecodePayload(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

// NewMessage creates a new Message with the given type and payload
func NewMessage(t string, payload any) (*Message, error) {
	msg := &Message{Type: t}
	if payload == nil {
		return msg, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	msg.Payload = b
	return msg, nil
}

// mustMessage is NewMessage for payloads that always marshal.
func mustMessage(t string, payload any) *Message {
	msg, err := NewMessage(t, payload)
	if err != nil {
		panic(err)
	}
	return msg
}
