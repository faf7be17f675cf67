// Package signaling carries negotiation envelopes between two participants.
package signaling

import "fmt"

// Type is the kind of a signaling envelope.
type Type string

const (
	TypeOffer     Type = "offer"
	TypeAnswer    Type = "answer"
	TypeCandidate Type = "candidate"
	TypeLeave     Type = "leave"
)

// Envelope is a single negotiation message between two participants.
// Payload is opaque to everything but the transport that produced it.
type Envelope struct {
	Type    Type   `json:"type"`
	From    string `json:"from"`
	To      string `json:"to"`
	Payload []byte `json:"payload,omitempty"`
}

func (e Envelope) String() string {
	return fmt.Sprintf("%s %s->%s (%d bytes)", e.Type, e.From, e.To, len(e.Payload))
}

// Channel is the message contract the core relies on. Send must not block
// and delivery is at most once. Handlers registered with OnEnvelope are
// called sequentially, in the order envelopes were sent to this endpoint.
type Channel interface {
	Send(env Envelope) error
	OnEnvelope(handler func(Envelope))
}
