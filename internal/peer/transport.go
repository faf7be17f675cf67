package peer

import (
	"github.com/avanishpal143/meetify/internal/media"
)

// DescriptionKind is the role of a session description.
type DescriptionKind string

const (
	Offer  DescriptionKind = "offer"
	Answer DescriptionKind = "answer"
)

// TransportState is what the transport reports about connectivity.
type TransportState string

const (
	TransportConnecting TransportState = "connecting"
	TransportConnected  TransportState = "connected"
	TransportFailed     TransportState = "failed"
)

// Transport is the per-link connection handle. Every method must return
// without waiting on the network; results come back through Events.
// Implementations must not call Events from inside a Transport method.
// ReplaceOutboundVideo(nil) stops sending video on the link.
type Transport interface {
	BindLocalDescription(kind DescriptionKind) error
	ApplyRemoteDescription(kind DescriptionKind, payload []byte) error
	AddRemoteCandidate(payload []byte) error
	ReplaceOutboundVideo(src media.Source) error
	Close() error
}

// Events receives asynchronous transport results. Link implements it.
type Events interface {
	LocalDescription(kind DescriptionKind, payload []byte)
	LocalCandidate(payload []byte)
	StateChange(state TransportState)
}

// TransportFactory builds the transport for the link from local to remote.
type TransportFactory func(local, remote string, events Events) (Transport, error)
