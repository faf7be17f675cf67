package media

import (
	"context"
	"fmt"
)

// Kind identifies which local source feeds a link's outbound video.
type Kind int

const (
	Camera Kind = iota
	Screen
)

func (k Kind) String() string {
	switch k {
	case Camera:
		return "camera"
	case Screen:
		return "screen"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "camera":
		return Camera, nil
	case "screen":
		return Screen, nil
	default:
		return Camera, fmt.Errorf("unknown media kind %q", s)
	}
}

// Track selects the audio or video track of a source.
type Track int

const (
	Audio Track = iota
	Video
)

func (t Track) String() string {
	if t == Audio {
		return "audio"
	}
	return "video"
}

// Source is a live capture source handed out by a Provider.
type Source interface {
	Kind() Kind
	SetEnabled(track Track, enabled bool)
	// OnEnded registers a handler fired once when capture stops outside
	// our control, for example when the user ends sharing from the OS.
	// The handler is never called from inside OnEnded itself.
	OnEnded(handler func())
	Stop()
}

// Provider acquires capture sources. AcquireScreen returns an error
// wrapping errs.ErrCaptureUnavailable when the user denies or cancels.
type Provider interface {
	AcquireCamera(ctx context.Context) (Source, error)
	AcquireScreen(ctx context.Context) (Source, error)
}

// Binding is a peer link whose outbound video can be rebound.
type Binding interface {
	ActiveSource() Kind
	BindSource(kind Kind, src Source) error
}
