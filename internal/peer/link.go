// Package peer implements the negotiation state machine for one side of a
// participant pair.
package peer

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avanishpal143/meetify/internal/errs"
	"github.com/avanishpal143/meetify/internal/media"
	"github.com/avanishpal143/meetify/internal/signaling"
)

// State of a link.
type State int

const (
	StateNew State = iota
	StateOffering
	StateAnswering
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOffering:
		return "offering"
	case StateAnswering:
		return "answering"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Reason explains why a link closed.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonHangup             Reason = "hangup"
	ReasonRemoteLeft         Reason = "remote-left"
	ReasonTransportFailed    Reason = "transport-failed"
	ReasonNegotiationTimeout Reason = "negotiation-timeout"
)

// Err maps a close reason to the error taxonomy.
func (r Reason) Err() error {
	switch r {
	case ReasonTransportFailed:
		return errs.ErrTransportFailed
	case ReasonNegotiationTimeout:
		return errs.ErrNegotiationTimeout
	default:
		return nil
	}
}

// Status is a point-in-time copy of a link.
type Status struct {
	Local       string
	Remote      string
	State       State
	Initiator   bool
	InitiatorID string
	Source      media.Kind
	Reason      Reason
}

// Config describes one link.
type Config struct {
	Local     string
	Remote    string
	Initiator bool
	Channel   signaling.Channel
	Factory   TransportFactory
	// Timeout forces the link closed if it is not connected in time.
	// Zero disables the deadline.
	Timeout time.Duration
	// OnChange is called after every state or source change, outside the
	// link's lock.
	OnChange func(Status)
	Logger   *slog.Logger
}

// Link is the state machine for the ordered pair (Local, Remote).
type Link struct {
	local     string
	remote    string
	initiator bool
	channel   signaling.Channel
	transport Transport
	timeout   time.Duration
	onChange  func(Status)
	log       *slog.Logger

	mu            sync.Mutex
	state         State
	reason        Reason
	source        media.Kind
	bound         media.Source
	localSent     bool
	remoteApplied bool
	negotiated    bool
	candidateSeen bool
	transportUp   bool
	pendingRemote [][]byte
	pendingLocal  [][]byte
	deadline      *time.Timer
}

// New creates a link in state NEW along with its transport.
func New(cfg Config) (*Link, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	l := &Link{
		local:     cfg.Local,
		remote:    cfg.Remote,
		initiator: cfg.Initiator,
		channel:   cfg.Channel,
		timeout:   cfg.Timeout,
		onChange:  cfg.OnChange,
		log:       log.With("local", cfg.Local, "remote", cfg.Remote, "initiator", cfg.Initiator),
		source:    media.Camera,
	}

	t, err := cfg.Factory(cfg.Local, cfg.Remote, l)
	if err != nil {
		return nil, errs.NewError("create transport", err)
	}
	l.transport = t
	return l, nil
}

func (l *Link) Local() string   { return l.local }
func (l *Link) Remote() string  { return l.remote }
func (l *Link) Initiator() bool { return l.initiator }

// InitiatorID is the participant that sends the offer for this pair.
func (l *Link) InitiatorID() string {
	if l.initiator {
		return l.local
	}
	return l.remote
}

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statusLocked()
}

func (l *Link) statusLocked() Status {
	return Status{
		Local:       l.local,
		Remote:      l.remote,
		State:       l.state,
		Initiator:   l.initiator,
		InitiatorID: l.InitiatorID(),
		Source:      l.source,
		Reason:      l.reason,
	}
}

// update runs fn under the lock and reports a change to OnChange once the
// lock is released.
func (l *Link) update(fn func() error) error {
	l.mu.Lock()
	prevState, prevSource := l.state, l.source
	err := fn()
	changed := l.state != prevState || l.source != prevSource
	st := l.statusLocked()
	l.mu.Unlock()

	if changed && l.onChange != nil {
		l.onChange(st)
	}
	return err
}

// Start begins negotiation. The initiator asks its transport for an
// offer; the other side waits for one. Both arm the deadline.
func (l *Link) Start() {
	_ = l.update(func() error {
		if l.state != StateNew {
			return nil
		}
		if l.timeout > 0 {
			l.deadline = time.AfterFunc(l.timeout, l.expire)
		}
		if !l.initiator {
			return nil
		}

		l.state = StateOffering
		if err := l.transport.BindLocalDescription(Offer); err != nil {
			l.log.Error("failed to create offer", "error", err)
			l.closeLocked(ReasonTransportFailed)
		}
		return nil
	})
}

// HandleEnvelope applies an inbound envelope. ErrStalePeerLink means the
// link is already closed and the envelope was discarded.
func (l *Link) HandleEnvelope(env signaling.Envelope) error {
	return l.update(func() error {
		if l.state == StateClosed {
			return errs.ErrStalePeerLink
		}

		switch env.Type {
		case signaling.TypeOffer:
			l.handleOfferLocked(env.Payload)
		case signaling.TypeAnswer:
			l.handleAnswerLocked(env.Payload)
		case signaling.TypeCandidate:
			l.handleCandidateLocked(env.Payload)
		case signaling.TypeLeave:
			l.closeLocked(ReasonRemoteLeft)
		default:
			return errs.WrapError("handle envelope", errs.ErrUnexpectedMessage, string(env.Type))
		}
		return nil
	})
}

func (l *Link) handleOfferLocked(payload []byte) {
	if l.initiator || l.state != StateNew {
		l.log.Debug("ignoring unexpected offer", "state", l.state)
		return
	}

	l.state = StateAnswering
	if err := l.transport.ApplyRemoteDescription(Offer, payload); err != nil {
		l.log.Error("failed to apply offer", "error", err)
		l.closeLocked(ReasonTransportFailed)
		return
	}
	l.remoteApplied = true
	l.flushRemoteLocked()
	if l.state == StateClosed {
		return
	}

	if err := l.transport.BindLocalDescription(Answer); err != nil {
		l.log.Error("failed to create answer", "error", err)
		l.closeLocked(ReasonTransportFailed)
	}
}

func (l *Link) handleAnswerLocked(payload []byte) {
	if !l.initiator || l.state != StateOffering || l.remoteApplied {
		l.log.Debug("ignoring unexpected answer", "state", l.state)
		return
	}

	if err := l.transport.ApplyRemoteDescription(Answer, payload); err != nil {
		l.log.Error("failed to apply answer", "error", err)
		l.closeLocked(ReasonTransportFailed)
		return
	}
	l.remoteApplied = true
	l.negotiated = true
	l.flushRemoteLocked()
	l.maybeConnectLocked()
}

func (l *Link) handleCandidateLocked(payload []byte) {
	l.candidateSeen = true
	if !l.remoteApplied {
		l.pendingRemote = append(l.pendingRemote, payload)
		return
	}
	if err := l.transport.AddRemoteCandidate(payload); err != nil {
		l.log.Warn("failed to add remote candidate", "error", err)
	}
	l.maybeConnectLocked()
}

// flushRemoteLocked applies buffered remote candidates in arrival order.
func (l *Link) flushRemoteLocked() {
	pending := l.pendingRemote
	l.pendingRemote = nil
	for _, c := range pending {
		if err := l.transport.AddRemoteCandidate(c); err != nil {
			l.log.Warn("failed to add buffered candidate", "error", err)
		}
	}
}

// LocalDescription is called by the transport once the offer or answer
// has been set locally.
func (l *Link) LocalDescription(kind DescriptionKind, payload []byte) {
	_ = l.update(func() error {
		if l.state == StateClosed || l.localSent {
			return nil
		}

		typ := signaling.TypeOffer
		if kind == Answer {
			typ = signaling.TypeAnswer
		}
		l.send(typ, payload)
		l.localSent = true

		pending := l.pendingLocal
		l.pendingLocal = nil
		for _, c := range pending {
			l.send(signaling.TypeCandidate, c)
		}

		if kind == Answer {
			l.negotiated = true
			l.maybeConnectLocked()
		}
		return nil
	})
}

// LocalCandidate is called by the transport for every gathered candidate.
func (l *Link) LocalCandidate(payload []byte) {
	_ = l.update(func() error {
		if l.state == StateClosed {
			return nil
		}
		if !l.localSent {
			l.pendingLocal = append(l.pendingLocal, payload)
			return nil
		}
		l.send(signaling.TypeCandidate, payload)
		return nil
	})
}

// StateChange is called by the transport when connectivity changes.
func (l *Link) StateChange(state TransportState) {
	_ = l.update(func() error {
		if l.state == StateClosed {
			return nil
		}
		switch state {
		case TransportConnected:
			l.transportUp = true
			l.maybeConnectLocked()
		case TransportFailed:
			l.closeLocked(ReasonTransportFailed)
		}
		return nil
	})
}

func (l *Link) maybeConnectLocked() {
	if l.state != StateOffering && l.state != StateAnswering {
		return
	}
	if !l.negotiated || !(l.candidateSeen || l.transportUp) {
		return
	}

	l.state = StateConnected
	if l.deadline != nil {
		l.deadline.Stop()
		l.deadline = nil
	}
	l.log.Info("peer link connected")
}

func (l *Link) expire() {
	_ = l.update(func() error {
		if l.state == StateConnected || l.state == StateClosed {
			return nil
		}
		l.log.Warn("negotiation deadline passed", "state", l.state, "timeout", l.timeout)
		l.closeLocked(ReasonNegotiationTimeout)
		return nil
	})
}

// ActiveSource reports which source feeds the outbound video.
func (l *Link) ActiveSource() media.Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.source
}

// BindSource rebinds the outbound video. A nil src means there is nothing
// to send for kind, as for a receive-only participant's camera; a source
// bound earlier is cleared from the transport.
func (l *Link) BindSource(kind media.Kind, src media.Source) error {
	return l.update(func() error {
		if l.state == StateClosed {
			return errs.ErrStalePeerLink
		}
		if src != nil || l.bound != nil {
			if err := l.transport.ReplaceOutboundVideo(src); err != nil {
				return errs.WrapError("replace outbound video", err, kind.String())
			}
		}
		l.source = kind
		l.bound = src
		return nil
	})
}

// Close moves the link to CLOSED. Closing twice keeps the first reason.
func (l *Link) Close(reason Reason) {
	_ = l.update(func() error {
		l.closeLocked(reason)
		return nil
	})
}

func (l *Link) closeLocked(reason Reason) {
	if l.state == StateClosed {
		return
	}
	l.state = StateClosed
	l.reason = reason

	if l.deadline != nil {
		l.deadline.Stop()
		l.deadline = nil
	}

	// Drop the reference only. The device keeps running for other links.
	l.bound = nil
	l.pendingRemote = nil
	l.pendingLocal = nil

	if err := l.transport.Close(); err != nil {
		l.log.Debug("transport close", "error", err)
	}
	l.log.Info("peer link closed", "reason", reason)
}

func (l *Link) send(typ signaling.Type, payload []byte) {
	err := l.channel.Send(signaling.Envelope{
		Type:    typ,
		From:    l.local,
		To:      l.remote,
		Payload: payload,
	})
	if err != nil {
		l.log.Debug("envelope not delivered", "type", typ, "error", err)
	}
}

var (
	_ Events        = (*Link)(nil)
	_ media.Binding = (*Link)(nil)
)
