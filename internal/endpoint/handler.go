package endpoint

import (
	"context"
	"time"

	"github.com/avanishpal143/meetify/internal/gateway"
	"github.com/avanishpal143/meetify/internal/media"
	"github.com/avanishpal143/meetify/internal/peer"
	"github.com/avanishpal143/meetify/internal/transport"
)

const acquireTimeout = 30 * time.Second

// handle routes one server message. Provider and transport commands are
// carried out here; the rest goes to the UI.
func (e *Endpoint) handle(msg *gateway.Message) {
	switch msg.Type {
	case gateway.TypeWelcome:
		var w gateway.WelcomePayload
		if err := msg.DecodePayload(&w); err != nil {
			e.log.Error("Malformed welcome", "error", err)
			return
		}
		select {
		case e.welcomed <- w:
		default:
		}
		e.publish(msg)

	case gateway.TypeAcquireCamera, gateway.TypeAcquireScreen:
		e.acquire(msg)

	case gateway.TypeSetTrack:
		var p gateway.SourcePayload
		if s := e.source(msg, &p); s != nil {
			track := media.Video
			if p.Track == media.Audio.String() {
				track = media.Audio
			}
			s.SetEnabled(track, p.Enabled)
		}

	case gateway.TypeStopSource:
		var p gateway.SourcePayload
		if s := e.source(msg, &p); s != nil {
			s.Stop()
		}

	case gateway.TypeBindLocal, gateway.TypeApplyRemote, gateway.TypeAddCandidate,
		gateway.TypeReplaceVideo, gateway.TypeClosePeer:
		e.command(msg)

	default:
		e.publish(msg)
	}
}

func (e *Endpoint) acquire(msg *gateway.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), acquireTimeout)
	defer cancel()

	var (
		src media.Source
		err error
	)
	if msg.Type == gateway.TypeAcquireCamera {
		src, err = e.media.AcquireCamera(ctx)
	} else {
		src, err = e.media.AcquireScreen(ctx)
	}

	reply := &gateway.Message{Type: gateway.TypeResult, RequestID: msg.RequestID}
	if err != nil {
		e.log.Warn("Capture unavailable", "request", msg.Type, "error", err)
		reply.Error = err.Error()
		e.send(reply)
		return
	}

	kind := src.Kind()
	src.OnEnded(func() {
		e.sendPayload(gateway.TypeSourceEnded, gateway.SourcePayload{Source: kind.String()})
	})
	e.send(reply)
}

func (e *Endpoint) source(msg *gateway.Message, p *gateway.SourcePayload) *transport.LocalSource {
	if err := msg.DecodePayload(p); err != nil {
		e.log.Warn("Malformed source command", "type", msg.Type, "error", err)
		return nil
	}
	kind, err := media.ParseKind(p.Source)
	if err != nil {
		e.log.Warn("Malformed source command", "type", msg.Type, "error", err)
		return nil
	}
	return e.media.Source(kind)
}

// command applies a transport command to the link's peer connection,
// creating it on first use.
func (e *Endpoint) command(msg *gateway.Message) {
	if msg.Type == gateway.TypeClosePeer {
		if p, ok := e.peers.LoadAndDelete(msg.LinkID); ok {
			p.Close()
		}
		return
	}

	var payload gateway.TransportPayload
	if err := msg.DecodePayload(&payload); err != nil {
		e.log.Warn("Malformed transport command", "type", msg.Type, "error", err)
		return
	}

	p, ok := e.peers.Load(msg.LinkID)
	if !ok {
		var err error
		p, err = e.factory(e.ID(), msg.PeerID, msg.LinkID)
		if err != nil {
			e.log.Error("Failed to create peer connection", "peer", msg.PeerID, "error", err)
			e.linkFailed(msg.LinkID)
			return
		}
		e.peers.Store(msg.LinkID, p)
	}

	var err error
	switch msg.Type {
	case gateway.TypeBindLocal:
		err = p.BindLocalDescription(peer.DescriptionKind(payload.Kind))
	case gateway.TypeApplyRemote:
		err = p.ApplyRemoteDescription(peer.DescriptionKind(payload.Kind), payload.Data)
	case gateway.TypeAddCandidate:
		err = p.AddRemoteCandidate(payload.Data)
	case gateway.TypeReplaceVideo:
		if payload.Kind == "" {
			err = p.ReplaceOutboundVideo(nil)
			break
		}
		kind, perr := media.ParseKind(payload.Kind)
		if perr != nil {
			err = perr
			break
		}
		src := e.media.Source(kind)
		if src == nil {
			e.log.Warn("No local source to send", "kind", payload.Kind)
			return
		}
		err = p.ReplaceOutboundVideo(src)
	}
	if err != nil {
		e.log.Error("Transport command failed", "type", msg.Type, "peer", msg.PeerID, "error", err)
		e.linkFailed(msg.LinkID)
	}
}

func (e *Endpoint) linkFailed(linkID string) {
	(&linkEvents{e: e, linkID: linkID}).StateChange(peer.TransportFailed)
}

// linkEvents reports one peer connection's events to the coordinator.
type linkEvents struct {
	e      *Endpoint
	linkID string
}

func (l *linkEvents) report(typ string, p gateway.TransportPayload) {
	msg, err := gateway.NewMessage(typ, p)
	if err != nil {
		return
	}
	msg.LinkID = l.linkID
	l.e.send(msg)
}

func (l *linkEvents) LocalDescription(kind peer.DescriptionKind, payload []byte) {
	l.report(gateway.TypeLocalDescription, gateway.TransportPayload{Kind: string(kind), Data: payload})
}

func (l *linkEvents) LocalCandidate(payload []byte) {
	l.report(gateway.TypeLocalCandidate, gateway.TransportPayload{Data: payload})
}

func (l *linkEvents) StateChange(state peer.TransportState) {
	l.report(gateway.TypeTransportState, gateway.TransportPayload{State: string(state)})
}
