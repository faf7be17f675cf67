package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/avanishpal143/meetify/internal/errs"
	"github.com/avanishpal143/meetify/internal/media"
	"github.com/avanishpal143/meetify/internal/peer"
)

// remoteTransport forwards transport operations for one link to the
// client that owns the real connection. Events come back on the
// client's read pump.
type remoteTransport struct {
	client *Client
	id     string
	remote string
	events peer.Events
}

// transportFactory builds remote transports for links owned by c.
func (c *Client) transportFactory(_, remote string, events peer.Events) (peer.Transport, error) {
	t := &remoteTransport{
		client: c,
		id:     c.Hub.ids.Allocate(),
		remote: remote,
		events: events,
	}
	c.links.Store(t.id, t)
	return t, nil
}

func (t *remoteTransport) command(typ string, p TransportPayload) error {
	msg, err := NewMessage(typ, p)
	if err != nil {
		return err
	}
	msg.PeerID = t.remote
	msg.LinkID = t.id
	return t.client.send(msg)
}

func (t *remoteTransport) BindLocalDescription(kind peer.DescriptionKind) error {
	return t.command(TypeBindLocal, TransportPayload{Kind: string(kind)})
}

func (t *remoteTransport) ApplyRemoteDescription(kind peer.DescriptionKind, payload []byte) error {
	return t.command(TypeApplyRemote, TransportPayload{Kind: string(kind), Data: payload})
}

func (t *remoteTransport) AddRemoteCandidate(payload []byte) error {
	return t.command(TypeAddCandidate, TransportPayload{Data: payload})
}

// ReplaceOutboundVideo names the client source to send. An empty kind
// clears the outbound video.
func (t *remoteTransport) ReplaceOutboundVideo(src media.Source) error {
	var p TransportPayload
	if src != nil {
		p.Kind = src.Kind().String()
	}
	return t.command(TypeReplaceVideo, p)
}

func (t *remoteTransport) Close() error {
	t.client.links.CompareAndDelete(t.id, t)
	err := t.command(TypeClosePeer, TransportPayload{})
	if err != nil && !errors.Is(err, errs.ErrConnectionClosed) {
		return err
	}
	return nil
}

// handleTransportEvent feeds a client-reported event to its link.
func (c *Client) handleTransportEvent(msg *Message) {
	t, ok := c.links.Load(msg.LinkID)
	if !ok {
		c.log.Debug("Event for unknown link", "type", msg.Type, "link", msg.LinkID)
		return
	}
	var p TransportPayload
	if err := msg.DecodePayload(&p); err != nil {
		c.log.Warn("Malformed transport event", "type", msg.Type, "error", err)
		return
	}

	switch msg.Type {
	case TypeLocalDescription:
		t.events.LocalDescription(peer.DescriptionKind(p.Kind), p.Data)
	case TypeLocalCandidate:
		t.events.LocalCandidate(p.Data)
	case TypeTransportState:
		t.events.StateChange(peer.TransportState(p.State))
	}
}

// remoteSource is a capture source living on the client.
type remoteSource struct {
	client *Client
	kind   media.Kind

	mu    sync.Mutex
	ended func()
}

func (s *remoteSource) Kind() media.Kind { return s.kind }

func (s *remoteSource) SetEnabled(track media.Track, enabled bool) {
	s.client.send(mustMessage(TypeSetTrack, SourcePayload{
		Source:  s.kind.String(),
		Track:   track.String(),
		Enabled: enabled,
	}))
}

func (s *remoteSource) OnEnded(handler func()) {
	s.mu.Lock()
	s.ended = handler
	s.mu.Unlock()
}

func (s *remoteSource) Stop() {
	s.mu.Lock()
	s.ended = nil
	s.mu.Unlock()

	c := s.client
	c.mu.Lock()
	if c.sources[s.kind] == s {
		delete(c.sources, s.kind)
	}
	c.mu.Unlock()
	c.send(mustMessage(TypeStopSource, SourcePayload{Source: s.kind.String()}))
}

// sourceEnded fires the ended handler of the client's live source of
// the reported kind.
func (c *Client) sourceEnded(msg *Message) {
	var p SourcePayload
	if err := msg.DecodePayload(&p); err != nil {
		c.log.Warn("Malformed source_ended", "error", err)
		return
	}
	kind, err := media.ParseKind(p.Source)
	if err != nil {
		c.log.Warn("Malformed source_ended", "error", err)
		return
	}

	c.mu.Lock()
	s := c.sources[kind]
	delete(c.sources, kind)
	c.mu.Unlock()
	if s == nil {
		return
	}

	s.mu.Lock()
	h := s.ended
	s.ended = nil
	s.mu.Unlock()
	if h != nil {
		go h()
	}
}

// AcquireCamera implements media.Provider by asking the client.
func (c *Client) AcquireCamera(ctx context.Context) (media.Source, error) {
	return c.acquire(ctx, TypeAcquireCamera, media.Camera, errs.ErrCameraUnavailable)
}

func (c *Client) AcquireScreen(ctx context.Context) (media.Source, error) {
	return c.acquire(ctx, TypeAcquireScreen, media.Screen, errs.ErrCaptureUnavailable)
}

func (c *Client) acquire(ctx context.Context, typ string, kind media.Kind, failure error) (media.Source, error) {
	reply, err := c.call(ctx, &Message{Type: typ})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", failure, err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("%w: %s", failure, reply.Error)
	}

	s := &remoteSource{client: c, kind: kind}
	c.mu.Lock()
	c.sources[kind] = s
	c.mu.Unlock()
	return s, nil
}

// call sends msg with a fresh request ID and waits for the matching result.
func (c *Client) call(ctx context.Context, msg *Message) (*Message, error) {
	msg.RequestID = c.Hub.ids.Allocate()
	reply := make(chan *Message, 1)
	c.pending.Store(msg.RequestID, reply)
	defer c.pending.Delete(msg.RequestID)

	if err := c.send(msg); err != nil {
		return nil, err
	}

	select {
	case r := <-reply:
		return r, nil
	case <-c.done:
		return nil, errs.ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolve delivers a result to its waiting call, if any.
func (c *Client) resolve(msg *Message) {
	reply, ok := c.pending.LoadAndDelete(msg.RequestID)
	if !ok {
		c.log.Debug("Result for unknown request", "request", msg.RequestID)
		return
	}
	reply <- msg
}
