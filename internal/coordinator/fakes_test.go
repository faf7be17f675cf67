package coordinator

import (
	"context"
	"errors"
	"sync"

	"github.com/avanishpal143/meetify/internal/errs"
	"github.com/avanishpal143/meetify/internal/media"
	"github.com/avanishpal143/meetify/internal/peer"
)

type testTransport struct {
	events peer.Events
	silent bool

	mu       sync.Mutex
	applied  []peer.DescriptionKind
	replaced []string
	closed   bool
}

func (t *testTransport) BindLocalDescription(kind peer.DescriptionKind) error {
	if !t.silent {
		go t.events.LocalDescription(kind, []byte(kind))
	}
	return nil
}

func (t *testTransport) ApplyRemoteDescription(kind peer.DescriptionKind, _ []byte) error {
	t.mu.Lock()
	t.applied = append(t.applied, kind)
	t.mu.Unlock()
	return nil
}

func (t *testTransport) AddRemoteCandidate([]byte) error { return nil }

func (t *testTransport) ReplaceOutboundVideo(src media.Source) error {
	t.mu.Lock()
	kind := "none"
	if src != nil {
		kind = src.Kind().String()
	}
	t.replaced = append(t.replaced, kind)
	t.mu.Unlock()
	return nil
}

func (t *testTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *testTransport) hasApplied(kind peer.DescriptionKind) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, k := range t.applied {
		if k == kind {
			return true
		}
	}
	return false
}

func (t *testTransport) replacements() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.replaced...)
}

func (t *testTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// transports records every transport built, keyed by "local>remote".
type transports struct {
	silent bool

	mu  sync.Mutex
	all map[string]*testTransport
}

func newTransports() *transports {
	return &transports{all: make(map[string]*testTransport)}
}

func (ts *transports) factory(local, remote string, events peer.Events) (peer.Transport, error) {
	t := &testTransport{events: events, silent: ts.silent}
	ts.mu.Lock()
	ts.all[local+">"+remote] = t
	ts.mu.Unlock()
	return t, nil
}

func (ts *transports) get(local, remote string) *testTransport {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.all[local+">"+remote]
}

type testSource struct {
	kind media.Kind

	mu      sync.Mutex
	stopped bool
	ended   func()
}

func (s *testSource) Kind() media.Kind             { return s.kind }
func (s *testSource) SetEnabled(media.Track, bool) {}

func (s *testSource) OnEnded(h func()) {
	s.mu.Lock()
	s.ended = h
	s.mu.Unlock()
}

func (s *testSource) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

type testProvider struct {
	denyScreen bool
	noCamera   bool
}

func (p *testProvider) AcquireCamera(context.Context) (media.Source, error) {
	if p.noCamera {
		return nil, errors.New("no device")
	}
	return &testSource{kind: media.Camera}, nil
}

func (p *testProvider) AcquireScreen(context.Context) (media.Source, error) {
	if p.denyScreen {
		return nil, errs.ErrCaptureUnavailable
	}
	return &testSource{kind: media.Screen}, nil
}
