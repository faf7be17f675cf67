// Package endpoint is the participant side of a call. It keeps the
// websocket session to the coordinator, owns the local capture sources
// and peer connections, and carries out the coordinator's commands.
package endpoint

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/go4org/hashtriemap"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/avanishpal143/meetify/internal/config"
	"github.com/avanishpal143/meetify/internal/errs"
	"github.com/avanishpal143/meetify/internal/gateway"
	"github.com/avanishpal143/meetify/internal/media"
	"github.com/avanishpal143/meetify/internal/transport"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	updateBuffer = 256
)

// TypeRemoteTrack is a local update: a peer's track started arriving.
const TypeRemoteTrack = "remote_track"

// TrackInfo describes an inbound remote track.
type TrackInfo struct {
	Kind  string `json:"kind"`
	Codec string `json:"codec"`
}

// Options configures an Endpoint.
type Options struct {
	Config *config.Config
	Name   string
	Media  transport.MediaOptions
	Logger *slog.Logger
}

// Endpoint manages the WebSocket connection to the coordinator.
type Endpoint struct {
	cfg   *config.Config
	name  string
	log   *slog.Logger
	media *transport.LocalMedia

	factory func(local, remote, linkID string) (*transport.Peer, error)

	conn      *websocket.Conn
	outgoing  chan *gateway.Message
	updates   chan *gateway.Message
	welcomed  chan gateway.WelcomePayload
	done      chan struct{}
	closeOnce sync.Once

	// peers maps link IDs to live peer connections.
	peers hashtriemap.HashTrieMap[string, *transport.Peer]

	mu sync.Mutex
	id string

	pubMu     sync.Mutex
	pubClosed bool
}

func New(opts Options) *Endpoint {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	e := &Endpoint{
		cfg:      opts.Config,
		name:     opts.Name,
		log:      log,
		media:    transport.NewLocalMedia(opts.Media),
		outgoing: make(chan *gateway.Message, 256),
		updates:  make(chan *gateway.Message, updateBuffer),
		welcomed: make(chan gateway.WelcomePayload, 1),
		done:     make(chan struct{}),
	}

	topts := transport.Options{
		Config:  opts.Config,
		Media:   e.media,
		Logger:  log,
		OnTrack: e.remoteTrack,
	}
	e.factory = func(local, remote, linkID string) (*transport.Peer, error) {
		return transport.NewPeer(local, remote, &linkEvents{e: e, linkID: linkID}, topts)
	}
	return e
}

// Connect dials the coordinator and waits for the welcome, answering
// the camera request on the way. It returns the allocated participant ID.
func (e *Endpoint) Connect(ctx context.Context) (gateway.WelcomePayload, error) {
	u, err := url.Parse(e.cfg.ServerURL)
	if err != nil {
		return gateway.WelcomePayload{}, fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := *websocket.DefaultDialer
	dialer.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		ip, err := lookupHost(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("dns lookup failed: %w", err)
		}
		var d net.Dialer
		return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return gateway.WelcomePayload{}, fmt.Errorf("failed to connect: %w", err)
	}
	e.conn = conn
	e.conn.SetReadLimit(maxMessageSize)
	e.conn.SetPongHandler(func(string) error {
		e.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go e.readPump()
	go e.writePump()

	select {
	case w := <-e.welcomed:
		e.mu.Lock()
		e.id = w.ID
		e.mu.Unlock()
		if e.name != "" {
			e.SetName(e.name)
		}
		return w, nil
	case <-e.done:
		return gateway.WelcomePayload{}, errs.ErrConnectionClosed
	case <-ctx.Done():
		e.Close()
		return gateway.WelcomePayload{}, ctx.Err()
	}
}

// ID returns the participant ID, empty before the welcome.
func (e *Endpoint) ID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.id
}

// Updates streams server messages meant for the UI, plus remote_track.
// It is closed when the connection ends.
func (e *Endpoint) Updates() <-chan *gateway.Message {
	return e.updates
}

// Done is closed when the connection ends.
func (e *Endpoint) Done() <-chan struct{} {
	return e.done
}

func (e *Endpoint) readPump() {
	defer func() {
		e.Close()
		e.closePeers()
		e.media.Close()
		e.pubMu.Lock()
		e.pubClosed = true
		close(e.updates)
		e.pubMu.Unlock()
	}()

	e.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var msg gateway.Message
		if err := e.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				e.log.Warn("Connection lost", "error", err)
			}
			return
		}
		e.handle(&msg)
	}
}

func (e *Endpoint) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		e.conn.Close()
	}()

	for {
		select {
		case message := <-e.outgoing:
			e.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := e.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			e.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := e.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-e.done:
			e.conn.SetWriteDeadline(time.Now().Add(writeWait))
			e.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// send queues msg. It drops the message once the connection is gone.
func (e *Endpoint) send(msg *gateway.Message) {
	select {
	case e.outgoing <- msg:
	case <-e.done:
	}
}

func (e *Endpoint) sendPayload(typ string, payload any) {
	msg, err := gateway.NewMessage(typ, payload)
	if err != nil {
		e.log.Error("Failed to encode message", "type", typ, "error", err)
		return
	}
	e.send(msg)
}

// publish hands msg to the UI, dropping it if the UI is not keeping up.
func (e *Endpoint) publish(msg *gateway.Message) {
	e.pubMu.Lock()
	defer e.pubMu.Unlock()
	if e.pubClosed {
		return
	}
	select {
	case e.updates <- msg:
	default:
		e.log.Warn("Update buffer full, dropping update", "type", msg.Type)
	}
}

// Close ends the session. Peer connections are torn down by the read pump.
func (e *Endpoint) Close() {
	e.closeOnce.Do(func() { close(e.done) })
}

func (e *Endpoint) closePeers() {
	e.peers.Range(func(id string, p *transport.Peer) bool {
		e.peers.Delete(id)
		p.Close()
		return true
	})
}

// User actions.

func (e *Endpoint) SetName(name string) {
	e.sendPayload(gateway.TypeSetName, gateway.NamePayload{DisplayName: name})
}

func (e *Endpoint) CreateRoom() {
	e.send(&gateway.Message{Type: gateway.TypeCreateRoom})
}

// JoinRoom accepts a room link or a bare room ID.
func (e *Endpoint) JoinRoom(ref string) {
	e.sendPayload(gateway.TypeJoinRoom, gateway.JoinPayload{Reference: ref})
}

func (e *Endpoint) LeaveRoom() {
	e.send(&gateway.Message{Type: gateway.TypeLeaveRoom})
}

func (e *Endpoint) SetMuted(muted bool) {
	e.sendPayload(gateway.TypeSetMuted, gateway.TogglePayload{Value: muted})
}

func (e *Endpoint) SetVideoEnabled(enabled bool) {
	e.sendPayload(gateway.TypeSetVideo, gateway.TogglePayload{Value: enabled})
}

func (e *Endpoint) ShareScreen() {
	e.send(&gateway.Message{Type: gateway.TypeShareScreen})
}

func (e *Endpoint) StopShare() {
	e.send(&gateway.Message{Type: gateway.TypeStopShare})
}

// EndCapture ends the screen capture as if from the operating system.
func (e *Endpoint) EndCapture() {
	if s := e.media.Source(media.Screen); s != nil {
		s.End()
	}
}

func (e *Endpoint) Chat(content string) {
	e.sendPayload(gateway.TypeChat, gateway.ChatPayload{Content: content})
}

// PeerCount is the number of live peer connections.
func (e *Endpoint) PeerCount() int {
	n := 0
	e.peers.Range(func(string, *transport.Peer) bool {
		n++
		return true
	})
	return n
}

func (e *Endpoint) remoteTrack(remote string, track *webrtc.TrackRemote) {
	msg, err := gateway.NewMessage(TypeRemoteTrack, TrackInfo{
		Kind:  track.Kind().String(),
		Codec: track.Codec().MimeType,
	})
	if err != nil {
		return
	}
	msg.PeerID = remote
	e.publish(msg)
}
