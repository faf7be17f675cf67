// Package gateway connects websocket clients to the room coordinator.
// Each client's capture devices and peer connections live on the
// client; the gateway proxies them to the coordinator.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/avanishpal143/meetify/internal/coordinator"
	"github.com/avanishpal143/meetify/internal/errs"
	"github.com/avanishpal143/meetify/internal/identity"
	"github.com/avanishpal143/meetify/internal/media"
	"github.com/avanishpal143/meetify/internal/signaling"
)

// Options tunes a Hub.
type Options struct {
	// RateLimit and RateBurst bound inbound frames per connection.
	RateLimit rate.Limit
	RateBurst int
	// AcquireTimeout bounds the camera request made on connect.
	AcquireTimeout time.Duration
	// ShareTimeout bounds how long the user may take to pick a screen.
	ShareTimeout time.Duration
	Logger       *slog.Logger
}

// Hub is the central brain of the gateway. Run owns the client table
// and routes coordinator updates to their recipients.
type Hub struct {
	coord *coordinator.Coordinator
	bus   *signaling.Bus
	ids   identity.Allocator
	log   *slog.Logger
	opts  Options

	// Register is a channel for registering new clients.
	Register chan *Client

	// Unregister is a channel for unregistering clients.
	Unregister chan *Client

	clients map[string]*Client

	// done is closed when Run returns.
	done chan struct{}
}

// NewHub creates a new Hub instance.
func NewHub(coord *coordinator.Coordinator, ids identity.Allocator, opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = 50
	}
	if opts.RateBurst == 0 {
		opts.RateBurst = 100
	}
	if opts.AcquireTimeout == 0 {
		opts.AcquireTimeout = 10 * time.Second
	}
	if opts.ShareTimeout == 0 {
		opts.ShareTimeout = time.Minute
	}
	if ids == nil {
		ids = identity.New()
	}
	log := opts.Logger.With("component", "gateway")
	return &Hub{
		coord:      coord,
		bus:        signaling.NewBus(log),
		ids:        ids,
		log:        log,
		opts:       opts,
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[string]*Client),
		done:       make(chan struct{}),
	}
}

// Add registers c with a running hub. It reports false once the hub has
// stopped.
func (h *Hub) Add(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Run starts the hub's main processing loop.
// This is the single goroutine that owns the client table.
func (h *Hub) Run(ctx context.Context) {
	defer h.bus.Close()
	updates := h.coord.Updates()

	for {
		select {
		case client := <-h.Register:
			h.clients[client.ID] = client
			h.log.Info("Client registered", "participant", client.ID, "addr", client.Conn.RemoteAddr().String())
			go h.attach(client)

		case client := <-h.Unregister:
			if h.clients[client.ID] == client {
				delete(h.clients, client.ID)
			}
			h.log.Info("Client unregistered", "participant", client.ID)
			go h.detach(client)

		case u := <-updates:
			h.route(u)

		case <-ctx.Done():
			close(h.done)
			for _, c := range h.clients {
				c.close()
				h.detach(c)
			}
			return
		}
	}
}

func (h *Hub) route(u coordinator.Update) {
	var msg *Message
	switch u := u.(type) {
	case coordinator.PeerUpdate:
		msg = mustMessage(TypePeerUpdate, u)
		msg.PeerID = u.PeerID
	case coordinator.RoomSnapshot:
		msg = mustMessage(TypeMembers, u)
		msg.RoomID = u.RoomID
	case coordinator.ChatMessage:
		msg = mustMessage(TypeChat, u)
		msg.RoomID = u.RoomID
	default:
		h.log.Warn("Unknown update", "update", u)
		return
	}

	for _, id := range u.Recipients() {
		if c, ok := h.clients[id]; ok {
			c.send(msg)
		}
	}
}

// attach asks the client for its camera, then greets it. Requests that
// arrive before the welcome fail with not attached.
func (h *Hub) attach(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.AcquireTimeout)
	defer cancel()

	err := h.coord.Attach(ctx, coordinator.Participant{ID: c.ID}, coordinator.Endpoint{
		Channel:    h.bus.Endpoint(c.ID),
		Transports: c.transportFactory,
		Media:      c,
	})
	if err != nil && !errors.Is(err, errs.ErrCameraUnavailable) {
		c.log.Error("Attach failed", "error", err)
		c.sendError("attach", err)
		c.close()
		return
	}

	select {
	case <-c.done:
		// Disconnected while attaching; detach may have run first.
		h.detach(c)
		return
	default:
	}

	var state media.State
	if ctrl, err := h.coord.Media(c.ID); err == nil {
		state = ctrl.State()
	}
	c.send(mustMessage(TypeWelcome, WelcomePayload{ID: c.ID, Media: state}))
}

func (h *Hub) detach(c *Client) {
	h.coord.Detach(c.ID)
	h.bus.Remove(c.ID)
}

// handle processes one inbound message on the client's read pump.
func (h *Hub) handle(c *Client, msg *Message) {
	switch msg.Type {
	case TypeResult:
		c.resolve(msg)

	case TypeLocalDescription, TypeLocalCandidate, TypeTransportState:
		c.handleTransportEvent(msg)

	case TypeSourceEnded:
		c.sourceEnded(msg)

	case TypeSetName:
		var p NamePayload
		if err := msg.DecodePayload(&p); err != nil {
			c.sendError(msg.Type, errs.WrapError(msg.Type, errs.ErrUnexpectedMessage, err.Error()))
			return
		}
		roomID, err := h.coord.SetDisplayName(c.ID, p.DisplayName)
		if err != nil {
			c.sendError(msg.Type, err)
			return
		}
		if roomID != "" {
			h.sendRoom(c, TypeJoinSuccess, roomID)
		}

	case TypeCreateRoom:
		roomID, err := h.coord.CreateRoom(c.ID)
		if err != nil {
			c.sendError(msg.Type, err)
			return
		}
		h.sendRoom(c, TypeRoomCreated, roomID)

	case TypeJoinRoom:
		var p JoinPayload
		if err := msg.DecodePayload(&p); err != nil {
			c.sendError(msg.Type, errs.WrapError(msg.Type, errs.ErrUnexpectedMessage, err.Error()))
			return
		}
		if p.Reference == "" {
			p.Reference = msg.RoomID
		}
		roomID, err := h.coord.JoinRoom(c.ID, p.Reference)
		if err != nil {
			c.sendError(msg.Type, err)
			return
		}
		if _, in := h.coord.RoomOf(c.ID); in {
			h.sendRoom(c, TypeJoinSuccess, roomID)
		} else {
			h.sendRoom(c, TypeJoinDeferred, roomID)
		}

	case TypeLeaveRoom:
		if err := h.coord.LeaveRoom(c.ID); err != nil {
			c.sendError(msg.Type, err)
			return
		}
		c.send(&Message{Type: TypeLeft})

	case TypeChat:
		var p ChatPayload
		if err := msg.DecodePayload(&p); err != nil || p.Content == "" {
			c.sendError(msg.Type, errs.WrapError(msg.Type, errs.ErrUnexpectedMessage, "empty chat message"))
			return
		}
		if _, err := h.coord.Chat(c.ID, p.Content); err != nil {
			c.sendError(msg.Type, err)
		}

	case TypeSetMuted, TypeSetVideo, TypeShareScreen, TypeStopShare:
		h.handleMedia(c, msg)

	default:
		c.sendError(msg.Type, errs.WrapError("handle", errs.ErrUnexpectedMessage, msg.Type))
	}
}

func (h *Hub) handleMedia(c *Client, msg *Message) {
	ctrl, err := h.coord.Media(c.ID)
	if err != nil {
		c.sendError(msg.Type, err)
		return
	}

	var p TogglePayload
	if err := msg.DecodePayload(&p); err != nil {
		c.sendError(msg.Type, errs.WrapError(msg.Type, errs.ErrUnexpectedMessage, err.Error()))
		return
	}

	switch msg.Type {
	case TypeSetMuted:
		ctrl.SetMuted(p.Value)
	case TypeSetVideo:
		ctrl.SetVideoEnabled(p.Value)
	case TypeStopShare:
		ctrl.StopScreenShare()
	case TypeShareScreen:
		// The acquire round trip needs this read pump, so it runs aside.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), h.opts.ShareTimeout)
			defer cancel()
			if err := ctrl.StartScreenShare(ctx); err != nil {
				c.sendError(msg.Type, err)
			}
			c.send(mustMessage(TypeMediaState, ctrl.State()))
		}()
		return
	}
	c.send(mustMessage(TypeMediaState, ctrl.State()))
}

func (h *Hub) sendRoom(c *Client, typ, roomID string) {
	msg := mustMessage(typ, RoomPayload{Link: h.coord.RoomLink(roomID)})
	msg.RoomID = roomID
	c.send(msg)
}
