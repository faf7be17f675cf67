package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/go4org/hashtriemap"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/avanishpal143/meetify/internal/errs"
	"github.com/avanishpal143/meetify/internal/media"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // 64 KB - enough for WebRTC SDP messages

	sendBuffer = 256
)

// Client is a wrapper for a single websocket connection (a participant)
type Client struct {
	// ID is the participant ID allocated on connect.
	ID string

	// Hub is the hub that manages this client.
	Hub *Hub

	// Conn is the websocket connection.
	Conn *websocket.Conn

	// Send is a buffered channel for all outbound messages.
	// We write to this channel, and a separate goroutine (WritePump)
	// reads from it and writes to the websocket.
	Send chan *Message

	log     *slog.Logger
	limiter *rate.Limiter

	done      chan struct{}
	closeOnce sync.Once

	// pending maps request IDs to provider calls awaiting a result.
	pending hashtriemap.HashTrieMap[string, chan *Message]

	// links maps link IDs to the transports proxied to this client.
	links hashtriemap.HashTrieMap[string, *remoteTransport]

	mu      sync.Mutex
	sources map[media.Kind]*remoteSource
}

// NewClient wraps conn for hub. The client is inert until registered
// and its pumps are started.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	id := hub.ids.Allocate()
	return &Client{
		ID:      id,
		Hub:     hub,
		Conn:    conn,
		Send:    make(chan *Message, sendBuffer),
		log:     hub.log.With("participant", id),
		limiter: rate.NewLimiter(hub.opts.RateLimit, hub.opts.RateBurst),
		done:    make(chan struct{}),
		sources: make(map[media.Kind]*remoteSource),
	}
}

// send queues msg without blocking.
func (c *Client) send(msg *Message) error {
	select {
	case <-c.done:
		return errs.ErrConnectionClosed
	default:
	}
	select {
	case c.Send <- msg:
		return nil
	default:
		c.log.Warn("Send buffer full, dropping message", "type", msg.Type)
		return errs.WrapError("gateway.send", errs.ErrTransportFailed, "send buffer full")
	}
}

func (c *Client) sendError(op string, err error) {
	c.log.Debug("Request failed", "op", op, "error", err)
	c.send(&Message{Type: TypeError, Error: errs.Message(err)})
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	// When this function exits (e.g., connection closes), unregister the client
	defer func() {
		c.close()
		select {
		case c.Hub.Unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Error("Read failed", "error", err)
			}
			return
		}

		if !c.limiter.Allow() {
			c.log.Warn("Closing connection for rate limit")
			c.Conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "rate limit"),
				time.Now().Add(writeWait))
			return
		}

		c.Hub.handle(c, &msg)
	}
}

// WritePump pumps messages from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteJSON(message); err != nil {
				c.log.Error("Error writing json", "error", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
