package ws

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/manpreetbhatti/sketchroom/backend/internal/protocol"
	"github.com/manpreetbhatti/sketchroom/backend/internal/ratelimit"
)

// Where a connection is in the join protocol
type SessionState uint8

const (
	// Connected but not in a room yet
	StateConnected SessionState = iota

	// Joined a room. There is no way back to Connected: switching rooms
	// means reconnecting.
	StateInRoom

	// Terminal
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateInRoom:
		return "in-room"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type Client struct {
	id          string
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	rateLimiter *ratelimit.Limiter

	// Owned by the hub's Run goroutine
	state    SessionState
	roomID   string
	evicting bool
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:          uuid.NewString(),
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, hub.opts.SendBuffer),
		rateLimiter: ratelimit.NewLimiter(hub.opts.MessagesPerSecond, hub.opts.MessageBurst),
		state:       StateConnected,
	}
}

// ServeWs upgrades the request and starts the connection's pumps. The client
// is in no room until it sends join-room.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade error:", err)
		return
	}

	client := newClient(hub, conn)
	if !hub.enqueueRegister(client) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.enqueueUnregister(c)
		c.conn.Close()
	}()

	opts := c.hub.opts
	c.conn.SetReadLimit(opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}

		if !c.rateLimiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				log.Printf("⚠️ Rate limit exceeded for client %s (warning #%d)", c.id, rateLimitWarnings)
			}
			if rateLimitWarnings > 1000 {
				log.Printf("🚫 Disconnecting client %s for excessive rate limit violations", c.id)
				return
			}
			continue
		}

		env, err := protocol.Decode(message)
		if err != nil {
			if !errors.Is(err, protocol.ErrEmptyMessage) {
				log.Printf("⚠️ Invalid message from client %s: %v", c.id, err)
			}
			continue
		}
		if !env.Kind.Inbound() {
			log.Printf("⚠️ Client %s sent server-only event %s", c.id, env.Kind.Event())
			continue
		}

		if !c.hub.submit(&Inbound{Client: c, Envelope: env}) {
			return
		}
	}
}

func (c *Client) writePump() {
	opts := c.hub.opts
	ticker := time.NewTicker((opts.PongWait * 9) / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
