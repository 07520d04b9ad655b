package clientsync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/manpreetbhatti/sketchroom/backend/internal/protocol"
)

const writeWait = 10 * time.Second

var ErrClosed = errors.New("connection closed")

var _ Emitter = (*Conn)(nil)

// Conn is a websocket connection to a sketchroom server
type Conn struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	closed  bool
}

// Dial connects to the server's websocket endpoint, e.g. ws://host:8080/ws
func Dial(ctx context.Context, url string, header http.Header) (*Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Conn{conn: conn}, nil
}

// Send writes one envelope. Safe for concurrent use.
func (c *Conn) Send(env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Join asks for a room. An empty id asks the server to create one.
func (c *Conn) Join(roomID string) error {
	return c.Send(protocol.Join(roomID))
}

// Run reads envelopes and applies them to state until the connection drops
// or ctx is done. Undecodable frames are logged and skipped.
func (c *Conn) Run(ctx context.Context, state *State) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-stop:
		}
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		env, err := protocol.Decode(message)
		if err != nil {
			log.Printf("⚠️ Skipping message from server: %v", err)
			continue
		}
		if err := state.Apply(env); err != nil {
			log.Printf("⚠️ Failed to apply %s: %v", env.Kind.Event(), err)
		}
	}
}

// Close sends a close frame and closes the connection
func (c *Conn) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
