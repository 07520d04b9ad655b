package ws

import (
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/manpreetbhatti/sketchroom/backend/internal/activity"
	"github.com/manpreetbhatti/sketchroom/backend/internal/protocol"
	"github.com/manpreetbhatti/sketchroom/backend/internal/room"
)

// Recorder receives room activity. *activity.Service satisfies it.
type Recorder interface {
	Record(activity.Entry)
}

type Options struct {
	RoomIDLength int
	MaxHistory   int

	SendBuffer        int
	WriteWait         time.Duration
	PongWait          time.Duration
	MaxMessageSize    int64
	MessagesPerSecond float64
	MessageBurst      int
	CheckOrigin       func(r *http.Request) bool
}

func DefaultOptions() Options {
	return Options{
		RoomIDLength:      room.DefaultIDLength,
		MaxHistory:        100,
		SendBuffer:        256,
		WriteWait:         10 * time.Second,
		PongWait:          60 * time.Second,
		MaxMessageSize:    8 << 20,
		MessagesPerSecond: 120,
		MessageBurst:      240,
	}
}

// Hub owns every room and every connection. All protocol handling happens
// on the Run goroutine, one inbound event at a time, so room state needs no
// locking of its own; mu only lets the HTTP API read a consistent view.
type Hub struct {
	registry *room.Registry

	// Connected clients by connection id
	clients map[string]*Client

	// Inbound envelopes from clients
	inbound chan *Inbound

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Clients whose send buffer overflowed during the current event
	evictions []*Client

	recorder Recorder
	opts     Options
	upgrader websocket.Upgrader
	now      func() time.Time

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	mu sync.RWMutex
}

// Inbound is one decoded envelope and the client that sent it
type Inbound struct {
	Client   *Client
	Envelope protocol.Envelope
}

// NewHub creates a hub. recorder may be nil.
func NewHub(recorder Recorder, opts Options) *Hub {
	defaults := DefaultOptions()
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaults.SendBuffer
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaults.WriteWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaults.PongWait
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaults.MaxMessageSize
	}
	if opts.MessagesPerSecond <= 0 || opts.MessageBurst <= 0 {
		opts.MessagesPerSecond = defaults.MessagesPerSecond
		opts.MessageBurst = defaults.MessageBurst
	}
	if opts.CheckOrigin == nil {
		opts.CheckOrigin = func(r *http.Request) bool { return true }
	}

	return &Hub{
		registry: room.NewRegistry(room.Options{
			IDLength:   opts.RoomIDLength,
			MaxHistory: opts.MaxHistory,
		}),
		clients:    make(map[string]*Client),
		inbound:    make(chan *Inbound),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		recorder:   recorder,
		opts:       opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     opts.CheckOrigin,
		},
		now:  time.Now,
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (h *Hub) Run() {
	h.running.Store(true)
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.handleRegister(client)
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.handleUnregister(client)
			h.flushEvictions()
			h.mu.Unlock()

		case in := <-h.inbound:
			h.mu.Lock()
			h.handleInbound(in)
			h.flushEvictions()
			h.mu.Unlock()

		case <-h.quit:
			h.mu.Lock()
			h.closeAll()
			h.mu.Unlock()
			return
		}
	}
}

// Stop ends Run and closes every client. Safe to call more than once, and
// before Run was ever started; a Run started afterwards returns at once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
	if h.running.Load() {
		<-h.done
	}
}

func (h *Hub) closeAll() {
	for _, client := range h.clients {
		if client.state != StateClosed {
			client.state = StateClosed
			close(client.send)
		}
	}
	h.clients = make(map[string]*Client)
	h.registry = room.NewRegistry(room.Options{
		IDLength:   h.opts.RoomIDLength,
		MaxHistory: h.opts.MaxHistory,
	})
	log.Println("Hub stopped, all clients closed")
}

func (h *Hub) record(kind, roomID, connID string) {
	if h.recorder == nil {
		return
	}
	h.recorder.Record(activity.Entry{
		Kind:         kind,
		RoomID:       roomID,
		ConnectionID: connID,
		At:           h.now(),
	})
}

// Submits an envelope to the event loop. Returns false once the hub stopped.
func (h *Hub) submit(in *Inbound) bool {
	select {
	case h.inbound <- in:
		return true
	case <-h.quit:
		return false
	}
}

func (h *Hub) enqueueRegister(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.quit:
		return false
	}
}

func (h *Hub) enqueueUnregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// Room summaries for the HTTP API

type RoomSummary struct {
	ID           string `json:"id"`
	Participants int    `json:"participants"`
	HistoryLen   int    `json:"history_length"`
	Cursor       int    `json:"history_cursor"`
	HasSnapshot  bool   `json:"has_snapshot"`
}

func summarize(state *room.State) RoomSummary {
	_, hasSnapshot := state.Snapshot()
	return RoomSummary{
		ID:           state.ID,
		Participants: state.ParticipantCount(),
		HistoryLen:   state.HistoryLen(),
		Cursor:       state.Cursor(),
		HasSnapshot:  hasSnapshot,
	}
}

func (h *Hub) GetRoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.registry.Len()
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetActiveRooms maps room id to participant count
func (h *Hub) GetActiveRooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms := make(map[string]int, h.registry.Len())
	for _, state := range h.registry.All() {
		rooms[state.ID] = state.ParticipantCount()
	}
	return rooms
}

func (h *Hub) Rooms() []RoomSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()

	states := h.registry.All()
	summaries := make([]RoomSummary, len(states))
	for i, state := range states {
		summaries[i] = summarize(state)
	}
	return summaries
}

func (h *Hub) Room(id string) (RoomSummary, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	state, ok := h.registry.Get(id)
	if !ok {
		return RoomSummary{}, false
	}
	return summarize(state), true
}
