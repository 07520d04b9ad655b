// Package clientsync keeps a client's canvas and local history in step with
// a room. Local actions are rendered immediately and reported to the server;
// inbound envelopes from peers are rendered as they arrive.
package clientsync

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/manpreetbhatti/sketchroom/backend/internal/protocol"
)

// Renderer draws onto the client's canvas. *raster.Canvas implements it.
type Renderer interface {
	// DrawPath extends the stroke of origin ("" for the local user)
	DrawPath(origin string, p protocol.Path)
	EndPath(origin string)
	DrawShape(s protocol.Shape)
	Clear()
	LoadImage(img image.Image)
	Snapshot() (string, error)
	Restore(snapshot string) error
}

// Emitter sends envelopes to the server. *Conn implements it.
type Emitter interface {
	Send(env protocol.Envelope) error
}

// Policy decides who owns undo and redo
type Policy uint8

const (
	// Undo and redo walk the local history only and the server is not told.
	// Peers keep whatever they last saw.
	PolicyLocal Policy = iota

	// Undo and redo are requests to the server. The local cursor moves when
	// the server answers with canvas-restored, so every participant converges
	// on the room's history.
	PolicyServer
)

func (p Policy) String() string {
	switch p {
	case PolicyLocal:
		return "local"
	case PolicyServer:
		return "server"
	}
	return "unknown"
}

// What produced a history entry
type Action string

const (
	ActionInitial Action = "initial"
	ActionDraw    Action = "draw"
	ActionErase   Action = "erase"
	ActionShape   Action = "shape"
	ActionClear   Action = "clear"
	ActionUpload  Action = "upload"
	ActionReset   Action = "reset"
	ActionRestore Action = "restore"
	ActionRemote  Action = "remote"
)

// Entry is one point in the local history
type Entry struct {
	Snapshot string    `json:"-"`
	Action   Action    `json:"action"`
	Tool     string    `json:"tool,omitempty"`
	Color    string    `json:"color,omitempty"`
	Size     float64   `json:"size,omitempty"`
	At       time.Time `json:"at"`
}

// Pen is the active tool
type Pen struct {
	Tool  string
	Color string
	Size  float64
}

func DefaultPen() Pen {
	return Pen{Tool: protocol.ToolPen, Color: "#000000", Size: 5}
}

const eraserColor = "#FFFFFF"

var ErrNoHistoryEntry = errors.New("no such history entry")

type Options struct {
	Policy Policy
	Pen    Pen
}

// State is the client side of a room session. Safe for concurrent use: the
// connection's read loop calls Apply while the user's actions come from
// elsewhere.
type State struct {
	mu       sync.Mutex
	renderer Renderer
	emitter  Emitter
	policy   Policy
	now      func() time.Time

	pen     Pen
	history []Entry
	cursor  int

	// Shape start while the pointer is down
	pendingStart *protocol.Point
	drawing      bool

	// Undo (-1) or redo (+1) requested from the server and not yet answered
	pendingStep int

	// Index of the oldest entry the room's history also holds, -1 if none.
	// The server cannot undo past its first entry, so neither can we.
	shared int

	roomID string
	users  int
}

// New seeds the history with the renderer's current canvas
func New(renderer Renderer, emitter Emitter, opts Options) (*State, error) {
	s := &State{
		renderer: renderer,
		emitter:  emitter,
		policy:   opts.Policy,
		now:      time.Now,
		pen:      opts.Pen,
		cursor:   -1,
		shared:   -1,
	}
	if s.pen.Tool == "" {
		s.pen = DefaultPen()
	}

	snapshot, err := renderer.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("initial snapshot: %w", err)
	}
	s.push(Entry{Snapshot: snapshot, Action: ActionInitial, At: s.now()})
	return s, nil
}

// push truncates everything after the cursor and appends
func (s *State) push(e Entry) {
	if s.shared > s.cursor {
		s.shared = -1
	}
	s.history = append(s.history[:s.cursor+1], e)
	s.cursor = len(s.history) - 1
}

// commit snapshots the canvas after a completed local action, records it and
// tells the room
func (s *State) commit(action Action) error {
	snapshot, err := s.renderer.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	entry := Entry{Snapshot: snapshot, Action: action, At: s.now()}
	switch action {
	case ActionDraw, ActionErase, ActionShape:
		entry.Tool = s.pen.Tool
		entry.Color = s.pen.Color
		entry.Size = s.pen.Size
	}
	s.push(entry)
	s.pendingStep = 0

	if err := s.emit(protocol.SaveSnapshot(snapshot)); err != nil {
		return err
	}
	s.markShared()
	return nil
}

// markShared records that the entry under the cursor reached the room
func (s *State) markShared() {
	if s.roomID != "" && s.shared < 0 {
		s.shared = s.cursor
	}
}

// emit is a no-op until the room is known, matching a browser client that
// only reports once it has joined
func (s *State) emit(env protocol.Envelope) error {
	if s.roomID == "" || s.emitter == nil {
		return nil
	}
	if err := s.emitter.Send(env); err != nil {
		return fmt.Errorf("send %s: %w", env.Kind.Event(), err)
	}
	return nil
}

// Apply renders an envelope received from the server
func (s *State) Apply(env protocol.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch env.Kind {
	case protocol.KindRoomCreated, protocol.KindRoomJoined:
		if id := env.RoomID(); id != s.roomID {
			s.roomID = id
			s.shared = -1
			s.pendingStep = 0
		}

	case protocol.KindDrawPath:
		if p, ok := env.Payload.(protocol.Path); ok {
			s.renderer.DrawPath(env.Origin, p)
		}

	case protocol.KindDrawShape:
		if shape, ok := env.Payload.(protocol.Shape); ok {
			s.renderer.DrawShape(shape)
		}

	case protocol.KindClear:
		s.renderer.Clear()

	case protocol.KindSnapshotRestored:
		return s.restored(env.SnapshotData())

	case protocol.KindPresenceCount:
		if p, ok := env.Payload.(protocol.Presence); ok {
			s.users = p.Count
		}
	}
	return nil
}

func (s *State) restored(snapshot string) error {
	if snapshot == "" {
		return nil
	}
	if err := s.renderer.Restore(snapshot); err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	// The answer to our own undo or redo: walk the cursor instead of
	// growing the history
	if s.pendingStep != 0 {
		target := s.cursor + s.pendingStep
		s.pendingStep = 0
		if target >= 0 && target < len(s.history) && s.history[target].Snapshot == snapshot {
			s.cursor = target
			return nil
		}
	}

	s.push(Entry{Snapshot: snapshot, Action: ActionRemote, At: s.now()})
	s.markShared()
	return nil
}

func (s *State) SetPen(p Pen) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pen = p
}

func (s *State) Pen() Pen {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pen
}

func freehand(tool string) bool {
	return tool == protocol.ToolPen || tool == protocol.ToolEraser
}

// PointerDown starts a stroke, or remembers where a shape starts
func (s *State) PointerDown(at protocol.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.drawing = true
	if !freehand(s.pen.Tool) {
		s.pendingStart = &at
		return nil
	}
	path := s.path(at)
	path.Begin = true
	s.renderer.DrawPath("", path)
	return s.emit(protocol.DrawPath(path))
}

// PointerMove extends the stroke. Shapes are not previewed.
func (s *State) PointerMove(at protocol.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.drawing || !freehand(s.pen.Tool) {
		return nil
	}
	path := s.path(at)
	s.renderer.DrawPath("", path)
	return s.emit(protocol.DrawPath(path))
}

// PointerUp completes the stroke or commits the shape and records it in
// history
func (s *State) PointerUp(at protocol.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.drawing {
		return nil
	}
	s.drawing = false

	if freehand(s.pen.Tool) {
		s.renderer.EndPath("")
		action := ActionDraw
		if s.pen.Tool == protocol.ToolEraser {
			action = ActionErase
		}
		return s.commit(action)
	}

	if s.pendingStart == nil {
		return nil
	}
	shape := protocol.Shape{
		Tool:     s.pen.Tool,
		StartPos: *s.pendingStart,
		EndPos:   at,
		Color:    s.pen.Color,
		Size:     s.pen.Size,
	}
	s.pendingStart = nil

	s.renderer.DrawShape(shape)
	if err := s.emit(protocol.DrawShape(shape)); err != nil {
		return err
	}
	return s.commit(ActionShape)
}

func (s *State) path(at protocol.Point) protocol.Path {
	p := protocol.Path{X: at.X, Y: at.Y, Color: s.pen.Color, Size: s.pen.Size, Tool: s.pen.Tool}
	if s.pen.Tool == protocol.ToolEraser {
		p.Color = eraserColor
		p.Size = s.pen.Size * 2
	}
	return p
}

// ClearCanvas wipes the canvas for everyone
func (s *State) ClearCanvas() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.renderer.Clear()
	if err := s.emit(protocol.Clear()); err != nil {
		return err
	}
	return s.commit(ActionClear)
}

// Reset wipes the canvas and the local history. Peers are not cleared; they
// receive the blank canvas as a snapshot on their next join.
func (s *State) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.renderer.Clear()
	s.history = nil
	s.cursor = -1
	s.shared = -1
	s.pendingStep = 0
	return s.commit(ActionReset)
}

// ImportImage replaces the canvas with img, scaled to fit
func (s *State) ImportImage(img image.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.renderer.LoadImage(img)
	return s.commit(ActionUpload)
}

// Undo steps back one history entry. Reports whether there was anything to
// undo. Under PolicyServer only entries the room has seen can be undone.
func (s *State) Undo() (bool, error) {
	return s.step(-1)
}

// Redo steps forward one history entry
func (s *State) Redo() (bool, error) {
	return s.step(1)
}

func (s *State) step(delta int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.cursor + delta
	if target < s.floor() || target >= len(s.history) {
		return false, nil
	}

	if s.server() {
		s.pendingStep = delta
		req := protocol.UndoRequest()
		if delta > 0 {
			req = protocol.RedoRequest()
		}
		return true, s.emit(req)
	}

	if err := s.renderer.Restore(s.history[target].Snapshot); err != nil {
		return false, fmt.Errorf("restore: %w", err)
	}
	s.cursor = target
	return true, nil
}

func (s *State) server() bool {
	return s.policy == PolicyServer && s.roomID != ""
}

// floor is the lowest index undo may reach
func (s *State) floor() int {
	if !s.server() {
		return 0
	}
	if s.shared < 0 {
		return s.cursor
	}
	return s.shared
}

// RestoreTo brings back history entry i as a new entry and shows it to the
// room
func (s *State) RestoreTo(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i < 0 || i >= len(s.history) {
		return ErrNoHistoryEntry
	}
	entry := s.history[i]
	if err := s.renderer.Restore(entry.Snapshot); err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	entry.Action = ActionRestore
	entry.At = s.now()
	s.push(entry)
	s.pendingStep = 0
	if err := s.emit(protocol.RestoreSnapshot(entry.Snapshot)); err != nil {
		return err
	}
	s.markShared()
	return nil
}

// History returns a copy of the local history
func (s *State) History() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.history...)
}

func (s *State) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *State) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor > s.floor()
}

func (s *State) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor < len(s.history)-1
}

// RoomID is empty until the server confirms the join
func (s *State) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Users is the last presence count received
func (s *State) Users() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users
}
