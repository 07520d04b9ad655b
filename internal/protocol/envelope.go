package protocol

import "encoding/json"

// Payload is implemented by every kind-specific body an Envelope can carry.
// The set is closed: only the types in this package satisfy it.
type Payload interface {
	payload()
}

// RoomRef carries a room identifier. An empty ID on a join asks the server
// to generate one.
type RoomRef struct {
	ID string
}

// Point is a canvas coordinate in CSS pixels
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Path is one sample of a freehand stroke (pen or eraser)
type Path struct {
	Type  string  `json:"type"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Begin bool    `json:"begin,omitempty"`
	Color string  `json:"color"`
	Size  float64 `json:"size"`
	Tool  string  `json:"tool"`
}

// Shape is a committed line, rectangle or circle
type Shape struct {
	Type     string  `json:"type"`
	Tool     string  `json:"tool"`
	StartPos Point   `json:"startPos"`
	EndPos   Point   `json:"endPos"`
	Color    string  `json:"color"`
	Size     float64 `json:"size"`
}

// Snapshot is a full raster encoding of the canvas, usually a data URL
type Snapshot struct {
	Data string
}

// Presence is the number of connections joined to a room
type Presence struct {
	Count int
}

func (RoomRef) payload()  {}
func (Path) payload()     {}
func (Shape) payload()    {}
func (Snapshot) payload() {}
func (Presence) payload() {}

// Drawing tools
const (
	ToolPen       = "pen"
	ToolEraser    = "eraser"
	ToolLine      = "line"
	ToolRectangle = "rectangle"
	ToolCircle    = "circle"
)

const (
	drawingTypePath  = "path"
	drawingTypeShape = "shape"
)

// Envelope is the typed message unit exchanged over a connection. It is a
// value: helpers return modified copies and never mutate the receiver.
type Envelope struct {
	Kind    Kind
	Payload Payload
	Origin  string

	// Original drawing bytes, relayed verbatim to peers
	raw json.RawMessage
}

// WithOrigin returns a copy stamped with the sending connection's id
func (e Envelope) WithOrigin(connID string) Envelope {
	e.Origin = connID
	return e
}

// RoomID returns the room reference carried by join / room-created /
// room-joined envelopes
func (e Envelope) RoomID() string {
	if ref, ok := e.Payload.(RoomRef); ok {
		return ref.ID
	}
	return ""
}

// SnapshotData returns the snapshot string carried by the envelope, if any
func (e Envelope) SnapshotData() string {
	if s, ok := e.Payload.(Snapshot); ok {
		return s.Data
	}
	return ""
}

func Join(roomID string) Envelope {
	return Envelope{Kind: KindJoin, Payload: RoomRef{ID: roomID}}
}

func RoomCreated(roomID string) Envelope {
	return Envelope{Kind: KindRoomCreated, Payload: RoomRef{ID: roomID}}
}

func RoomJoined(roomID string) Envelope {
	return Envelope{Kind: KindRoomJoined, Payload: RoomRef{ID: roomID}}
}

func DrawPath(p Path) Envelope {
	p.Type = drawingTypePath
	return Envelope{Kind: KindDrawPath, Payload: p}
}

func DrawShape(s Shape) Envelope {
	s.Type = drawingTypeShape
	return Envelope{Kind: KindDrawShape, Payload: s}
}

func Clear() Envelope {
	return Envelope{Kind: KindClear}
}

func SaveSnapshot(data string) Envelope {
	return Envelope{Kind: KindSaveSnapshot, Payload: Snapshot{Data: data}}
}

func UndoRequest() Envelope {
	return Envelope{Kind: KindUndoRequest}
}

func RedoRequest() Envelope {
	return Envelope{Kind: KindRedoRequest}
}

func SnapshotRestored(data string) Envelope {
	return Envelope{Kind: KindSnapshotRestored, Payload: Snapshot{Data: data}}
}

func PresenceCount(n int) Envelope {
	return Envelope{Kind: KindPresenceCount, Payload: Presence{Count: n}}
}

func RestoreSnapshot(data string) Envelope {
	return Envelope{Kind: KindRestoreSnapshot, Payload: Snapshot{Data: data}}
}
