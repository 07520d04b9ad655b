package protocol

// Identifies what an envelope carries
type Kind uint8

const (
	KindUnknown Kind = iota

	// Client asks to join a room, or to create one when the id is empty
	KindJoin

	// Server tells the joiner that a fresh room id was generated
	KindRoomCreated

	// Server confirms room membership to the joiner
	KindRoomJoined

	// Freehand stroke segment, relayed to peers
	KindDrawPath

	// Committed line/rectangle/circle, relayed to peers
	KindDrawShape

	KindClear

	// Client reports a completed action's full canvas
	KindSaveSnapshot

	KindUndoRequest
	KindRedoRequest

	// Server pushes an authoritative canvas
	KindSnapshotRestored

	// Server reports how many connections are in the room
	KindPresenceCount

	// Client rolled back to an earlier history point and shares it
	KindRestoreSnapshot
)

// Wire event names
const (
	EventJoinRoom        = "join-room"
	EventRoomCreated     = "room-created"
	EventRoomJoined      = "room-joined"
	EventDrawing         = "drawing"
	EventClearCanvas     = "clear-canvas"
	EventSaveCanvasState = "save-canvas-state"
	EventUndoRequest     = "undo-request"
	EventRedoRequest     = "redo-request"
	EventCanvasRestored  = "canvas-restored"
	EventUserCount       = "user-count"
	EventRestoreCanvas   = "restore-canvas"
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown",
	KindJoin:             "join",
	KindRoomCreated:      "room-created",
	KindRoomJoined:       "room-joined",
	KindDrawPath:         "draw-path",
	KindDrawShape:        "draw-shape",
	KindClear:            "clear",
	KindSaveSnapshot:     "save-snapshot",
	KindUndoRequest:      "undo-request",
	KindRedoRequest:      "redo-request",
	KindSnapshotRestored: "snapshot-restored",
	KindPresenceCount:    "presence-count",
	KindRestoreSnapshot:  "restore-snapshot",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event returns the wire event name used for this kind
func (k Kind) Event() string {
	switch k {
	case KindJoin:
		return EventJoinRoom
	case KindRoomCreated:
		return EventRoomCreated
	case KindRoomJoined:
		return EventRoomJoined
	case KindDrawPath, KindDrawShape:
		return EventDrawing
	case KindClear:
		return EventClearCanvas
	case KindSaveSnapshot:
		return EventSaveCanvasState
	case KindUndoRequest:
		return EventUndoRequest
	case KindRedoRequest:
		return EventRedoRequest
	case KindSnapshotRestored:
		return EventCanvasRestored
	case KindPresenceCount:
		return EventUserCount
	case KindRestoreSnapshot:
		return EventRestoreCanvas
	}
	return ""
}

// Inbound reports whether clients are allowed to send this kind
func (k Kind) Inbound() bool {
	switch k {
	case KindJoin, KindDrawPath, KindDrawShape, KindClear, KindSaveSnapshot,
		KindUndoRequest, KindRedoRequest, KindRestoreSnapshot:
		return true
	}
	return false
}

// IsDrawing reports whether the kind is a transient stroke or shape
func (k Kind) IsDrawing() bool {
	return k == KindDrawPath || k == KindDrawShape
}
