package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrEmptyMessage   = errors.New("empty message")
	ErrMalformed      = errors.New("malformed message")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrInvalidPayload = errors.New("invalid payload")
)

// MaxRoomIDLength bounds client-supplied room ids so they stay usable as a
// URL path segment
const MaxRoomIDLength = 64

// frame is the JSON shape on the wire: {"event": name, "data": ..., "from": id}
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	From  string          `json:"from,omitempty"`
}

// ValidRoomID reports whether id is non-empty and made only of URL-safe
// characters
func ValidRoomID(id string) bool {
	if id == "" || len(id) > MaxRoomIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// Decode parses and validates one wire frame into an Envelope. Anything that
// does not match a known event and payload shape is rejected here, so the
// broker only ever sees well-formed envelopes.
func Decode(data []byte) (Envelope, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Envelope{}, ErrEmptyMessage
	}

	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	env, err := decodeFrame(f)
	if err != nil {
		return Envelope{}, err
	}
	env.Origin = f.From
	return env, nil
}

func decodeFrame(f frame) (Envelope, error) {
	switch f.Event {
	case EventJoinRoom, EventRoomCreated, EventRoomJoined:
		id, err := decodeRoomID(f.Data)
		if err != nil {
			return Envelope{}, err
		}
		if f.Event != EventJoinRoom && id == "" {
			return Envelope{}, fmt.Errorf("%w: %s requires a room id", ErrInvalidPayload, f.Event)
		}
		switch f.Event {
		case EventRoomCreated:
			return RoomCreated(id), nil
		case EventRoomJoined:
			return RoomJoined(id), nil
		}
		return Join(id), nil

	case EventDrawing:
		return decodeDrawing(f.Data)

	case EventClearCanvas:
		return Clear(), nil
	case EventUndoRequest:
		return UndoRequest(), nil
	case EventRedoRequest:
		return RedoRequest(), nil

	case EventSaveCanvasState, EventCanvasRestored, EventRestoreCanvas:
		snapshot, err := decodeSnapshot(f.Data)
		if err != nil {
			return Envelope{}, err
		}
		switch f.Event {
		case EventCanvasRestored:
			return SnapshotRestored(snapshot), nil
		case EventRestoreCanvas:
			return RestoreSnapshot(snapshot), nil
		}
		return SaveSnapshot(snapshot), nil

	case EventUserCount:
		var n int
		if err := json.Unmarshal(f.Data, &n); err != nil || n < 0 {
			return Envelope{}, fmt.Errorf("%w: user-count must be a non-negative integer", ErrInvalidPayload)
		}
		return PresenceCount(n), nil
	}

	return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
}

func isNull(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func decodeRoomID(data json.RawMessage) (string, error) {
	if isNull(data) {
		return "", nil
	}
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return "", fmt.Errorf("%w: room id must be a string", ErrInvalidPayload)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", nil
	}
	if !ValidRoomID(id) {
		return "", fmt.Errorf("%w: room id %q", ErrInvalidPayload, id)
	}
	return id, nil
}

func decodeSnapshot(data json.RawMessage) (string, error) {
	var snapshot string
	if isNull(data) {
		return "", fmt.Errorf("%w: missing snapshot", ErrInvalidPayload)
	}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return "", fmt.Errorf("%w: snapshot must be a string", ErrInvalidPayload)
	}
	if snapshot == "" {
		return "", fmt.Errorf("%w: empty snapshot", ErrInvalidPayload)
	}
	return snapshot, nil
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func decodeDrawing(data json.RawMessage) (Envelope, error) {
	if isNull(data) {
		return Envelope{}, fmt.Errorf("%w: missing drawing", ErrInvalidPayload)
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Envelope{}, fmt.Errorf("%w: drawing must be an object", ErrInvalidPayload)
	}

	raw := append(json.RawMessage(nil), data...)

	switch head.Type {
	case drawingTypePath:
		var p Path
		if err := json.Unmarshal(data, &p); err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if !finite(p.X, p.Y, p.Size) || p.Size < 0 {
			return Envelope{}, fmt.Errorf("%w: path geometry", ErrInvalidPayload)
		}
		env := DrawPath(p)
		env.raw = raw
		return env, nil

	case drawingTypeShape:
		var s Shape
		if err := json.Unmarshal(data, &s); err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		switch s.Tool {
		case ToolLine, ToolRectangle, ToolCircle:
		default:
			return Envelope{}, fmt.Errorf("%w: shape tool %q", ErrInvalidPayload, s.Tool)
		}
		if !finite(s.StartPos.X, s.StartPos.Y, s.EndPos.X, s.EndPos.Y, s.Size) || s.Size < 0 {
			return Envelope{}, fmt.Errorf("%w: shape geometry", ErrInvalidPayload)
		}
		env := DrawShape(s)
		env.raw = raw
		return env, nil
	}

	return Envelope{}, fmt.Errorf("%w: drawing type %q", ErrInvalidPayload, head.Type)
}

// Encode renders an Envelope as a wire frame. Drawing envelopes that came
// from Decode are re-emitted with their original payload bytes.
func Encode(e Envelope) ([]byte, error) {
	f := frame{Event: e.Kind.Event(), From: e.Origin}
	if f.Event == "" {
		return nil, fmt.Errorf("%w: kind %s", ErrUnknownEvent, e.Kind)
	}

	var err error
	switch p := e.Payload.(type) {
	case nil:
	case RoomRef:
		if p.ID == "" {
			f.Data = json.RawMessage("null")
		} else {
			f.Data, err = json.Marshal(p.ID)
		}
	case Path, Shape:
		if e.raw != nil {
			f.Data = e.raw
		} else {
			f.Data, err = json.Marshal(p)
		}
	case Snapshot:
		f.Data, err = json.Marshal(p.Data)
	case Presence:
		f.Data, err = json.Marshal(p.Count)
	default:
		return nil, fmt.Errorf("%w: payload %T", ErrInvalidPayload, p)
	}
	if err != nil {
		return nil, err
	}

	return json.Marshal(f)
}
