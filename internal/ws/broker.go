package ws

import (
	"log"

	"github.com/manpreetbhatti/sketchroom/backend/internal/activity"
	"github.com/manpreetbhatti/sketchroom/backend/internal/db"
	"github.com/manpreetbhatti/sketchroom/backend/internal/protocol"
	"github.com/manpreetbhatti/sketchroom/backend/internal/room"
)

// Everything in this file runs on the Run goroutine with h.mu held.
//
// Protocol misuse (drawing before joining, a second join, undo with nothing
// to undo) is dropped without a reply: it is treated as a stale or duplicate
// message, not something to report back.

func (h *Hub) handleRegister(c *Client) {
	h.clients[c.id] = c
	log.Printf("Client %s connected (total: %d)", c.id, len(h.clients))
}

func (h *Hub) handleUnregister(c *Client) {
	h.disconnect(c)
}

func (h *Hub) handleInbound(in *Inbound) {
	c := in.Client
	if c == nil || c.state == StateClosed || c.evicting {
		return
	}

	env := in.Envelope.WithOrigin(c.id)

	switch env.Kind {
	case protocol.KindJoin:
		h.join(c, env.RoomID())
	case protocol.KindDrawPath, protocol.KindDrawShape:
		h.draw(c, env)
	case protocol.KindClear:
		h.clear(c, env)
	case protocol.KindSaveSnapshot:
		h.saveSnapshot(c, env.SnapshotData())
	case protocol.KindUndoRequest:
		h.stepHistory(c, true)
	case protocol.KindRedoRequest:
		h.stepHistory(c, false)
	case protocol.KindRestoreSnapshot:
		h.restoreSnapshot(c, env.SnapshotData())
	}
}

// currentRoom returns the room the client is joined to, or nil when the
// client is not InRoom
func (h *Hub) currentRoom(c *Client) *room.State {
	if c.state != StateInRoom {
		return nil
	}
	state, ok := h.registry.Get(c.roomID)
	if !ok {
		return nil
	}
	return state
}

func (h *Hub) join(c *Client, requestedID string) {
	if c.state != StateConnected {
		return
	}

	state, created, err := h.registry.GetOrCreate(requestedID)
	if err != nil {
		log.Printf("⚠️ Client %s could not join: %v", c.id, err)
		return
	}

	state.AddParticipant(c.id)
	c.state = StateInRoom
	c.roomID = state.ID

	if created {
		h.record(activity.KindOpened, state.ID, "")
	}
	h.record(db.EventJoined, state.ID, c.id)
	log.Printf("Client %s joined room %s (total: %d)", c.id, state.ID, state.ParticipantCount())

	if created && requestedID == "" {
		h.sendTo(c, protocol.RoomCreated(state.ID))
	}
	h.sendTo(c, protocol.RoomJoined(state.ID))
	h.broadcast(state, protocol.PresenceCount(state.ParticipantCount()), "")

	// Must follow room-joined so the client knows its room before it
	// renders the restored canvas
	if snapshot, ok := state.Snapshot(); ok {
		h.sendTo(c, protocol.SnapshotRestored(snapshot))
	}
}

func (h *Hub) draw(c *Client, env protocol.Envelope) {
	state := h.currentRoom(c)
	if state == nil {
		return
	}
	h.broadcast(state, env, c.id)
}

func (h *Hub) clear(c *Client, env protocol.Envelope) {
	state := h.currentRoom(c)
	if state == nil {
		return
	}
	state.Clear()
	h.record(db.EventClear, state.ID, c.id)
	h.broadcast(state, env, c.id)
}

func (h *Hub) saveSnapshot(c *Client, snapshot string) {
	state := h.currentRoom(c)
	if state == nil || snapshot == "" {
		return
	}
	state.SaveSnapshot(snapshot)
	h.record(db.EventSnapshot, state.ID, c.id)
}

// stepHistory moves the room cursor and pushes the result to everyone,
// requester included, so every participant ends up on the same canvas
func (h *Hub) stepHistory(c *Client, undo bool) {
	state := h.currentRoom(c)
	if state == nil {
		return
	}

	var snapshot string
	var ok bool
	kind := db.EventRedo
	if undo {
		snapshot, ok = state.Undo()
		kind = db.EventUndo
	} else {
		snapshot, ok = state.Redo()
	}
	if !ok {
		return
	}

	h.record(kind, state.ID, c.id)
	h.broadcast(state, protocol.SnapshotRestored(snapshot), "")
}

// restoreSnapshot handles a client rolling back to one of its own history
// points: the snapshot becomes a new history entry and peers are told to
// show it. The sender already displays it.
func (h *Hub) restoreSnapshot(c *Client, snapshot string) {
	state := h.currentRoom(c)
	if state == nil || snapshot == "" {
		return
	}
	state.SaveSnapshot(snapshot)
	h.record(db.EventRestore, state.ID, c.id)
	h.broadcast(state, protocol.SnapshotRestored(snapshot), c.id)
}

// disconnect is the single exit path: explicit close, heartbeat expiry,
// read error and slow-consumer eviction all end up here
func (h *Hub) disconnect(c *Client) {
	if c.state == StateClosed {
		return
	}

	wasInRoom := c.state == StateInRoom
	c.state = StateClosed
	delete(h.clients, c.id)
	close(c.send)

	if !wasInRoom {
		log.Printf("Client %s disconnected before joining", c.id)
		return
	}

	state, ok := h.registry.Get(c.roomID)
	if !ok || !state.RemoveParticipant(c.id) {
		return
	}
	h.record(db.EventLeft, state.ID, c.id)

	if h.registry.RemoveIfEmpty(state.ID) {
		if h.recorder != nil {
			h.recorder.Record(activity.Entry{
				Kind:   activity.KindClosed,
				RoomID: state.ID,
				Peak:   state.PeakParticipants(),
				At:     h.now(),
			})
		}
		log.Printf("Room %s closed (empty)", state.ID)
		return
	}

	log.Printf("Client %s left room %s (remaining: %d)", c.id, state.ID, state.ParticipantCount())
	h.broadcast(state, protocol.PresenceCount(state.ParticipantCount()), "")
}

// sendTo queues one envelope for a single client
func (h *Hub) sendTo(c *Client, env protocol.Envelope) {
	data, err := protocol.Encode(env)
	if err != nil {
		log.Printf("Failed to encode %s: %v", env.Kind, err)
		return
	}
	h.deliver(c, data)
}

// broadcast queues an envelope for every participant of the room except
// the one with id exclude (pass "" to include everyone)
func (h *Hub) broadcast(state *room.State, env protocol.Envelope, exclude string) {
	data, err := protocol.Encode(env)
	if err != nil {
		log.Printf("Failed to encode %s: %v", env.Kind, err)
		return
	}

	for _, id := range state.Participants() {
		if id == exclude {
			continue
		}
		if client, ok := h.clients[id]; ok {
			h.deliver(client, data)
		}
	}
}

func (h *Hub) deliver(c *Client, data []byte) {
	if c.state == StateClosed || c.evicting {
		return
	}
	select {
	case c.send <- data:
	default:
		// Send buffer full: drop the client rather than stall the room
		c.evicting = true
		h.evictions = append(h.evictions, c)
	}
}

func (h *Hub) flushEvictions() {
	for len(h.evictions) > 0 {
		c := h.evictions[0]
		h.evictions = h.evictions[1:]
		log.Printf("⚠️ Evicting slow client %s", c.id)
		h.disconnect(c)
	}
}
