package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/manpreetbhatti/sketchroom/backend/internal/db"
	"github.com/manpreetbhatti/sketchroom/backend/internal/protocol"
	"github.com/manpreetbhatti/sketchroom/backend/internal/ws"
)

// DropCounter reports activity entries lost to a full queue.
// *activity.Service satisfies it.
type DropCounter interface {
	Dropped() int64
}

type API struct {
	hub      *ws.Hub
	database *db.Database
	activity DropCounter
}

// New creates the API. database and activity may be nil; recorded history is
// then left out of responses.
func New(hub *ws.Hub, database *db.Database, activity DropCounter) *API {
	return &API{
		hub:      hub,
		database: database,
		activity: activity,
	}
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func queryInt(r *http.Request, name string, def, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v <= 0 || v > max {
		return def
	}
	return v
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":   a.hub.GetRoomCount(),
		"active_clients": a.hub.GetClientCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats()
		if err == nil {
			stats["total_sessions"] = dbStats["session_count"]
			stats["total_events"] = dbStats["event_count"]
			stats["total_snapshots"] = dbStats["snapshot_count"]
		} else {
			log.Printf("Failed to read stats: %v", err)
		}
	}
	if a.activity != nil {
		stats["dropped_activity"] = a.activity.Dropped()
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Room handlers

type RoomResponse struct {
	ID     string          `json:"id"`
	Active bool            `json:"active"`
	Live   *ws.RoomSummary `json:"live,omitempty"`
	Latest *db.Session     `json:"latest_session,omitempty"`
}

// ListRoomsHandler returns the rooms alive right now and the most recent
// recorded sessions
func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20, 100)
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	response := map[string]interface{}{
		"rooms":  a.hub.Rooms(),
		"limit":  limit,
		"offset": offset,
	}

	if a.database != nil {
		sessions, err := a.database.ListSessions(limit, offset)
		if err != nil {
			errorResponse(w, http.StatusInternalServerError, "Failed to list sessions")
			return
		}
		if sessions == nil {
			sessions = []db.Session{}
		}
		response["sessions"] = sessions
	}

	jsonResponse(w, http.StatusOK, response)
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]
	if !protocol.ValidRoomID(roomID) {
		errorResponse(w, http.StatusBadRequest, "Invalid room ID")
		return
	}

	response := RoomResponse{ID: roomID}
	if summary, ok := a.hub.Room(roomID); ok {
		response.Active = true
		response.Live = &summary
	}

	if a.database != nil {
		latest, err := a.database.GetLatestSession(roomID)
		if err != nil {
			errorResponse(w, http.StatusInternalServerError, "Failed to get room")
			return
		}
		response.Latest = latest
	}

	if !response.Active && response.Latest == nil {
		errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}

	jsonResponse(w, http.StatusOK, response)
}

// RoomActivityHandler lists recorded sessions and events for one room id,
// newest first
func (a *API) RoomActivityHandler(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]
	if !protocol.ValidRoomID(roomID) {
		errorResponse(w, http.StatusBadRequest, "Invalid room ID")
		return
	}
	if a.database == nil {
		errorResponse(w, http.StatusServiceUnavailable, "Activity is not recorded")
		return
	}

	limit := queryInt(r, "limit", 50, 500)

	sessions, err := a.database.ListRoomSessions(roomID, limit)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}
	events, err := a.database.ListEvents(roomID, limit)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list events")
		return
	}

	if sessions == nil {
		sessions = []db.Session{}
	}
	if events == nil {
		events = []db.Event{}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"room_id":  roomID,
		"sessions": sessions,
		"events":   events,
		"limit":    limit,
	})
}

func (a *API) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	ws.ServeWs(a.hub, w, r)
}
