package db

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Database records room activity: when rooms opened and closed, who joined,
// how many snapshots and undo/redo steps happened. Canvas contents are never
// stored, so a restart always starts from blank rooms.
type Database struct {
	db *sql.DB
}

// One lifetime of a room id, from first join to last leave
type Session struct {
	ID               int64      `json:"id"`
	RoomID           string     `json:"room_id"`
	OpenedAt         time.Time  `json:"opened_at"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`
	PeakParticipants int        `json:"peak_participants"`
	SnapshotCount    int        `json:"snapshot_count"`
	UndoCount        int        `json:"undo_count"`
	RedoCount        int        `json:"redo_count"`
	ClearCount       int        `json:"clear_count"`
}

type Event struct {
	ID           int64     `json:"id"`
	SessionID    int64     `json:"session_id"`
	RoomID       string    `json:"room_id"`
	Kind         string    `json:"kind"`
	ConnectionID string    `json:"connection_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Event kinds
const (
	EventJoined   = "joined"
	EventLeft     = "left"
	EventSnapshot = "snapshot"
	EventUndo     = "undo"
	EventRedo     = "redo"
	EventClear    = "clear"
	EventRestore  = "restore"
)

func New(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("Database initialized at %s", dbPath)
	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS room_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		opened_at INTEGER NOT NULL,
		closed_at INTEGER,
		peak_participants INTEGER NOT NULL DEFAULT 0,
		snapshot_count INTEGER NOT NULL DEFAULT 0,
		undo_count INTEGER NOT NULL DEFAULT 0,
		redo_count INTEGER NOT NULL DEFAULT 0,
		clear_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_room_sessions_room_id ON room_sessions(room_id, opened_at DESC);

	CREATE TABLE IF NOT EXISTS room_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		room_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		connection_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES room_sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_room_events_room_id ON room_events(room_id, id DESC);
	CREATE INDEX IF NOT EXISTS idx_room_events_created_at ON room_events(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Session operations

// OpenSession starts a new lifetime for roomID
func (d *Database) OpenSession(roomID string, at time.Time) (int64, error) {
	result, err := d.db.Exec(
		"INSERT INTO room_sessions (room_id, opened_at) VALUES (?, ?)",
		roomID, toMillis(at),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// CloseSession ends the open session for roomID, if any
func (d *Database) CloseSession(roomID string, at time.Time, peak int) error {
	_, err := d.db.Exec(`
		UPDATE room_sessions
		SET closed_at = ?, peak_participants = MAX(peak_participants, ?)
		WHERE id = (
			SELECT id FROM room_sessions
			WHERE room_id = ? AND closed_at IS NULL
			ORDER BY id DESC
			LIMIT 1
		)
	`, toMillis(at), peak, roomID)
	return err
}

// CloseDanglingSessions closes sessions left open by a previous process.
// Rooms live in memory only, so none of them can still be active.
func (d *Database) CloseDanglingSessions(at time.Time) (int64, error) {
	result, err := d.db.Exec(
		"UPDATE room_sessions SET closed_at = ? WHERE closed_at IS NULL",
		toMillis(at),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanSession(scanner interface{ Scan(...any) error }) (Session, error) {
	var s Session
	var opened int64
	var closed sql.NullInt64
	err := scanner.Scan(&s.ID, &s.RoomID, &opened, &closed, &s.PeakParticipants,
		&s.SnapshotCount, &s.UndoCount, &s.RedoCount, &s.ClearCount)
	if err != nil {
		return Session{}, err
	}
	s.OpenedAt = fromMillis(opened)
	if closed.Valid {
		t := fromMillis(closed.Int64)
		s.ClosedAt = &t
	}
	return s, nil
}

const sessionColumns = `id, room_id, opened_at, closed_at, peak_participants,
	snapshot_count, undo_count, redo_count, clear_count`

func (d *Database) querySessions(query string, args ...any) ([]Session, error) {
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// ListSessions returns sessions across all rooms, newest first
func (d *Database) ListSessions(limit, offset int) ([]Session, error) {
	return d.querySessions(
		"SELECT "+sessionColumns+" FROM room_sessions ORDER BY id DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
}

// ListRoomSessions returns the sessions recorded for one room id, newest first
func (d *Database) ListRoomSessions(roomID string, limit int) ([]Session, error) {
	return d.querySessions(
		"SELECT "+sessionColumns+" FROM room_sessions WHERE room_id = ? ORDER BY id DESC LIMIT ?",
		roomID, limit,
	)
}

// GetLatestSession returns nil when the room was never recorded
func (d *Database) GetLatestSession(roomID string) (*Session, error) {
	row := d.db.QueryRow(
		"SELECT "+sessionColumns+" FROM room_sessions WHERE room_id = ? ORDER BY id DESC LIMIT 1",
		roomID,
	)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Event operations

var counterColumns = map[string]string{
	EventSnapshot: "snapshot_count",
	EventRestore:  "snapshot_count",
	EventUndo:     "undo_count",
	EventRedo:     "redo_count",
	EventClear:    "clear_count",
}

// RecordEvent appends an event to the room's open session and bumps the
// matching counter. Events for a room with no open session are dropped.
func (d *Database) RecordEvent(roomID, kind, connectionID string, at time.Time) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var sessionID int64
	err = tx.QueryRow(
		"SELECT id FROM room_sessions WHERE room_id = ? AND closed_at IS NULL ORDER BY id DESC LIMIT 1",
		roomID,
	).Scan(&sessionID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(
		"INSERT INTO room_events (session_id, room_id, kind, connection_id, created_at) VALUES (?, ?, ?, ?, ?)",
		sessionID, roomID, kind, connectionID, toMillis(at),
	); err != nil {
		return err
	}

	if column, ok := counterColumns[kind]; ok {
		query := fmt.Sprintf("UPDATE room_sessions SET %s = %s + 1 WHERE id = ?", column, column)
		if _, err := tx.Exec(query, sessionID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListEvents returns the most recent events for a room, newest first
func (d *Database) ListEvents(roomID string, limit int) ([]Event, error) {
	rows, err := d.db.Query(`
		SELECT id, session_id, room_id, kind, connection_id, created_at
		FROM room_events
		WHERE room_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var created int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.RoomID, &e.Kind, &e.ConnectionID, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = fromMillis(created)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Retention

func (d *Database) DeleteEventsBefore(cutoff time.Time) (int64, error) {
	result, err := d.db.Exec("DELETE FROM room_events WHERE created_at < ?", toMillis(cutoff))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteClosedSessionsBefore removes sessions that closed before cutoff,
// along with their events
func (d *Database) DeleteClosedSessionsBefore(cutoff time.Time) (int64, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM room_events WHERE session_id IN (
			SELECT id FROM room_sessions WHERE closed_at IS NOT NULL AND closed_at < ?
		)
	`, toMillis(cutoff)); err != nil {
		return 0, err
	}

	result, err := tx.Exec(
		"DELETE FROM room_sessions WHERE closed_at IS NOT NULL AND closed_at < ?",
		toMillis(cutoff),
	)
	if err != nil {
		return 0, err
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return removed, tx.Commit()
}

// Stats

func (d *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var sessionCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM room_sessions").Scan(&sessionCount); err != nil {
		return nil, err
	}
	stats["session_count"] = sessionCount

	var eventCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM room_events").Scan(&eventCount); err != nil {
		return nil, err
	}
	stats["event_count"] = eventCount

	var snapshotCount sql.NullInt64
	if err := d.db.QueryRow("SELECT SUM(snapshot_count) FROM room_sessions").Scan(&snapshotCount); err != nil {
		return nil, err
	}
	stats["snapshot_count"] = snapshotCount.Int64

	return stats, nil
}
