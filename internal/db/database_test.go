package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setupTestDB(t *testing.T) (*Database, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "sketchroom-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	db, err := New(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.RemoveAll(tmpDir)
	}

	return db, cleanup
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestDatabaseCreation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if db == nil {
		t.Fatal("Database should not be nil")
	}
}

func TestSessionLifecycle(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	id, err := db.OpenSession("abc", base)
	if err != nil {
		t.Fatalf("Failed to open session: %v", err)
	}
	if id == 0 {
		t.Fatal("Session id should be set")
	}

	session, err := db.GetLatestSession("abc")
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if session == nil {
		t.Fatal("Session should exist")
	}
	if session.ClosedAt != nil {
		t.Error("New session should be open")
	}
	if !session.OpenedAt.Equal(base) {
		t.Errorf("Expected opened_at %v, got %v", base, session.OpenedAt)
	}

	if err := db.CloseSession("abc", base.Add(time.Minute), 3); err != nil {
		t.Fatalf("Failed to close session: %v", err)
	}

	session, _ = db.GetLatestSession("abc")
	if session.ClosedAt == nil || !session.ClosedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("Expected closed_at to be set, got %v", session.ClosedAt)
	}
	if session.PeakParticipants != 3 {
		t.Errorf("Expected peak 3, got %d", session.PeakParticipants)
	}

	missing, err := db.GetLatestSession("never")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if missing != nil {
		t.Error("Unknown room should return nil")
	}
}

func TestReusedRoomIDGetsNewSession(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	db.OpenSession("abc", base)
	db.CloseSession("abc", base.Add(time.Minute), 1)
	db.OpenSession("abc", base.Add(2*time.Minute))

	sessions, err := db.ListRoomSessions("abc", 10)
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ClosedAt != nil {
		t.Error("Newest session should be open")
	}
	if sessions[1].ClosedAt == nil {
		t.Error("Older session should be closed")
	}
}

func TestRecordEventBumpsCounters(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	db.OpenSession("abc", base)

	kinds := []string{EventJoined, EventSnapshot, EventSnapshot, EventUndo, EventRedo, EventClear, EventRestore}
	for i, kind := range kinds {
		if err := db.RecordEvent("abc", kind, "conn-1", base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("Failed to record %s: %v", kind, err)
		}
	}

	session, _ := db.GetLatestSession("abc")
	if session.SnapshotCount != 3 {
		t.Errorf("Expected 3 snapshots (restore counts), got %d", session.SnapshotCount)
	}
	if session.UndoCount != 1 || session.RedoCount != 1 || session.ClearCount != 1 {
		t.Errorf("Unexpected counters: %+v", session)
	}

	events, err := db.ListEvents("abc", 100)
	if err != nil {
		t.Fatalf("Failed to list events: %v", err)
	}
	if len(events) != len(kinds) {
		t.Fatalf("Expected %d events, got %d", len(kinds), len(events))
	}
	if events[0].Kind != EventRestore {
		t.Errorf("Events should be newest first, got %s", events[0].Kind)
	}
	if events[0].ConnectionID != "conn-1" {
		t.Errorf("Expected connection id conn-1, got %q", events[0].ConnectionID)
	}
}

func TestRecordEventWithoutSession(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if err := db.RecordEvent("ghost", EventJoined, "c", base); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	events, _ := db.ListEvents("ghost", 10)
	if len(events) != 0 {
		t.Errorf("Events without a session should be dropped, got %d", len(events))
	}
}

func TestCloseDanglingSessions(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	db.OpenSession("a", base)
	db.OpenSession("b", base)
	db.CloseSession("b", base.Add(time.Second), 1)

	closed, err := db.CloseDanglingSessions(base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if closed != 1 {
		t.Errorf("Expected 1 dangling session closed, got %d", closed)
	}
}

func TestRetention(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	db.OpenSession("old", base)
	db.RecordEvent("old", EventJoined, "c", base)
	db.CloseSession("old", base.Add(time.Minute), 1)

	db.OpenSession("live", base)
	db.RecordEvent("live", EventJoined, "c", base)
	db.RecordEvent("live", EventSnapshot, "c", base.Add(2*time.Hour))

	cutoff := base.Add(time.Hour)

	removed, err := db.DeleteEventsBefore(cutoff)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 old events removed, got %d", removed)
	}

	removed, err = db.DeleteClosedSessionsBefore(cutoff)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 closed session removed, got %d", removed)
	}

	if s, _ := db.GetLatestSession("old"); s != nil {
		t.Error("Old session should be gone")
	}
	if s, _ := db.GetLatestSession("live"); s == nil {
		t.Error("Open session must be kept")
	}
}

func TestGetStats(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	db.OpenSession("abc", base)
	db.RecordEvent("abc", EventSnapshot, "c", base)
	db.RecordEvent("abc", EventSnapshot, "c", base)

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats["session_count"] != 1 {
		t.Errorf("Expected 1 session, got %v", stats["session_count"])
	}
	if stats["event_count"] != 2 {
		t.Errorf("Expected 2 events, got %v", stats["event_count"])
	}
	if stats["snapshot_count"] != int64(2) {
		t.Errorf("Expected 2 snapshots, got %v", stats["snapshot_count"])
	}
}
