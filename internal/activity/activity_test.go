package activity

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/manpreetbhatti/sketchroom/backend/internal/db"
)

type fakeStore struct {
	mu       sync.Mutex
	calls    []string
	cutoffs  []time.Time
	blockers chan struct{}
}

func (f *fakeStore) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeStore) OpenSession(roomID string, at time.Time) (int64, error) {
	f.record("open:" + roomID)
	return 1, nil
}

func (f *fakeStore) CloseSession(roomID string, at time.Time, peak int) error {
	f.record("close:" + roomID)
	return nil
}

func (f *fakeStore) RecordEvent(roomID, kind, connectionID string, at time.Time) error {
	if f.blockers != nil {
		<-f.blockers
	}
	f.record(kind + ":" + roomID)
	return nil
}

func (f *fakeStore) DeleteEventsBefore(cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return 0, nil
}

func (f *fakeStore) DeleteClosedSessionsBefore(cutoff time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeStore) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func TestServiceWritesInOrder(t *testing.T) {
	store := &fakeStore{}
	service := New(store, Config{SweepInterval: time.Hour, Retention: time.Hour, QueueSize: 16})
	service.Start()

	service.Record(Entry{Kind: KindOpened, RoomID: "abc"})
	service.Record(Entry{Kind: db.EventJoined, RoomID: "abc", ConnectionID: "c1"})
	service.Record(Entry{Kind: db.EventSnapshot, RoomID: "abc", ConnectionID: "c1"})
	service.Record(Entry{Kind: KindClosed, RoomID: "abc", Peak: 1})

	service.Stop()

	expected := []string{"open:abc", "joined:abc", "snapshot:abc", "close:abc"}
	calls := store.Calls()
	if len(calls) != len(expected) {
		t.Fatalf("Expected %v, got %v", expected, calls)
	}
	for i := range expected {
		if calls[i] != expected[i] {
			t.Errorf("Call %d: expected %s, got %s", i, expected[i], calls[i])
		}
	}
}

func TestServiceDropsWhenFull(t *testing.T) {
	store := &fakeStore{blockers: make(chan struct{})}
	service := New(store, Config{SweepInterval: time.Hour, Retention: time.Hour, QueueSize: 1})
	service.Start()

	// The writer blocks on the first entry; the queue holds one more
	service.Record(Entry{Kind: db.EventJoined, RoomID: "a"})
	time.Sleep(20 * time.Millisecond)
	service.Record(Entry{Kind: db.EventJoined, RoomID: "b"})
	service.Record(Entry{Kind: db.EventJoined, RoomID: "c"})

	if service.Dropped() != 1 {
		t.Errorf("Expected 1 dropped entry, got %d", service.Dropped())
	}

	close(store.blockers)
	service.Stop()
}

func TestRecordAfterStopIsIgnored(t *testing.T) {
	store := &fakeStore{}
	service := New(store, Config{SweepInterval: time.Hour, Retention: time.Hour})
	service.Start()
	service.Stop()
	service.Stop()

	service.Record(Entry{Kind: db.EventJoined, RoomID: "late"})

	if len(store.Calls()) != 0 {
		t.Errorf("Entries after stop should not be written, got %v", store.Calls())
	}
}

func TestSweepUsesRetention(t *testing.T) {
	store := &fakeStore{}
	service := New(store, Config{SweepInterval: time.Hour, Retention: 2 * time.Hour})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return now }

	service.SweepNow()

	if len(store.cutoffs) != 1 || !store.cutoffs[0].Equal(now.Add(-2*time.Hour)) {
		t.Errorf("Expected cutoff %v, got %v", now.Add(-2*time.Hour), store.cutoffs)
	}
}

func TestServiceWithDatabase(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "sketchroom-activity-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	database, err := db.New(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer database.Close()

	service := New(database, DefaultConfig())
	service.Start()
	service.Record(Entry{Kind: KindOpened, RoomID: "abc"})
	service.Record(Entry{Kind: db.EventSnapshot, RoomID: "abc", ConnectionID: "c1"})
	service.Record(Entry{Kind: KindClosed, RoomID: "abc", Peak: 2})
	service.Stop()

	session, err := database.GetLatestSession("abc")
	if err != nil || session == nil {
		t.Fatalf("Expected a recorded session, got %v (%v)", session, err)
	}
	if session.SnapshotCount != 1 || session.PeakParticipants != 2 || session.ClosedAt == nil {
		t.Errorf("Unexpected session: %+v", session)
	}
}
