package activity

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/manpreetbhatti/sketchroom/backend/internal/db"
)

type Config struct {
	SweepInterval time.Duration
	Retention     time.Duration
	QueueSize     int
}

func DefaultConfig() Config {
	return Config{
		SweepInterval: 10 * time.Minute,
		Retention:     7 * 24 * time.Hour,
		QueueSize:     1024,
	}
}

// Entry kinds besides the db event kinds
const (
	KindOpened = "opened"
	KindClosed = "closed"
)

// Entry is one thing that happened in a room
type Entry struct {
	Kind         string
	RoomID       string
	ConnectionID string
	Peak         int
	At           time.Time
}

type Store interface {
	OpenSession(roomID string, at time.Time) (int64, error)
	CloseSession(roomID string, at time.Time, peak int) error
	RecordEvent(roomID, kind, connectionID string, at time.Time) error
	DeleteEventsBefore(cutoff time.Time) (int64, error)
	DeleteClosedSessionsBefore(cutoff time.Time) (int64, error)
}

var _ Store = (*db.Database)(nil)

// Service writes room activity to the store off the hub's event loop and
// periodically drops records older than the retention period. Record never
// blocks: when the queue is full the entry is dropped.
type Service struct {
	store   Store
	config  Config
	entries chan Entry
	stop    chan struct{}
	wg      sync.WaitGroup
	stopped atomic.Bool
	dropped atomic.Int64
	now     func() time.Time
}

func New(store Store, config Config) *Service {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	return &Service{
		store:   store,
		config:  config,
		entries: make(chan Entry, config.QueueSize),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	log.Printf("📒 Activity service started (sweep: %v, retention: %v)",
		s.config.SweepInterval, s.config.Retention)
}

// Stop flushes queued entries and waits for the writer to exit
func (s *Service) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	close(s.stop)
	s.wg.Wait()
	log.Println("📒 Activity service stopped")
}

func (s *Service) Record(e Entry) {
	if s.stopped.Load() {
		return
	}
	if e.At.IsZero() {
		e.At = s.now()
	}
	select {
	case s.entries <- e:
	default:
		if n := s.dropped.Add(1); n%100 == 1 {
			log.Printf("⚠️ Activity queue full, dropped %d entries so far", n)
		}
	}
}

// Dropped is the number of entries lost to a full queue
func (s *Service) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	s.sweep()

	for {
		select {
		case <-s.stop:
			s.drain()
			return
		case e := <-s.entries:
			s.write(e)
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Service) drain() {
	for {
		select {
		case e := <-s.entries:
			s.write(e)
		default:
			return
		}
	}
}

func (s *Service) write(e Entry) {
	var err error
	switch e.Kind {
	case KindOpened:
		_, err = s.store.OpenSession(e.RoomID, e.At)
	case KindClosed:
		err = s.store.CloseSession(e.RoomID, e.At, e.Peak)
	default:
		err = s.store.RecordEvent(e.RoomID, e.Kind, e.ConnectionID, e.At)
	}
	if err != nil {
		log.Printf("Activity: failed to record %s for room %s: %v", e.Kind, e.RoomID, err)
	}
}

func (s *Service) sweep() {
	cutoff := s.now().Add(-s.config.Retention)

	events, err := s.store.DeleteEventsBefore(cutoff)
	if err != nil {
		log.Printf("Activity: failed to prune events: %v", err)
		return
	}

	sessions, err := s.store.DeleteClosedSessionsBefore(cutoff)
	if err != nil {
		log.Printf("Activity: failed to prune sessions: %v", err)
		return
	}

	if events > 0 || sessions > 0 {
		log.Printf("📒 Pruned %d events and %d closed sessions older than %v",
			events, sessions, s.config.Retention)
	}
}

// SweepNow runs retention immediately on the caller's goroutine
func (s *Service) SweepNow() {
	s.sweep()
}
