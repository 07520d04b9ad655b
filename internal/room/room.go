package room

// State is the canonical per-room canvas and membership.
//
// It has no lock of its own: a State is owned by the Registry and only
// touched from the hub's event loop, which processes one envelope at a time.
type State struct {
	ID string

	participants map[string]struct{}
	snapshot     string
	hasSnapshot  bool
	history      []string
	cursor       int
	maxHistory   int
	peak         int
}

// Creates an empty room. maxHistory <= 0 keeps every snapshot.
func NewState(id string, maxHistory int) *State {
	return &State{
		ID:           id,
		participants: make(map[string]struct{}),
		history:      make([]string, 0),
		cursor:       -1,
		maxHistory:   maxHistory,
	}
}

// Adds a connection; returns false if it was already present
func (s *State) AddParticipant(connID string) bool {
	if _, ok := s.participants[connID]; ok {
		return false
	}
	s.participants[connID] = struct{}{}
	if len(s.participants) > s.peak {
		s.peak = len(s.participants)
	}
	return true
}

// Removes a connection; returns false if it was not present
func (s *State) RemoveParticipant(connID string) bool {
	if _, ok := s.participants[connID]; !ok {
		return false
	}
	delete(s.participants, connID)
	return true
}

func (s *State) HasParticipant(connID string) bool {
	_, ok := s.participants[connID]
	return ok
}

// Participants returns the connection ids in no particular order
func (s *State) Participants() []string {
	ids := make([]string, 0, len(s.participants))
	for id := range s.participants {
		ids = append(ids, id)
	}
	return ids
}

func (s *State) ParticipantCount() int {
	return len(s.participants)
}

// PeakParticipants is the largest participant count the room has seen
func (s *State) PeakParticipants() int {
	return s.peak
}

func (s *State) Empty() bool {
	return len(s.participants) == 0
}

// Snapshot returns the current canvas, or false if none has been saved or
// the canvas was cleared since
func (s *State) Snapshot() (string, bool) {
	return s.snapshot, s.hasSnapshot
}

// Clear drops the current canvas. History is left alone so undo can still
// step back to an earlier snapshot.
func (s *State) Clear() {
	s.snapshot = ""
	s.hasSnapshot = false
}

// SaveSnapshot records a completed action: everything after the cursor is
// discarded, the snapshot is appended and becomes current. Identical
// snapshots are not merged.
func (s *State) SaveSnapshot(snapshot string) {
	s.history = append(s.history[:s.cursor+1], snapshot)
	if s.maxHistory > 0 && len(s.history) > s.maxHistory {
		drop := len(s.history) - s.maxHistory
		s.history = append(s.history[:0], s.history[drop:]...)
	}
	s.cursor = len(s.history) - 1
	s.snapshot = snapshot
	s.hasSnapshot = true
}

// Undo steps the cursor back one entry. It returns the now-current snapshot,
// or false when there is nothing to undo.
func (s *State) Undo() (string, bool) {
	if len(s.history) == 0 || s.cursor <= 0 {
		return "", false
	}
	s.cursor--
	return s.restoreCursor(), true
}

// Redo steps the cursor forward one entry. It returns the now-current
// snapshot, or false when there is nothing to redo.
func (s *State) Redo() (string, bool) {
	if len(s.history) == 0 || s.cursor >= len(s.history)-1 {
		return "", false
	}
	s.cursor++
	return s.restoreCursor(), true
}

func (s *State) restoreCursor() string {
	s.snapshot = s.history[s.cursor]
	s.hasSnapshot = true
	return s.snapshot
}

// History returns a copy of the snapshot history
func (s *State) History() []string {
	history := make([]string, len(s.history))
	copy(history, s.history)
	return history
}

func (s *State) HistoryLen() int {
	return len(s.history)
}

// Cursor is the index of the current history entry, -1 when history is empty
func (s *State) Cursor() int {
	return s.cursor
}
