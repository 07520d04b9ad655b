package room

import (
	"encoding/base32"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

const (
	// DefaultIDLength keeps the full 128 bits of a UUIDv4 in base32
	DefaultIDLength = 26
	MinIDLength     = 8

	maxIDAttempts = 8
)

var ErrIDExhausted = errors.New("could not generate an unused room id")

var idEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Generates a URL-safe room id: UUIDv4 bytes as lowercase unpadded base32,
// cut to length characters
func NewID(length int) (string, error) {
	if length < MinIDLength || length > DefaultIDLength {
		length = DefaultIDLength
	}
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate room id: %w", err)
	}
	return strings.ToLower(idEncoding.EncodeToString(u[:]))[:length], nil
}

type Options struct {
	IDLength   int
	MaxHistory int
}

// Registry maps room ids to their State. Like State it is not locked; the
// hub serializes every call.
type Registry struct {
	rooms      map[string]*State
	idLength   int
	maxHistory int
	newID      func(int) (string, error)
}

func NewRegistry(opts Options) *Registry {
	if opts.IDLength == 0 {
		opts.IDLength = DefaultIDLength
	}
	return &Registry{
		rooms:      make(map[string]*State),
		idLength:   opts.IDLength,
		maxHistory: opts.MaxHistory,
		newID:      NewID,
	}
}

// Create inserts an empty room under a freshly generated id
func (r *Registry) Create() (*State, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := r.newID(r.idLength)
		if err != nil {
			return nil, err
		}
		if _, taken := r.rooms[id]; taken {
			continue
		}
		state := NewState(id, r.maxHistory)
		r.rooms[id] = state
		return state, nil
	}
	return nil, ErrIDExhausted
}

// GetOrCreate resolves a join. An empty id creates a room under a generated
// id; an unknown id creates an empty room under that id, which is how a
// reclaimed room comes back (blank). The bool reports whether a new State
// was made.
func (r *Registry) GetOrCreate(id string) (*State, bool, error) {
	if id == "" {
		state, err := r.Create()
		if err != nil {
			return nil, false, err
		}
		return state, true, nil
	}
	if state, ok := r.rooms[id]; ok {
		return state, false, nil
	}
	state := NewState(id, r.maxHistory)
	r.rooms[id] = state
	return state, true, nil
}

func (r *Registry) Get(id string) (*State, bool) {
	state, ok := r.rooms[id]
	return state, ok
}

// RemoveIfEmpty deletes the room iff it has no participants. It reports
// whether the room was removed.
func (r *Registry) RemoveIfEmpty(id string) bool {
	state, ok := r.rooms[id]
	if !ok || !state.Empty() {
		return false
	}
	delete(r.rooms, id)
	return true
}

func (r *Registry) Len() int {
	return len(r.rooms)
}

// All returns the live rooms ordered by id
func (r *Registry) All() []*State {
	states := make([]*State, 0, len(r.rooms))
	for _, state := range r.rooms {
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].ID < states[j].ID })
	return states
}
