// Package session tracks the turns of one conversation.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Turn is one completed question/answer exchange.
type Turn struct {
	Query                    string
	Reply                    string
	GuidanceCaution          string
	AdditionalResourcePrompt string
	CitedChunkIDs            []string
	At                       time.Time
}

// Session holds an append-only conversation history. Turns are never
// modified or removed once appended.
type Session struct {
	id      string
	started time.Time

	mu    sync.RWMutex
	turns []Turn
}

func New() *Session {
	return &Session{
		id:      uuid.NewString(),
		started: time.Now().UTC(),
	}
}

func (s *Session) ID() string         { return s.id }
func (s *Session) Started() time.Time { return s.started }

// Append records a completed turn.
func (s *Session) Append(t Turn) {
	if t.At.IsZero() {
		t.At = time.Now().UTC()
	}
	s.mu.Lock()
	s.turns = append(s.turns, t)
	s.mu.Unlock()
}

// History returns a copy of all turns in order of arrival.
func (s *Session) History() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of recorded turns.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Store keeps live sessions by id.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Get returns the session with the given id, or a fresh one when the id
// is empty or unknown. Ids are always assigned here, never taken from the
// caller, so a stale or invented id cannot claim a session slot; callers
// detect the miss by comparing the returned session's id with their own.
func (st *Store) Get(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	if id != "" {
		if s, ok := st.sessions[id]; ok {
			return s
		}
	}
	s := New()
	st.sessions[s.ID()] = s
	return s
}

// Lookup returns the session with the given id, or nil.
func (st *Store) Lookup(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sessions[id]
}
