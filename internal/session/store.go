package session

import (
	"sync"

	"github.com/google/uuid"
)

// Store is the process-wide mapping from session id to Session. Sessions are
// created on connect and evicted on disconnect or purge; nothing is
// persisted. The store is injected where needed rather than kept as a
// package-level singleton.
type Store struct {
	mu               sync.Mutex
	sessions         map[string]*Session
	timeLimitSeconds int
}

// NewStore creates an empty store. New sessions start with the given
// speaking-time limit.
func NewStore(timeLimitSeconds int) *Store {
	return &Store{
		sessions:         make(map[string]*Session),
		timeLimitSeconds: timeLimitSeconds,
	}
}

// Create allocates a fresh Idle session with a unique id.
func (st *Store) Create() *Session {
	s := newSession(uuid.NewString(), st.timeLimitSeconds)
	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()
	return s
}

// Get looks up a session by id.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	return s, ok
}

// Evict removes a session from the store. The session itself is left to the
// garbage collector once its in-flight stages notice their runID is stale.
func (st *Store) Evict(id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// All returns a snapshot of the live sessions, for shutdown and purge sweeps.
func (st *Store) All() []*Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	return out
}
