package session

import (
	"sync"
	"time"
)

// Storage is a concurrency-safe registry mapping session id to session,
// with a parallel last-access side table used by the expiry sweep. It does
// no validation of what it stores and no lifecycle management of its own;
// sweeping is explicit.
type Storage struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	lastAccess map[string]time.Time
}

func NewStorage() *Storage {
	return &Storage{
		sessions:   make(map[string]*Session),
		lastAccess: make(map[string]time.Time),
	}
}

// Set stores or replaces the session under id and stamps its access time.
func (st *Storage) Set(id string, s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[id] = s
	st.lastAccess[id] = time.Now()
}

// Get returns the session for id, bumping its access time, or nil.
func (st *Storage) Get(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil
	}
	st.lastAccess[id] = time.Now()
	return s
}

// LastAccess returns when id was last stored or fetched, without bumping it.
func (st *Storage) LastAccess(id string) time.Time {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.lastAccess[id]
}

// Remove evicts id and reports whether it was present. The session is not
// closed; that is the caller's choice.
func (st *Storage) Remove(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.sessions[id]
	delete(st.sessions, id)
	delete(st.lastAccess, id)
	return ok
}

// IDs returns all stored session ids.
func (st *Storage) IDs() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	ids := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of stored sessions.
func (st *Storage) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// CleanupExpired closes and evicts every session whose last access
// predates now minus maxAge, returning how many were removed.
func (st *Storage) CleanupExpired(maxAge time.Duration) int {
	return st.cleanupExpiredAt(time.Now(), maxAge)
}

func (st *Storage) cleanupExpiredAt(now time.Time, maxAge time.Duration) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	removed := 0
	for id, at := range st.lastAccess {
		if now.Sub(at) <= maxAge {
			continue
		}
		if s := st.sessions[id]; s != nil {
			_ = s.Close()
		}
		delete(st.sessions, id)
		delete(st.lastAccess, id)
		removed++
	}
	return removed
}
