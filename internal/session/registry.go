package session

import (
	"sync"
)

// Registry is the single source of truth for "is there an active attempt" per
// account. It is an injected service with an explicit drain lifecycle, not a
// package-level map.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	draining bool
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Get returns the live session for an account, or nil.
func (r *Registry) Get(accountID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[accountID]
}

// PutIfAbsent inserts sess unless a session already exists for its account or
// the registry is draining. Returns the winning session and whether sess was
// inserted. This compare-and-insert is what enforces the at-most-one-session
// invariant under concurrent start calls.
func (r *Registry) PutIfAbsent(sess *Session) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.draining {
		return nil, false
	}
	if existing, ok := r.sessions[sess.AccountID]; ok {
		return existing, false
	}
	r.sessions[sess.AccountID] = sess
	return sess, true
}

// Remove deletes the entry for accountID only if it still maps to sess,
// so teardown of a stale session cannot evict its replacement.
func (r *Registry) Remove(accountID string, sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[accountID]; ok && current == sess {
		delete(r.sessions, accountID)
		return true
	}
	return false
}

// All returns a snapshot of the live sessions.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Drain marks the registry closed for new sessions and returns the sessions
// that remain for the caller to tear down.
func (r *Registry) Drain() []*Session {
	r.mu.Lock()
	r.draining = true
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()
	return out
}
