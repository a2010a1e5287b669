package flow

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSessionNotFound is returned by SessionStore.Get when the user has no session.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore keeps conversation sessions. Sessions need not survive a restart.
type SessionStore interface {
	Get(ctx context.Context, userID string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, userID string) error
}

// MemorySessionStore is a mutex-guarded in-process SessionStore.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

var _ SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore creates an empty MemorySessionStore.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]Session)}
}

// Get returns a copy of the stored session.
func (m *MemorySessionStore) Get(ctx context.Context, userID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[userID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.Quiz != nil {
		q := *s.Quiz
		s.Quiz = &q
	}
	return &s, nil
}

func (m *MemorySessionStore) Save(ctx context.Context, s *Session) error {
	if s == nil || s.UserID == "" {
		return errors.New("session requires a user id")
	}
	cp := *s
	cp.UpdatedAt = time.Now()
	if cp.Quiz != nil {
		q := *cp.Quiz
		cp.Quiz = &q
	}
	m.mu.Lock()
	m.sessions[s.UserID] = cp
	m.mu.Unlock()
	return nil
}

func (m *MemorySessionStore) Delete(ctx context.Context, userID string) error {
	m.mu.Lock()
	delete(m.sessions, userID)
	m.mu.Unlock()
	return nil
}

// Len returns the number of live sessions.
func (m *MemorySessionStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Expire drops sessions not saved within maxIdle and returns how many were removed. It gives
// the in-memory backend the same idle lifetime Redis enforces with key TTLs.
func (m *MemorySessionStore) Expire(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for userID, s := range m.sessions {
		if s.UpdatedAt.Before(cutoff) {
			delete(m.sessions, userID)
			removed++
		}
	}
	return removed
}
