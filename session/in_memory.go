package session

import (
	"context"
	"sync"

	"github.com/hupe1980/toolmesh/core"
)

// InMemoryStore is a volatile SessionStore implementation storing
// sessions in a process local map. It is safe for concurrent access and best
// suited for tests or single-process deployments. Loaded sessions are cloned
// to prevent external mutation of internal state.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
}

// NewInMemoryStore constructs an empty in‑memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*core.Session)}
}

// Load returns a clone of the session, creating it lazily.
func (s *InMemoryStore) Load(_ context.Context, sessionID string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionLocked(sessionID).Clone(), nil
}

// Get returns a state value.
func (s *InMemoryStore) Get(_ context.Context, sessionID, key string) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, false, nil
	}
	v, ok := sess.GetState(key)
	return v, ok, nil
}

// Set writes a state value.
func (s *InMemoryStore) Set(_ context.Context, sessionID, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionLocked(sessionID).SetState(key, value)
	return nil
}

// ListArtifacts returns the produced artifact references in insertion order.
func (s *InMemoryStore) ListArtifacts(_ context.Context, sessionID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return []string{}, nil
	}
	return sess.ArtifactList(), nil
}

// AddArtifact records a produced artifact reference.
func (s *InMemoryStore) AddArtifact(_ context.Context, sessionID, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionLocked(sessionID).AddArtifact(ref)
	return nil
}

// sessionLocked returns the stored session allocating it on first use; caller
// must already hold the write lock.
func (s *InMemoryStore) sessionLocked(sessionID string) *core.Session {
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = core.NewSession(sessionID)
		s.sessions[sessionID] = sess
	}
	return sess
}
