package core

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Session represents the process-external conversation container tracking
// mutable key/value state (credentials, billing scope, transient flags) plus
// the ordered list of artifact references produced so far. It is safe for
// concurrent access.
//
// Contract:
//   - State mutations update the Updated timestamp
//   - Artifacts preserve insertion order; re-adding a known reference is a no-op
//   - ArtifactList returns a copy
//   - Clone performs deep copies of maps/slices for safe divergence.
type Session struct {
	ID        string         `json:"id"`
	State     map[string]any `json:"state"`
	Artifacts []string       `json:"artifacts"`
	Created   time.Time      `json:"created"`
	Updated   time.Time      `json:"updated"`
	mu        sync.RWMutex
}

// NewSession creates a new session with the given ID.
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{ID: id, State: map[string]any{}, Artifacts: []string{}, Created: now, Updated: now}
}

// GetState returns the value and existence flag for a state key.
func (s *Session) GetState(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.State[key]
	return v, ok
}

// GetString returns the state value for key if it is a non-empty string.
func (s *Session) GetString(key string) (string, bool) {
	v, ok := s.GetState(key)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	if !ok || str == "" {
		return "", false
	}
	return str, true
}

// SetState sets a key/value pair in session state updating the Updated timestamp.
func (s *Session) SetState(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State[key] = value
	s.Updated = time.Now()
}

// ApplyStateDelta merges the provided key/value pairs into State.
func (s *Session) ApplyStateDelta(delta map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range delta {
		s.State[k] = v
	}
	s.Updated = time.Now()
}

// AddArtifact appends an artifact reference unless it is already known.
// It reports whether the reference was added.
func (s *Session) AddArtifact(ref string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ref == "" || slices.Contains(s.Artifacts, ref) {
		return false
	}
	s.Artifacts = append(s.Artifacts, ref)
	s.Updated = time.Now()
	return true
}

// ArtifactList returns a copy of the produced artifact references.
func (s *Session) ArtifactList() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.Artifacts))
	copy(out, s.Artifacts)
	return out
}

// Clone returns a deep copy of the session safe for independent mutation.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clone := &Session{ID: s.ID, State: make(map[string]any, len(s.State)), Artifacts: make([]string, len(s.Artifacts)), Created: s.Created, Updated: s.Updated}
	for k, v := range s.State {
		clone.State[k] = v
	}
	copy(clone.Artifacts, s.Artifacts)
	return clone
}

// SessionStore is the external key-value/list service holding session state.
// Implementations must be safe for concurrent use; every call may suspend on I/O.
type SessionStore interface {
	// Load returns a snapshot of the session, creating it lazily.
	Load(ctx context.Context, sessionID string) (*Session, error)
	Get(ctx context.Context, sessionID, key string) (any, bool, error)
	Set(ctx context.Context, sessionID, key string, value any) error
	ListArtifacts(ctx context.Context, sessionID string) ([]string, error)
	AddArtifact(ctx context.Context, sessionID, ref string) error
}
