package testutil

import (
	"context"

	"github.com/hupe1980/toolmesh/core"
)

// SessionBuilder helps construct sessions with fluent chaining for tests.
// Example:
//
//	sess := NewSessionBuilder("sess-1").State("access_key", "k").Artifacts(url).Build()
type SessionBuilder struct {
	id        string
	state     map[string]any
	artifacts []string
}

// NewSessionBuilder creates a new builder for a session with the given id.
func NewSessionBuilder(id string) *SessionBuilder {
	return &SessionBuilder{id: id, state: map[string]any{}}
}

// State sets or overwrites a state key/value pair on the resulting session (chainable).
func (b *SessionBuilder) State(key string, val any) *SessionBuilder {
	b.state[key] = val
	return b
}

// Artifacts appends produced artifact references (chainable).
func (b *SessionBuilder) Artifacts(refs ...string) *SessionBuilder {
	b.artifacts = append(b.artifacts, refs...)
	return b
}

// Build returns a *core.Session with pre-populated state and artifacts.
func (b *SessionBuilder) Build() *core.Session {
	s := core.NewSession(b.id)
	s.ApplyStateDelta(b.state)
	for _, a := range b.artifacts {
		s.AddArtifact(a)
	}
	return s
}

// Seed writes the builder's state and artifacts into store.
func (b *SessionBuilder) Seed(ctx context.Context, store core.SessionStore) error {
	for k, v := range b.state {
		if err := store.Set(ctx, b.id, k, v); err != nil {
			return err
		}
	}
	for _, a := range b.artifacts {
		if err := store.AddArtifact(ctx, b.id, a); err != nil {
			return err
		}
	}
	return nil
}
