package core

import (
	"maps"

	"github.com/google/uuid"
)

// ExecutionMode declares where a provider expects resolved credentials.
type ExecutionMode string

const (
	// ModeNone providers receive no credential write-back.
	ModeNone ExecutionMode = "none"
	// ModeRemoteProfile providers read credentials nested under "remote_profile"
	// and support execution-environment stamping.
	ModeRemoteProfile ExecutionMode = "remote_profile"
	// ModeEnvironment providers read credentials from a flat "env" map.
	ModeEnvironment ExecutionMode = "environment"
)

// SupportsStamping reports whether derived identity fields are stamped for this mode.
func (m ExecutionMode) SupportsStamping() bool { return m == ModeRemoteProfile }

// Request is a single tool invocation. Stages may rewrite Args and populate
// Context / ProviderConfig before execution; the identity fields are fixed once
// the request enters the pipeline.
type Request struct {
	ID        string
	ToolID    string
	SessionID string
	Args      map[string]any
	// Control marks internal control actions (e.g. hand-off to another worker)
	// which bypass credential, stamping and admission stages.
	Control bool
	Mode    ExecutionMode
	// ProviderConfig is the target provider configuration resolved credentials
	// are written back to.
	ProviderConfig map[string]any
	// Context caches resolved credential fields for the remainder of the call.
	Context map[string]string
}

// NewRequest creates a request with a fresh id and empty buffers.
func NewRequest(sessionID, toolID string, args map[string]any) *Request {
	if args == nil {
		args = map[string]any{}
	}
	return &Request{
		ID:             uuid.NewString(),
		ToolID:         toolID,
		SessionID:      sessionID,
		Args:           args,
		Mode:           ModeNone,
		ProviderConfig: map[string]any{},
		Context:        map[string]string{},
	}
}

// Clone returns a copy with independent Args / Context / ProviderConfig maps
// (one level deep). Used to give every attempt a pristine request.
func (r *Request) Clone() *Request {
	c := *r
	c.Args = maps.Clone(r.Args)
	c.Context = maps.Clone(r.Context)
	c.ProviderConfig = make(map[string]any, len(r.ProviderConfig))
	for k, v := range r.ProviderConfig {
		if m, ok := v.(map[string]any); ok {
			v = maps.Clone(m)
		}
		c.ProviderConfig[k] = v
	}
	if c.Args == nil {
		c.Args = map[string]any{}
	}
	if c.Context == nil {
		c.Context = map[string]string{}
	}
	return &c
}

// Descriptor summarises a request for the admission service.
type Descriptor struct {
	RequestID string         `json:"request_id"`
	ToolID    string         `json:"tool_id"`
	SessionID string         `json:"session_id"`
	Args      map[string]any `json:"args,omitempty"`
}

// Describe returns the admission descriptor for the request.
func (r *Request) Describe() Descriptor {
	return Descriptor{RequestID: r.ID, ToolID: r.ToolID, SessionID: r.SessionID, Args: maps.Clone(r.Args)}
}
