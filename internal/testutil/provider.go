package testutil

import (
	"context"
	"sync"

	"github.com/hupe1980/toolmesh/core"
)

// ScriptedProvider is a core.Provider returning a fixed sequence of responses.
// The last response repeats once the script is exhausted. Each response is
// either a raw value (returned as result) or an error.
type ScriptedProvider struct {
	ProviderName string
	ExecMode     core.ExecutionMode
	Script       []any

	mu       sync.Mutex
	requests []*core.Request
}

// NewScriptedProvider creates a provider with the given script.
func NewScriptedProvider(name string, script ...any) *ScriptedProvider {
	return &ScriptedProvider{ProviderName: name, ExecMode: core.ModeNone, Script: script}
}

// Name implements core.Provider.
func (p *ScriptedProvider) Name() string { return p.ProviderName }

// Mode implements core.Provider.
func (p *ScriptedProvider) Mode() core.ExecutionMode { return p.ExecMode }

// Call implements core.Provider.
func (p *ScriptedProvider) Call(_ context.Context, req *core.Request) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req.Clone())
	if len(p.Script) == 0 {
		return nil, nil
	}
	idx := len(p.requests) - 1
	if idx >= len(p.Script) {
		idx = len(p.Script) - 1
	}
	if err, ok := p.Script[idx].(error); ok {
		return nil, err
	}
	return p.Script[idx], nil
}

// Calls returns the number of received calls.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Requests returns copies of the received requests.
func (p *ScriptedProvider) Requests() []*core.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*core.Request(nil), p.requests...)
}
