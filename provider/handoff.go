package provider

import (
	"context"

	"github.com/hupe1980/toolmesh/core"
)

// HandoffName is the tool id of the hand-off control action.
const HandoffName = "transfer_to_worker"

// Handoff is the internal control action requesting that another worker take
// over. Requests routed to it bypass credential, stamping, reference and
// admission stages.
type Handoff struct {
	onHandoff func(worker string)
}

// NewHandoff constructs the hand-off provider. onHandoff, if non-nil, is
// invoked with the target worker name.
func NewHandoff(onHandoff func(worker string)) *Handoff {
	return &Handoff{onHandoff: onHandoff}
}

// Name implements core.Provider.
func (h *Handoff) Name() string { return HandoffName }

// Mode implements core.Provider.
func (h *Handoff) Mode() core.ExecutionMode { return core.ModeNone }

// IsControl implements core.ControlProvider.
func (h *Handoff) IsControl() bool { return true }

// Parameters returns the argument schema.
func (h *Handoff) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"worker": map[string]any{"type": "string", "description": "Target worker name"},
		},
		"required": []string{"worker"},
	}
}

// Call implements core.Provider.
func (h *Handoff) Call(_ context.Context, req *core.Request) (any, error) {
	raw, ok := req.Args["worker"]
	if !ok {
		return nil, Errorf(HandoffName, CodeValidation, "missing required field 'worker'")
	}
	worker, ok := raw.(string)
	if !ok || worker == "" {
		return nil, Errorf(HandoffName, CodeValidation, "field 'worker' must be non-empty string, got %T", raw)
	}
	if h.onHandoff != nil {
		h.onHandoff(worker)
	}
	return map[string]any{"transferred": true, "worker": worker}, nil
}
