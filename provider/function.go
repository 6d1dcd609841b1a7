package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/internal/schema"
	"github.com/hupe1980/toolmesh/logging"
)

// Func is the signature of functions exposed as providers.
type Func func(ctx context.Context, req *core.Request) (any, error)

// FunctionProvider exposes a plain Go function as a capability provider.
//
// Arguments are validated against the declared JSON schema before the
// function runs. Errors are normalized to *Error:
//
//	validation failure -> *Error{Code: "VALIDATION_ERROR"}
//	other error        -> *Error{Code: "EXECUTION_ERROR"}
//	*Error             -> forwarded unchanged
//
// A FunctionProvider has no mutable state after construction and is safe for
// concurrent use.
type FunctionProvider struct {
	name        string
	description string
	mode        core.ExecutionMode
	parameters  map[string]any
	validator   *schema.Validator
	fn          Func
	logger      logging.Logger
}

// FunctionOption configures a FunctionProvider.
type FunctionOption func(*FunctionProvider)

// WithMode sets the declared execution mode.
func WithMode(m core.ExecutionMode) FunctionOption {
	return func(p *FunctionProvider) { p.mode = m }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) FunctionOption {
	return func(p *FunctionProvider) { p.logger = logging.OrNoOp(l) }
}

// NewFunction constructs a FunctionProvider. A nil parameters schema accepts
// any arguments; an invalid schema is reported as an error.
//
//	sum, err := NewFunction("sum", "Add two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{"a": map[string]any{"type": "number"}},
//	    "required": []string{"a"},
//	  },
//	  func(ctx context.Context, req *core.Request) (any, error) { ... },
//	)
func NewFunction(name, description string, parameters map[string]any, fn Func, opts ...FunctionOption) (*FunctionProvider, error) {
	p := &FunctionProvider{
		name:        name,
		description: description,
		mode:        core.ModeNone,
		parameters:  parameters,
		fn:          fn,
		logger:      logging.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if parameters != nil {
		v, err := schema.Compile(parameters)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		p.validator = v
	}
	return p, nil
}

// MustFunction is like NewFunction but panics on an invalid schema.
func MustFunction(name, description string, parameters map[string]any, fn Func, opts ...FunctionOption) *FunctionProvider {
	p, err := NewFunction(name, description, parameters, fn, opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// Name returns the provider name.
func (p *FunctionProvider) Name() string { return p.name }

// Description returns the short natural language description.
func (p *FunctionProvider) Description() string { return p.description }

// Parameters returns the JSON schema of accepted arguments.
func (p *FunctionProvider) Parameters() map[string]any { return p.parameters }

// Mode returns the declared execution mode.
func (p *FunctionProvider) Mode() core.ExecutionMode { return p.mode }

// Call validates the request arguments then invokes the function.
func (p *FunctionProvider) Call(ctx context.Context, req *core.Request) (any, error) {
	start := time.Now()
	p.logger.Debug("provider.call.start", "provider", p.name, "request_id", req.ID)

	if p.validator != nil {
		if err := p.validator.Validate(req.Args); err != nil {
			p.logger.Warn("provider.call.validation_failed", "provider", p.name, "error", err.Error())
			return nil, &CallError{
				ToolID:    p.name,
				RequestID: req.ID,
				Code:      CodeValidation,
				Err:       fmt.Errorf("parameter validation failed: %w", err),
			}
		}
	}

	result, err := p.fn(ctx, req)
	if err != nil {
		var perr *CallError
		if errors.As(err, &perr) {
			p.logger.Error("provider.call.error", "provider", p.name, "code", string(perr.Code), "error", perr.Error())
			return nil, perr
		}
		// Coded control-plane errors keep their kind.
		if core.KindOf(err) != "" {
			return nil, err
		}
		p.logger.Error("provider.call.error", "provider", p.name, "error", err.Error())
		return nil, &CallError{ToolID: p.name, RequestID: req.ID, Code: CodeExecution, Err: err}
	}

	p.logger.Info("provider.call.success", "provider", p.name, "duration_ms", time.Since(start).Milliseconds())
	return result, nil
}
