package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/internal/metrics"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/provider"
)

// Invocation outcomes reported to logs and metrics.
const (
	OutcomeOK           = "ok"
	OutcomeFault        = "fault"
	OutcomeShortCircuit = "short_circuit"
	OutcomeAborted      = "aborted"
)

// ProviderSource looks up the provider serving a tool id.
type ProviderSource interface {
	Get(toolID string) (core.Provider, error)
}

// Pipeline runs requests through its stages and the contained provider call.
// A Pipeline is safe for concurrent use once constructed.
type Pipeline struct {
	store       core.SessionStore
	providers   ProviderSource
	stages      []Stage
	callTimeout time.Duration
	logger      logging.Logger
	metrics     *metrics.Collector
	tracer      trace.Tracer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStages appends stages in order.
func WithStages(stages ...Stage) Option {
	return func(p *Pipeline) { p.stages = append(p.stages, stages...) }
}

// WithCallTimeout bounds each provider call; zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.callTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(p *Pipeline) { p.logger = logging.OrNoOp(l) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithTracer sets the tracer (default: the global otel tracer provider).
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// New creates a pipeline.
func New(store core.SessionStore, providers ProviderSource, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:     store,
		providers: providers,
		logger:    logging.NoOpLogger{},
		tracer:    otel.Tracer("github.com/hupe1980/toolmesh/pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// StageNames returns the registered stage names in execution order.
func (p *Pipeline) StageNames() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Invoke runs req through the pipeline. The returned envelope is the first
// stage short-circuit or the contained execution result. A non-nil error is
// a fatal precondition failure (e.g. core.KindMissingCredential) or a session
// store failure; the provider has not been called in that case.
func (p *Pipeline) Invoke(ctx context.Context, req *core.Request) (env core.Envelope, err error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "pipeline.invoke", trace.WithAttributes(
		attribute.String("tool.id", req.ToolID),
		attribute.String("request.id", req.ID),
		attribute.String("session.id", req.SessionID),
	))
	outcome := OutcomeOK
	defer func() {
		span.SetAttributes(attribute.String("outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		p.metrics.RecordInvocation(req.ToolID, outcome, time.Since(start))
		logging.LogInvocation(p.logger, req.ToolID, outcome, time.Since(start), err)
	}()

	prov, err := p.providers.Get(req.ToolID)
	if err != nil {
		outcome = OutcomeFault
		return core.ErrorResultFrom(err), nil
	}
	req.Mode = prov.Mode()
	if provider.IsControl(prov) {
		req.Control = true
	}

	sess, err := p.store.Load(ctx, req.SessionID)
	if err != nil {
		outcome = OutcomeAborted
		return nil, fmt.Errorf("load session %s: %w", req.SessionID, err)
	}

	if !req.Control {
		env, err := p.runStages(ctx, span, req, sess)
		if err != nil {
			outcome = OutcomeAborted
			return nil, err
		}
		if env != nil {
			outcome = OutcomeShortCircuit
			return env, nil
		}
	}

	span.AddEvent("execute")
	env = p.execute(ctx, prov, req)
	if _, isErr := core.IsError(env); isErr {
		outcome = OutcomeFault
	}
	return env, nil
}

func (p *Pipeline) runStages(ctx context.Context, span trace.Span, req *core.Request, sess *core.Session) (env core.Envelope, err error) {
	var current string
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pipeline.stage.panic", "stage", current, "tool", req.ToolID, "recover", fmt.Sprint(r))
			env, err = core.ErrorResult{
				Kind:    core.KindExecutionFault,
				Message: fmt.Sprintf("stage %s panicked: %v", current, r),
				Trace:   string(debug.Stack()),
			}, nil
		}
	}()

	for _, stage := range p.stages {
		current = stage.Name()
		span.AddEvent("stage", trace.WithAttributes(attribute.String("stage", current)))

		env, err := stage.Process(ctx, req, sess)
		if err != nil {
			p.logger.Warn("pipeline.stage.aborted", "stage", current, "tool", req.ToolID, "kind", string(core.KindOf(err)), "error", err.Error())
			return nil, err
		}
		if env != nil {
			p.logger.Info("pipeline.stage.short_circuit", "stage", current, "tool", req.ToolID)
			p.metrics.RecordShortCircuit(current)
			return env, nil
		}
	}
	return nil, nil
}

type callOutcome struct {
	result any
	err    error
}

// execute performs the provider call inside containment.
func (p *Pipeline) execute(ctx context.Context, prov core.Provider, req *core.Request) core.Envelope {
	if p.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.callTimeout)
		defer cancel()
	}

	done := make(chan callOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callOutcome{err: &panicError{val: r, stack: debug.Stack()}}
			}
		}()
		result, err := prov.Call(ctx, req)
		done <- callOutcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return p.contain(ctx, req, out.err)
		}
		return core.NewEnvelope(out.result)
	case <-ctx.Done():
		return p.contain(ctx, req, ctx.Err())
	}
}

func (p *Pipeline) contain(_ context.Context, req *core.Request, err error) core.Envelope {
	var (
		pe   *panicError
		perr *provider.CallError
	)
	switch {
	case errors.As(err, &pe):
		p.logger.Error("pipeline.execute.panic", "tool", req.ToolID, "recover", fmt.Sprint(pe.val))
		return core.ErrorResult{Kind: core.KindExecutionFault, Message: pe.Error(), Trace: string(pe.stack)}
	case errors.Is(err, context.DeadlineExceeded):
		return core.ErrorResult{Kind: core.KindExecutionFault, Message: fmt.Sprintf("call to %s timed out", req.ToolID)}
	case errors.Is(err, context.Canceled):
		return core.ErrorResult{Kind: core.KindExecutionFault, Message: fmt.Sprintf("call to %s canceled", req.ToolID)}
	case errors.As(err, &perr):
		res := core.ErrorResult{Kind: core.KindExecutionFault, Message: perr.Error()}
		res.Trace = perr.Body
		return res
	default:
		return core.ErrorResultFrom(err)
	}
}

type panicError struct {
	val   any
	stack []byte
}

func (p *panicError) Error() string { return fmt.Sprintf("panic recovered: %v", p.val) }
