// Package orchestrator runs several independent workers against one user
// request, one at a time, and merges their verified results into a single
// order-stable report.
//
// Every planned worker goes through the pipeline, the response normalizer
// and the retry supervisor. A failed worker contributes zero rows and one
// failure marker and never aborts the plan.
package orchestrator

import (
	"context"
	"fmt"
	"maps"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/internal/metrics"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/reference"
	"github.com/hupe1980/toolmesh/supervisor"
)

// Invoker dispatches one request (typically *pipeline.Pipeline).
type Invoker interface {
	Invoke(ctx context.Context, req *core.Request) (core.Envelope, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, req *core.Request) (core.Envelope, error)

// Invoke implements Invoker.
func (f InvokerFunc) Invoke(ctx context.Context, req *core.Request) (core.Envelope, error) {
	return f(ctx, req)
}

// ResponseNormalizer post-processes envelopes (typically *normalize.Normalizer).
type ResponseNormalizer interface {
	Normalize(ctx context.Context, sessionID string, env core.Envelope) (core.Envelope, []string)
}

// OutcomeKey returns the session key holding a worker's last outcome.
func OutcomeKey(worker string) string { return "worker." + worker + ".outcome" }

// LastRunKey is the session key holding the id of the last orchestration run.
const LastRunKey = "orchestrator.last_run"

// Options configures an Orchestrator.
type Options struct {
	Columns    []Column
	Sentinel   string
	References *reference.Resolver
	Normalizer ResponseNormalizer
	Supervisor *supervisor.Supervisor
	Logger     logging.Logger
	Metrics    *metrics.Collector
	Tracer     trace.Tracer
}

// Orchestrator executes plans sequentially.
type Orchestrator struct {
	planner    Planner
	invoker    Invoker
	store      core.SessionStore
	normalizer ResponseNormalizer
	supervisor *supervisor.Supervisor
	references *reference.Resolver
	columns    []Column
	sentinel   string
	logger     logging.Logger
	metrics    *metrics.Collector
	tracer     trace.Tracer
}

// New creates an Orchestrator.
func New(planner Planner, invoker Invoker, store core.SessionStore, opts Options) *Orchestrator {
	o := &Orchestrator{
		planner:    planner,
		invoker:    invoker,
		store:      store,
		normalizer: opts.Normalizer,
		supervisor: opts.Supervisor,
		references: opts.References,
		columns:    opts.Columns,
		sentinel:   opts.Sentinel,
		logger:     logging.OrNoOp(opts.Logger),
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
	}
	if o.supervisor == nil {
		o.supervisor = supervisor.New(supervisor.Options{Logger: opts.Logger, Metrics: opts.Metrics})
	}
	if o.references == nil {
		o.references = reference.NewResolver(opts.Logger)
	}
	if o.sentinel == "" {
		o.sentinel = DefaultSentinel
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer("github.com/hupe1980/toolmesh/orchestrator")
	}
	return o
}

// Plan builds the plan for userRequest.
func (o *Orchestrator) Plan(ctx context.Context, userRequest string) (Plan, error) {
	plan, err := o.planner.Plan(ctx, userRequest)
	if err != nil {
		return Plan{}, fmt.Errorf("plan request: %w", err)
	}
	return plan, nil
}

// Run plans userRequest and executes the plan.
func (o *Orchestrator) Run(ctx context.Context, sessionID, userRequest string) (*Report, error) {
	plan, err := o.Plan(ctx, userRequest)
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, sessionID, plan)
}

// Execute runs the planned workers in order, never concurrently, and merges
// their results. When ctx is canceled the remaining workers are recorded as
// failed and the partial report is returned together with ctx.Err().
func (o *Orchestrator) Execute(ctx context.Context, sessionID string, plan Plan) (_ *Report, err error) {
	runID := uuid.NewString()
	ctx, span := o.tracer.Start(ctx, "orchestrator.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("session.id", sessionID),
		attribute.Int("plan.steps", plan.Len()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	o.logger.Info("orchestrator.run.start", "run_id", runID, "session_id", sessionID, "workers", plan.Names())

	results := make([]workerResult, 0, plan.Len())
	for _, step := range plan.Steps() {
		span.AddEvent("worker", trace.WithAttributes(attribute.String("worker", step.Worker.Name)))
		var res workerResult
		if ctxErr := ctx.Err(); ctxErr != nil {
			res = workerResult{
				worker: step.Worker.Name,
				result: supervisor.Result{Outcome: supervisor.OutcomeFailed, Err: ctxErr},
				reason: ctxErr.Error(),
			}
		} else {
			res = o.runStep(ctx, sessionID, plan.Request(), step)
		}
		o.record(ctx, sessionID, res)
		results = append(results, res)
	}

	bookkeeping := context.WithoutCancel(ctx)
	artifacts, err := o.store.ListArtifacts(bookkeeping, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}

	report, err := o.merge(results, artifacts)
	if report != nil {
		report.RunID = runID
		report.SessionID = sessionID
		report.Request = plan.Request()
		if report.ReRendered {
			o.recordDemotions(bookkeeping, sessionID, results, report)
		}
	}
	if err != nil {
		return report, err
	}
	if setErr := o.store.Set(bookkeeping, sessionID, LastRunKey, runID); setErr != nil {
		o.logger.Warn("orchestrator.bookkeeping.failed", "key", LastRunKey, "error", setErr.Error())
	}

	o.logger.Info("orchestrator.run.completed", "run_id", runID, "rows", len(report.Rows),
		"failures", len(report.Failures), "rerendered", report.ReRendered)
	return report, ctx.Err()
}

func (o *Orchestrator) runStep(ctx context.Context, sessionID, userRequest string, step Step) workerResult {
	name := step.Worker.Name
	res := workerResult{worker: name}

	pred, err := step.Contract.Predicate()
	if err != nil {
		res.result = supervisor.Result{Outcome: supervisor.OutcomeFailed, Err: err}
		res.reason = fmt.Sprintf("invalid contract: %v", err)
		return res
	}

	args := step.Worker.Args(userRequest)
	action := func(ctx context.Context, attempt int) (core.Envelope, error) {
		req := core.NewRequest(sessionID, step.Worker.ToolID, maps.Clone(args))
		o.logger.Debug("orchestrator.worker.attempt", "worker", name, "attempt", attempt, "request_id", req.ID)

		env, err := o.invoker.Invoke(ctx, req)
		if err != nil {
			return nil, err
		}
		if o.normalizer == nil {
			return env, nil
		}
		env, urls := o.normalizer.Normalize(ctx, sessionID, env)
		for _, u := range urls {
			if err := o.store.AddArtifact(ctx, sessionID, u); err != nil {
				o.logger.Warn("orchestrator.artifact.record_failed", "worker", name, "url", u, "error", err.Error())
			}
		}
		return env, nil
	}

	res.result = o.supervisor.Run(ctx, name, action, pred)
	if !res.accepted() {
		res.reason = fmt.Sprint(res.result.Err)
		return res
	}

	fields, ok := core.StructuredFields(res.result.Envelope)
	if !ok {
		return demoted(res, "accepted result is not structured")
	}
	res.records = recordsOf(fields[step.Contract.DetailField])
	res.declared = len(res.records)
	if step.Contract.CountField != "" {
		n, ok := supervisor.CountOf(fields[step.Contract.CountField])
		if !ok {
			return demoted(res, fmt.Sprintf("%s is not a valid count", step.Contract.CountField))
		}
		res.declared = n
	}
	return res
}

func demoted(res workerResult, reason string) workerResult {
	res.result.Outcome = supervisor.OutcomeFailed
	res.result.Err = core.NewError(core.KindTrustPredicateFailure, "orchestrator.run", "%s", reason)
	res.records = nil
	res.declared = 0
	res.reason = reason
	return res
}

// record writes per-worker bookkeeping to the session.
func (o *Orchestrator) record(ctx context.Context, sessionID string, res workerResult) {
	if err := o.store.Set(context.WithoutCancel(ctx), sessionID, OutcomeKey(res.worker), string(res.result.Outcome)); err != nil {
		o.logger.Warn("orchestrator.bookkeeping.failed", "worker", res.worker, "error", err.Error())
	}
	logging.LogWorkerOutcome(o.logger, res.worker, string(res.result.Outcome), res.result.Attempts, len(res.records), res.reason)
}

// recordDemotions rewrites the outcome of workers accepted by the supervisor
// but demoted by the re-render.
func (o *Orchestrator) recordDemotions(ctx context.Context, sessionID string, results []workerResult, report *Report) {
	for _, res := range results {
		if !res.accepted() {
			continue
		}
		c, ok := report.Contribution(res.worker)
		if !ok || c.Outcome != supervisor.OutcomeFailed {
			continue
		}
		if err := o.store.Set(ctx, sessionID, OutcomeKey(res.worker), string(supervisor.OutcomeFailed)); err != nil {
			o.logger.Warn("orchestrator.bookkeeping.failed", "worker", res.worker, "error", err.Error())
		}
		o.logger.Warn("orchestrator.worker.demoted", "worker", res.worker, "declared", res.declared, "rows", len(res.records))
	}
}

func (o *Orchestrator) merge(results []workerResult, artifacts []string) (*Report, error) {
	m := merger{
		columns:  o.columns,
		sentinel: o.sentinel,
		resolve:  func(ref string) string { return o.references.Resolve(ref, artifacts) },
	}

	report := m.render(results, false)
	if !report.Consistent() {
		o.logger.Warn("orchestrator.merge.invariant_violation", "rows", len(report.Rows), "declared", report.ExpectedRows())
		report = m.render(results, true)
		report.ReRendered = true
		if !report.Consistent() {
			return report, core.NewError(core.KindMergeInvariantViolation, "orchestrator.merge",
				"%d rows merged, %d declared", len(report.Rows), report.ExpectedRows())
		}
	}
	o.metrics.RecordMerge(len(report.Rows), report.ReRendered)
	return report, nil
}
