// Package supervisor runs an action under a trust predicate and bounds
// re-execution to a single retry.
//
// The supervisor is an explicit two-state machine:
//
//	FirstAttempt --pass--------------------------> Accepted
//	FirstAttempt --fail / fault------------------> Retrying
//	FirstAttempt --fatal precondition failure----> Failed
//	Retrying     --error / fail------------------> Failed
//	Retrying     --pass--------------------------> Accepted
//
// The action runs at most twice per Run.
package supervisor

import (
	"context"
	"fmt"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/internal/metrics"
	"github.com/hupe1980/toolmesh/logging"
)

// State is a non-terminal supervisor state.
type State string

// Supervisor states.
const (
	StateFirstAttempt State = "first_attempt"
	StateRetrying     State = "retrying"
)

// Outcome is a terminal supervisor outcome.
type Outcome string

// Terminal outcomes.
const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeFailed   Outcome = "failed"
)

// MaxAttempts is the number of times an action runs at most.
const MaxAttempts = 2

// Action is the supervised unit of work, typically one pipeline invocation
// followed by normalization.
type Action func(ctx context.Context, attempt int) (core.Envelope, error)

// Result is the terminal record of one supervised run.
type Result struct {
	Outcome  Outcome
	Envelope core.Envelope
	Attempts int
	Verdicts []core.TrustVerdict
	// Err is the reason the run failed, nil when accepted.
	Err error
}

// Accepted reports whether the run was accepted.
func (r Result) Accepted() bool { return r.Outcome == OutcomeAccepted }

// Options configures a Supervisor.
type Options struct {
	// AcceptUnverifiedRetry accepts any non-error retry result without
	// evaluating the predicate again.
	AcceptUnverifiedRetry bool
	Logger                logging.Logger
	Metrics               *metrics.Collector
}

// Supervisor runs actions under the two-state retry machine.
type Supervisor struct {
	opts   Options
	logger logging.Logger
}

// New creates a Supervisor.
func New(opts Options) *Supervisor {
	return &Supervisor{opts: opts, logger: logging.OrNoOp(opts.Logger)}
}

// Run executes action under predicate. name labels logs and metrics.
func (s *Supervisor) Run(ctx context.Context, name string, action Action, predicate Predicate) Result {
	res := Result{}
	state := StateFirstAttempt

	for {
		if err := ctx.Err(); err != nil {
			return s.finish(name, res, OutcomeFailed, err)
		}

		res.Attempts++
		s.opts.Metrics.RecordAttempt(name, string(state))
		env, err := action(ctx, res.Attempts)
		res.Envelope = env

		// Fatal precondition failures end the run whatever the state.
		if fatal := fatalError(env, err); fatal != nil {
			return s.finish(name, res, OutcomeFailed, fatal)
		}

		switch state {
		case StateFirstAttempt:
			if err != nil {
				s.logger.Warn("supervisor.retry", "worker", name, "reason", err.Error())
				state = StateRetrying
				continue
			}
			verdict := predicate.Check(env)
			res.Verdicts = append(res.Verdicts, verdict)
			if verdict.Passed {
				return s.finish(name, res, OutcomeAccepted, nil)
			}
			s.logger.Warn("supervisor.retry", "worker", name, "reason", verdict.Reason)
			state = StateRetrying

		case StateRetrying:
			if err != nil {
				return s.finish(name, res, OutcomeFailed, err)
			}
			if er, ok := core.IsError(env); ok {
				return s.finish(name, res, OutcomeFailed, er.Err())
			}
			if s.opts.AcceptUnverifiedRetry {
				return s.finish(name, res, OutcomeAccepted, nil)
			}
			verdict := predicate.Check(env)
			res.Verdicts = append(res.Verdicts, verdict)
			if verdict.Passed {
				return s.finish(name, res, OutcomeAccepted, nil)
			}
			return s.finish(name, res, OutcomeFailed, &core.Error{
				Kind:    core.KindTrustPredicateFailure,
				Op:      "supervisor.run",
				Message: verdict.Reason,
			})
		}
	}
}

func (s *Supervisor) finish(name string, res Result, outcome Outcome, err error) Result {
	res.Outcome = outcome
	res.Err = err
	s.opts.Metrics.RecordOutcome(name, string(outcome))
	if outcome == OutcomeAccepted {
		s.logger.Debug("supervisor.accepted", "worker", name, "attempts", res.Attempts)
	} else {
		s.logger.Warn("supervisor.failed", "worker", name, "attempts", res.Attempts, "error", fmt.Sprint(err))
	}
	return res
}

// fatalError returns the fatal failure carried by err or an ErrorResult.
func fatalError(env core.Envelope, err error) error {
	if err != nil {
		if core.IsFatal(err) {
			return err
		}
		return nil
	}
	if er, ok := core.IsError(env); ok && er.Kind.Fatal() {
		return er.Err()
	}
	return nil
}
