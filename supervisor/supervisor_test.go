package supervisor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/internal/testutil"
)

func contract(t *testing.T) *StructuralPredicate {
	t.Helper()
	p, err := NewStructural(StructuralConfig{CountField: "result_count", DetailField: "results"})
	require.NoError(t, err)
	return p
}

type step struct {
	env core.Envelope
	err error
}

// scripted returns an action replaying steps, repeating the last one.
func scripted(steps ...step) (Action, *int) {
	calls := 0
	return func(context.Context, int) (core.Envelope, error) {
		i := calls
		calls++
		if i >= len(steps) {
			i = len(steps) - 1
		}
		return steps[i].env, steps[i].err
	}, &calls
}

var (
	good  = testutil.NewResultBuilder().Count("result_count", 2).Rows("results", 2).Build()
	empty = testutil.NewResultBuilder().Count("result_count", 3).Field("results", []any{}).Build()
)

func TestRun_AcceptedFirstAttempt(t *testing.T) {
	action, calls := scripted(step{env: good})
	res := New(Options{}).Run(context.Background(), "w", action, contract(t))

	assert.Equal(t, OutcomeAccepted, res.Outcome)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, *calls)
	assert.NoError(t, res.Err)
	assert.Equal(t, good, res.Envelope)
}

func TestRun_EmptyDetailsRetriedOnceThenFailed(t *testing.T) {
	action, calls := scripted(step{env: empty})
	res := New(Options{}).Run(context.Background(), "w", action, contract(t))

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, *calls)
	require.Len(t, res.Verdicts, 2)
	assert.False(t, res.Verdicts[0].Passed)
	assert.Contains(t, res.Verdicts[0].Reason, "results")
	assert.ErrorIs(t, res.Err, core.ErrTrustPredicateFailure)
}

func TestRun_RetryPasses(t *testing.T) {
	action, calls := scripted(step{env: empty}, step{env: good})
	res := New(Options{}).Run(context.Background(), "w", action, contract(t))

	assert.True(t, res.Accepted())
	assert.Equal(t, 2, *calls)
	assert.Equal(t, good, res.Envelope)
}

func TestRun_ExecutionFaultRetried(t *testing.T) {
	fault := core.ErrorResult{Kind: core.KindExecutionFault, Message: "timeout"}
	action, calls := scripted(step{env: fault}, step{env: good})
	res := New(Options{}).Run(context.Background(), "w", action, contract(t))
	assert.True(t, res.Accepted())
	assert.Equal(t, 2, *calls)

	action, calls = scripted(step{err: errors.New("transport")}, step{env: fault})
	res = New(Options{}).Run(context.Background(), "w", action, contract(t))
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, 2, *calls)
	assert.ErrorIs(t, res.Err, core.ErrExecutionFault)
}

func TestRun_FatalNotRetried(t *testing.T) {
	tests := []struct {
		name string
		step step
		want error
	}{
		{"missing credential error", step{err: core.NewError(core.KindMissingCredential, "x", "no key")}, core.ErrMissingCredential},
		{"admission rejected envelope", step{env: core.ErrorResult{Kind: core.KindAdmissionRejected, Message: "no funds"}}, core.ErrAdmissionRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, calls := scripted(tt.step)
			res := New(Options{}).Run(context.Background(), "w", action, contract(t))
			assert.Equal(t, OutcomeFailed, res.Outcome)
			assert.Equal(t, 1, *calls)
			assert.ErrorIs(t, res.Err, tt.want)
		})
	}
}

func TestRun_FatalOnRetry(t *testing.T) {
	action, calls := scripted(step{env: empty}, step{err: core.NewError(core.KindMissingCredential, "x", "gone")})
	res := New(Options{}).Run(context.Background(), "w", action, contract(t))
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, 2, *calls)
	assert.ErrorIs(t, res.Err, core.ErrMissingCredential)
}

func TestRun_AcceptUnverifiedRetry(t *testing.T) {
	action, calls := scripted(step{env: empty})
	res := New(Options{AcceptUnverifiedRetry: true}).Run(context.Background(), "w", action, contract(t))
	assert.True(t, res.Accepted())
	assert.Equal(t, 2, *calls)
	assert.Len(t, res.Verdicts, 1)
}

func TestRun_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	action, calls := scripted(step{env: good})
	res := New(Options{}).Run(ctx, "w", action, contract(t))
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Zero(t, *calls)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestRun_AtMostTwoAttempts(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(t, "steps")
		steps := make([]step, n)
		for i := range steps {
			switch rapid.IntRange(0, 4).Draw(t, "kind") {
			case 0:
				steps[i] = step{env: good}
			case 1:
				steps[i] = step{env: empty}
			case 2:
				steps[i] = step{err: errors.New("boom")}
			case 3:
				steps[i] = step{env: core.ErrorResult{Kind: core.KindExecutionFault}}
			default:
				steps[i] = step{env: core.RawResult{Blocks: []core.ContentBlock{{Type: "text", Text: "junk"}}}}
			}
		}
		unverified := rapid.Bool().Draw(t, "unverified")
		pred := PredicateFunc(func(env core.Envelope) core.TrustVerdict {
			fields, ok := core.StructuredFields(env)
			if !ok {
				return core.Fail("not structured")
			}
			if n, ok := collectionLen(fields["results"]); !ok || n == 0 {
				return core.Fail("empty")
			}
			return core.Pass()
		})

		action, calls := scripted(steps...)
		res := New(Options{AcceptUnverifiedRetry: unverified}).Run(context.Background(), "w", action, pred)

		if *calls > MaxAttempts || res.Attempts != *calls {
			t.Fatalf("calls=%d attempts=%d", *calls, res.Attempts)
		}
		if res.Outcome != OutcomeAccepted && res.Outcome != OutcomeFailed {
			t.Fatalf("non-terminal outcome %q", res.Outcome)
		}
	})
}
