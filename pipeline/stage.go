package pipeline

import (
	"context"

	"github.com/hupe1980/toolmesh/core"
)

// Stage is one step of the pipeline. A non-nil envelope short-circuits the
// invocation; a non-nil error aborts it as a fatal precondition failure.
type Stage interface {
	Name() string
	Process(ctx context.Context, req *core.Request, sess *core.Session) (core.Envelope, error)
}

// StageFunc adapts a function to the Stage interface.
type StageFunc func(ctx context.Context, req *core.Request, sess *core.Session) (core.Envelope, error)

type funcStage struct {
	name string
	fn   StageFunc
}

// NewStage wraps fn as a named Stage.
func NewStage(name string, fn StageFunc) Stage {
	return &funcStage{name: name, fn: fn}
}

func (s *funcStage) Name() string { return s.name }

func (s *funcStage) Process(ctx context.Context, req *core.Request, sess *core.Session) (core.Envelope, error) {
	return s.fn(ctx, req, sess)
}
