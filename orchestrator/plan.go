package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/model"
)

// Step is one planned worker with the contract its result must satisfy.
type Step struct {
	Worker   Worker
	Contract Contract
}

// Plan is the ordered list of workers selected for one user request. It is
// immutable once built.
type Plan struct {
	request string
	steps   []Step
}

// NewPlan builds a plan from workers in the given order.
func NewPlan(userRequest string, workers ...Worker) Plan {
	steps := make([]Step, len(workers))
	for i, w := range workers {
		steps[i] = Step{Worker: w, Contract: w.Contract}
	}
	return Plan{request: userRequest, steps: steps}
}

// Request returns the user request the plan was built for.
func (p Plan) Request() string { return p.request }

// Len returns the number of steps.
func (p Plan) Len() int { return len(p.steps) }

// Steps returns a copy of the steps.
func (p Plan) Steps() []Step { return slices.Clone(p.steps) }

// Names returns the worker names in plan order.
func (p Plan) Names() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Worker.Name
	}
	return names
}

// Planner maps a user request to a plan.
type Planner interface {
	Plan(ctx context.Context, userRequest string) (Plan, error)
}

// CapabilityPlanner plans every worker whose capabilities match the request,
// in fixed priority order.
type CapabilityPlanner struct {
	Catalog *Catalog
}

// Plan implements Planner.
func (p *CapabilityPlanner) Plan(_ context.Context, userRequest string) (Plan, error) {
	var selected []Worker
	for _, w := range p.Catalog.Workers() {
		if w.Matches(userRequest) {
			selected = append(selected, w)
		}
	}
	return NewPlan(userRequest, selected...), nil
}

const plannerInstructions = `You select which workers must contribute to answering a user request.
Answer with a JSON array of worker names and nothing else.`

// ModelPlanner asks a model to choose the workers. Unknown names are dropped
// and the selection is re-sorted by the fixed priority order. A model error
// or an empty selection falls back to Fallback.
type ModelPlanner struct {
	Catalog  *Catalog
	Model    model.Model
	Fallback Planner
	Logger   logging.Logger
}

// Plan implements Planner.
func (p *ModelPlanner) Plan(ctx context.Context, userRequest string) (Plan, error) {
	logger := logging.OrNoOp(p.Logger)
	resp, err := p.Model.Generate(ctx, model.Request{
		Instructions: plannerInstructions,
		Prompt:       p.prompt(userRequest),
	})
	if err != nil {
		logger.Warn("orchestrator.plan.model_failed", "error", err.Error())
		return p.fallback(ctx, userRequest)
	}

	chosen := map[string]bool{}
	for _, name := range parseNames(resp.Text) {
		if _, ok := p.Catalog.Get(name); ok {
			chosen[name] = true
		} else {
			logger.Debug("orchestrator.plan.unknown_worker", "worker", name)
		}
	}
	if len(chosen) == 0 {
		return p.fallback(ctx, userRequest)
	}

	var selected []Worker
	for _, w := range p.Catalog.Workers() {
		if chosen[w.Name] {
			selected = append(selected, w)
		}
	}
	return NewPlan(userRequest, selected...), nil
}

func (p *ModelPlanner) fallback(ctx context.Context, userRequest string) (Plan, error) {
	if p.Fallback == nil {
		return (&CapabilityPlanner{Catalog: p.Catalog}).Plan(ctx, userRequest)
	}
	return p.Fallback.Plan(ctx, userRequest)
}

func (p *ModelPlanner) prompt(userRequest string) string {
	var b strings.Builder
	b.WriteString("Workers:\n")
	for _, w := range p.Catalog.Workers() {
		fmt.Fprintf(&b, "- %s: %s (capabilities: %s)\n", w.Name, w.Description, strings.Join(w.Capabilities, ", "))
	}
	b.WriteString("\nRequest: ")
	b.WriteString(userRequest)
	return b.String()
}

// parseNames accepts a JSON array (possibly surrounded by prose) or a
// comma / newline separated list.
func parseNames(text string) []string {
	if start, end := strings.Index(text, "["), strings.LastIndex(text, "]"); start >= 0 && end > start {
		var names []string
		if err := json.Unmarshal([]byte(text[start:end+1]), &names); err == nil {
			return names
		}
	}
	fields := strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == '\n' })
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		if n := strings.Trim(strings.TrimSpace(f), `"'-* `); n != "" {
			names = append(names, n)
		}
	}
	return names
}
