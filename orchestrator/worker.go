package orchestrator

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hupe1980/toolmesh/supervisor"
)

// Contract is the structural contract a worker's result must satisfy.
type Contract struct {
	// CountField holds the declared result count.
	CountField string
	// DetailField holds the detail collection; its elements become report rows.
	DetailField string
	// LocationField optionally holds an output location checked against Location.
	LocationField  string
	Location       *supervisor.LocationPattern
	RequiredFields []string
}

// Predicate compiles the contract into a structural trust predicate. A
// declared count needs a detail collection to contribute rows.
func (c Contract) Predicate() (supervisor.Predicate, error) {
	if c.CountField != "" && c.DetailField == "" {
		return nil, fmt.Errorf("count field %q requires a detail field", c.CountField)
	}
	return supervisor.NewStructural(supervisor.StructuralConfig{
		CountField:     c.CountField,
		DetailField:    c.DetailField,
		LocationField:  c.LocationField,
		Location:       c.Location,
		RequiredFields: c.RequiredFields,
	})
}

// Worker is an independently schedulable unit calling exactly one provider.
type Worker struct {
	Name         string
	ToolID       string
	Description  string
	Capabilities []string
	// Priority orders workers in a plan; lower runs first.
	Priority int
	Contract Contract
	// BuildArgs maps the user request to tool arguments. Nil sends {"query": request}.
	BuildArgs func(userRequest string) map[string]any
}

// Args returns the tool arguments for userRequest.
func (w Worker) Args(userRequest string) map[string]any {
	if w.BuildArgs != nil {
		if args := w.BuildArgs(userRequest); args != nil {
			return args
		}
	}
	return map[string]any{"query": userRequest}
}

// Matches reports whether any capability of w occurs in userRequest
// (case-insensitive). The capability "*" matches every request.
func (w Worker) Matches(userRequest string) bool {
	lower := strings.ToLower(userRequest)
	for _, c := range w.Capabilities {
		if c == "*" || (c != "" && strings.Contains(lower, strings.ToLower(c))) {
			return true
		}
	}
	return false
}

// Catalog holds the known workers in registration order.
type Catalog struct {
	workers []Worker
	index   map[string]int
}

// NewCatalog builds a catalog. Names must be unique and non-empty.
func NewCatalog(workers ...Worker) (*Catalog, error) {
	c := &Catalog{index: map[string]int{}}
	for _, w := range workers {
		if w.Name == "" || w.ToolID == "" {
			return nil, fmt.Errorf("worker requires name and tool id: %+v", w.Name)
		}
		if _, dup := c.index[w.Name]; dup {
			return nil, fmt.Errorf("duplicate worker %q", w.Name)
		}
		c.index[w.Name] = len(c.workers)
		c.workers = append(c.workers, w)
	}
	return c, nil
}

// Get returns the named worker.
func (c *Catalog) Get(name string) (Worker, bool) {
	i, ok := c.index[name]
	if !ok {
		return Worker{}, false
	}
	return c.workers[i], true
}

// Workers returns the workers in priority order, ties by registration order.
func (c *Catalog) Workers() []Worker {
	out := slices.Clone(c.workers)
	slices.SortStableFunc(out, func(a, b Worker) int { return a.Priority - b.Priority })
	return out
}
