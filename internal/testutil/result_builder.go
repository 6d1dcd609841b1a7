package testutil

import (
	"fmt"

	"github.com/hupe1980/toolmesh/core"
)

// ResultBuilder provides a fluent helper for constructing structured results
// in the shape workers report them.
//
//	res := NewResultBuilder().Count("result_count", 2).Rows("results", 2).Build()
type ResultBuilder struct {
	fields map[string]any
}

// NewResultBuilder creates an empty builder.
func NewResultBuilder() *ResultBuilder { return &ResultBuilder{fields: map[string]any{}} }

// Field sets an arbitrary field (chainable).
func (b *ResultBuilder) Field(key string, val any) *ResultBuilder { b.fields[key] = val; return b }

// Count sets the declared result-count field (chainable).
func (b *ResultBuilder) Count(key string, n int) *ResultBuilder { b.fields[key] = n; return b }

// Rows sets the detail collection to n generated rows of the form
// {"id": "row-i", "name": "item i"} (chainable).
func (b *ResultBuilder) Rows(key string, n int) *ResultBuilder {
	rows := make([]any, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, map[string]any{"id": fmt.Sprintf("row-%d", i), "name": fmt.Sprintf("item %d", i)})
	}
	b.fields[key] = rows
	return b
}

// Build returns the StructuredResult.
func (b *ResultBuilder) Build() core.StructuredResult {
	out := make(map[string]any, len(b.fields))
	for k, v := range b.fields {
		out[k] = v
	}
	return core.StructuredResult{Fields: out}
}
