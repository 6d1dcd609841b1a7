// Package schema compiles JSON schema documents declared as Go maps and
// validates decoded values against them.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

var resourceSeq atomic.Uint64

// Validator validates values against one compiled schema. It is safe for
// concurrent use.
type Validator struct {
	schema *jsonschema.Schema
}

// Compile compiles a schema document (e.g. a tool parameter declaration).
func Compile(doc map[string]any) (*Validator, error) {
	normalized, err := normalize(doc)
	if err != nil {
		return nil, fmt.Errorf("normalize schema: %w", err)
	}

	url := fmt.Sprintf("mem://schema/%d.json", resourceSeq.Add(1))

	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, normalized); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// MustCompile is like Compile but panics on error. Intended for package level
// declarations of static schemas.
func MustCompile(doc map[string]any) *Validator {
	v, err := Compile(doc)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate reports the first violation of value against the schema.
func (v *Validator) Validate(value any) error {
	normalized, err := normalize(value)
	if err != nil {
		return fmt.Errorf("normalize value: %w", err)
	}
	return v.schema.Validate(normalized)
}

// RequiredFields returns an object schema requiring the given fields.
func RequiredFields(fields ...string) map[string]any {
	required := make([]any, 0, len(fields))
	for _, f := range fields {
		required = append(required, f)
	}
	return map[string]any{
		"type":     "object",
		"required": required,
	}
}

// normalize round-trips v through JSON so numbers and containers have the
// shapes the validator expects.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(data))
}
