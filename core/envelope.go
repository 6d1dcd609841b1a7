package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Envelope is the closed set of tool response shapes. Concrete envelope types
// implement the unexported isEnvelope marker; every downstream component
// switches over StructuredResult, ErrorResult and RawResult only.
type Envelope interface{ isEnvelope() }

// StructuredResult is a successful response carrying a field mapping.
type StructuredResult struct {
	Fields map[string]any `json:"fields"`
}

// isEnvelope implements the Envelope interface for StructuredResult.
func (StructuredResult) isEnvelope() {}

// ErrorResult is a structured failure. Trace carries a diagnostic stack or
// upstream detail when available.
type ErrorResult struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Trace   string `json:"trace,omitempty"`
}

// isEnvelope implements the Envelope interface for ErrorResult.
func (ErrorResult) isEnvelope() {}

// Err converts the result into a *Error of the same kind.
func (r ErrorResult) Err() error {
	return &Error{Kind: r.Kind, Message: r.Message}
}

// ContentBlock is a single protocol content block.
type ContentBlock struct {
	Type string `json:"type"` // "text", "image", "resource", ...
	Text string `json:"text,omitempty"`
	URI  string `json:"uri,omitempty"`
}

// RawResult is an unparsed protocol response made of content blocks.
type RawResult struct {
	Blocks []ContentBlock `json:"blocks"`
}

// isEnvelope implements the Envelope interface for RawResult.
func (RawResult) isEnvelope() {}

// NewEnvelope folds the raw shapes returned by capability providers into an
// Envelope:
//
//	Envelope               -> unchanged
//	map[string]any         -> StructuredResult
//	string / []byte        -> StructuredResult if it decodes to a JSON object, else RawResult text block
//	[]ContentBlock         -> RawResult
//	error                  -> ErrorResult (kind preserved for *Error, ExecutionFault otherwise)
//	nil                    -> StructuredResult with no fields
//
// Any other value is round-tripped through encoding/json.
func NewEnvelope(v any) Envelope {
	switch val := v.(type) {
	case nil:
		return StructuredResult{Fields: map[string]any{}}
	case Envelope:
		return val
	case map[string]any:
		return StructuredResult{Fields: val}
	case string:
		return envelopeFromText(val)
	case []byte:
		return envelopeFromText(string(val))
	case []ContentBlock:
		return RawResult{Blocks: val}
	case error:
		return ErrorResultFrom(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return ErrorResult{Kind: KindExecutionFault, Message: fmt.Sprintf("unencodable provider result %T: %v", v, err)}
		}
		var fields map[string]any
		if err := json.Unmarshal(data, &fields); err != nil {
			return RawResult{Blocks: []ContentBlock{{Type: "text", Text: string(data)}}}
		}
		return StructuredResult{Fields: fields}
	}
}

func envelopeFromText(text string) Envelope {
	if fields, ok := parseObject(text); ok {
		return StructuredResult{Fields: fields}
	}
	return RawResult{Blocks: []ContentBlock{{Type: "text", Text: text}}}
}

// ErrorResultFrom converts an error into an ErrorResult preserving the kind of
// a wrapped *Error.
func ErrorResultFrom(err error) ErrorResult {
	var e *Error
	if errors.As(err, &e) {
		return ErrorResult{Kind: e.Kind, Message: e.Error()}
	}
	return ErrorResult{Kind: KindExecutionFault, Message: err.Error()}
}

// StructuredFields returns the field mapping of a StructuredResult, or of a
// RawResult whose text blocks together parse as one JSON object. Only these
// envelopes are eligible for trust validation and normalization.
func StructuredFields(env Envelope) (map[string]any, bool) {
	switch e := env.(type) {
	case StructuredResult:
		if e.Fields == nil {
			return map[string]any{}, true
		}
		return e.Fields, true
	case RawResult:
		var sb strings.Builder
		for _, b := range e.Blocks {
			if b.Type == "text" {
				sb.WriteString(b.Text)
			}
		}
		return parseObject(sb.String())
	default:
		return nil, false
	}
}

func parseObject(text string) (map[string]any, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return nil, false
	}
	return fields, true
}

// IsError reports whether env is an ErrorResult and returns it.
func IsError(env Envelope) (ErrorResult, bool) {
	er, ok := env.(ErrorResult)
	return er, ok
}

// TrustVerdict is the outcome of a trust predicate over one envelope.
type TrustVerdict struct {
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

// Pass returns a passing verdict.
func Pass() TrustVerdict { return TrustVerdict{Passed: true} }

// Fail returns a failing verdict with a formatted reason.
func Fail(format string, args ...any) TrustVerdict {
	return TrustVerdict{Reason: fmt.Sprintf(format, args...)}
}
