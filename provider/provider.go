// Package provider implements capability provider adapters reachable through
// the core.Provider boundary: plain Go functions with schema validated
// arguments, JSON-over-HTTP tool servers and the hand-off control action.
package provider

import (
	"fmt"
	"strings"
)

// Code categorizes a failed provider call.
type Code string

// Codes attached to *CallError.
const (
	CodeValidation Code = "VALIDATION_ERROR"
	CodeExecution  Code = "EXECUTION_ERROR"
	CodeTransport  Code = "TRANSPORT_ERROR"
	CodeNotFound   Code = "NOT_FOUND"
)

// CallError is a failed call to the provider serving ToolID. Status and Body
// are set when a tool server answered with a non-2xx status.
type CallError struct {
	ToolID    string
	RequestID string
	Code      Code
	Status    int
	Body      string
	Err       error
}

func (e *CallError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.ToolID, e.Code)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the cause.
func (e *CallError) Unwrap() error { return e.Err }

// Errorf creates a *CallError for toolID with a formatted cause.
func Errorf(toolID string, code Code, format string, args ...any) *CallError {
	return &CallError{ToolID: toolID, Code: code, Err: fmt.Errorf(format, args...)}
}

// maxBodyExcerpt bounds CallError.Body.
const maxBodyExcerpt = 1024

func excerpt(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > maxBodyExcerpt {
		s = s[:maxBodyExcerpt] + "..."
	}
	return s
}
