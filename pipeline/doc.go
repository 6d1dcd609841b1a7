// Package pipeline wraps every outbound capability call in an ordered list of
// stages followed by a contained execution step.
//
// Each stage may rewrite the request, short-circuit with an envelope (first
// short-circuit wins, later stages and the call are skipped) or abort with a
// fatal error. The canonical order is credential injection, environment
// stamping, optional reference repair, admission, then execution. Control
// actions (hand-offs) skip straight to execution.
//
// Execution is contained: provider errors, panics and timeouts become an
// ErrorResult of kind ExecutionFault instead of propagating.
package pipeline
