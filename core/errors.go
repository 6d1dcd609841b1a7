package core

import (
	"errors"
	"fmt"
)

// Kind classifies failures of the control plane.
type Kind string

const (
	// KindMissingCredential: a required credential could not be resolved. Fatal, never retried.
	KindMissingCredential Kind = "MISSING_CREDENTIAL"
	// KindAdmissionRejected: the accounting service refused the call. Fatal, never retried.
	KindAdmissionRejected Kind = "ADMISSION_REJECTED"
	// KindExecutionFault: the capability call raised, panicked or timed out. Retryable once.
	KindExecutionFault Kind = "EXECUTION_FAULT"
	// KindTrustPredicateFailure: a structurally valid but untrustworthy result. Retryable once.
	KindTrustPredicateFailure Kind = "TRUST_PREDICATE_FAILURE"
	// KindMergeInvariantViolation: merged row count disagrees with declared counts.
	KindMergeInvariantViolation Kind = "MERGE_INVARIANT_VIOLATION"
)

// Fatal reports whether failures of this kind abort the invocation without retry.
func (k Kind) Fatal() bool {
	return k == KindMissingCredential || k == KindAdmissionRejected
}

var (
	// ErrMissingCredential matches any *Error of KindMissingCredential via errors.Is.
	ErrMissingCredential = &Error{Kind: KindMissingCredential}
	// ErrAdmissionRejected matches any *Error of KindAdmissionRejected via errors.Is.
	ErrAdmissionRejected = &Error{Kind: KindAdmissionRejected}
	// ErrExecutionFault matches any *Error of KindExecutionFault via errors.Is.
	ErrExecutionFault = &Error{Kind: KindExecutionFault}
	// ErrTrustPredicateFailure matches any *Error of KindTrustPredicateFailure via errors.Is.
	ErrTrustPredicateFailure = &Error{Kind: KindTrustPredicateFailure}
	// ErrMergeInvariantViolation matches any *Error of KindMergeInvariantViolation via errors.Is.
	ErrMergeInvariantViolation = &Error{Kind: KindMergeInvariantViolation}
)

// Error is the control plane error type.
type Error struct {
	Kind    Kind   // Failure classification
	Op      string // Operation that failed (e.g. "credential.resolve")
	Message string // Human readable detail
	Err     error  // Optional cause
}

// NewError creates an *Error of the given kind.
func NewError(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements errors.Unwrap.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf returns the kind of err or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsFatal reports whether err is a fatal precondition failure.
func IsFatal(err error) bool {
	return KindOf(err).Fatal()
}
