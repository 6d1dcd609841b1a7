// Package admission provides clients for the accounting / job-admission
// service consulted before a tool call is dispatched.
package admission

import (
	"context"

	"github.com/hupe1980/toolmesh/core"
)

// Rejection is returned when the service refuses a call. Error returns the
// service message verbatim.
type Rejection struct {
	Message string
	Status  int
}

func (r *Rejection) Error() string { return r.Message }

// Func adapts a function to core.AdmissionService.
type Func func(ctx context.Context, billingScope string, d core.Descriptor) error

// CheckCanExecute implements core.AdmissionService.
func (f Func) CheckCanExecute(ctx context.Context, billingScope string, d core.Descriptor) error {
	return f(ctx, billingScope, d)
}

// AllowAll admits every call.
func AllowAll() core.AdmissionService {
	return Func(func(context.Context, string, core.Descriptor) error { return nil })
}

// DenyAll rejects every call with message.
func DenyAll(message string) core.AdmissionService {
	return Func(func(context.Context, string, core.Descriptor) error {
		return &Rejection{Message: message}
	})
}

// Static admits only the listed billing scopes.
type Static struct {
	Allowed map[string]bool
	Message string
}

// CheckCanExecute implements core.AdmissionService.
func (s Static) CheckCanExecute(_ context.Context, billingScope string, _ core.Descriptor) error {
	if s.Allowed[billingScope] {
		return nil
	}
	msg := s.Message
	if msg == "" {
		msg = "billing scope " + billingScope + " is not allowed to execute jobs"
	}
	return &Rejection{Message: msg}
}
