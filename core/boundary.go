package core

import "context"

// Provider is the capability provider boundary. Call may return any of the raw
// shapes accepted by NewEnvelope; the wire transport behind it is opaque.
type Provider interface {
	Name() string
	Mode() ExecutionMode
	Call(ctx context.Context, req *Request) (any, error)
}

// ControlProvider is implemented by providers that perform internal control
// actions (hand-offs) rather than domain computation.
type ControlProvider interface {
	Provider
	IsControl() bool
}

// AdmissionService is the accounting/job-admission boundary consulted
// synchronously before dispatch. A non-nil error rejects the call; its message
// is surfaced verbatim.
type AdmissionService interface {
	CheckCanExecute(ctx context.Context, billingScope string, d Descriptor) error
}

// ArchiveStorage is the archive download/upload boundary used by the response
// normalizer. Implementations should be thread-safe.
type ArchiveStorage interface {
	Download(ctx context.Context, url string) ([]byte, error)
	Upload(ctx context.Context, data []byte, path string) (string, error)
}
