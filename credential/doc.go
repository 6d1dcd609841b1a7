// Package credential resolves per-session secrets and billing-scope
// identifiers for outbound tool invocations.
//
// Resolution order for a field is: the per-call cache on the request, the
// session business state, the process environment and finally values read
// from the configured dotenv files. Derived fields (username, ticket) require
// a resolvable access key first and fall back to a Deriver. Every resolved
// value is written back onto the request's provider configuration at the
// location selected by the provider's execution mode.
package credential
