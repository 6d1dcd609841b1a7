// Package core provides the foundational domain types and boundaries of the
// tool-invocation control plane:
//
//   - Sessions (process-external key/value state plus produced artifact references)
//   - Requests (one tool invocation, mutable by pipeline stages before dispatch)
//   - Envelopes (the closed set of provider response shapes)
//   - Trust verdicts and the error taxonomy
//   - Small interfaces for the external collaborators (providers, session
//     store, admission service, archive storage)
//
// Implementation concerns (persistence, transport, orchestration) live in
// other packages so callers depend only on these contracts.
package core
