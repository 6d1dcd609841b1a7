// Package session houses concrete implementations of the core.SessionStore.
// The interface itself (and the Session struct) live in the core package to
// centralize domain contracts. Keeping only implementations here prevents
// higher level packages (pipeline, orchestrator) from depending on concrete
// storage.
//
// The redis sub-package provides a shared backend; only the wiring layer
// decides which implementation to instantiate.
package session
