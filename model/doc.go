// Package model defines the provider-agnostic completion interface used by
// the model-assisted planner, plus a deterministic MockModel for tests.
//
// Providers (e.g. OpenAI, Anthropic) implement the Model interface so the
// orchestrator stays decoupled from vendor SDKs.
package model
