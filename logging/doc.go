// Package logging provides a minimal logging interface and adapters for toolmesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the pipeline, supervisor and orchestrator use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelInfo, Format: "json"})
//	p := pipeline.New(store, registry, pipeline.WithLogger(logger))
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
