// Package artifact contains implementations of core.ArchiveStorage, the
// download/upload boundary the response normalizer uses to expand bundled
// archives into individually addressable artifacts. The in-memory store suits
// tests and examples; httpstore talks to an HTTP object store.
package artifact
