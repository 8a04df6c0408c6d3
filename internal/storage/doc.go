// Package storage is the thin abstraction over the object store holding
// input scripts, worker outputs, logs, and processed markers.
//
// Writes are append-only: no key is ever overwritten, and listings may lag
// behind a preceding put, so callers phrase "does it exist yet" checks as
// repeated polling rather than single-shot verification. The GCS backend is
// the production store; the memory backend serves tests and local
// development.
package storage
