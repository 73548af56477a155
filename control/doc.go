// Package control
// Author: momentics <momentics@gmail.com>
//
// Statistics, debug introspection and persistence layer of the link runtime.
//
// Provides concurrent-safe state handling primitives including:
//   - Per-link counters updated lock-free on the processing path
//   - A process-wide collector keyed by link name
//   - Debug probes for registry, channel and queue state
//   - Snapshot persistence to SQLite
package control
