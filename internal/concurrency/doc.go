// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives for the link runtime: the sequence-slot ring that
// backs buffer queues, the blocking command inbox of link workers, and CPU
// pinning for processor goroutines.
package concurrency
