// Package ipc implements the cross-core command channel: a reusable
// shared-memory message slot per processor, a doorbell fabric with a
// multi-source wait, and the synchronous send/ack protocol on top of them.
package ipc
