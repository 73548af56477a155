// Package pool
// Author: momentics <momentics@gmail.com>
//
// Buffer pooling primitives for the link framework.
//
// Features:
//   - BufferQueue: bounded, non-blocking FIFO of buffer handles used both as
//     a per-channel empty pool and as a link's full queue
//   - Ownership moves: pushing tags a handle with the queue, popping clears it
//   - Arena: pre-shared payload memory carved once at link create time
//
// Queues never block. An exhausted pool or a full queue is an expected
// condition that callers count and recover from on the next cycle.
package pool
