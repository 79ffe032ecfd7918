// Package reactorqueue is the FIFO of pending metric recomputations.
// Jobs deduplicate on (metric type, key): adding a job that is already
// pending or in flight is a no-op. Two interchangeable implementations
// exist: an in-process queue for tests and single-node runs, and a
// Redis-backed queue for production, where multiple worker processes
// share one queue with at-least-once delivery.
package reactorqueue
