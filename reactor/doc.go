// Package reactor runs the fetch-compute-store loop. Each worker pulls
// a job from the queue, resolves the metric's variant and dependencies
// through the catalog, computes, stores the point, and enqueues the
// downstream jobs whose inputs just changed. A missing dependency
// enqueues the dependency and parks the current job behind it; other
// failures retry with backoff until the attempt budget is spent, after
// which the job is dropped and an operational alert raised. The system
// never halts on a bad job.
package reactor
