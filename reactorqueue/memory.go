package reactorqueue

import (
	"context"
	"sync"
	"time"

	"github.com/fieldsafe/riskreactor/errors"
)

// Memory is the in-process queue: a FIFO slice guarded by a mutex with
// a map-backed dedup index. Safe for concurrent producers and
// consumers within one process.
type Memory struct {
	mu       sync.Mutex
	pending  []Job
	delayed  []delayedJob
	inflight map[string]inflightEntry
	dedup    map[string]struct{}
	signal   chan struct{}
	now      func() time.Time
}

type delayedJob struct {
	job     Job
	readyAt time.Time
}

type inflightEntry struct {
	job       Job
	fetchedAt time.Time
}

// NewMemory returns an empty in-process queue.
func NewMemory() *Memory {
	return &Memory{
		inflight: make(map[string]inflightEntry),
		dedup:    make(map[string]struct{}),
		signal:   make(chan struct{}, 1),
		now:      time.Now,
	}
}

func (q *Memory) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Add enqueues unless the job is already pending or in flight.
func (q *Memory) Add(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := job.DedupKey()
	if _, dup := q.dedup[key]; dup {
		return nil
	}
	q.dedup[key] = struct{}{}
	q.pending = append(q.pending, job)
	q.notify()
	return nil
}

// promoteLocked moves due delayed jobs to the pending tail and returns
// the wait until the next delayed job is due (0 when none).
func (q *Memory) promoteLocked() time.Duration {
	now := q.now()
	var next time.Duration
	kept := q.delayed[:0]
	for _, d := range q.delayed {
		if !d.readyAt.After(now) {
			q.pending = append(q.pending, d.job)
			continue
		}
		kept = append(kept, d)
		if wait := d.readyAt.Sub(now); next == 0 || wait < next {
			next = wait
		}
	}
	q.delayed = kept
	return next
}

// Fetch blocks up to timeout for a job, moving it to the in-flight set.
func (q *Memory) Fetch(ctx context.Context, timeout time.Duration) (Job, error) {
	deadline := q.now().Add(timeout)
	for {
		q.mu.Lock()
		nextDelayed := q.promoteLocked()
		if len(q.pending) > 0 {
			job := q.pending[0]
			q.pending = q.pending[1:]
			q.inflight[job.DedupKey()] = inflightEntry{job: job, fetchedAt: q.now()}
			q.mu.Unlock()
			return job, nil
		}
		q.mu.Unlock()

		remaining := deadline.Sub(q.now())
		if remaining <= 0 {
			return Job{}, errors.ErrQueueEmpty
		}
		wait := remaining
		if nextDelayed > 0 && nextDelayed < wait {
			wait = nextDelayed
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Job{}, ctx.Err()
		case <-q.signal:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Ack removes the job from the in-flight set and frees its dedup slot.
func (q *Memory) Ack(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := job.DedupKey()
	delete(q.inflight, key)
	delete(q.dedup, key)
	return nil
}

// Nack reschedules the job after the delay with the attempt bumped.
func (q *Memory) Nack(_ context.Context, job Job, rescheduleAfter time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := job.DedupKey()
	delete(q.inflight, key)
	retry := job.Retry()
	if rescheduleAfter <= 0 {
		q.pending = append(q.pending, retry)
	} else {
		q.delayed = append(q.delayed, delayedJob{job: retry, readyAt: q.now().Add(rescheduleAfter)})
	}
	q.notify()
	return nil
}

// Len reports pending jobs, delayed ones included.
func (q *Memory) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + len(q.delayed), nil
}

// RequeueInFlight returns stuck in-flight jobs to the pending tail.
func (q *Memory) RequeueInFlight(_ context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := q.now().Add(-olderThan)
	moved := 0
	for key, entry := range q.inflight {
		if entry.fetchedAt.After(cutoff) {
			continue
		}
		delete(q.inflight, key)
		q.pending = append(q.pending, entry.job)
		moved++
	}
	if moved > 0 {
		q.notify()
	}
	return moved, nil
}
