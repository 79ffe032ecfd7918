package reactorqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fieldsafe/riskreactor/errors"
	"github.com/fieldsafe/riskreactor/riskmodel"
)

// Job is one pending recomputation. Attempt is retry metadata and does
// not participate in deduplication.
type Job struct {
	Type    riskmodel.MetricType `json:"type"`
	Key     riskmodel.MetricKey  `json:"key"`
	Attempt int                  `json:"attempt,omitempty"`
}

// NewJob builds a first-attempt job.
func NewJob(m riskmodel.MetricType, key riskmodel.MetricKey) Job {
	return Job{Type: m, Key: key}
}

// DedupKey is the identity under which duplicate jobs collapse.
func (j Job) DedupKey() string {
	return j.Type.String() + "|" + j.Key.String()
}

// Retry returns a copy with the attempt count bumped.
func (j Job) Retry() Job {
	j.Attempt++
	return j
}

// Encode serializes the job for the wire-backed queue.
func (j Job) Encode() ([]byte, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return nil, errors.WrapInvalid(err, "reactorqueue", "Encode", "marshal job")
	}
	return b, nil
}

// DecodeJob parses a wire payload back into a job.
func DecodeJob(b []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(b, &j); err != nil {
		return Job{}, errors.WrapInvalid(err, "reactorqueue", "DecodeJob", "unmarshal job")
	}
	return j, nil
}

// Queue is the reactor's work queue contract. Fetch blocks up to its
// timeout and returns errors.ErrQueueEmpty when nothing arrives. A
// fetched job stays in flight until Ack or Nack.
type Queue interface {
	// Add enqueues unless an identical (type, key) job is already
	// pending or in flight.
	Add(ctx context.Context, job Job) error
	// Fetch blocks up to timeout for the next job.
	Fetch(ctx context.Context, timeout time.Duration) (Job, error)
	// Ack removes a completed job from the in-flight set.
	Ack(ctx context.Context, job Job) error
	// Nack returns a failed job to the queue after the delay with its
	// attempt count bumped.
	Nack(ctx context.Context, job Job, rescheduleAfter time.Duration) error
	// Len reports pending (not in-flight) jobs.
	Len(ctx context.Context) (int, error)
	// RequeueInFlight returns jobs that have been in flight longer than
	// olderThan to the pending queue; the recovery sweep after a worker
	// crash. It reports how many jobs it moved.
	RequeueInFlight(ctx context.Context, olderThan time.Duration) (int, error)
}
