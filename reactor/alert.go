package reactor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldsafe/riskreactor/reactorqueue"
)

// AlertKind classifies operational alerts.
type AlertKind string

const (
	AlertJobDropped         AlertKind = "job_dropped"
	AlertInvariantViolation AlertKind = "invariant_violation"
	AlertMissingConfig      AlertKind = "missing_config"
)

// Alert is an operator-facing event. It is not a metric point; it
// flows to logs and to the ops feed.
type Alert struct {
	Kind   AlertKind        `json:"kind"`
	Job    reactorqueue.Job `json:"job"`
	Detail string           `json:"detail"`
	At     time.Time        `json:"at"`
}

// AlertSink receives alerts. Publish must not block the worker.
type AlertSink interface {
	Publish(ctx context.Context, alert Alert)
}

// LogSink writes alerts to the structured log.
type LogSink struct {
	Log *slog.Logger
}

func (s LogSink) Publish(_ context.Context, alert Alert) {
	s.Log.Warn("operational alert",
		"kind", string(alert.Kind),
		"metric_type", alert.Job.Type.String(),
		"key", alert.Job.Key.String(),
		"attempt", alert.Job.Attempt,
		"detail", alert.Detail)
}

// DropLog keeps the most recent dropped jobs for operator review.
type DropLog struct {
	mu    sync.Mutex
	limit int
	drops []Alert
}

// NewDropLog bounds the retained history.
func NewDropLog(limit int) *DropLog {
	if limit <= 0 {
		limit = 256
	}
	return &DropLog{limit: limit}
}

// Record appends, evicting the oldest entry past the limit.
func (d *DropLog) Record(alert Alert) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drops = append(d.drops, alert)
	if len(d.drops) > d.limit {
		d.drops = d.drops[len(d.drops)-d.limit:]
	}
}

// Recent returns a copy of the retained drops, oldest first.
func (d *DropLog) Recent() []Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Alert(nil), d.drops...)
}
