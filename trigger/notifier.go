package trigger

import (
	"context"
	"log/slog"
	"time"

	"github.com/fieldsafe/riskreactor/reactorqueue"
)

// Notifier is the trigger ingress surface handed to domain mutations.
// Notify never blocks the caller on queue writes; expansion and
// enqueueing run with their own deadline.
type Notifier struct {
	expander *Expander
	queue    reactorqueue.Queue
	log      *slog.Logger
	timeout  time.Duration
}

// NewNotifier wires expansion to the queue.
func NewNotifier(expander *Expander, queue reactorqueue.Queue, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{
		expander: expander,
		queue:    queue,
		log:      log,
		timeout:  10 * time.Second,
	}
}

// Notify expands the trigger and enqueues its jobs. Queue duplicates
// collapse, so callers may notify freely on every mutation.
func (n *Notifier) Notify(ctx context.Context, trg Trigger) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	jobs, err := n.expander.Expand(ctx, trg)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if err := n.queue.Add(ctx, job); err != nil {
			return err
		}
	}
	n.log.Debug("trigger expanded",
		"trigger", string(trg.Type),
		"entity", trg.Entity.String(),
		"jobs", len(jobs))
	return nil
}
