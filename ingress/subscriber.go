package ingress

import (
	"context"
	"log/slog"
	"time"

	"github.com/fieldsafe/riskreactor/errors"
	"github.com/fieldsafe/riskreactor/pkg/worker"
	"github.com/fieldsafe/riskreactor/telemetry"
	"github.com/fieldsafe/riskreactor/trigger"
)

// SubjectAll matches every trigger subject published on the bus.
const SubjectAll = "triggers.>"

const (
	defaultWorkers   = 4
	defaultQueueSize = 4096
	defaultStopWait  = 10 * time.Second
)

// Bus is the subscription surface the ingress needs. *natsclient.Client
// satisfies it.
type Bus interface {
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error
}

// Notifier expands a trigger into reactor jobs. *trigger.Notifier
// satisfies it.
type Notifier interface {
	Notify(ctx context.Context, trg trigger.Trigger) error
}

// Subscriber ties the bus subscription to the notifier through a
// bounded pool.
type Subscriber struct {
	bus      Bus
	notifier Notifier
	log      *slog.Logger
	tele     *telemetry.Metrics
	pool     *worker.Pool[trigger.Trigger]

	workers   int
	queueSize int
	started   bool
}

// Option configures a Subscriber.
type Option func(*Subscriber)

// WithTelemetry attaches ingress counters.
func WithTelemetry(m *telemetry.Metrics) Option {
	return func(s *Subscriber) { s.tele = m }
}

// WithPoolSize overrides the worker count and queue capacity.
func WithPoolSize(workers, queueSize int) Option {
	return func(s *Subscriber) {
		s.workers = workers
		s.queueSize = queueSize
	}
}

// NewSubscriber builds a subscriber; Start wires it to the bus.
func NewSubscriber(bus Bus, notifier Notifier, log *slog.Logger, opts ...Option) *Subscriber {
	if log == nil {
		log = slog.Default()
	}
	s := &Subscriber{
		bus:       bus,
		notifier:  notifier,
		log:       log.With("component", "ingress"),
		workers:   defaultWorkers,
		queueSize: defaultQueueSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pool = worker.NewPool(s.workers, s.queueSize, s.process)
	return s
}

// Start launches the pool and subscribes to the trigger subjects. A
// second Start is an error.
func (s *Subscriber) Start(ctx context.Context) error {
	if s.started {
		return errors.Wrap(errors.ErrAlreadyStarted, "ingress", "Start", "check lifecycle")
	}
	if err := s.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "ingress", "Start", "start pool")
	}
	if err := s.bus.Subscribe(ctx, SubjectAll, s.handleMessage); err != nil {
		return errors.Wrap(err, "ingress", "Start", "subscribe")
	}
	s.started = true
	s.log.Info("subscribed", "subject", SubjectAll, "workers", s.workers)
	return nil
}

// Stop drains the pool.
func (s *Subscriber) Stop() error {
	if !s.started {
		return errors.Wrap(errors.ErrNotStarted, "ingress", "Stop", "check lifecycle")
	}
	return errors.Wrap(s.pool.Stop(defaultStopWait), "ingress", "Stop", "stop pool")
}

// Stats exposes the pool counters for health reporting.
func (s *Subscriber) Stats() worker.PoolStats {
	return s.pool.Stats()
}

// handleMessage decodes a bus payload and hands it to the pool.
// Malformed payloads and pool saturation are counted and dropped; the
// bus is never blocked.
func (s *Subscriber) handleMessage(_ context.Context, data []byte) {
	trg, err := trigger.Decode(data)
	if err != nil {
		s.log.Warn("undecodable trigger dropped", "error", err)
		s.drop()
		return
	}
	if err := trg.Validate(); err != nil {
		s.log.Warn("invalid trigger dropped", "type", trg.Type, "error", err)
		s.drop()
		return
	}
	if s.tele != nil {
		s.tele.TriggersReceived.WithLabelValues(string(trg.Type)).Inc()
	}
	if err := s.pool.Submit(trg); err != nil {
		s.log.Warn("trigger dropped, pool saturated", "type", trg.Type, "entity", trg.Entity)
		s.drop()
	}
}

func (s *Subscriber) process(ctx context.Context, trg trigger.Trigger) error {
	if err := s.notifier.Notify(ctx, trg); err != nil {
		s.log.Error("trigger expansion failed", "type", trg.Type, "entity", trg.Entity, "error", err)
		return err
	}
	return nil
}

func (s *Subscriber) drop() {
	if s.tele != nil {
		s.tele.TriggersDropped.Inc()
	}
}
