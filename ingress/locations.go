package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/fieldsafe/riskreactor/clustering"
	"github.com/fieldsafe/riskreactor/errors"
	"github.com/fieldsafe/riskreactor/pkg/worker"
	"github.com/fieldsafe/riskreactor/telemetry"
)

// SubjectLocations matches every location mutation published on the
// bus.
const SubjectLocations = "locations.>"

// LocationEvent is one location mutation from the planning service: a
// create, a move, a rename, or an archival.
type LocationEvent struct {
	Tenant    uuid.UUID `json:"tenant_id"`
	ID        uuid.UUID `json:"location_id"`
	Name      string    `json:"name,omitempty"`
	Status    string    `json:"status,omitempty"`
	Longitude float64   `json:"longitude"`
	Latitude  float64   `json:"latitude"`
	Archived  bool      `json:"archived,omitempty"`
}

// Validate checks the payload shape. Coordinates are not checked on an
// archival, which only needs the id.
func (ev LocationEvent) Validate() error {
	if ev.ID == uuid.Nil {
		return errors.WrapInvalid(fmt.Errorf("location event without a location id"), "ingress", "Validate", "check id")
	}
	if ev.Archived {
		return nil
	}
	if ev.Tenant == uuid.Nil {
		return errors.WrapInvalid(fmt.Errorf("location event without a tenant"), "ingress", "Validate", "check tenant")
	}
	if ev.Longitude < -180 || ev.Longitude > 180 || ev.Latitude < -90 || ev.Latitude > 90 {
		return errors.WrapInvalid(fmt.Errorf("location %s has coordinates %f/%f out of range", ev.ID, ev.Longitude, ev.Latitude),
			"ingress", "Validate", "check coordinates")
	}
	return nil
}

// Encode serializes the event for the bus.
func (ev LocationEvent) Encode() ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, errors.WrapInvalid(err, "ingress", "Encode", "marshal")
	}
	return b, nil
}

// DecodeLocationEvent parses a bus payload.
func DecodeLocationEvent(b []byte) (LocationEvent, error) {
	var ev LocationEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return LocationEvent{}, errors.WrapInvalid(err, "ingress", "DecodeLocationEvent", "unmarshal")
	}
	return ev, nil
}

// Subject returns the bus subject the event publishes on.
func (ev LocationEvent) Subject() string {
	if ev.Archived {
		return "locations.archived"
	}
	return "locations.changed"
}

// Clusterer is the pyramid-maintenance surface the location ingress
// needs. *clustering.Engine satisfies it.
type Clusterer interface {
	Update(ctx context.Context, loc clustering.Location) error
	Archive(ctx context.Context, id uuid.UUID) error
}

// LocationSubscriber feeds location mutations from the bus into the
// clustering engine through a bounded pool.
type LocationSubscriber struct {
	bus    Bus
	engine Clusterer
	log    *slog.Logger
	tele   *telemetry.Metrics
	pool   *worker.Pool[LocationEvent]

	workers   int
	queueSize int
	started   bool
}

// LocationOption configures a LocationSubscriber.
type LocationOption func(*LocationSubscriber)

// WithLocationTelemetry attaches ingress counters.
func WithLocationTelemetry(m *telemetry.Metrics) LocationOption {
	return func(s *LocationSubscriber) { s.tele = m }
}

// WithLocationPoolSize overrides the worker count and queue capacity.
func WithLocationPoolSize(workers, queueSize int) LocationOption {
	return func(s *LocationSubscriber) {
		s.workers = workers
		s.queueSize = queueSize
	}
}

// NewLocationSubscriber builds a subscriber; Start wires it to the bus.
func NewLocationSubscriber(bus Bus, engine Clusterer, log *slog.Logger, opts ...LocationOption) *LocationSubscriber {
	if log == nil {
		log = slog.Default()
	}
	s := &LocationSubscriber{
		bus:       bus,
		engine:    engine,
		log:       log.With("component", "ingress.locations"),
		workers:   defaultWorkers,
		queueSize: defaultQueueSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pool = worker.NewPool(s.workers, s.queueSize, s.process)
	return s
}

// Start launches the pool and subscribes to the location subjects. A
// second Start is an error.
func (s *LocationSubscriber) Start(ctx context.Context) error {
	if s.started {
		return errors.Wrap(errors.ErrAlreadyStarted, "ingress.locations", "Start", "check lifecycle")
	}
	if err := s.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "ingress.locations", "Start", "start pool")
	}
	if err := s.bus.Subscribe(ctx, SubjectLocations, s.handleMessage); err != nil {
		return errors.Wrap(err, "ingress.locations", "Start", "subscribe")
	}
	s.started = true
	s.log.Info("subscribed", "subject", SubjectLocations, "workers", s.workers)
	return nil
}

// Stop drains the pool.
func (s *LocationSubscriber) Stop() error {
	if !s.started {
		return errors.Wrap(errors.ErrNotStarted, "ingress.locations", "Stop", "check lifecycle")
	}
	return errors.Wrap(s.pool.Stop(defaultStopWait), "ingress.locations", "Stop", "stop pool")
}

// Stats exposes the pool counters for health reporting.
func (s *LocationSubscriber) Stats() worker.PoolStats {
	return s.pool.Stats()
}

// handleMessage decodes a bus payload and hands it to the pool.
// Malformed payloads and pool saturation are counted and dropped; the
// bus is never blocked.
func (s *LocationSubscriber) handleMessage(_ context.Context, data []byte) {
	ev, err := DecodeLocationEvent(data)
	if err != nil {
		s.log.Warn("undecodable location event dropped", "error", err)
		s.drop()
		return
	}
	if err := ev.Validate(); err != nil {
		s.log.Warn("invalid location event dropped", "location", ev.ID, "error", err)
		s.drop()
		return
	}
	if s.tele != nil {
		s.tele.LocationsReceived.Inc()
	}
	if err := s.pool.Submit(ev); err != nil {
		s.log.Warn("location event dropped, pool saturated", "location", ev.ID)
		s.drop()
	}
}

// process applies one mutation to the pyramid. Update covers inserts
// and moves; the engine falls back to an insert for unknown ids.
func (s *LocationSubscriber) process(ctx context.Context, ev LocationEvent) error {
	var err error
	if ev.Archived {
		err = s.engine.Archive(ctx, ev.ID)
	} else {
		err = s.engine.Update(ctx, clustering.Location{
			ID:     ev.ID,
			Tenant: ev.Tenant,
			Name:   ev.Name,
			Status: ev.Status,
			Point:  orb.Point{ev.Longitude, ev.Latitude},
		})
	}
	if err != nil {
		s.log.Error("location mutation failed", "location", ev.ID, "archived", ev.Archived, "error", err)
		return err
	}
	return nil
}

func (s *LocationSubscriber) drop() {
	if s.tele != nil {
		s.tele.LocationsDropped.Inc()
	}
}
