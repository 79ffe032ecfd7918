package reactor

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldsafe/riskreactor/catalog"
	"github.com/fieldsafe/riskreactor/errors"
	"github.com/fieldsafe/riskreactor/metricstore"
	"github.com/fieldsafe/riskreactor/pkg/retry"
	"github.com/fieldsafe/riskreactor/reactorqueue"
	"github.com/fieldsafe/riskreactor/riskmodel"
	"github.com/fieldsafe/riskreactor/telemetry"
)

// Defaults for the worker loop.
const (
	DefaultFetchTimeout  = 5 * time.Second
	DefaultMaxAttempts   = 10
	DefaultComputeBudget = 30 * time.Second
	defaultSweepInterval = time.Minute
	defaultStuckAfter    = 5 * time.Minute
)

// Config tunes a reactor.
type Config struct {
	Workers       int
	FetchTimeout  time.Duration
	MaxAttempts   int
	ComputeBudget time.Duration
	// SweepInterval is how often the recovery sweep returns stuck
	// in-flight jobs to the queue; zero disables the sweep.
	SweepInterval time.Duration
	StuckAfter    time.Duration
	Backoff       retry.Config
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.ComputeBudget <= 0 {
		c.ComputeBudget = DefaultComputeBudget
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = defaultStuckAfter
	}
	if c.Backoff == (retry.Config{}) {
		c.Backoff = retry.Persistent()
	}
	return c
}

// Reactor drives a pool of workers over one queue.
type Reactor struct {
	queue   reactorqueue.Queue
	catalog *catalog.Catalog
	env     *catalog.Env
	cfg     Config
	log     *slog.Logger
	metrics *telemetry.Metrics
	alerts  AlertSink
	drops   *DropLog
}

// Option adjusts reactor construction.
type Option func(*Reactor)

// WithAlertSink routes operational alerts somewhere besides the log.
func WithAlertSink(sink AlertSink) Option {
	return func(r *Reactor) { r.alerts = sink }
}

// WithTelemetry attaches the shared instrument set.
func WithTelemetry(m *telemetry.Metrics) Option {
	return func(r *Reactor) { r.metrics = m }
}

// New assembles a reactor.
func New(queue reactorqueue.Queue, cat *catalog.Catalog, env *catalog.Env, cfg Config, log *slog.Logger, opts ...Option) *Reactor {
	if log == nil {
		log = slog.Default()
	}
	r := &Reactor{
		queue:   queue,
		catalog: cat,
		env:     env,
		cfg:     cfg.withDefaults(),
		log:     log,
		drops:   NewDropLog(0),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.alerts == nil {
		r.alerts = LogSink{Log: log}
	}
	return r
}

// Drops exposes the bounded history of dropped jobs.
func (r *Reactor) Drops() *DropLog { return r.drops }

// Run blocks until ctx is cancelled, running the configured number of
// workers plus the recovery sweep.
func (r *Reactor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range r.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.workerLoop(ctx, i)
		}()
	}
	if r.cfg.SweepInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.sweepLoop(ctx)
		}()
	}
	wg.Wait()
}

// Drain processes jobs until the queue stays empty for one fetch
// timeout. Single-threaded; used by tests and the backfill CLI.
func (r *Reactor) Drain(ctx context.Context) error {
	for {
		job, err := r.queue.Fetch(ctx, 50*time.Millisecond)
		if stderrors.Is(err, errors.ErrQueueEmpty) {
			return nil
		}
		if err != nil {
			return err
		}
		r.process(ctx, job)
	}
}

func (r *Reactor) workerLoop(ctx context.Context, id int) {
	log := r.log.With("worker", id)
	emptyStreak := 0
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := r.queue.Fetch(ctx, r.cfg.FetchTimeout)
		switch {
		case stderrors.Is(err, errors.ErrQueueEmpty):
			emptyStreak++
			r.idle(ctx, emptyStreak)
			continue
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			log.Warn("queue fetch failed", "error", err)
			emptyStreak++
			r.idle(ctx, emptyStreak)
			continue
		}
		emptyStreak = 0
		r.process(ctx, job)
		r.observeDepth(ctx)
	}
}

// idle backs off between empty fetches so a dead queue is not polled
// in a tight loop.
func (r *Reactor) idle(ctx context.Context, streak int) {
	delay := r.cfg.Backoff.Delay(streak + 1)
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (r *Reactor) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			moved, err := r.queue.RequeueInFlight(ctx, r.cfg.StuckAfter)
			if err != nil {
				r.log.Warn("recovery sweep failed", "error", err)
				continue
			}
			if moved > 0 {
				r.log.Info("recovery sweep requeued stuck jobs", "moved", moved)
			}
		}
	}
}

func (r *Reactor) observeDepth(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	if n, err := r.queue.Len(ctx); err == nil {
		r.metrics.QueueDepth.Set(float64(n))
	}
}

// process runs one job to a terminal state. All error handling happens
// here; the loop never sees a failure it has to stop for.
func (r *Reactor) process(ctx context.Context, job reactorqueue.Job) {
	start := time.Now()
	result := r.runJob(ctx, job)
	elapsed := time.Since(start)

	if elapsed > r.cfg.ComputeBudget {
		r.log.Warn("compute exceeded soft budget",
			"metric_type", job.Type.String(), "key", job.Key.String(),
			"elapsed", elapsed, "budget", r.cfg.ComputeBudget)
		if r.metrics != nil {
			r.metrics.BudgetExceeded.Inc()
		}
	}
	if r.metrics != nil {
		r.metrics.JobsProcessed.WithLabelValues(result).Inc()
		r.metrics.JobDuration.WithLabelValues(job.Type.String()).Observe(elapsed.Seconds())
	}
}

// Terminal results for one pass over a job.
const (
	resultCompleted  = "completed"
	resultMissingDep = "missing_dep"
	resultRetried    = "retried"
	resultDropped    = "dropped"
	resultInvariant  = "invariant"
)

func (r *Reactor) runJob(ctx context.Context, job reactorqueue.Job) string {
	point, err := r.compute(ctx, job)
	if err == nil {
		return r.finish(ctx, job, point)
	}

	var md *missingDepsError
	if stderrors.As(err, &md) {
		return r.handleMissing(ctx, job, md.missing)
	}
	if missing, ok := riskmodel.IsMissingMetric(err); ok {
		return r.handleMissing(ctx, job, []*riskmodel.MissingMetricError{missing})
	}
	var violation *riskmodel.InvariantViolationError
	if stderrors.As(err, &violation) {
		return r.handleInvariant(ctx, job, violation)
	}
	kind := AlertKind("")
	if _, ok := riskmodel.IsMissingConfig(err); ok {
		kind = AlertMissingConfig
	}
	return r.retryOrDrop(ctx, job, err, kind)
}

// compute resolves variant, dependencies, and the compute function, and
// returns the stored-ready point.
func (r *Reactor) compute(ctx context.Context, job reactorqueue.Job) (riskmodel.MetricPoint, error) {
	if err := job.Type.ValidateKey(job.Key); err != nil {
		return riskmodel.MetricPoint{}, retry.NonRetryable(err)
	}
	desc, err := r.catalog.Descriptor(job.Type)
	if err != nil {
		return riskmodel.MetricPoint{}, retry.NonRetryable(err)
	}
	variant, err := r.env.Configs.LoadVariant(ctx, job.Key.Tenant, desc.Config)
	if err != nil {
		return riskmodel.MetricPoint{}, err
	}
	fn, err := r.catalog.Compute(job.Type, variant)
	if err != nil {
		return riskmodel.MetricPoint{}, err
	}

	reqs, err := r.catalog.DependencyRequests(ctx, r.env, job.Type, job.Key)
	if err != nil {
		return riskmodel.MetricPoint{}, err
	}
	deps, err := r.loadDeps(ctx, reqs)
	if err != nil {
		return riskmodel.MetricPoint{}, err
	}

	out, err := fn(ctx, r.env, job.Key, deps)
	if err != nil {
		return riskmodel.MetricPoint{}, err
	}
	point := riskmodel.NewPoint(job.Type, job.Key, out.Value)
	if out.Inputs != nil {
		point = point.WithInputs(out.Inputs)
	}
	if out.Params != nil {
		point = point.WithParams(out.Params)
	}
	return point, nil
}

func (r *Reactor) loadDeps(ctx context.Context, reqs []metricstore.Request) (catalog.Deps, error) {
	if len(reqs) == 0 {
		return catalog.NewDeps(nil), nil
	}
	results, err := r.env.Metrics.LoadManyLatest(ctx, reqs)
	if err != nil {
		return catalog.Deps{}, err
	}
	points := make([]riskmodel.MetricPoint, 0, len(results))
	var missing []*riskmodel.MissingMetricError
	for _, res := range results {
		if res.Err != nil {
			if mm, ok := riskmodel.IsMissingMetric(res.Err); ok {
				missing = append(missing, mm)
				continue
			}
			return catalog.Deps{}, res.Err
		}
		points = append(points, res.Point)
	}
	if len(missing) > 0 {
		return catalog.Deps{}, &missingDepsError{missing: missing}
	}
	return catalog.NewDeps(points), nil
}

// missingDepsError carries every dependency one load pass could not
// resolve, so a single attempt enqueues them all instead of discovering
// them one retry at a time.
type missingDepsError struct {
	missing []*riskmodel.MissingMetricError
}

func (e *missingDepsError) Error() string {
	if len(e.missing) == 1 {
		return e.missing[0].Error()
	}
	return fmt.Sprintf("%d missing dependencies, first: %v", len(e.missing), e.missing[0])
}

func (e *missingDepsError) Unwrap() []error {
	errs := make([]error, len(e.missing))
	for i, mm := range e.missing {
		errs[i] = mm
	}
	return errs
}

// finish stores the point, enqueues the cascade, and acks.
func (r *Reactor) finish(ctx context.Context, job reactorqueue.Job, point riskmodel.MetricPoint) string {
	if err := r.env.Metrics.Store(ctx, point); err != nil {
		return r.retryOrDrop(ctx, job, err, "")
	}
	downstream, err := r.catalog.Downstream(ctx, r.env, job.Type, job.Key)
	if err != nil {
		// The point is stored; cascade expansion failures retry the job,
		// and the idempotent store makes the recompute harmless.
		return r.retryOrDrop(ctx, job, err, "")
	}
	for _, req := range downstream {
		if err := r.queue.Add(ctx, reactorqueue.NewJob(req.Type, req.Key)); err != nil {
			return r.retryOrDrop(ctx, job, err, "")
		}
	}
	if err := r.queue.Ack(ctx, job); err != nil {
		r.log.Warn("ack failed", "key", job.Key.String(), "error", err)
	}
	r.log.Debug("metric computed",
		"metric_type", job.Type.String(), "key", job.Key.String(),
		"value", point.Value, "downstream", len(downstream))
	return resultCompleted
}

// handleMissing enqueues every missing dependency, then parks the
// current job behind them with a single nack.
func (r *Reactor) handleMissing(ctx context.Context, job reactorqueue.Job, missing []*riskmodel.MissingMetricError) string {
	if job.Attempt+1 >= r.cfg.MaxAttempts {
		return r.drop(ctx, job, fmt.Errorf("%w: %w", errors.ErrMaxRetriesExceeded, &missingDepsError{missing: missing}))
	}
	for _, dep := range missing {
		if err := r.queue.Add(ctx, reactorqueue.NewJob(dep.Type, dep.Key)); err != nil {
			return r.retryOrDrop(ctx, job, err, "")
		}
	}
	if err := r.queue.Nack(ctx, job, r.cfg.Backoff.Delay(job.Attempt+2)); err != nil {
		r.log.Warn("nack failed", "key", job.Key.String(), "error", err)
	}
	return resultMissingDep
}

// handleInvariant stores a sentinel zero so read paths stay defined,
// raises an alert, and completes the job.
func (r *Reactor) handleInvariant(ctx context.Context, job reactorqueue.Job, violation *riskmodel.InvariantViolationError) string {
	r.log.Error("compute invariant violated",
		"metric_type", job.Type.String(), "key", job.Key.String(), "detail", violation.Detail)
	r.alerts.Publish(ctx, Alert{
		Kind: AlertInvariantViolation, Job: job, Detail: violation.Detail, At: time.Now(),
	})
	sentinel := riskmodel.NewPoint(job.Type, job.Key, 0).
		WithInputs(map[string]any{"invariant_violation": violation.Detail})
	if err := r.env.Metrics.Store(ctx, sentinel); err != nil {
		return r.retryOrDrop(ctx, job, err, "")
	}
	if err := r.queue.Ack(ctx, job); err != nil {
		r.log.Warn("ack failed", "key", job.Key.String(), "error", err)
	}
	return resultInvariant
}

func (r *Reactor) retryOrDrop(ctx context.Context, job reactorqueue.Job, cause error, kind AlertKind) string {
	if retry.IsNonRetryable(cause) {
		return r.drop(ctx, job, cause)
	}
	if job.Attempt+1 >= r.cfg.MaxAttempts {
		return r.drop(ctx, job, fmt.Errorf("%w: %w", errors.ErrMaxRetriesExceeded, cause))
	}
	if kind != "" {
		r.alerts.Publish(ctx, Alert{Kind: kind, Job: job, Detail: cause.Error(), At: time.Now()})
	}
	r.log.Warn("job failed, retrying",
		"metric_type", job.Type.String(), "key", job.Key.String(),
		"attempt", job.Attempt, "error", cause)
	if err := r.queue.Nack(ctx, job, r.cfg.Backoff.Delay(job.Attempt+2)); err != nil {
		r.log.Warn("nack failed", "key", job.Key.String(), "error", err)
	}
	return resultRetried
}

// drop gives up on a job: ack it away, record it, alert.
func (r *Reactor) drop(ctx context.Context, job reactorqueue.Job, cause error) string {
	detail := fmt.Sprintf("dropped after %d attempts: %v", job.Attempt+1, cause)
	r.log.Error("job dropped",
		"metric_type", job.Type.String(), "key", job.Key.String(), "detail", detail)
	alert := Alert{Kind: AlertJobDropped, Job: job, Detail: detail, At: time.Now()}
	r.drops.Record(alert)
	r.alerts.Publish(ctx, alert)
	if err := r.queue.Ack(ctx, job); err != nil {
		r.log.Warn("ack failed for dropped job", "key", job.Key.String(), "error", err)
	}
	return resultDropped
}
