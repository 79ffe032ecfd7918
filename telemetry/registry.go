package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "riskreactor"

// Metrics is the shared instrument set.
type Metrics struct {
	// Reactor worker.
	JobsProcessed  *prometheus.CounterVec // result: completed|missing_dep|retried|dropped|invariant
	JobDuration    *prometheus.HistogramVec
	QueueDepth     prometheus.Gauge
	BudgetExceeded prometheus.Counter

	// Trigger ingress.
	TriggersReceived *prometheus.CounterVec
	TriggersDropped  prometheus.Counter

	// Location ingress.
	LocationsReceived prometheus.Counter
	LocationsDropped  prometheus.Counter

	// Clustering engine.
	ClusterOps      *prometheus.CounterVec // op: insert|update|archive|recreate
	ClusterOpErrors *prometheus.CounterVec
	LockRetries     prometheus.Counter

	// Tile server.
	TileRequests *prometheus.CounterVec // status
	TileDuration prometheus.Histogram

	// Config cache.
	ConfigCacheHits   prometheus.Counter
	ConfigCacheMisses prometheus.Counter

	// Bus connectivity.
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// Registry couples the instrument set with its Prometheus registry.
type Registry struct {
	prom    *prometheus.Registry
	Metrics *Metrics
}

// NewRegistry builds a registry with runtime collectors and the full
// instrument set registered.
func NewRegistry() *Registry {
	prom := prometheus.NewRegistry()
	prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reactor", Name: "jobs_processed_total",
			Help: "Reactor jobs by terminal result.",
		}, []string{"result"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "reactor", Name: "job_duration_seconds",
			Help:    "Fetch-to-ack duration per metric type.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"metric_type"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "reactor", Name: "queue_depth",
			Help: "Pending jobs, delayed retries included.",
		}),
		BudgetExceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reactor", Name: "compute_budget_exceeded_total",
			Help: "Computes that overran the soft time budget.",
		}),
		TriggersReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingress", Name: "triggers_received_total",
			Help: "Triggers consumed from the bus.",
		}, []string{"type"}),
		TriggersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingress", Name: "triggers_dropped_total",
			Help: "Triggers dropped because the ingress pool was saturated.",
		}),
		LocationsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingress", Name: "locations_received_total",
			Help: "Location events consumed from the bus.",
		}),
		LocationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingress", Name: "locations_dropped_total",
			Help: "Location events dropped as malformed or on pool saturation.",
		}),
		ClusterOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "clustering", Name: "operations_total",
			Help: "Clustering engine operations.",
		}, []string{"op"}),
		ClusterOpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "clustering", Name: "operation_errors_total",
			Help: "Failed clustering operations.",
		}, []string{"op"}),
		LockRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "clustering", Name: "lock_retries_total",
			Help: "Cluster lock contention retries.",
		}),
		TileRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tiles", Name: "requests_total",
			Help: "Vector tile requests by HTTP status.",
		}, []string{"status"}),
		TileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "tiles", Name: "request_duration_seconds",
			Help:    "Tile render latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		ConfigCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "configstore", Name: "cache_hits_total",
			Help: "Config rows served from the in-process cache.",
		}),
		ConfigCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "configstore", Name: "cache_misses_total",
			Help: "Config rows fetched from the backing store.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "nats", Name: "connected",
			Help: "1 when the bus connection is up.",
		}),
		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "nats", Name: "reconnects_total",
			Help: "Bus reconnects since start.",
		}),
	}
	prom.MustRegister(
		m.JobsProcessed, m.JobDuration, m.QueueDepth, m.BudgetExceeded,
		m.TriggersReceived, m.TriggersDropped,
		m.LocationsReceived, m.LocationsDropped,
		m.ClusterOps, m.ClusterOpErrors, m.LockRetries,
		m.TileRequests, m.TileDuration,
		m.ConfigCacheHits, m.ConfigCacheMisses,
		m.NATSConnected, m.NATSReconnects,
	)
	return &Registry{prom: prom, Metrics: m}
}

// Prometheus exposes the underlying registry for extra registrations.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.prom
}

// Handler serves the scrape endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{})
}
