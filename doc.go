// Package riskreactor is the risk computation core of the FieldSafe
// worker-safety platform: an event-driven reactor that maintains derived
// risk metrics as append-only time-series, plus a location clustering
// engine that keeps a per-tenant pyramid of map clusters consistent with
// location mutations.
//
// # Architecture
//
//	┌──────────────────────────────────────┐
//	│          Trigger Ingress             │  NATS subjects
//	│   (domain mutations -> triggers)     │  triggers.<type>
//	└──────────────────┬───────────────────┘
//	                   ↓ expands to jobs
//	┌──────────────────────────────────────┐
//	│          Reactor Queue               │  FIFO + dedup
//	│   (in-process or Redis-backed)       │  (type, key) identity
//	└──────────────────┬───────────────────┘
//	                   ↓ consumed by
//	┌──────────────────────────────────────┐
//	│          Reactor Workers             │  resolve deps, compute,
//	│  (catalog-driven compute pipeline)   │  store, cascade downstream
//	└──────────────────┬───────────────────┘
//	                   ↓ reads/writes
//	┌──────────────────────────────────────┐
//	│   Metric Store / Config Store        │  Postgres (pgx)
//	│   Cluster Store (PostGIS)            │  append-only points
//	└──────────────────────────────────────┘
//
// Jobs are deduplicated on (metric type, key tuple) and retried with
// bounded exponential backoff. A missing dependency re-enqueues the
// dependency and parks the current job behind it; the system targets
// eventual correctness under at-least-once delivery, never exactness.
//
// # Packages
//
//   - riskmodel: metric types, key schemas, points, rankings, configs
//   - catalog: static metric registry (dependencies, variants, schemas)
//   - metricstore: append-only keyed time-series persistence
//   - configstore: tenant-scoped RISK_MODEL.* configuration
//   - trigger: domain event to job-list expansion
//   - reactorqueue: the dedup FIFO (memory and Redis implementations)
//   - reactor: the worker loop and pool
//   - sitecondition: deterministic world-data evaluation
//   - clustering: the zoom pyramid engine
//   - tileserver: vector-tile queries over the pyramid
//   - ingress: NATS trigger consumer and notifier
//
// Supporting packages (errors, pkg/retry, pkg/worker, telemetry, health,
// natsclient, opsfeed) carry the operational surface.
package riskreactor
