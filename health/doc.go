// Package health tracks the liveness of the service's moving parts:
// the reactor queue, the bus connection, the backing stores, and the
// ingress pool. Components report a three-state status (healthy,
// degraded, unhealthy); the monitor aggregates them and serves the
// result over HTTP for probes and dashboards. Status messages are
// sanitized so connection strings and credentials never leak into
// probe responses.
package health
