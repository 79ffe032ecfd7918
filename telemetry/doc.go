// Package telemetry owns the process-wide Prometheus registry and the
// instrument set shared by the reactor, the clustering engine, and the
// tile server. Components receive the Metrics struct at construction;
// nothing registers against a global default registry.
package telemetry
