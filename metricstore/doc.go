// Package metricstore persists metric points as append-only keyed
// time-series. Each metric type owns a table keyed by its entity columns
// plus calculated_at; Store is idempotent on that primary key and
// LoadLatest returns the most recent point at or before a requested
// instant. Absence is the routable MissingMetricError, never a zero
// value.
package metricstore
