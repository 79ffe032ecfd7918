// Package worker provides a generic bounded worker pool. The trigger
// ingress uses it to expand incoming domain events into queue jobs
// without blocking the NATS callback.
package worker
