package riskmodel

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/fieldsafe/riskreactor/errors"
)

// MissingMetricError reports that no point exists for a metric key at or
// before the requested time. The reactor treats it as a dependency gap:
// it enqueues the missing metric and parks the current job behind it.
type MissingMetricError struct {
	Type MetricType
	Key  MetricKey
}

func (e *MissingMetricError) Error() string {
	return fmt.Sprintf("missing metric %s(%s)", e.Type, e.Key)
}

// Unwrap links the error to the store-level key-not-found sentinel.
func (e *MissingMetricError) Unwrap() error { return errors.ErrKeyNotFound }

// IsMissingMetric extracts a MissingMetricError from an error chain.
func IsMissingMetric(err error) (*MissingMetricError, bool) {
	var mm *MissingMetricError
	if asErr(err, &mm) {
		return mm, true
	}
	return nil, false
}

// MissingConfigError reports that a configuration name has neither a
// tenant row, a default row, nor a compiled-in default. It also covers
// unknown metric variants; those must fail loudly rather than fall back.
type MissingConfigError struct {
	Name   string
	Tenant uuid.UUID
}

func (e *MissingConfigError) Error() string {
	if e.Tenant == uuid.Nil {
		return fmt.Sprintf("missing config %q", e.Name)
	}
	return fmt.Sprintf("missing config %q for tenant %s", e.Name, e.Tenant)
}

// Unwrap links the error to the configuration sentinel, so it
// classifies as invalid rather than transient.
func (e *MissingConfigError) Unwrap() error { return errors.ErrMissingConfig }

// IsMissingConfig extracts a MissingConfigError from an error chain.
func IsMissingConfig(err error) (*MissingConfigError, bool) {
	var mc *MissingConfigError
	if asErr(err, &mc) {
		return mc, true
	}
	return nil, false
}

// InvariantViolationError reports a compute result that breaks a model
// invariant (for example a negative weighted average). The worker logs
// it, stores a sentinel value and raises an operational alert; it never
// crashes the loop.
type InvariantViolationError struct {
	Type   MetricType
	Key    MetricKey
	Detail string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation computing %s(%s): %s", e.Type, e.Key, e.Detail)
}
