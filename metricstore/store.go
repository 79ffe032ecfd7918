package metricstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fieldsafe/riskreactor/riskmodel"
)

// Request asks for the latest point of a series at or before At. A zero
// At means "now".
type Request struct {
	Type riskmodel.MetricType
	Key  riskmodel.MetricKey
	At   time.Time
}

// Result pairs a request's point with its per-request error so batched
// loads preserve individual MissingMetricError semantics.
type Result struct {
	Request Request
	Point   riskmodel.MetricPoint
	Err     error
}

// Store is the metric time-series surface. Implementations must make
// Store idempotent on (type, key, calculated_at) and keep reads
// consistent with committed writes; no cross-metric transactional
// coupling is required.
type Store interface {
	Store(ctx context.Context, p riskmodel.MetricPoint) error
	LoadLatest(ctx context.Context, req Request) (riskmodel.MetricPoint, error)
	LoadManyLatest(ctx context.Context, reqs []Request) ([]Result, error)
}

// Explanation is the diagnostic view of a metric: the latest point (if
// any) and the state of each of its declared dependencies at that
// point's calculation time. Missing pieces are collected, never
// short-circuited.
type Explanation struct {
	Type    riskmodel.MetricType    `json:"type"`
	Key     riskmodel.MetricKey     `json:"key"`
	Value   *float64                `json:"value,omitempty"`
	Inputs  json.RawMessage         `json:"inputs,omitempty"`
	Params  json.RawMessage         `json:"params,omitempty"`
	Deps    []riskmodel.MetricPoint `json:"deps,omitempty"`
	Missing []string                `json:"missing,omitempty"`
}

// Explain assembles the diagnostic record for req, resolving deps at the
// found point's calculation time (or req.At when the point itself is
// missing).
func Explain(ctx context.Context, s Store, req Request, deps []Request) (Explanation, error) {
	out := Explanation{Type: req.Type, Key: req.Key}

	at := req.At
	point, err := s.LoadLatest(ctx, req)
	switch {
	case err == nil:
		out.Value = &point.Value
		out.Inputs = point.Inputs
		out.Params = point.Params
		at = point.CalculatedAt
	default:
		if _, missing := riskmodel.IsMissingMetric(err); !missing {
			return out, err
		}
		out.Missing = append(out.Missing, (&riskmodel.MissingMetricError{Type: req.Type, Key: req.Key}).Error())
	}

	for i := range deps {
		deps[i].At = at
	}
	results, err := s.LoadManyLatest(ctx, deps)
	if err != nil {
		return out, err
	}
	for _, r := range results {
		if r.Err != nil {
			if mm, ok := riskmodel.IsMissingMetric(r.Err); ok {
				out.Missing = append(out.Missing, mm.Error())
				continue
			}
			return out, r.Err
		}
		out.Deps = append(out.Deps, r.Point)
	}
	return out, nil
}
