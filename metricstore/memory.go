package metricstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fieldsafe/riskreactor/riskmodel"
)

type seriesKey struct {
	Type riskmodel.MetricType
	Key  riskmodel.MetricKey
}

// Memory is an in-process Store for tests and the reactor's unit
// harness. Points per series stay ordered by calculated_at with
// insertion order breaking ties.
type Memory struct {
	mu     sync.RWMutex
	series map[seriesKey][]riskmodel.MetricPoint
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{series: make(map[seriesKey][]riskmodel.MetricPoint)}
}

// Store implements Store. A point whose (type, key, calculated_at)
// already exists is a no-op.
func (m *Memory) Store(_ context.Context, p riskmodel.MetricPoint) error {
	if err := p.Type.ValidateKey(p.Key); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sk := seriesKey{Type: p.Type, Key: p.Key}
	points := m.series[sk]
	for _, existing := range points {
		if existing.CalculatedAt.Equal(p.CalculatedAt) {
			return nil
		}
	}
	points = append(points, p)
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].CalculatedAt.Before(points[j].CalculatedAt)
	})
	m.series[sk] = points
	return nil
}

// LoadLatest implements Store.
func (m *Memory) LoadLatest(_ context.Context, req Request) (riskmodel.MetricPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latestLocked(req)
}

func (m *Memory) latestLocked(req Request) (riskmodel.MetricPoint, error) {
	at := req.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	points := m.series[seriesKey{Type: req.Type, Key: req.Key}]
	for i := len(points) - 1; i >= 0; i-- {
		if !points[i].CalculatedAt.After(at) {
			return points[i], nil
		}
	}
	return riskmodel.MetricPoint{}, &riskmodel.MissingMetricError{Type: req.Type, Key: req.Key}
}

// LoadManyLatest implements Store with per-request error semantics.
func (m *Memory) LoadManyLatest(_ context.Context, reqs []Request) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]Result, len(reqs))
	for i, req := range reqs {
		point, err := m.latestLocked(req)
		results[i] = Result{Request: req, Point: point, Err: err}
	}
	return results, nil
}

// Count reports the number of stored points for a series; test helper.
func (m *Memory) Count(metric riskmodel.MetricType, key riskmodel.MetricKey) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.series[seriesKey{Type: metric, Key: key}])
}

var _ Store = (*Memory)(nil)
