package metricstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsafe/riskreactor/riskmodel"
)

func contractorPoint(tenant, contractor uuid.UUID, at time.Time, value float64) riskmodel.MetricPoint {
	return riskmodel.MetricPoint{
		Type:         riskmodel.ContractorSafetyScore,
		Key:          riskmodel.EntityKey(tenant, contractor),
		CalculatedAt: at,
		Value:        value,
	}
}

// Storing the same point twice must leave exactly one row.
func TestStoreIdempotence(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	tenant, contractor := uuid.New(), uuid.New()
	at := time.Now().UTC()

	p := contractorPoint(tenant, contractor, at, 42)
	require.NoError(t, store.Store(ctx, p))
	require.NoError(t, store.Store(ctx, p))

	assert.Equal(t, 1, store.Count(p.Type, p.Key))

	got, err := store.LoadLatest(ctx, Request{Type: p.Type, Key: p.Key})
	require.NoError(t, err)
	assert.Equal(t, 42.0, got.Value)
}

func TestStoreRejectsMalformedKey(t *testing.T) {
	store := NewMemory()
	p := riskmodel.MetricPoint{
		Type:         riskmodel.ContractorSafetyScore,
		Key:          riskmodel.MetricKey{Entity: uuid.New()}, // tenant missing
		CalculatedAt: time.Now(),
	}
	assert.Error(t, store.Store(context.Background(), p))
}

func TestLoadLatestMonotonicity(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	tenant, contractor := uuid.New(), uuid.New()
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		p := contractorPoint(tenant, contractor, base.Add(time.Duration(i)*time.Minute), float64(i))
		require.NoError(t, store.Store(ctx, p))
	}

	req := Request{Type: riskmodel.ContractorSafetyScore, Key: riskmodel.EntityKey(tenant, contractor)}

	var last time.Time
	for i := 0; i < 3; i++ {
		got, err := store.LoadLatest(ctx, req)
		require.NoError(t, err)
		assert.False(t, got.CalculatedAt.Before(last), "calculated_at must be non-decreasing across reads")
		last = got.CalculatedAt
	}
	assert.Equal(t, 4.0, (func() riskmodel.MetricPoint { p, _ := store.LoadLatest(ctx, req); return p })().Value)
}

func TestLoadLatestAtInstant(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	tenant, contractor := uuid.New(), uuid.New()
	base := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, store.Store(ctx, contractorPoint(tenant, contractor, base, 1)))
	require.NoError(t, store.Store(ctx, contractorPoint(tenant, contractor, base.Add(10*time.Minute), 2)))

	req := Request{Type: riskmodel.ContractorSafetyScore, Key: riskmodel.EntityKey(tenant, contractor)}

	// At a point between the two writes only the first is visible.
	req.At = base.Add(5 * time.Minute)
	got, err := store.LoadLatest(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Value)

	// Exactly at a write sees it.
	req.At = base.Add(10 * time.Minute)
	got, err = store.LoadLatest(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.Value)

	// Before everything is missing.
	req.At = base.Add(-time.Minute)
	_, err = store.LoadLatest(ctx, req)
	mm, ok := riskmodel.IsMissingMetric(err)
	require.True(t, ok)
	assert.Equal(t, riskmodel.ContractorSafetyScore, mm.Type)
}

func TestLoadManyLatestPreservesPerRequestErrors(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	tenant := uuid.New()
	present, absent := uuid.New(), uuid.New()

	require.NoError(t, store.Store(ctx, contractorPoint(tenant, present, time.Now().UTC(), 7)))

	results, err := store.LoadManyLatest(ctx, []Request{
		{Type: riskmodel.ContractorSafetyScore, Key: riskmodel.EntityKey(tenant, present)},
		{Type: riskmodel.ContractorSafetyScore, Key: riskmodel.EntityKey(tenant, absent)},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.NoError(t, results[0].Err)
	assert.Equal(t, 7.0, results[0].Point.Value)

	_, missing := riskmodel.IsMissingMetric(results[1].Err)
	assert.True(t, missing)
}

func TestExplainCollectsMissingInputs(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	tenant := uuid.New()
	location, task := uuid.New(), uuid.New()
	date := riskmodel.Today()

	locKey := riskmodel.DatedKey(tenant, location, date)
	taskKey := riskmodel.DatedKey(tenant, task, date)

	point := riskmodel.NewPoint(riskmodel.LocationTotalTaskRiskScore, locKey, 185.71).
		WithInputs(map[string]float64{"task": 100})
	require.NoError(t, store.Store(ctx, point))

	exp, err := Explain(ctx, store,
		Request{Type: riskmodel.LocationTotalTaskRiskScore, Key: locKey},
		[]Request{{Type: riskmodel.TaskSpecificRiskScore, Key: taskKey}})
	require.NoError(t, err)

	require.NotNil(t, exp.Value)
	assert.Equal(t, 185.71, *exp.Value)
	assert.NotEmpty(t, exp.Inputs)
	require.Len(t, exp.Missing, 1)
	assert.Contains(t, exp.Missing[0], "TaskSpecificRiskScore")
}
