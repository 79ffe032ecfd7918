package riskmodel

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricTypeMetadataComplete(t *testing.T) {
	for _, m := range AllMetricTypes() {
		assert.True(t, m.Valid(), "metric %d should be valid", int(m))
		assert.NotEmpty(t, m.String(), "metric %d needs a name", int(m))
		assert.NotEmpty(t, m.Table(), "metric %s needs a table", m)
		assert.NotZero(t, m.KeyFields(), "metric %s needs a key schema", m)

		if m.KeyFields().Has(KeyEntity) {
			assert.NotEmpty(t, m.EntityColumn(), "metric %s keys on an entity", m)
		} else {
			assert.Empty(t, m.EntityColumn(), "metric %s has no entity key", m)
		}
	}
}

func TestParseMetricType_RoundTrip(t *testing.T) {
	for _, m := range AllMetricTypes() {
		parsed, err := ParseMetricType(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}

	_, err := ParseMetricType("NoSuchMetric")
	assert.Error(t, err)
}

func TestValidateKey(t *testing.T) {
	tenant := uuid.New()
	entity := uuid.New()
	date := Date{Year: 2026, Month: 8, Day: 28}

	tests := []struct {
		name    string
		metric  MetricType
		key     MetricKey
		wantErr bool
	}{
		{"contractor score ok", ContractorSafetyScore, EntityKey(tenant, entity), false},
		{"contractor score missing tenant", ContractorSafetyScore, MetricKey{Entity: entity}, true},
		{"contractor score stray date", ContractorSafetyScore, MetricKey{Tenant: tenant, Entity: entity, Date: date}, true},
		{"tenant average ok", TenantContractorAverage, TenantKey(tenant), false},
		{"tenant average stray entity", TenantContractorAverage, EntityKey(tenant, entity), true},
		{"library task ok", LibraryTaskRelativePrecursorRisk, LibraryKey(entity), false},
		{"library task stray tenant", LibraryTaskRelativePrecursorRisk, EntityKey(tenant, entity), true},
		{"task score ok", TaskSpecificRiskScore, DatedKey(tenant, entity, date), false},
		{"task score missing date", TaskSpecificRiskScore, EntityKey(tenant, entity), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.metric.ValidateKey(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDateHelpers(t *testing.T) {
	d, err := ParseDate("2026-08-28")
	require.NoError(t, err)
	assert.Equal(t, "2026-08-28", d.String())
	assert.Equal(t, "2026-08-29", d.AddDays(1).String())
	assert.True(t, d.Before(d.AddDays(1)))
	assert.False(t, d.Before(d))

	// Month rollover.
	assert.Equal(t, "2026-09-01", Date{Year: 2026, Month: 8, Day: 31}.AddDays(1).String())

	horizon := PlanningHorizon(d, 14)
	require.Len(t, horizon, 15)
	assert.Equal(t, d, horizon[0])
	assert.Equal(t, d.AddDays(14), horizon[14])

	assert.Nil(t, DateRange(d.AddDays(1), d))
	assert.True(t, Date{}.IsZero())
}
