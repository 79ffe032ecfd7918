package sitecondition

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }

func resultFor(t *testing.T, results []Result, handle Handle) Result {
	t.Helper()
	for _, r := range results {
		if r.Handle == handle {
			return r
		}
	}
	t.Fatalf("no result for handle %s", handle)
	return Result{}
}

func TestEvaluateMissingSourcesNeverApply(t *testing.T) {
	results := NewEvaluator().Evaluate(WorldData{}, nil)

	require.Len(t, results, 8)
	for _, r := range results {
		assert.False(t, r.Applies, "handle %s should not apply without data", r.Handle)
		assert.Zero(t, r.Multiplier)
		assert.False(t, r.Alert)
	}
}

func TestEvaluateThresholds(t *testing.T) {
	tests := []struct {
		name    string
		data    WorldData
		handle  Handle
		applies bool
		mult    float64
	}{
		{"density at threshold", WorldData{BuildingDensityPct: f64(10)}, HandleBuildingDensity, true, 0.05},
		{"density below threshold", WorldData{BuildingDensityPct: f64(9.99)}, HandleBuildingDensity, false, 0},
		{"crime high", WorldData{CrimeTotalIndex: f64(312)}, HandleCrime, true, 0.05},
		{"crime low", WorldData{CrimeTotalIndex: f64(40)}, HandleCrime, false, 0},
		{"steep slope", WorldData{SlopePct: f64(22)}, HandleExtremeTopography, true, 0.05},
		{"gentle slope", WorldData{SlopePct: f64(3)}, HandleExtremeTopography, false, 0},
		{"no coverage", WorldData{CarriersKnown: true}, HandleCellCoverage, true, 0.05},
		{"covered", WorldData{CarriersKnown: true, Carriers: []string{"att"}}, HandleCellCoverage, false, 0},
		{"hot day", WorldData{TemperatureMaxF: f64(101)}, HandleAirTemperature, true, 0.10},
		{"cold day", WorldData{TemperatureMaxF: f64(45), TemperatureMinF: f64(12)}, HandleAirTemperature, true, 0.10},
		{"mild day", WorldData{TemperatureMaxF: f64(72), TemperatureMinF: f64(55)}, HandleAirTemperature, false, 0},
		{"gusty", WorldData{GustWindSpeedMph: f64(31)}, HandleGustWindSpeed, true, 0.05},
		{"calm", WorldData{GustWindSpeedMph: f64(8)}, HandleGustWindSpeed, false, 0},
		{"heavy rain", WorldData{PrecipitationInches: f64(0.8)}, HandleHeavyPrecipitation, true, 0.05},
		{"drizzle", WorldData{PrecipitationInches: f64(0.1)}, HandleHeavyPrecipitation, false, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := resultFor(t, NewEvaluator().Evaluate(tc.data, nil), tc.handle)
			assert.Equal(t, tc.applies, r.Applies)
			assert.InDelta(t, tc.mult, r.Multiplier, 1e-12)
		})
	}
}

func TestEvaluateRoadwayBiggestWins(t *testing.T) {
	data := WorldData{RoadwayClassifications: []string{"Local", "Interstate", "Secondary"}}
	r := resultFor(t, NewEvaluator().Evaluate(data, nil), HandleRoadway)
	assert.True(t, r.Applies)
	assert.InDelta(t, 0.10, r.Multiplier, 1e-12)

	// Unrecognized classifications alone leave the handle inactive.
	data = WorldData{RoadwayClassifications: []string{"Footpath"}}
	r = resultFor(t, NewEvaluator().Evaluate(data, nil), HandleRoadway)
	assert.False(t, r.Applies)
}

func TestEvaluateManualConditionsAlwaysApplyAndAlert(t *testing.T) {
	manual := []ManualCondition{
		{LibrarySiteConditionID: uuid.New(), Handle: "confined_space", Multiplier: 0.12},
	}
	results := NewEvaluator().Evaluate(WorldData{}, manual)

	r := resultFor(t, results, "confined_space")
	assert.True(t, r.Applies)
	assert.True(t, r.Alert)
	assert.InDelta(t, 0.12, r.Multiplier, 1e-12)
}

func TestTotalMultiplier(t *testing.T) {
	data := WorldData{
		BuildingDensityPct:     f64(40),
		RoadwayClassifications: []string{"Primary"},
	}
	results := NewEvaluator().Evaluate(data, []ManualCondition{
		{LibrarySiteConditionID: uuid.New(), Handle: "confined_space", Multiplier: 0.12},
	})

	// 1 + 0.05 (density) + 0.08 (primary roadway) + 0.12 (manual)
	assert.InDelta(t, 1.25, TotalMultiplier(results), 1e-9)

	assert.InDelta(t, 1.0, TotalMultiplier(nil), 1e-12)
}
