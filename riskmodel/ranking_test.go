package riskmodel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankingThresholds_RankingFor(t *testing.T) {
	thresholds := RankingThresholds{Low: 85, Medium: 210}

	tests := []struct {
		name  string
		value float64
		want  Ranking
	}{
		{"well below low", 0, RankingLow},
		{"just below low", 84.999, RankingLow},
		{"exactly low is medium", 85, RankingMedium},
		{"between thresholds", 100, RankingMedium},
		{"just below medium", 209.999, RankingMedium},
		{"exactly medium is high", 210, RankingHigh},
		{"above medium", 1000, RankingHigh},
		{"negative", -50, RankingLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, thresholds.RankingFor(tt.value))
		})
	}
}

// RankingFor must be total over every finite input, including extremes.
func TestRankingThresholds_Totality(t *testing.T) {
	thresholds := RankingThresholds{Low: 85, Medium: 210}

	for _, v := range []float64{math.SmallestNonzeroFloat64, -math.MaxFloat64, math.MaxFloat64, 0} {
		ranking := thresholds.RankingFor(v)
		assert.Contains(t, []Ranking{RankingLow, RankingMedium, RankingHigh}, ranking)
	}
}

func TestRankingThresholds_Validate(t *testing.T) {
	assert.NoError(t, RankingThresholds{Low: 85, Medium: 210}.Validate())
	assert.NoError(t, RankingThresholds{Low: 100, Medium: 100}.Validate())
	assert.Error(t, RankingThresholds{Low: 210, Medium: 85}.Validate())
}

func TestRankingWeight_WeightForRanking(t *testing.T) {
	weights := RankingWeight{Low: 1.0, Medium: 1.5, High: 2.0}

	assert.Equal(t, 1.0, weights.WeightForRanking(RankingLow))
	assert.Equal(t, 1.5, weights.WeightForRanking(RankingMedium))
	assert.Equal(t, 2.0, weights.WeightForRanking(RankingHigh))
	assert.Equal(t, 0.0, weights.WeightForRanking(Ranking(42)))
}

// The worked example from the location aggregation design: scores 100
// (medium) and 250 (high) under default thresholds and weights average
// to 650/3.5.
func TestRankedWeightedAverage(t *testing.T) {
	thresholds := RankingThresholds{Low: 85, Medium: 210}
	weights := RankingWeight{Low: 1.0, Medium: 1.5, High: 2.0}

	got := RankedWeightedAverage([]float64{100, 250}, thresholds, weights)
	require.InDelta(t, 650.0/3.5, got, 1e-9)

	assert.Zero(t, RankedWeightedAverage(nil, thresholds, weights))
	assert.Zero(t, RankedWeightedAverage([]float64{}, thresholds, weights))

	// All-zero weights must not divide by zero.
	assert.Zero(t, RankedWeightedAverage([]float64{10, 20}, thresholds, RankingWeight{}))
}

func TestMean(t *testing.T) {
	assert.Zero(t, Mean(nil))
	assert.InDelta(t, 150.0, Mean([]float64{100, 200}), 1e-9)
}

func TestIsAtRisk(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	tests := []struct {
		name                  string
		score, average, sigma *float64
		want                  bool
	}{
		{"above threshold", f(120), f(100), f(10), true},
		{"exactly threshold", f(110), f(100), f(10), false},
		{"below threshold", f(90), f(100), f(10), false},
		{"nil score", nil, f(100), f(10), false},
		{"nil average", f(120), nil, f(10), false},
		{"nil stddev", f(120), f(100), nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsAtRisk(tt.score, tt.average, tt.sigma)
			assert.Equal(t, tt.want, got)
			// Purity: repeated evaluation is stable.
			assert.Equal(t, got, IsAtRisk(tt.score, tt.average, tt.sigma))
		})
	}
}
