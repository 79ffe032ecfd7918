package riskmodel

import "fmt"

// Ranking is the LOW/MEDIUM/HIGH bucket assigned to a numeric score.
type Ranking int

// Ranking buckets.
const (
	RankingLow Ranking = iota
	RankingMedium
	RankingHigh
)

func (r Ranking) String() string {
	switch r {
	case RankingLow:
		return "LOW"
	case RankingMedium:
		return "MEDIUM"
	case RankingHigh:
		return "HIGH"
	default:
		return fmt.Sprintf("Ranking(%d)", int(r))
	}
}

// RankingThresholds maps a score to a ranking with strict lower bounds:
// LOW below Low, MEDIUM below Medium, HIGH otherwise. RankingFor is
// total over all finite inputs.
type RankingThresholds struct {
	Low    float64 `json:"low"`
	Medium float64 `json:"medium"`
}

// RankingFor buckets v.
func (t RankingThresholds) RankingFor(v float64) Ranking {
	switch {
	case v < t.Low:
		return RankingLow
	case v < t.Medium:
		return RankingMedium
	default:
		return RankingHigh
	}
}

// Validate rejects inverted thresholds.
func (t RankingThresholds) Validate() error {
	if t.Low > t.Medium {
		return fmt.Errorf("ranking thresholds inverted: low %v > medium %v", t.Low, t.Medium)
	}
	return nil
}

// RankingWeight supplies the weight each ranking contributes to ranked
// weighted averages that aggregate upward.
type RankingWeight struct {
	Low    float64 `json:"low"`
	Medium float64 `json:"medium"`
	High   float64 `json:"high"`
}

// WeightForRanking returns the weight field matching r. Unknown rankings
// weigh zero.
func (w RankingWeight) WeightForRanking(r Ranking) float64 {
	switch r {
	case RankingLow:
		return w.Low
	case RankingMedium:
		return w.Medium
	case RankingHigh:
		return w.High
	default:
		return 0
	}
}

// RankedWeightedAverage computes the weighted average of scores where
// each score's weight is selected by its ranking under the given
// thresholds. An empty input or an all-zero weight sum yields 0.
func RankedWeightedAverage(scores []float64, t RankingThresholds, w RankingWeight) float64 {
	var sum, weightSum float64
	for _, s := range scores {
		weight := w.WeightForRanking(t.RankingFor(s))
		sum += s * weight
		weightSum += weight
	}
	if weightSum == 0 {
		return 0
	}
	return sum / weightSum
}

// Mean is the unranked aggregation used by the stochastic model. Empty
// input yields 0.
func Mean(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}
