package riskmodel

import "fmt"

// VariantTag names the compute algorithm a metric family runs. Tags are
// loaded from tenant configuration; an unknown tag is a configuration
// error, never a silent default.
type VariantTag string

// Known variants.
const (
	VariantRuleBased  VariantTag = "RULE_BASED_ENGINE"
	VariantStochastic VariantTag = "STOCHASTIC_MODEL"
)

// Valid reports whether the tag names a known variant.
func (v VariantTag) Valid() bool {
	return v == VariantRuleBased || v == VariantStochastic
}

// MetricConfig selects the compute algorithm for a non-ranked metric
// family.
type MetricConfig struct {
	Type VariantTag `json:"type"`
}

// RankedMetricConfig configures a ranked metric family: thresholds map a
// score to LOW/MEDIUM/HIGH and weights feed the weighted averages that
// aggregate upward.
type RankedMetricConfig struct {
	Type       VariantTag        `json:"type"`
	Thresholds RankingThresholds `json:"thresholds"`
	Weights    RankingWeight     `json:"weights"`
}

// Validate checks the thresholds ordering.
func (c RankedMetricConfig) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("ranked metric config: %w", err)
	}
	return nil
}
