package configstore

import (
	"github.com/fieldsafe/riskreactor/riskmodel"
)

// Namespace is the configuration namespace reserved for the risk model
// core. APP.* and other namespaces belong to external collaborators.
const Namespace = "RISK_MODEL."

// Name suffixes under a metric family's prefix.
const (
	suffixType       = ".TYPE"
	suffixThresholds = ".THRESHOLDS"
	suffixWeights    = ".WEIGHTS"
)

// Spec describes the configuration shape of one metric family: its name
// prefix, whether it is ranked, and the compiled-in defaults used when
// neither a tenant row nor a default row exists. A spec with a nil
// default for a required part makes that part mandatory in the store.
type Spec struct {
	Prefix            string
	Ranked            bool
	DefaultVariant    riskmodel.VariantTag
	DefaultThresholds *riskmodel.RankingThresholds
	DefaultWeights    *riskmodel.RankingWeight
}

// TypeName returns the row name holding the variant tag.
func (s Spec) TypeName() string { return s.Prefix + suffixType }

// ThresholdsName returns the row name holding the ranking thresholds.
func (s Spec) ThresholdsName() string { return s.Prefix + suffixThresholds }

// WeightsName returns the row name holding the ranking weights.
func (s Spec) WeightsName() string { return s.Prefix + suffixWeights }

// Names returns every row name the spec reads, for single-round-trip
// loading.
func (s Spec) Names() []string {
	if !s.Ranked {
		return []string{s.TypeName()}
	}
	return []string{s.TypeName(), s.ThresholdsName(), s.WeightsName()}
}

var (
	defaultThresholds = riskmodel.RankingThresholds{Low: 85, Medium: 210}
	defaultWeights    = riskmodel.RankingWeight{Low: 1.0, Medium: 1.5, High: 2.0}
)

func rankedSpec(family string) Spec {
	t := defaultThresholds
	w := defaultWeights
	return Spec{
		Prefix:            Namespace + family,
		Ranked:            true,
		DefaultVariant:    riskmodel.VariantRuleBased,
		DefaultThresholds: &t,
		DefaultWeights:    &w,
	}
}

func plainSpec(family string) Spec {
	return Spec{
		Prefix:         Namespace + family,
		DefaultVariant: riskmodel.VariantRuleBased,
	}
}

// Metric family specs. Ranked families carry thresholds and weights used
// by the weighted averages that aggregate upward; plain families only
// select a compute variant.
var (
	ContractorSafetyScoreConfig   = rankedSpec("CONTRACTOR_SAFETY_SCORE_METRIC_CLASS")
	SupervisorSafetyScoreConfig   = rankedSpec("SUPERVISOR_SAFETY_SCORE_METRIC_CLASS")
	SupervisorEngagementConfig    = rankedSpec("SUPERVISOR_ENGAGEMENT_FACTOR_METRIC_CLASS")
	CrewSafetyScoreConfig         = rankedSpec("CREW_SAFETY_SCORE_METRIC_CLASS")
	TaskSpecificRiskScoreConfig   = rankedSpec("TASK_SPECIFIC_RISK_SCORE_METRIC_CLASS")
	LocationTotalTaskRiskConfig   = rankedSpec("TOTAL_LOCATION_RISK_SCORE_METRIC_CLASS")
	TotalProjectRiskScoreConfig   = rankedSpec("TOTAL_PROJECT_RISK_SCORE_METRIC_CLASS")
	ActivityTotalTaskRiskConfig   = rankedSpec("TOTAL_ACTIVITY_RISK_SCORE_METRIC_CLASS")
	PrecursorRiskConfig           = plainSpec("RELATIVE_PRECURSOR_RISK_METRIC_CLASS")
	SiteConditionsConfig          = plainSpec("SITE_CONDITIONS_MULTIPLIER_METRIC_CLASS")
	ProjectSafetyClimateConfig    = plainSpec("PROJECT_SAFETY_CLIMATE_METRIC_CLASS")
	TenantAverageMetricClass      = plainSpec("TENANT_AVERAGE_METRIC_CLASS")

	// The stochastic activity roll-up defaults to the stochastic model;
	// there is no rule-based rendition of it.
	StochasticActivityRiskConfig = Spec{
		Prefix:         Namespace + "STOCHASTIC_ACTIVITY_RISK_SCORE_METRIC_CLASS",
		DefaultVariant: riskmodel.VariantStochastic,
	}
)
