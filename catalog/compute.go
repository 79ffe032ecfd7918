package catalog

import (
	"context"
	"math"

	"github.com/google/uuid"

	"github.com/fieldsafe/riskreactor/configstore"
	"github.com/fieldsafe/riskreactor/riskmodel"
	"github.com/fieldsafe/riskreactor/sitecondition"
)

// severityWeights folds incident counts for the precursor metrics,
// which carry no ranked configuration of their own.
var severityWeights = riskmodel.RankingWeight{Low: 1.0, Medium: 1.5, High: 2.0}

// safetyScoreScale lifts normalized rates onto the 0..~300 score scale
// the ranking thresholds are calibrated against.
const safetyScoreScale = 100

// Engagement policy: a supervisor averaging fewer forms per active day
// than this marks the project climate as degraded.
const (
	engagedFormsPerDay   = 0.5
	lowEngagementPenalty = 0.05
)

type historyFn func(ctx context.Context, env *Env, tenant, entity uuid.UUID) (SafetyHistory, error)

// safetyScore is the shared rule-based compute for contractor,
// supervisor, and crew scores: severity-weighted incidents per
// observation, scaled. Entities with no observations score their raw
// weighted incident load.
func safetyScore(spec configstore.Spec, history historyFn) ComputeFunc {
	return func(ctx context.Context, env *Env, key riskmodel.MetricKey, _ Deps) (Outcome, error) {
		cfg, err := env.Configs.LoadRankedConfig(ctx, key.Tenant, spec)
		if err != nil {
			return Outcome{}, err
		}
		h, err := history(ctx, env, key.Tenant, key.Entity)
		if err != nil {
			return Outcome{}, err
		}
		observations := h.Observations
		if observations < 1 {
			observations = 1
		}
		value := h.Incidents.Weighted(cfg.Weights) / float64(observations) * safetyScoreScale
		return Outcome{
			Value:  value,
			Inputs: map[string]any{"observations": h.Observations, "incidents": h.Incidents},
			Params: map[string]any{"weights": cfg.Weights},
		}, nil
	}
}

// tenantMean averages the latest entity scores across a tenant.
func tenantMean(scoreType riskmodel.MetricType) ComputeFunc {
	return func(_ context.Context, _ *Env, _ riskmodel.MetricKey, deps Deps) (Outcome, error) {
		values := deps.Values(scoreType)
		return Outcome{
			Value:  riskmodel.Mean(values),
			Inputs: map[string]any{"count": len(values)},
		}, nil
	}
}

// tenantStdDev is the population standard deviation of the latest
// entity scores.
func tenantStdDev(scoreType riskmodel.MetricType) ComputeFunc {
	return func(_ context.Context, _ *Env, _ riskmodel.MetricKey, deps Deps) (Outcome, error) {
		values := deps.Values(scoreType)
		if len(values) == 0 {
			return Outcome{Value: 0, Inputs: map[string]any{"count": 0}}, nil
		}
		mean := riskmodel.Mean(values)
		var sum float64
		for _, v := range values {
			d := v - mean
			sum += d * d
		}
		return Outcome{
			Value:  math.Sqrt(sum / float64(len(values))),
			Inputs: map[string]any{"count": len(values), "mean": mean},
		}, nil
	}
}

// precursorRisk folds a library entity's incident history with the
// static severity weights.
func precursorRisk(read func(ctx context.Context, env *Env, entity uuid.UUID) (IncidentCounts, error)) ComputeFunc {
	return func(ctx context.Context, env *Env, key riskmodel.MetricKey, _ Deps) (Outcome, error) {
		counts, err := read(ctx, env, key.Entity)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{
			Value:  counts.Weighted(severityWeights),
			Inputs: map[string]any{"incidents": counts},
			Params: map[string]any{"weights": severityWeights},
		}, nil
	}
}

func computeEngagementFactor(ctx context.Context, env *Env, key riskmodel.MetricKey, _ Deps) (Outcome, error) {
	stats, err := env.Source.SupervisorEngagement(ctx, key.Tenant, key.Entity)
	if err != nil {
		return Outcome{}, err
	}
	days := stats.DaysActive
	if days < 1 {
		days = 1
	}
	return Outcome{
		Value:  float64(stats.FormsSubmitted) / float64(days),
		Inputs: map[string]any{"forms_submitted": stats.FormsSubmitted, "days_active": stats.DaysActive},
	}, nil
}

func computeSafetyClimate(_ context.Context, _ *Env, _ riskmodel.MetricKey, deps Deps) (Outcome, error) {
	factors := deps.Values(riskmodel.SupervisorEngagementFactor)
	value := 1.0
	if len(factors) > 0 && riskmodel.Mean(factors) < engagedFormsPerDay {
		value += lowEngagementPenalty
	}
	return Outcome{
		Value:  value,
		Inputs: map[string]any{"supervisors": len(factors)},
	}, nil
}

func computeSiteConditionsMultiplier(ctx context.Context, env *Env, key riskmodel.MetricKey, _ Deps) (Outcome, error) {
	data, err := env.Source.WorldData(ctx, key.Tenant, key.Entity, key.Date)
	if err != nil {
		return Outcome{}, err
	}
	manual, err := env.Source.ManualConditions(ctx, key.Tenant, key.Entity)
	if err != nil {
		return Outcome{}, err
	}
	results := env.Conditions.Evaluate(data, manual)
	return Outcome{
		Value:  sitecondition.TotalMultiplier(results),
		Inputs: map[string]any{"conditions": results},
	}, nil
}

func computeTaskSpecificRiskScore(ctx context.Context, env *Env, key riskmodel.MetricKey, deps Deps) (Outcome, error) {
	ref, err := env.Source.TaskRef(ctx, key.Tenant, key.Entity)
	if err != nil {
		return Outcome{}, err
	}
	if ref.Archived {
		return Outcome{Value: 0, Inputs: map[string]any{"archived": true}}, nil
	}
	precursor, err := deps.Value(riskmodel.LibraryTaskRelativePrecursorRisk, riskmodel.LibraryKey(ref.LibraryTask))
	if err != nil {
		return Outcome{}, err
	}
	location, err := env.Source.LocationOfTask(ctx, key.Tenant, key.Entity)
	if err != nil {
		return Outcome{}, err
	}
	multiplier, err := deps.Value(riskmodel.TaskSpecificSiteConditionsMultiplier, riskmodel.DatedKey(key.Tenant, location, key.Date))
	if err != nil {
		return Outcome{}, err
	}
	cfg, err := env.Configs.LoadRankedConfig(ctx, key.Tenant, configstore.TaskSpecificRiskScoreConfig)
	if err != nil {
		return Outcome{}, err
	}
	incidents, err := env.Source.TaskIncidents(ctx, key.Tenant, key.Entity)
	if err != nil {
		return Outcome{}, err
	}
	base := precursor*safetyScoreScale + incidents.Weighted(cfg.Weights)
	value := base * multiplier
	if value < 0 {
		value = 0
	}
	return Outcome{
		Value: value,
		Inputs: map[string]any{
			"precursor_risk":  precursor,
			"site_multiplier": multiplier,
			"incidents":       incidents,
		},
		Params: map[string]any{"weights": cfg.Weights},
	}, nil
}

// rankedRollup is the rule-based aggregate: a weighted average where
// each score's weight follows its LOW/MEDIUM/HIGH ranking under the
// family's configuration. An empty input set aggregates to 0.
func rankedRollup(spec configstore.Spec, depType riskmodel.MetricType) ComputeFunc {
	return func(ctx context.Context, env *Env, key riskmodel.MetricKey, deps Deps) (Outcome, error) {
		cfg, err := env.Configs.LoadRankedConfig(ctx, key.Tenant, spec)
		if err != nil {
			return Outcome{}, err
		}
		scores := deps.Values(depType)
		value := riskmodel.RankedWeightedAverage(scores, cfg.Thresholds, cfg.Weights)
		if value < 0 {
			return Outcome{}, &riskmodel.InvariantViolationError{
				Type: depType, Key: key, Detail: "negative weighted average",
			}
		}
		return Outcome{
			Value:  value,
			Inputs: map[string]any{"scores": scores},
			Params: map[string]any{"thresholds": cfg.Thresholds, "weights": cfg.Weights},
		}, nil
	}
}

// meanRollup is the stochastic aggregate for location and project
// roll-ups: the plain mean of the contributing scores.
func meanRollup(depType riskmodel.MetricType) ComputeFunc {
	return func(_ context.Context, _ *Env, _ riskmodel.MetricKey, deps Deps) (Outcome, error) {
		scores := deps.Values(depType)
		return Outcome{
			Value:  riskmodel.Mean(scores),
			Inputs: map[string]any{"scores": scores},
		}, nil
	}
}

// sumRollup is the stochastic activity aggregate: total exposure
// rather than average.
func sumRollup(depType riskmodel.MetricType) ComputeFunc {
	return func(_ context.Context, _ *Env, _ riskmodel.MetricKey, deps Deps) (Outcome, error) {
		scores := deps.Values(depType)
		var total float64
		for _, s := range scores {
			total += s
		}
		return Outcome{
			Value:  total,
			Inputs: map[string]any{"scores": scores},
		}, nil
	}
}
