package catalog

import (
	"context"

	"github.com/google/uuid"

	"github.com/fieldsafe/riskreactor/configstore"
	"github.com/fieldsafe/riskreactor/riskmodel"
)

type enumerateFn func(ctx context.Context, env *Env, tenant uuid.UUID) ([]uuid.UUID, error)

// tenantScoreDep projects a tenant roll-up key onto every entity score
// key, and expands a stored entity score back to its tenant roll-up.
func tenantScoreDep(scoreType riskmodel.MetricType, enumerate enumerateFn) Dependency {
	return Dependency{
		Type: scoreType,
		Project: func(ctx context.Context, env *Env, key riskmodel.MetricKey) ([]riskmodel.MetricKey, error) {
			entities, err := enumerate(ctx, env, key.Tenant)
			if err != nil {
				return nil, err
			}
			keys := make([]riskmodel.MetricKey, 0, len(entities))
			for _, e := range entities {
				keys = append(keys, riskmodel.EntityKey(key.Tenant, e))
			}
			return keys, nil
		},
		Expand: func(_ context.Context, _ *Env, depKey riskmodel.MetricKey) ([]riskmodel.MetricKey, error) {
			return []riskmodel.MetricKey{riskmodel.TenantKey(depKey.Tenant)}, nil
		},
	}
}

// taskScoreDep projects a dated container key (activity or location)
// onto the task score keys of its live tasks, and expands a stored task
// score back to its container via locate.
func taskScoreDep(
	tasks func(ctx context.Context, env *Env, tenant, container uuid.UUID) ([]TaskRef, error),
	locate func(ctx context.Context, env *Env, tenant, task uuid.UUID) (uuid.UUID, error),
) Dependency {
	return Dependency{
		Type: riskmodel.TaskSpecificRiskScore,
		Project: func(ctx context.Context, env *Env, key riskmodel.MetricKey) ([]riskmodel.MetricKey, error) {
			refs, err := tasks(ctx, env, key.Tenant, key.Entity)
			if err != nil {
				return nil, err
			}
			keys := make([]riskmodel.MetricKey, 0, len(refs))
			for _, ref := range refs {
				if ref.Archived {
					continue
				}
				keys = append(keys, riskmodel.DatedKey(key.Tenant, ref.ID, key.Date))
			}
			return keys, nil
		},
		Expand: func(ctx context.Context, env *Env, depKey riskmodel.MetricKey) ([]riskmodel.MetricKey, error) {
			container, err := locate(ctx, env, depKey.Tenant, depKey.Entity)
			if err != nil {
				return nil, err
			}
			if container == uuid.Nil {
				return nil, nil
			}
			return []riskmodel.MetricKey{riskmodel.DatedKey(depKey.Tenant, container, depKey.Date)}, nil
		},
	}
}

func buildDescriptors() []Descriptor {
	ruleOnly := func(fn ComputeFunc) map[riskmodel.VariantTag]ComputeFunc {
		return map[riskmodel.VariantTag]ComputeFunc{riskmodel.VariantRuleBased: fn}
	}

	contractorsOf := func(ctx context.Context, env *Env, t uuid.UUID) ([]uuid.UUID, error) {
		return env.Source.ContractorsOf(ctx, t)
	}
	supervisorsOf := func(ctx context.Context, env *Env, t uuid.UUID) ([]uuid.UUID, error) {
		return env.Source.SupervisorsOf(ctx, t)
	}
	crewsOf := func(ctx context.Context, env *Env, t uuid.UUID) ([]uuid.UUID, error) {
		return env.Source.CrewsOf(ctx, t)
	}

	tasksAtLocation := func(ctx context.Context, env *Env, tenant, loc uuid.UUID) ([]TaskRef, error) {
		return env.Source.TasksAtLocation(ctx, tenant, loc)
	}
	tasksOfActivity := func(ctx context.Context, env *Env, tenant, act uuid.UUID) ([]TaskRef, error) {
		return env.Source.TasksOfActivity(ctx, tenant, act)
	}
	locationOfTask := func(ctx context.Context, env *Env, tenant, task uuid.UUID) (uuid.UUID, error) {
		return env.Source.LocationOfTask(ctx, tenant, task)
	}
	activityOfTask := func(ctx context.Context, env *Env, tenant, task uuid.UUID) (uuid.UUID, error) {
		return env.Source.ActivityOfTask(ctx, tenant, task)
	}

	return []Descriptor{
		{
			Type:     riskmodel.ContractorSafetyScore,
			Variants: ruleOnly(safetyScore(configstore.ContractorSafetyScoreConfig, contractorHistory)),
			Config:   configstore.ContractorSafetyScoreConfig,
		},
		{
			Type:         riskmodel.TenantContractorAverage,
			Dependencies: []Dependency{tenantScoreDep(riskmodel.ContractorSafetyScore, contractorsOf)},
			Variants:     ruleOnly(tenantMean(riskmodel.ContractorSafetyScore)),
			Config:       configstore.TenantAverageMetricClass,
		},
		{
			Type:         riskmodel.TenantContractorStdDev,
			Dependencies: []Dependency{tenantScoreDep(riskmodel.ContractorSafetyScore, contractorsOf)},
			Variants:     ruleOnly(tenantStdDev(riskmodel.ContractorSafetyScore)),
			Config:       configstore.TenantAverageMetricClass,
		},
		{
			Type:     riskmodel.SupervisorSafetyScore,
			Variants: ruleOnly(safetyScore(configstore.SupervisorSafetyScoreConfig, supervisorHistory)),
			Config:   configstore.SupervisorSafetyScoreConfig,
		},
		{
			Type:     riskmodel.SupervisorEngagementFactor,
			Variants: ruleOnly(computeEngagementFactor),
			Config:   configstore.SupervisorEngagementConfig,
		},
		{
			Type:         riskmodel.TenantSupervisorAverage,
			Dependencies: []Dependency{tenantScoreDep(riskmodel.SupervisorSafetyScore, supervisorsOf)},
			Variants:     ruleOnly(tenantMean(riskmodel.SupervisorSafetyScore)),
			Config:       configstore.TenantAverageMetricClass,
		},
		{
			Type:         riskmodel.TenantSupervisorStdDev,
			Dependencies: []Dependency{tenantScoreDep(riskmodel.SupervisorSafetyScore, supervisorsOf)},
			Variants:     ruleOnly(tenantStdDev(riskmodel.SupervisorSafetyScore)),
			Config:       configstore.TenantAverageMetricClass,
		},
		{
			Type:     riskmodel.CrewSafetyScore,
			Variants: ruleOnly(safetyScore(configstore.CrewSafetyScoreConfig, crewHistory)),
			Config:   configstore.CrewSafetyScoreConfig,
		},
		{
			Type:         riskmodel.TenantCrewAverage,
			Dependencies: []Dependency{tenantScoreDep(riskmodel.CrewSafetyScore, crewsOf)},
			Variants:     ruleOnly(tenantMean(riskmodel.CrewSafetyScore)),
			Config:       configstore.TenantAverageMetricClass,
		},
		{
			Type:         riskmodel.TenantCrewStdDev,
			Dependencies: []Dependency{tenantScoreDep(riskmodel.CrewSafetyScore, crewsOf)},
			Variants:     ruleOnly(tenantStdDev(riskmodel.CrewSafetyScore)),
			Config:       configstore.TenantAverageMetricClass,
		},
		{
			Type:     riskmodel.LibraryTaskRelativePrecursorRisk,
			Variants: ruleOnly(precursorRisk(libraryTaskIncidents)),
			Config:   configstore.PrecursorRiskConfig,
		},
		{
			Type:     riskmodel.LibrarySiteConditionRelativePrecursorRisk,
			Variants: ruleOnly(precursorRisk(librarySiteConditionIncidents)),
			Config:   configstore.PrecursorRiskConfig,
		},
		{
			Type:     riskmodel.DivisionRelativePrecursorRisk,
			Variants: ruleOnly(precursorRisk(divisionIncidents)),
			Config:   configstore.PrecursorRiskConfig,
		},
		{
			Type: riskmodel.ProjectSafetyClimateMultiplier,
			Dependencies: []Dependency{{
				Type: riskmodel.SupervisorEngagementFactor,
				Project: func(ctx context.Context, env *Env, key riskmodel.MetricKey) ([]riskmodel.MetricKey, error) {
					supervisors, err := env.Source.SupervisorsOfProject(ctx, key.Tenant, key.Entity)
					if err != nil {
						return nil, err
					}
					keys := make([]riskmodel.MetricKey, 0, len(supervisors))
					for _, s := range supervisors {
						keys = append(keys, riskmodel.EntityKey(key.Tenant, s))
					}
					return keys, nil
				},
				// No inverse lookup from supervisor to projects; climate
				// multipliers refresh through project-level triggers.
			}},
			Variants: ruleOnly(computeSafetyClimate),
			Config:   configstore.ProjectSafetyClimateConfig,
		},
		{
			Type:     riskmodel.TaskSpecificSiteConditionsMultiplier,
			Variants: ruleOnly(computeSiteConditionsMultiplier),
			Config:   configstore.SiteConditionsConfig,
		},
		{
			Type: riskmodel.TaskSpecificRiskScore,
			Dependencies: []Dependency{
				{
					Type: riskmodel.LibraryTaskRelativePrecursorRisk,
					Project: func(ctx context.Context, env *Env, key riskmodel.MetricKey) ([]riskmodel.MetricKey, error) {
						ref, err := env.Source.TaskRef(ctx, key.Tenant, key.Entity)
						if err != nil {
							return nil, err
						}
						return []riskmodel.MetricKey{riskmodel.LibraryKey(ref.LibraryTask)}, nil
					},
					Expand: func(ctx context.Context, env *Env, depKey riskmodel.MetricKey) ([]riskmodel.MetricKey, error) {
						byTenant, err := env.Source.TasksUsingLibraryTask(ctx, depKey.Entity)
						if err != nil {
							return nil, err
						}
						var keys []riskmodel.MetricKey
						horizon := riskmodel.PlanningHorizon(riskmodel.Today(), riskmodel.DefaultPlanningDays)
						for tenant, tasks := range byTenant {
							for _, task := range tasks {
								for _, date := range horizon {
									keys = append(keys, riskmodel.DatedKey(tenant, task, date))
								}
							}
						}
						return keys, nil
					},
				},
				{
					Type: riskmodel.TaskSpecificSiteConditionsMultiplier,
					Project: func(ctx context.Context, env *Env, key riskmodel.MetricKey) ([]riskmodel.MetricKey, error) {
						location, err := env.Source.LocationOfTask(ctx, key.Tenant, key.Entity)
						if err != nil {
							return nil, err
						}
						return []riskmodel.MetricKey{riskmodel.DatedKey(key.Tenant, location, key.Date)}, nil
					},
					Expand: func(ctx context.Context, env *Env, depKey riskmodel.MetricKey) ([]riskmodel.MetricKey, error) {
						refs, err := env.Source.TasksAtLocation(ctx, depKey.Tenant, depKey.Entity)
						if err != nil {
							return nil, err
						}
						keys := make([]riskmodel.MetricKey, 0, len(refs))
						for _, ref := range refs {
							if ref.Archived {
								continue
							}
							keys = append(keys, riskmodel.DatedKey(depKey.Tenant, ref.ID, depKey.Date))
						}
						return keys, nil
					},
				},
			},
			Variants: ruleOnly(computeTaskSpecificRiskScore),
			Config:   configstore.TaskSpecificRiskScoreConfig,
		},
		{
			Type:         riskmodel.ActivityTotalTaskRiskScore,
			Dependencies: []Dependency{taskScoreDep(tasksOfActivity, activityOfTask)},
			Variants: map[riskmodel.VariantTag]ComputeFunc{
				riskmodel.VariantRuleBased:  rankedRollup(configstore.ActivityTotalTaskRiskConfig, riskmodel.TaskSpecificRiskScore),
				riskmodel.VariantStochastic: sumRollup(riskmodel.TaskSpecificRiskScore),
			},
			Config: configstore.ActivityTotalTaskRiskConfig,
		},
		{
			Type:         riskmodel.StochasticActivityTotalTaskRiskScore,
			Dependencies: []Dependency{taskScoreDep(tasksOfActivity, activityOfTask)},
			Variants: map[riskmodel.VariantTag]ComputeFunc{
				riskmodel.VariantStochastic: sumRollup(riskmodel.TaskSpecificRiskScore),
			},
			Config: configstore.StochasticActivityRiskConfig,
		},
		{
			Type:         riskmodel.LocationTotalTaskRiskScore,
			Dependencies: []Dependency{taskScoreDep(tasksAtLocation, locationOfTask)},
			Variants: map[riskmodel.VariantTag]ComputeFunc{
				riskmodel.VariantRuleBased:  rankedRollup(configstore.LocationTotalTaskRiskConfig, riskmodel.TaskSpecificRiskScore),
				riskmodel.VariantStochastic: meanRollup(riskmodel.TaskSpecificRiskScore),
			},
			Config: configstore.LocationTotalTaskRiskConfig,
		},
		{
			Type: riskmodel.TotalProjectRiskScore,
			Dependencies: []Dependency{{
				Type: riskmodel.LocationTotalTaskRiskScore,
				Project: func(ctx context.Context, env *Env, key riskmodel.MetricKey) ([]riskmodel.MetricKey, error) {
					locations, err := env.Source.LocationsOfProject(ctx, key.Tenant, key.Entity)
					if err != nil {
						return nil, err
					}
					keys := make([]riskmodel.MetricKey, 0, len(locations))
					for _, loc := range locations {
						keys = append(keys, riskmodel.DatedKey(key.Tenant, loc, key.Date))
					}
					return keys, nil
				},
				Expand: func(ctx context.Context, env *Env, depKey riskmodel.MetricKey) ([]riskmodel.MetricKey, error) {
					project, err := env.Source.ProjectOfLocation(ctx, depKey.Tenant, depKey.Entity)
					if err != nil {
						return nil, err
					}
					if project == uuid.Nil {
						return nil, nil
					}
					return []riskmodel.MetricKey{riskmodel.DatedKey(depKey.Tenant, project, depKey.Date)}, nil
				},
			}},
			Variants: map[riskmodel.VariantTag]ComputeFunc{
				riskmodel.VariantRuleBased:  rankedRollup(configstore.TotalProjectRiskScoreConfig, riskmodel.LocationTotalTaskRiskScore),
				riskmodel.VariantStochastic: meanRollup(riskmodel.LocationTotalTaskRiskScore),
			},
			Config: configstore.TotalProjectRiskScoreConfig,
		},
	}
}

func contractorHistory(ctx context.Context, env *Env, tenant, entity uuid.UUID) (SafetyHistory, error) {
	return env.Source.ContractorHistory(ctx, tenant, entity)
}

func supervisorHistory(ctx context.Context, env *Env, tenant, entity uuid.UUID) (SafetyHistory, error) {
	return env.Source.SupervisorHistory(ctx, tenant, entity)
}

func crewHistory(ctx context.Context, env *Env, tenant, entity uuid.UUID) (SafetyHistory, error) {
	return env.Source.CrewHistory(ctx, tenant, entity)
}

func libraryTaskIncidents(ctx context.Context, env *Env, entity uuid.UUID) (IncidentCounts, error) {
	return env.Source.LibraryTaskIncidents(ctx, entity)
}

func librarySiteConditionIncidents(ctx context.Context, env *Env, entity uuid.UUID) (IncidentCounts, error) {
	return env.Source.LibrarySiteConditionIncidents(ctx, entity)
}

func divisionIncidents(ctx context.Context, env *Env, entity uuid.UUID) (IncidentCounts, error) {
	return env.Source.DivisionIncidents(ctx, entity)
}
