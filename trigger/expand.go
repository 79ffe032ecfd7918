package trigger

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fieldsafe/riskreactor/catalog"
	"github.com/fieldsafe/riskreactor/errors"
	"github.com/fieldsafe/riskreactor/reactorqueue"
	"github.com/fieldsafe/riskreactor/riskmodel"
)

// Expander turns triggers into ordered job lists. Entity enumeration
// (tasks at a location, locations of a project) goes through the
// catalog's source reader; a trigger naming an archived entity still
// expands, and the compute functions yield a well-defined value for it.
type Expander struct {
	env     *catalog.Env
	horizon int
}

// NewExpander builds an expander over the compute environment.
// horizonDays <= 0 selects the default planning horizon.
func NewExpander(env *catalog.Env, horizonDays int) *Expander {
	if horizonDays <= 0 {
		horizonDays = riskmodel.DefaultPlanningDays
	}
	return &Expander{env: env, horizon: horizonDays}
}

// Expand returns the jobs the trigger causes, in dependency order so a
// freshly drained queue computes leaves before roll-ups.
func (e *Expander) Expand(ctx context.Context, trg Trigger) ([]reactorqueue.Job, error) {
	if err := trg.Validate(); err != nil {
		return nil, err
	}
	switch trg.Type {
	case ContractorChanged:
		return []reactorqueue.Job{
			job(riskmodel.ContractorSafetyScore, riskmodel.EntityKey(trg.Tenant, trg.Entity)),
			job(riskmodel.TenantContractorAverage, riskmodel.TenantKey(trg.Tenant)),
			job(riskmodel.TenantContractorStdDev, riskmodel.TenantKey(trg.Tenant)),
		}, nil
	case SupervisorChanged:
		return []reactorqueue.Job{
			job(riskmodel.SupervisorSafetyScore, riskmodel.EntityKey(trg.Tenant, trg.Entity)),
			job(riskmodel.SupervisorEngagementFactor, riskmodel.EntityKey(trg.Tenant, trg.Entity)),
			job(riskmodel.TenantSupervisorAverage, riskmodel.TenantKey(trg.Tenant)),
			job(riskmodel.TenantSupervisorStdDev, riskmodel.TenantKey(trg.Tenant)),
		}, nil
	case CrewChanged:
		return []reactorqueue.Job{
			job(riskmodel.CrewSafetyScore, riskmodel.EntityKey(trg.Tenant, trg.Entity)),
			job(riskmodel.TenantCrewAverage, riskmodel.TenantKey(trg.Tenant)),
			job(riskmodel.TenantCrewStdDev, riskmodel.TenantKey(trg.Tenant)),
		}, nil
	case LibraryTaskChanged:
		return e.expandLibraryTask(ctx, trg)
	case LibrarySiteConditionChanged:
		return []reactorqueue.Job{
			job(riskmodel.LibrarySiteConditionRelativePrecursorRisk, riskmodel.LibraryKey(trg.Entity)),
		}, nil
	case DivisionChanged:
		return []reactorqueue.Job{
			job(riskmodel.DivisionRelativePrecursorRisk, riskmodel.LibraryKey(trg.Entity)),
		}, nil
	case ProjectChanged:
		return e.expandProject(ctx, trg)
	case ProjectLocationChanged:
		return e.expandLocation(ctx, trg, e.dates(trg))
	case ActivityChanged:
		return e.expandActivity(trg)
	case DailyReportSubmitted:
		return e.expandLocation(ctx, trg, e.dates(trg))
	}
	return nil, errors.WrapInvalid(fmt.Errorf("unhandled trigger %s", trg.Type), "trigger", "Expand", "dispatch")
}

// dates returns the trigger's explicit date, or the planning horizon.
func (e *Expander) dates(trg Trigger) []riskmodel.Date {
	if !trg.Date.IsZero() {
		return []riskmodel.Date{trg.Date}
	}
	return riskmodel.PlanningHorizon(riskmodel.Today(), e.horizon)
}

func job(m riskmodel.MetricType, key riskmodel.MetricKey) reactorqueue.Job {
	return reactorqueue.NewJob(m, key)
}

func (e *Expander) expandLibraryTask(ctx context.Context, trg Trigger) ([]reactorqueue.Job, error) {
	jobs := []reactorqueue.Job{
		job(riskmodel.LibraryTaskRelativePrecursorRisk, riskmodel.LibraryKey(trg.Entity)),
	}
	byTenant, err := e.env.Source.TasksUsingLibraryTask(ctx, trg.Entity)
	if err != nil {
		return nil, errors.Wrap(err, "trigger.Expander", "expandLibraryTask", "enumerate dependent tasks")
	}
	horizon := riskmodel.PlanningHorizon(riskmodel.Today(), e.horizon)
	for tenant, tasks := range byTenant {
		for _, task := range tasks {
			for _, date := range horizon {
				jobs = append(jobs, job(riskmodel.TaskSpecificRiskScore, riskmodel.DatedKey(tenant, task, date)))
			}
		}
	}
	return jobs, nil
}

// expandLocation emits the full location/date cascade: site-condition
// multipliers, per-task scores, the location roll-up, and the owning
// project's total.
func (e *Expander) expandLocation(ctx context.Context, trg Trigger, dates []riskmodel.Date) ([]reactorqueue.Job, error) {
	refs, err := e.env.Source.TasksAtLocation(ctx, trg.Tenant, trg.Entity)
	if err != nil {
		return nil, errors.Wrap(err, "trigger.Expander", "expandLocation", "enumerate tasks")
	}
	project, err := e.env.Source.ProjectOfLocation(ctx, trg.Tenant, trg.Entity)
	if err != nil {
		return nil, errors.Wrap(err, "trigger.Expander", "expandLocation", "resolve project")
	}

	var jobs []reactorqueue.Job
	for _, date := range dates {
		jobs = append(jobs, job(riskmodel.TaskSpecificSiteConditionsMultiplier,
			riskmodel.DatedKey(trg.Tenant, trg.Entity, date)))
		for _, ref := range refs {
			if ref.Archived {
				continue
			}
			jobs = append(jobs, job(riskmodel.TaskSpecificRiskScore,
				riskmodel.DatedKey(trg.Tenant, ref.ID, date)))
		}
		jobs = append(jobs, job(riskmodel.LocationTotalTaskRiskScore,
			riskmodel.DatedKey(trg.Tenant, trg.Entity, date)))
		if project != uuid.Nil {
			jobs = append(jobs, job(riskmodel.TotalProjectRiskScore,
				riskmodel.DatedKey(trg.Tenant, project, date)))
		}
	}
	return jobs, nil
}

func (e *Expander) expandActivity(trg Trigger) ([]reactorqueue.Job, error) {
	var jobs []reactorqueue.Job
	for _, date := range e.dates(trg) {
		jobs = append(jobs,
			job(riskmodel.ActivityTotalTaskRiskScore, riskmodel.DatedKey(trg.Tenant, trg.Entity, date)),
			job(riskmodel.StochasticActivityTotalTaskRiskScore, riskmodel.DatedKey(trg.Tenant, trg.Entity, date)),
		)
	}
	return jobs, nil
}

func (e *Expander) expandProject(ctx context.Context, trg Trigger) ([]reactorqueue.Job, error) {
	jobs := []reactorqueue.Job{
		job(riskmodel.ProjectSafetyClimateMultiplier, riskmodel.EntityKey(trg.Tenant, trg.Entity)),
	}
	locations, err := e.env.Source.LocationsOfProject(ctx, trg.Tenant, trg.Entity)
	if err != nil {
		return nil, errors.Wrap(err, "trigger.Expander", "expandProject", "enumerate locations")
	}
	for _, date := range e.dates(trg) {
		for _, loc := range locations {
			jobs = append(jobs, job(riskmodel.LocationTotalTaskRiskScore,
				riskmodel.DatedKey(trg.Tenant, loc, date)))
		}
		jobs = append(jobs, job(riskmodel.TotalProjectRiskScore,
			riskmodel.DatedKey(trg.Tenant, trg.Entity, date)))
	}
	return jobs, nil
}
