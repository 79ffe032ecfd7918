package catalog

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldsafe/riskreactor/errors"
	"github.com/fieldsafe/riskreactor/riskmodel"
	"github.com/fieldsafe/riskreactor/sitecondition"
)

// PostgresSource reads the application's source-of-truth tables. The
// schema belongs to the surrounding application; this reader only ever
// selects, and every query excludes archived rows unless the method
// says otherwise.
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgresSource wraps a pgx pool.
func NewPostgresSource(pool *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

func (p *PostgresSource) idList(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "catalog.PostgresSource", "idList", "query")
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "catalog.PostgresSource", "idList", "scan")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *PostgresSource) ContractorsOf(ctx context.Context, tenant uuid.UUID) ([]uuid.UUID, error) {
	return p.idList(ctx,
		`SELECT id FROM contractor WHERE tenant_id = $1 AND archived_at IS NULL`, tenant)
}

func (p *PostgresSource) SupervisorsOf(ctx context.Context, tenant uuid.UUID) ([]uuid.UUID, error) {
	return p.idList(ctx,
		`SELECT id FROM supervisor WHERE tenant_id = $1 AND archived_at IS NULL`, tenant)
}

func (p *PostgresSource) CrewsOf(ctx context.Context, tenant uuid.UUID) ([]uuid.UUID, error) {
	return p.idList(ctx,
		`SELECT id FROM crew WHERE tenant_id = $1 AND archived_at IS NULL`, tenant)
}

// history assembles the bounded-window record for one entity column.
// The window matches the score definition: trailing twelve months.
func (p *PostgresSource) history(ctx context.Context, table, column string, tenant, entity uuid.UUID) (SafetyHistory, error) {
	var h SafetyHistory
	err := p.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM observation o
			   WHERE o.tenant_id = $1 AND o.`+column+` = $2
			     AND o.observed_at > now() - interval '12 months'),
			(SELECT count(*) FILTER (WHERE i.severity = 'LOW')    FROM incident i
			   WHERE i.tenant_id = $1 AND i.`+column+` = $2
			     AND i.occurred_at > now() - interval '12 months'),
			(SELECT count(*) FILTER (WHERE i.severity = 'MEDIUM') FROM incident i
			   WHERE i.tenant_id = $1 AND i.`+column+` = $2
			     AND i.occurred_at > now() - interval '12 months'),
			(SELECT count(*) FILTER (WHERE i.severity = 'HIGH')   FROM incident i
			   WHERE i.tenant_id = $1 AND i.`+column+` = $2
			     AND i.occurred_at > now() - interval '12 months')`,
		tenant, entity).Scan(&h.Observations, &h.Incidents.Low, &h.Incidents.Medium, &h.Incidents.High)
	if err != nil {
		return SafetyHistory{}, errors.Wrap(err, "catalog.PostgresSource", "history", "query "+table)
	}
	return h, nil
}

func (p *PostgresSource) ContractorHistory(ctx context.Context, tenant, contractor uuid.UUID) (SafetyHistory, error) {
	return p.history(ctx, "contractor", "contractor_id", tenant, contractor)
}

func (p *PostgresSource) SupervisorHistory(ctx context.Context, tenant, supervisor uuid.UUID) (SafetyHistory, error) {
	return p.history(ctx, "supervisor", "supervisor_id", tenant, supervisor)
}

func (p *PostgresSource) CrewHistory(ctx context.Context, tenant, crew uuid.UUID) (SafetyHistory, error) {
	return p.history(ctx, "crew", "crew_id", tenant, crew)
}

func (p *PostgresSource) SupervisorEngagement(ctx context.Context, tenant, supervisor uuid.UUID) (EngagementStats, error) {
	var stats EngagementStats
	err := p.pool.QueryRow(ctx, `
		SELECT count(*), count(DISTINCT submitted_at::date)
		FROM safety_form
		WHERE tenant_id = $1 AND supervisor_id = $2
		  AND submitted_at > now() - interval '90 days'`,
		tenant, supervisor).Scan(&stats.FormsSubmitted, &stats.DaysActive)
	if err != nil {
		return EngagementStats{}, errors.Wrap(err, "catalog.PostgresSource", "SupervisorEngagement", "query")
	}
	return stats, nil
}

func (p *PostgresSource) incidentCounts(ctx context.Context, column string, entity uuid.UUID) (IncidentCounts, error) {
	var c IncidentCounts
	err := p.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE severity = 'LOW'),
			count(*) FILTER (WHERE severity = 'MEDIUM'),
			count(*) FILTER (WHERE severity = 'HIGH')
		FROM incident WHERE `+column+` = $1`, entity).
		Scan(&c.Low, &c.Medium, &c.High)
	if err != nil {
		return IncidentCounts{}, errors.Wrap(err, "catalog.PostgresSource", "incidentCounts", "query")
	}
	return c, nil
}

func (p *PostgresSource) LibraryTaskIncidents(ctx context.Context, libraryTask uuid.UUID) (IncidentCounts, error) {
	return p.incidentCounts(ctx, "library_task_id", libraryTask)
}

func (p *PostgresSource) LibrarySiteConditionIncidents(ctx context.Context, cond uuid.UUID) (IncidentCounts, error) {
	return p.incidentCounts(ctx, "library_site_condition_id", cond)
}

func (p *PostgresSource) DivisionIncidents(ctx context.Context, division uuid.UUID) (IncidentCounts, error) {
	return p.incidentCounts(ctx, "division_id", division)
}

func (p *PostgresSource) TaskIncidents(ctx context.Context, tenant, task uuid.UUID) (IncidentCounts, error) {
	var c IncidentCounts
	err := p.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE severity = 'LOW'),
			count(*) FILTER (WHERE severity = 'MEDIUM'),
			count(*) FILTER (WHERE severity = 'HIGH')
		FROM incident WHERE tenant_id = $1 AND project_task_id = $2`, tenant, task).
		Scan(&c.Low, &c.Medium, &c.High)
	if err != nil {
		return IncidentCounts{}, errors.Wrap(err, "catalog.PostgresSource", "TaskIncidents", "query")
	}
	return c, nil
}

func (p *PostgresSource) TaskRef(ctx context.Context, tenant, task uuid.UUID) (TaskRef, error) {
	ref := TaskRef{ID: task}
	var archivedAt *string
	err := p.pool.QueryRow(ctx, `
		SELECT library_task_id, archived_at::text
		FROM project_task WHERE tenant_id = $1 AND id = $2`, tenant, task).
		Scan(&ref.LibraryTask, &archivedAt)
	if err != nil {
		return TaskRef{}, errors.Wrap(err, "catalog.PostgresSource", "TaskRef", "query")
	}
	ref.Archived = archivedAt != nil
	return ref, nil
}

func (p *PostgresSource) taskRefs(ctx context.Context, query string, args ...any) ([]TaskRef, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "catalog.PostgresSource", "taskRefs", "query")
	}
	defer rows.Close()
	var refs []TaskRef
	for rows.Next() {
		var ref TaskRef
		if err := rows.Scan(&ref.ID, &ref.LibraryTask); err != nil {
			return nil, errors.Wrap(err, "catalog.PostgresSource", "taskRefs", "scan")
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (p *PostgresSource) TasksAtLocation(ctx context.Context, tenant, location uuid.UUID) ([]TaskRef, error) {
	return p.taskRefs(ctx, `
		SELECT id, library_task_id FROM project_task
		WHERE tenant_id = $1 AND project_location_id = $2 AND archived_at IS NULL`,
		tenant, location)
}

func (p *PostgresSource) TasksOfActivity(ctx context.Context, tenant, activity uuid.UUID) ([]TaskRef, error) {
	return p.taskRefs(ctx, `
		SELECT id, library_task_id FROM project_task
		WHERE tenant_id = $1 AND activity_id = $2 AND archived_at IS NULL`,
		tenant, activity)
}

func (p *PostgresSource) TasksUsingLibraryTask(ctx context.Context, libraryTask uuid.UUID) (map[uuid.UUID][]uuid.UUID, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT tenant_id, id FROM project_task
		WHERE library_task_id = $1 AND archived_at IS NULL`, libraryTask)
	if err != nil {
		return nil, errors.Wrap(err, "catalog.PostgresSource", "TasksUsingLibraryTask", "query")
	}
	defer rows.Close()
	byTenant := make(map[uuid.UUID][]uuid.UUID)
	for rows.Next() {
		var tenant, task uuid.UUID
		if err := rows.Scan(&tenant, &task); err != nil {
			return nil, errors.Wrap(err, "catalog.PostgresSource", "TasksUsingLibraryTask", "scan")
		}
		byTenant[tenant] = append(byTenant[tenant], task)
	}
	return byTenant, rows.Err()
}

func (p *PostgresSource) scalarID(ctx context.Context, query string, args ...any) (uuid.UUID, error) {
	var id *uuid.UUID
	if err := p.pool.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return uuid.Nil, errors.Wrap(err, "catalog.PostgresSource", "scalarID", "query")
	}
	if id == nil {
		return uuid.Nil, nil
	}
	return *id, nil
}

func (p *PostgresSource) LocationOfTask(ctx context.Context, tenant, task uuid.UUID) (uuid.UUID, error) {
	return p.scalarID(ctx,
		`SELECT project_location_id FROM project_task WHERE tenant_id = $1 AND id = $2`, tenant, task)
}

func (p *PostgresSource) ActivityOfTask(ctx context.Context, tenant, task uuid.UUID) (uuid.UUID, error) {
	return p.scalarID(ctx,
		`SELECT activity_id FROM project_task WHERE tenant_id = $1 AND id = $2`, tenant, task)
}

func (p *PostgresSource) LocationsOfProject(ctx context.Context, tenant, project uuid.UUID) ([]uuid.UUID, error) {
	return p.idList(ctx, `
		SELECT id FROM project_location
		WHERE tenant_id = $1 AND project_id = $2 AND archived_at IS NULL`, tenant, project)
}

func (p *PostgresSource) ProjectOfLocation(ctx context.Context, tenant, location uuid.UUID) (uuid.UUID, error) {
	return p.scalarID(ctx,
		`SELECT project_id FROM project_location WHERE tenant_id = $1 AND id = $2`, tenant, location)
}

func (p *PostgresSource) SupervisorsOfProject(ctx context.Context, tenant, project uuid.UUID) ([]uuid.UUID, error) {
	return p.idList(ctx, `
		SELECT supervisor_id FROM project_supervisor
		WHERE tenant_id = $1 AND project_id = $2`, tenant, project)
}

func (p *PostgresSource) WorldData(ctx context.Context, tenant, location uuid.UUID, date riskmodel.Date) (sitecondition.WorldData, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx, `
		SELECT payload FROM world_data
		WHERE tenant_id = $1 AND project_location_id = $2 AND observed_on = $3
		ORDER BY created_at DESC LIMIT 1`,
		tenant, location, date.String()).Scan(&raw)
	if stderrors.Is(err, pgx.ErrNoRows) {
		// Missing world data is not an error: the evaluator treats an
		// empty record as "no automatic condition applies".
		return sitecondition.WorldData{}, nil
	}
	if err != nil {
		return sitecondition.WorldData{}, errors.Wrap(err, "catalog.PostgresSource", "WorldData", "query")
	}
	var data sitecondition.WorldData
	if err := json.Unmarshal(raw, &data); err != nil {
		return sitecondition.WorldData{}, errors.WrapInvalid(err, "catalog.PostgresSource", "WorldData", "decode payload")
	}
	return data, nil
}

func (p *PostgresSource) ManualConditions(ctx context.Context, tenant, location uuid.UUID) ([]sitecondition.ManualCondition, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT sc.library_site_condition_id, lsc.handle_code, lsc.multiplier
		FROM site_condition sc
		JOIN library_site_condition lsc ON lsc.id = sc.library_site_condition_id
		WHERE sc.tenant_id = $1 AND sc.project_location_id = $2
		  AND sc.is_manually_added AND sc.archived_at IS NULL`,
		tenant, location)
	if err != nil {
		return nil, errors.Wrap(err, "catalog.PostgresSource", "ManualConditions", "query")
	}
	defer rows.Close()
	var conds []sitecondition.ManualCondition
	for rows.Next() {
		var c sitecondition.ManualCondition
		var handle string
		if err := rows.Scan(&c.LibrarySiteConditionID, &handle, &c.Multiplier); err != nil {
			return nil, errors.Wrap(err, "catalog.PostgresSource", "ManualConditions", "scan")
		}
		c.Handle = sitecondition.Handle(handle)
		conds = append(conds, c)
	}
	return conds, rows.Err()
}
