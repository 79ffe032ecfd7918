package catalog

import (
	"context"

	"github.com/google/uuid"

	"github.com/fieldsafe/riskreactor/riskmodel"
	"github.com/fieldsafe/riskreactor/sitecondition"
)

// TaskRef identifies a project task together with the library task it
// instantiates.
type TaskRef struct {
	ID          uuid.UUID
	LibraryTask uuid.UUID
	Archived    bool
}

// IncidentCounts buckets historical incidents by severity ranking.
type IncidentCounts struct {
	Low    int
	Medium int
	High   int
}

// Total returns the incident count across severities.
func (c IncidentCounts) Total() int { return c.Low + c.Medium + c.High }

// Weighted folds the counts with the per-ranking weights.
func (c IncidentCounts) Weighted(w riskmodel.RankingWeight) float64 {
	return float64(c.Low)*w.Low + float64(c.Medium)*w.Medium + float64(c.High)*w.High
}

// SafetyHistory is the bounded-window observation and incident record
// for a contractor, supervisor, or crew. Archived entities report a
// zero history.
type SafetyHistory struct {
	Observations int
	Incidents    IncidentCounts
}

// EngagementStats counts a supervisor's safety-form activity over the
// engagement window.
type EngagementStats struct {
	FormsSubmitted int
	DaysActive     int
}

// SourceReader is the narrow source-of-truth surface compute functions
// read through. Implementations sit in front of the application
// database; tests supply fixtures. Every method scopes reads to live
// rows unless stated otherwise.
type SourceReader interface {
	// Entity enumeration for tenant-level roll-ups.
	ContractorsOf(ctx context.Context, tenant uuid.UUID) ([]uuid.UUID, error)
	SupervisorsOf(ctx context.Context, tenant uuid.UUID) ([]uuid.UUID, error)
	CrewsOf(ctx context.Context, tenant uuid.UUID) ([]uuid.UUID, error)

	// Bounded-window histories; archived entities yield zero histories.
	ContractorHistory(ctx context.Context, tenant, contractor uuid.UUID) (SafetyHistory, error)
	SupervisorHistory(ctx context.Context, tenant, supervisor uuid.UUID) (SafetyHistory, error)
	CrewHistory(ctx context.Context, tenant, crew uuid.UUID) (SafetyHistory, error)
	SupervisorEngagement(ctx context.Context, tenant, supervisor uuid.UUID) (EngagementStats, error)

	// Precursor incident histories keyed by library entity.
	LibraryTaskIncidents(ctx context.Context, libraryTask uuid.UUID) (IncidentCounts, error)
	LibrarySiteConditionIncidents(ctx context.Context, librarySiteCondition uuid.UUID) (IncidentCounts, error)
	DivisionIncidents(ctx context.Context, division uuid.UUID) (IncidentCounts, error)
	TaskIncidents(ctx context.Context, tenant, task uuid.UUID) (IncidentCounts, error)

	// Structural lookups for key projection and cascade expansion.
	TaskRef(ctx context.Context, tenant, task uuid.UUID) (TaskRef, error)
	TasksAtLocation(ctx context.Context, tenant, location uuid.UUID) ([]TaskRef, error)
	TasksOfActivity(ctx context.Context, tenant, activity uuid.UUID) ([]TaskRef, error)
	TasksUsingLibraryTask(ctx context.Context, libraryTask uuid.UUID) (map[uuid.UUID][]uuid.UUID, error)
	LocationOfTask(ctx context.Context, tenant, task uuid.UUID) (uuid.UUID, error)
	ActivityOfTask(ctx context.Context, tenant, task uuid.UUID) (uuid.UUID, error)
	LocationsOfProject(ctx context.Context, tenant, project uuid.UUID) ([]uuid.UUID, error)
	ProjectOfLocation(ctx context.Context, tenant, location uuid.UUID) (uuid.UUID, error)
	SupervisorsOfProject(ctx context.Context, tenant, project uuid.UUID) ([]uuid.UUID, error)

	// World data for the site-condition evaluator.
	WorldData(ctx context.Context, tenant, location uuid.UUID, date riskmodel.Date) (sitecondition.WorldData, error)
	ManualConditions(ctx context.Context, tenant, location uuid.UUID) ([]sitecondition.ManualCondition, error)
}
