package catalog

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/fieldsafe/riskreactor/riskmodel"
	"github.com/fieldsafe/riskreactor/sitecondition"
)

// StaticSource is an in-memory SourceReader backed by explicit
// fixtures. It serves tests and the admin dry-run surface; production
// deployments use the Postgres reader.
type StaticSource struct {
	mu sync.RWMutex

	contractors map[uuid.UUID][]uuid.UUID
	supervisors map[uuid.UUID][]uuid.UUID
	crews       map[uuid.UUID][]uuid.UUID

	contractorHist map[uuid.UUID]SafetyHistory
	supervisorHist map[uuid.UUID]SafetyHistory
	crewHist       map[uuid.UUID]SafetyHistory
	engagement     map[uuid.UUID]EngagementStats

	libraryTaskIncidents map[uuid.UUID]IncidentCounts
	siteCondIncidents    map[uuid.UUID]IncidentCounts
	divisionIncidents    map[uuid.UUID]IncidentCounts
	taskIncidents        map[uuid.UUID]IncidentCounts

	tasks              map[uuid.UUID]TaskRef
	taskLocation       map[uuid.UUID]uuid.UUID
	taskActivity       map[uuid.UUID]uuid.UUID
	taskTenant         map[uuid.UUID]uuid.UUID
	locationTasks      map[uuid.UUID][]uuid.UUID
	activityTasks      map[uuid.UUID][]uuid.UUID
	projectLocations   map[uuid.UUID][]uuid.UUID
	locationProject    map[uuid.UUID]uuid.UUID
	projectSupervisors map[uuid.UUID][]uuid.UUID

	worldData        map[worldKey]sitecondition.WorldData
	manualConditions map[uuid.UUID][]sitecondition.ManualCondition
}

type worldKey struct {
	location uuid.UUID
	date     riskmodel.Date
}

// NewStaticSource returns an empty fixture source.
func NewStaticSource() *StaticSource {
	return &StaticSource{
		contractors:          make(map[uuid.UUID][]uuid.UUID),
		supervisors:          make(map[uuid.UUID][]uuid.UUID),
		crews:                make(map[uuid.UUID][]uuid.UUID),
		contractorHist:       make(map[uuid.UUID]SafetyHistory),
		supervisorHist:       make(map[uuid.UUID]SafetyHistory),
		crewHist:             make(map[uuid.UUID]SafetyHistory),
		engagement:           make(map[uuid.UUID]EngagementStats),
		libraryTaskIncidents: make(map[uuid.UUID]IncidentCounts),
		siteCondIncidents:    make(map[uuid.UUID]IncidentCounts),
		divisionIncidents:    make(map[uuid.UUID]IncidentCounts),
		taskIncidents:        make(map[uuid.UUID]IncidentCounts),
		tasks:                make(map[uuid.UUID]TaskRef),
		taskLocation:         make(map[uuid.UUID]uuid.UUID),
		taskActivity:         make(map[uuid.UUID]uuid.UUID),
		taskTenant:           make(map[uuid.UUID]uuid.UUID),
		locationTasks:        make(map[uuid.UUID][]uuid.UUID),
		activityTasks:        make(map[uuid.UUID][]uuid.UUID),
		projectLocations:     make(map[uuid.UUID][]uuid.UUID),
		locationProject:      make(map[uuid.UUID]uuid.UUID),
		projectSupervisors:   make(map[uuid.UUID][]uuid.UUID),
		worldData:            make(map[worldKey]sitecondition.WorldData),
		manualConditions:     make(map[uuid.UUID][]sitecondition.ManualCondition),
	}
}

// AddContractor registers a contractor with its history.
func (s *StaticSource) AddContractor(tenant, contractor uuid.UUID, hist SafetyHistory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contractors[tenant] = append(s.contractors[tenant], contractor)
	s.contractorHist[contractor] = hist
}

// AddSupervisor registers a supervisor with its history and engagement.
func (s *StaticSource) AddSupervisor(tenant, supervisor uuid.UUID, hist SafetyHistory, stats EngagementStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supervisors[tenant] = append(s.supervisors[tenant], supervisor)
	s.supervisorHist[supervisor] = hist
	s.engagement[supervisor] = stats
}

// AddCrew registers a crew with its history.
func (s *StaticSource) AddCrew(tenant, crew uuid.UUID, hist SafetyHistory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crews[tenant] = append(s.crews[tenant], crew)
	s.crewHist[crew] = hist
}

// SetLibraryTaskIncidents sets a library task's precursor history.
func (s *StaticSource) SetLibraryTaskIncidents(libraryTask uuid.UUID, counts IncidentCounts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.libraryTaskIncidents[libraryTask] = counts
}

// SetSiteConditionIncidents sets a library site condition's history.
func (s *StaticSource) SetSiteConditionIncidents(cond uuid.UUID, counts IncidentCounts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.siteCondIncidents[cond] = counts
}

// SetDivisionIncidents sets a division's precursor history.
func (s *StaticSource) SetDivisionIncidents(division uuid.UUID, counts IncidentCounts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.divisionIncidents[division] = counts
}

// AddTask registers a task at a location (and optionally an activity).
func (s *StaticSource) AddTask(tenant uuid.UUID, ref TaskRef, location, activity uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[ref.ID] = ref
	s.taskTenant[ref.ID] = tenant
	s.taskLocation[ref.ID] = location
	s.locationTasks[location] = append(s.locationTasks[location], ref.ID)
	if activity != uuid.Nil {
		s.taskActivity[ref.ID] = activity
		s.activityTasks[activity] = append(s.activityTasks[activity], ref.ID)
	}
}

// ArchiveTask marks a registered task archived.
func (s *StaticSource) ArchiveTask(task uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := s.tasks[task]
	ref.Archived = true
	s.tasks[task] = ref
}

// AddLocation attaches a location to a project.
func (s *StaticSource) AddLocation(project, location uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projectLocations[project] = append(s.projectLocations[project], location)
	s.locationProject[location] = project
}

// AddProjectSupervisor attaches a supervisor to a project.
func (s *StaticSource) AddProjectSupervisor(project, supervisor uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projectSupervisors[project] = append(s.projectSupervisors[project], supervisor)
}

// SetWorldData sets the world-data record for a location and date.
func (s *StaticSource) SetWorldData(location uuid.UUID, date riskmodel.Date, data sitecondition.WorldData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.worldData[worldKey{location, date}] = data
}

// SetManualConditions sets a location's manually attached conditions.
func (s *StaticSource) SetManualConditions(location uuid.UUID, conds []sitecondition.ManualCondition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manualConditions[location] = conds
}

// SetTaskIncidents sets a task's historical incident counts.
func (s *StaticSource) SetTaskIncidents(task uuid.UUID, counts IncidentCounts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskIncidents[task] = counts
}

func (s *StaticSource) ContractorsOf(_ context.Context, tenant uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]uuid.UUID(nil), s.contractors[tenant]...), nil
}

func (s *StaticSource) SupervisorsOf(_ context.Context, tenant uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]uuid.UUID(nil), s.supervisors[tenant]...), nil
}

func (s *StaticSource) CrewsOf(_ context.Context, tenant uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]uuid.UUID(nil), s.crews[tenant]...), nil
}

func (s *StaticSource) ContractorHistory(_ context.Context, _, contractor uuid.UUID) (SafetyHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contractorHist[contractor], nil
}

func (s *StaticSource) SupervisorHistory(_ context.Context, _, supervisor uuid.UUID) (SafetyHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.supervisorHist[supervisor], nil
}

func (s *StaticSource) CrewHistory(_ context.Context, _, crew uuid.UUID) (SafetyHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.crewHist[crew], nil
}

func (s *StaticSource) SupervisorEngagement(_ context.Context, _, supervisor uuid.UUID) (EngagementStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engagement[supervisor], nil
}

func (s *StaticSource) LibraryTaskIncidents(_ context.Context, libraryTask uuid.UUID) (IncidentCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.libraryTaskIncidents[libraryTask], nil
}

func (s *StaticSource) LibrarySiteConditionIncidents(_ context.Context, cond uuid.UUID) (IncidentCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.siteCondIncidents[cond], nil
}

func (s *StaticSource) DivisionIncidents(_ context.Context, division uuid.UUID) (IncidentCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.divisionIncidents[division], nil
}

func (s *StaticSource) TaskIncidents(_ context.Context, _, task uuid.UUID) (IncidentCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.taskIncidents[task], nil
}

func (s *StaticSource) TaskRef(_ context.Context, _, task uuid.UUID) (TaskRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.tasks[task]
	if !ok {
		return TaskRef{ID: task}, nil
	}
	return ref, nil
}

func (s *StaticSource) TasksAtLocation(_ context.Context, _, location uuid.UUID) ([]TaskRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refsLocked(s.locationTasks[location]), nil
}

func (s *StaticSource) TasksOfActivity(_ context.Context, _, activity uuid.UUID) ([]TaskRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refsLocked(s.activityTasks[activity]), nil
}

func (s *StaticSource) refsLocked(ids []uuid.UUID) []TaskRef {
	refs := make([]TaskRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, s.tasks[id])
	}
	return refs
}

func (s *StaticSource) TasksUsingLibraryTask(_ context.Context, libraryTask uuid.UUID) (map[uuid.UUID][]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byTenant := make(map[uuid.UUID][]uuid.UUID)
	for id, ref := range s.tasks {
		if ref.LibraryTask == libraryTask && !ref.Archived {
			tenant := s.taskTenant[id]
			byTenant[tenant] = append(byTenant[tenant], id)
		}
	}
	return byTenant, nil
}

func (s *StaticSource) LocationOfTask(_ context.Context, _, task uuid.UUID) (uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.taskLocation[task], nil
}

func (s *StaticSource) ActivityOfTask(_ context.Context, _, task uuid.UUID) (uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.taskActivity[task], nil
}

func (s *StaticSource) LocationsOfProject(_ context.Context, _, project uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]uuid.UUID(nil), s.projectLocations[project]...), nil
}

func (s *StaticSource) ProjectOfLocation(_ context.Context, _, location uuid.UUID) (uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locationProject[location], nil
}

func (s *StaticSource) SupervisorsOfProject(_ context.Context, _, project uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]uuid.UUID(nil), s.projectSupervisors[project]...), nil
}

func (s *StaticSource) WorldData(_ context.Context, _, location uuid.UUID, date riskmodel.Date) (sitecondition.WorldData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.worldData[worldKey{location, date}], nil
}

func (s *StaticSource) ManualConditions(_ context.Context, _, location uuid.UUID) ([]sitecondition.ManualCondition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]sitecondition.ManualCondition(nil), s.manualConditions[location]...), nil
}
