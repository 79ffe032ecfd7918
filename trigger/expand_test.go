package trigger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsafe/riskreactor/catalog"
	"github.com/fieldsafe/riskreactor/configstore"
	"github.com/fieldsafe/riskreactor/reactorqueue"
	"github.com/fieldsafe/riskreactor/riskmodel"
	"github.com/fieldsafe/riskreactor/sitecondition"
)

func testExpander(src *catalog.StaticSource, horizonDays int) *Expander {
	env := &catalog.Env{
		Source:     src,
		Configs:    configstore.NewLoader(configstore.NewMemory()),
		Conditions: sitecondition.NewEvaluator(),
	}
	return NewExpander(env, horizonDays)
}

func jobTypes(jobs []reactorqueue.Job) []riskmodel.MetricType {
	types := make([]riskmodel.MetricType, len(jobs))
	for i, j := range jobs {
		types[i] = j.Type
	}
	return types
}

func TestExpandContractorChanged(t *testing.T) {
	tenant, contractor := uuid.New(), uuid.New()
	jobs, err := testExpander(catalog.NewStaticSource(), 0).Expand(context.Background(), Trigger{
		Type: ContractorChanged, Tenant: tenant, Entity: contractor,
	})
	require.NoError(t, err)

	assert.Equal(t, []riskmodel.MetricType{
		riskmodel.ContractorSafetyScore,
		riskmodel.TenantContractorAverage,
		riskmodel.TenantContractorStdDev,
	}, jobTypes(jobs))
	assert.Equal(t, riskmodel.EntityKey(tenant, contractor), jobs[0].Key)
	assert.Equal(t, riskmodel.TenantKey(tenant), jobs[1].Key)
}

func TestExpandProjectLocationChanged(t *testing.T) {
	src := catalog.NewStaticSource()
	tenant, project, location := uuid.New(), uuid.New(), uuid.New()
	t1 := catalog.TaskRef{ID: uuid.New(), LibraryTask: uuid.New()}
	t2 := catalog.TaskRef{ID: uuid.New(), LibraryTask: uuid.New()}
	src.AddLocation(project, location)
	src.AddTask(tenant, t1, location, uuid.Nil)
	src.AddTask(tenant, t2, location, uuid.Nil)

	const horizon = 2
	jobs, err := testExpander(src, horizon).Expand(context.Background(), Trigger{
		Type: ProjectLocationChanged, Tenant: tenant, Entity: location,
	})
	require.NoError(t, err)

	// Per date: 1 site-condition multiplier + 2 task scores + location
	// roll-up + project total, over horizon+1 days.
	assert.Len(t, jobs, 5*(horizon+1))
	assert.Equal(t, riskmodel.TaskSpecificSiteConditionsMultiplier, jobs[0].Type)

	today := riskmodel.Today()
	found := 0
	for _, j := range jobs {
		if j.Type == riskmodel.TotalProjectRiskScore && j.Key.Date == today {
			assert.Equal(t, riskmodel.DatedKey(tenant, project, today), j.Key)
			found++
		}
	}
	assert.Equal(t, 1, found)
}

func TestExpandDailyReportSubmittedScopesToDate(t *testing.T) {
	src := catalog.NewStaticSource()
	tenant, location := uuid.New(), uuid.New()
	date := riskmodel.Today().AddDays(-1)

	jobs, err := testExpander(src, 14).Expand(context.Background(), Trigger{
		Type: DailyReportSubmitted, Tenant: tenant, Entity: location, Date: date,
	})
	require.NoError(t, err)

	for _, j := range jobs {
		assert.Equal(t, date, j.Key.Date, "date-scoped trigger must not fan out over the horizon")
	}
}

func TestExpandLibraryTaskChanged(t *testing.T) {
	src := catalog.NewStaticSource()
	tenant, location := uuid.New(), uuid.New()
	libTask := uuid.New()
	task := catalog.TaskRef{ID: uuid.New(), LibraryTask: libTask}
	src.AddTask(tenant, task, location, uuid.Nil)

	const horizon = 3
	jobs, err := testExpander(src, horizon).Expand(context.Background(), Trigger{
		Type: LibraryTaskChanged, Entity: libTask,
	})
	require.NoError(t, err)

	require.Equal(t, riskmodel.LibraryTaskRelativePrecursorRisk, jobs[0].Type)
	assert.Equal(t, riskmodel.LibraryKey(libTask), jobs[0].Key)
	assert.Len(t, jobs, 1+horizon+1, "one precursor job plus the dependent task over the horizon")
}

func TestExpandValidates(t *testing.T) {
	e := testExpander(catalog.NewStaticSource(), 0)

	_, err := e.Expand(context.Background(), Trigger{Type: "SOLAR_FLARE", Entity: uuid.New()})
	assert.Error(t, err)

	_, err = e.Expand(context.Background(), Trigger{Type: ContractorChanged, Entity: uuid.New()})
	assert.Error(t, err, "tenant-scoped trigger requires a tenant")

	_, err = e.Expand(context.Background(), Trigger{
		Type: LibraryTaskChanged, Tenant: uuid.New(), Entity: uuid.New(),
	})
	assert.Error(t, err, "library trigger must not carry a tenant")
}

func TestNotifierDeduplicatesThroughQueue(t *testing.T) {
	tenant, contractor := uuid.New(), uuid.New()
	q := reactorqueue.NewMemory()
	n := NewNotifier(testExpander(catalog.NewStaticSource(), 0), q, nil)

	trg := Trigger{Type: ContractorChanged, Tenant: tenant, Entity: contractor}
	require.NoError(t, n.Notify(context.Background(), trg))
	require.NoError(t, n.Notify(context.Background(), trg))

	pending, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, pending)
}
