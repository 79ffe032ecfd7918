package catalog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsafe/riskreactor/configstore"
	"github.com/fieldsafe/riskreactor/riskmodel"
	"github.com/fieldsafe/riskreactor/sitecondition"
)

func testEnv(src *StaticSource) *Env {
	return &Env{
		Source:     src,
		Configs:    configstore.NewLoader(configstore.NewMemory()),
		Conditions: sitecondition.NewEvaluator(),
	}
}

func TestNewRegistryCoversEveryMetricType(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	for _, m := range riskmodel.AllMetricTypes() {
		d, err := c.Descriptor(m)
		require.NoError(t, err, "metric %s", m)
		assert.Equal(t, m, d.Type)
		assert.NotEmpty(t, d.Variants, "metric %s has no compute variants", m)
		_, ok := d.Variants[d.Config.DefaultVariant]
		assert.True(t, ok, "metric %s default variant unregistered", m)
	}
}

func TestComputeUnknownVariant(t *testing.T) {
	c := MustNew()

	_, err := c.Compute(riskmodel.LocationTotalTaskRiskScore, "GRADIENT_BOOSTED")
	_, ok := riskmodel.IsMissingConfig(err)
	assert.True(t, ok, "unknown variant must surface as missing config, got %v", err)
}

func TestDependencyRequests_LocationRollup(t *testing.T) {
	src := NewStaticSource()
	tenant := uuid.New()
	location := uuid.New()
	live := TaskRef{ID: uuid.New(), LibraryTask: uuid.New()}
	dead := TaskRef{ID: uuid.New(), LibraryTask: uuid.New(), Archived: true}
	src.AddTask(tenant, live, location, uuid.Nil)
	src.AddTask(tenant, dead, location, uuid.Nil)

	c := MustNew()
	date := riskmodel.Today()
	reqs, err := c.DependencyRequests(context.Background(), testEnv(src),
		riskmodel.LocationTotalTaskRiskScore, riskmodel.DatedKey(tenant, location, date))
	require.NoError(t, err)

	require.Len(t, reqs, 1, "archived tasks must not project dependencies")
	assert.Equal(t, riskmodel.TaskSpecificRiskScore, reqs[0].Type)
	assert.Equal(t, riskmodel.DatedKey(tenant, live.ID, date), reqs[0].Key)
}

func TestDownstream_TaskScoreCascades(t *testing.T) {
	src := NewStaticSource()
	tenant := uuid.New()
	project := uuid.New()
	location := uuid.New()
	activity := uuid.New()
	task := TaskRef{ID: uuid.New(), LibraryTask: uuid.New()}
	src.AddLocation(project, location)
	src.AddTask(tenant, task, location, activity)

	c := MustNew()
	env := testEnv(src)
	date := riskmodel.Today()

	reqs, err := c.Downstream(context.Background(), env,
		riskmodel.TaskSpecificRiskScore, riskmodel.DatedKey(tenant, task.ID, date))
	require.NoError(t, err)

	types := make(map[riskmodel.MetricType]riskmodel.MetricKey)
	for _, r := range reqs {
		types[r.Type] = r.Key
	}
	assert.Equal(t, riskmodel.DatedKey(tenant, location, date), types[riskmodel.LocationTotalTaskRiskScore])
	assert.Equal(t, riskmodel.DatedKey(tenant, activity, date), types[riskmodel.ActivityTotalTaskRiskScore])
	assert.Equal(t, riskmodel.DatedKey(tenant, activity, date), types[riskmodel.StochasticActivityTotalTaskRiskScore])

	reqs, err = c.Downstream(context.Background(), env,
		riskmodel.LocationTotalTaskRiskScore, riskmodel.DatedKey(tenant, location, date))
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, riskmodel.TotalProjectRiskScore, reqs[0].Type)
	assert.Equal(t, riskmodel.DatedKey(tenant, project, date), reqs[0].Key)
}

func TestRankedRollupWorkedExample(t *testing.T) {
	// Two task scores 100 and 250 under default thresholds (85, 210)
	// and weights (1.0, 1.5, 2.0): (100*1.5 + 250*2.0) / 3.5.
	src := NewStaticSource()
	tenant := uuid.New()
	location := uuid.New()
	t1, t2 := uuid.New(), uuid.New()
	date := riskmodel.Today()

	deps := NewDeps([]riskmodel.MetricPoint{
		riskmodel.NewPoint(riskmodel.TaskSpecificRiskScore, riskmodel.DatedKey(tenant, t1, date), 100),
		riskmodel.NewPoint(riskmodel.TaskSpecificRiskScore, riskmodel.DatedKey(tenant, t2, date), 250),
	})

	fn, err := MustNew().Compute(riskmodel.LocationTotalTaskRiskScore, riskmodel.VariantRuleBased)
	require.NoError(t, err)
	out, err := fn(context.Background(), testEnv(src), riskmodel.DatedKey(tenant, location, date), deps)
	require.NoError(t, err)
	assert.InDelta(t, 650.0/3.5, out.Value, 1e-9)
}

func TestSafetyScoreCompute(t *testing.T) {
	src := NewStaticSource()
	tenant, contractor := uuid.New(), uuid.New()
	src.AddContractor(tenant, contractor, SafetyHistory{
		Observations: 50,
		Incidents:    IncidentCounts{Low: 2, Medium: 1, High: 1},
	})

	fn, err := MustNew().Compute(riskmodel.ContractorSafetyScore, riskmodel.VariantRuleBased)
	require.NoError(t, err)
	out, err := fn(context.Background(), testEnv(src), riskmodel.EntityKey(tenant, contractor), Deps{})
	require.NoError(t, err)

	// (2*1.0 + 1*1.5 + 1*2.0) / 50 * 100
	assert.InDelta(t, 11.0, out.Value, 1e-9)
}

func TestTenantStdDev(t *testing.T) {
	tenant := uuid.New()
	deps := NewDeps([]riskmodel.MetricPoint{
		riskmodel.NewPoint(riskmodel.ContractorSafetyScore, riskmodel.EntityKey(tenant, uuid.New()), 10),
		riskmodel.NewPoint(riskmodel.ContractorSafetyScore, riskmodel.EntityKey(tenant, uuid.New()), 20),
	})

	fn, err := MustNew().Compute(riskmodel.TenantContractorStdDev, riskmodel.VariantRuleBased)
	require.NoError(t, err)
	out, err := fn(context.Background(), testEnv(NewStaticSource()), riskmodel.TenantKey(tenant), deps)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, out.Value, 1e-9)
}

func TestDepsValueMissing(t *testing.T) {
	deps := NewDeps(nil)
	_, err := deps.Value(riskmodel.LibraryTaskRelativePrecursorRisk, riskmodel.LibraryKey(uuid.New()))
	_, ok := riskmodel.IsMissingMetric(err)
	assert.True(t, ok)
}

func TestTaskSpecificRiskScore_ArchivedTaskIsZero(t *testing.T) {
	src := NewStaticSource()
	tenant := uuid.New()
	location := uuid.New()
	task := TaskRef{ID: uuid.New(), LibraryTask: uuid.New()}
	src.AddTask(tenant, task, location, uuid.Nil)
	src.ArchiveTask(task.ID)

	fn, err := MustNew().Compute(riskmodel.TaskSpecificRiskScore, riskmodel.VariantRuleBased)
	require.NoError(t, err)
	out, err := fn(context.Background(), testEnv(src),
		riskmodel.DatedKey(tenant, task.ID, riskmodel.Today()), Deps{})
	require.NoError(t, err)
	assert.Zero(t, out.Value)
}
