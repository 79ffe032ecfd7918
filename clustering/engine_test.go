package clustering

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rrerrors "github.com/fieldsafe/riskreactor/errors"
)

func newTestEngine(t *testing.T) (*Engine, *Memory) {
	t.Helper()
	store := NewMemory()
	return NewEngine(store, nil), store
}

func testLocation(tenant uuid.UUID, lon, lat float64) Location {
	return Location{
		ID:     uuid.New(),
		Tenant: tenant,
		Name:   "site",
		Status: "active",
		Point:  orb.Point{lon, lat},
	}
}

func TestInsertBuildsFullPath(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	tenant := uuid.New()

	loc := testLocation(tenant, 10.0, 50.0)
	require.NoError(t, engine.Insert(ctx, loc))

	stored, ok, err := store.GetLocation(ctx, loc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	for z := 0; z <= ZMax; z++ {
		require.NotEqual(t, uuid.Nil, stored.Path[z], "zoom %d", z)
		cluster, ok, err := store.GetCluster(ctx, stored.Path[z])
		require.NoError(t, err)
		require.True(t, ok, "zoom %d", z)
		assert.Equal(t, z, cluster.Zoom)
		assert.Equal(t, TileAt(loc.Point, cluster.Cell.Z), cluster.Cell)
	}

	// A single member's centroid is the point itself.
	top, _, err := store.GetCluster(ctx, stored.Path[ZMax])
	require.NoError(t, err)
	assert.InDelta(t, 10.0, top.Centroid[0], 1e-9)
	assert.InDelta(t, 50.0, top.Centroid[1], 1e-9)

	report, err := engine.CheckClusters(ctx, tenant)
	require.NoError(t, err)
	assert.True(t, report.Clean(), "violations: %+v", report.Violations)
}

func TestArchiveLoneLocationReapsEveryCluster(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	tenant := uuid.New()

	loc := testLocation(tenant, -71.06, 42.36)
	require.NoError(t, engine.Insert(ctx, loc))
	require.NoError(t, engine.Archive(ctx, loc.ID))

	clusters, err := store.ClustersByTenant(ctx, tenant, -1)
	require.NoError(t, err)
	assert.Empty(t, clusters, "archiving the only location must leave no clusters")

	stored, ok, err := store.GetLocation(ctx, loc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, stored.Archived)
	assert.True(t, stored.Path.Zero())
}

func TestClusterCentroidIsMercatorMean(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	tenant := uuid.New()

	// Three locations inside one deepest-zoom cell, one a degree away.
	near := []Location{
		testLocation(tenant, 10.000, 50.000),
		testLocation(tenant, 10.001, 50.000),
		testLocation(tenant, 10.000, 50.001),
	}
	far := testLocation(tenant, 11.0, 50.0)
	for _, loc := range near {
		require.NoError(t, engine.Insert(ctx, loc))
	}
	require.NoError(t, engine.Insert(ctx, far))

	deepest, err := store.ClustersByTenant(ctx, tenant, ZMax)
	require.NoError(t, err)
	assert.Len(t, deepest, 2)

	cluster, ok, err := store.ClusterByCell(ctx, tenant, TileAt(near[0].Point, 10))
	require.NoError(t, err)
	require.True(t, ok)

	var sx, sy float64
	for _, loc := range near {
		m := project.WGS84.ToMercator(loc.Point)
		sx += m[0]
		sy += m[1]
	}
	got := project.WGS84.ToMercator(cluster.Centroid)
	assert.InDelta(t, sx/3, got[0], 1e-6)
	assert.InDelta(t, sy/3, got[1], 1e-6)

	report, err := engine.CheckClusters(ctx, tenant)
	require.NoError(t, err)
	assert.True(t, report.Clean(), "violations: %+v", report.Violations)
}

func TestUpdateWithinCellKeepsClusterIdentity(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	tenant := uuid.New()

	loc := testLocation(tenant, 10.0000, 50.0000)
	require.NoError(t, engine.Insert(ctx, loc))
	before, _, err := store.GetLocation(ctx, loc.ID)
	require.NoError(t, err)

	loc.Point = orb.Point{10.0005, 50.0005}
	require.NoError(t, engine.Update(ctx, loc))

	after, _, err := store.GetLocation(ctx, loc.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Path, after.Path, "same cells at every zoom keep cluster ids")

	cluster, _, err := store.GetCluster(ctx, after.Path[ZMax])
	require.NoError(t, err)
	assert.InDelta(t, 10.0005, cluster.Centroid[0], 1e-9)
}

func TestUpdateAcrossCellsMigratesAndReaps(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	tenant := uuid.New()

	anchor := testLocation(tenant, 10.0, 50.0)
	mover := testLocation(tenant, 11.0, 50.0)
	require.NoError(t, engine.Insert(ctx, anchor))
	require.NoError(t, engine.Insert(ctx, mover))

	deepest, err := store.ClustersByTenant(ctx, tenant, ZMax)
	require.NoError(t, err)
	require.Len(t, deepest, 2)

	// Move the second location into the anchor's cell.
	mover.Point = orb.Point{10.001, 50.0}
	require.NoError(t, engine.Update(ctx, mover))

	deepest, err = store.ClustersByTenant(ctx, tenant, ZMax)
	require.NoError(t, err)
	assert.Len(t, deepest, 1, "the vacated cluster must be reaped")

	members, err := store.Members(ctx, deepest[0].ID, ZMax)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	report, err := engine.CheckClusters(ctx, tenant)
	require.NoError(t, err)
	assert.True(t, report.Clean(), "violations: %+v", report.Violations)
}

func TestRecreateRebuildsConsistentPyramid(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	tenant := uuid.New()

	locs := []Location{
		testLocation(tenant, 10.0, 50.0),
		testLocation(tenant, 10.001, 50.0),
		testLocation(tenant, -71.06, 42.36),
	}
	for _, loc := range locs {
		require.NoError(t, engine.Insert(ctx, loc))
	}

	// Corrupt the pyramid, then rebuild it.
	stale, err := store.ClustersByTenant(ctx, tenant, ZMax)
	require.NoError(t, err)
	require.NotEmpty(t, stale)
	require.NoError(t, store.DeleteCluster(ctx, stale[0].ID))

	report, err := engine.CheckClusters(ctx, tenant)
	require.NoError(t, err)
	require.False(t, report.Clean())

	require.NoError(t, engine.Recreate(ctx, tenant))

	report, err = engine.CheckClusters(ctx, tenant)
	require.NoError(t, err)
	assert.True(t, report.Clean(), "violations: %+v", report.Violations)
	assert.Equal(t, 3, report.Locations)
}

func TestCheckEmptyFlagsOrphanClusters(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	tenant := uuid.New()

	loc := testLocation(tenant, 10.0, 50.0)
	require.NoError(t, engine.Insert(ctx, loc))

	// Detach the location without reaping, as a crashed writer would.
	stored, _, err := store.GetLocation(ctx, loc.ID)
	require.NoError(t, err)
	stored.Path = Path{}
	require.NoError(t, store.PutLocation(ctx, stored))

	report, err := engine.CheckEmpty(ctx, tenant, -1)
	require.NoError(t, err)
	assert.Len(t, report.Violations, ZMax+1)
	for _, v := range report.Violations {
		assert.Equal(t, ViolationEmptyCluster, v.Kind)
	}

	// A zoom bound scopes the scan to the shallow levels.
	report, err = engine.CheckEmpty(ctx, tenant, 4)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Clusters)
	assert.Len(t, report.Violations, 5)
	for _, v := range report.Violations {
		assert.LessOrEqual(t, v.Zoom, 4)
	}
}

func TestUpdateCentroidsRepairsDrift(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	tenant := uuid.New()

	loc := testLocation(tenant, 10.0, 50.0)
	require.NoError(t, engine.Insert(ctx, loc))

	stored, _, err := store.GetLocation(ctx, loc.ID)
	require.NoError(t, err)
	cluster, _, err := store.GetCluster(ctx, stored.Path[ZMax])
	require.NoError(t, err)
	cluster.Centroid = orb.Point{0, 0}
	require.NoError(t, store.PutCluster(ctx, cluster))

	report, err := engine.CheckClusters(ctx, tenant)
	require.NoError(t, err)
	require.False(t, report.Clean())

	require.NoError(t, engine.UpdateCentroids(ctx, tenant))

	report, err = engine.CheckClusters(ctx, tenant)
	require.NoError(t, err)
	assert.True(t, report.Clean(), "violations: %+v", report.Violations)
}

func TestInsertContendedCellSurfacesLockError(t *testing.T) {
	engine, _ := newTestEngine(t)
	WithLockRetry(2, time.Millisecond)(engine)
	ctx := context.Background()
	tenant := uuid.New()

	loc := testLocation(tenant, 10.0, 50.0)
	key := cellLockKey(tenant, TileAt(loc.Point, ZMax))
	require.True(t, engine.locks.tryAcquire([]string{key}, nil))
	defer engine.locks.release([]string{key}, nil)

	err := engine.Insert(ctx, loc)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, rrerrors.ErrLockContended))
	assert.True(t, rrerrors.IsTransient(err))
}

func TestRecreateExcludesConcurrentMutations(t *testing.T) {
	engine, _ := newTestEngine(t)
	WithLockRetry(2, time.Millisecond)(engine)
	ctx := context.Background()
	tenant := uuid.New()

	require.NoError(t, engine.Insert(ctx, testLocation(tenant, 10.0, 50.0)))

	// While a rebuild holds the tenant key, every mutation must back off
	// rather than interleave with the rebuild's writes.
	require.True(t, engine.locks.tryAcquire([]string{tenantLockKey(tenant)}, nil))
	err := engine.Insert(ctx, testLocation(tenant, 20.0, 40.0))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, rrerrors.ErrLockContended))
	engine.locks.release([]string{tenantLockKey(tenant)}, nil)

	// And the reverse: a mutation in flight keeps the rebuild out.
	held := testLocation(tenant, 20.0, 40.0)
	cellKeys := []string{cellLockKey(tenant, TileAt(held.Point, ZMax))}
	sharedKeys := []string{tenantLockKey(tenant)}
	require.True(t, engine.locks.tryAcquire(cellKeys, sharedKeys))
	err = engine.Recreate(ctx, tenant)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, rrerrors.ErrLockContended))
	engine.locks.release(cellKeys, sharedKeys)

	require.NoError(t, engine.Recreate(ctx, tenant))
	report, err := engine.CheckClusters(ctx, tenant)
	require.NoError(t, err)
	assert.True(t, report.Clean(), "violations: %+v", report.Violations)
}

func TestInsertValidatesLocation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	err := engine.Insert(ctx, Location{ID: uuid.New()})
	require.Error(t, err)
	assert.True(t, rrerrors.IsInvalid(err))

	archived := testLocation(uuid.New(), 0.5, 0.5)
	archived.Archived = true
	err = engine.Insert(ctx, archived)
	require.Error(t, err)
	assert.True(t, rrerrors.IsInvalid(err))
}
