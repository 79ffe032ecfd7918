package clustering

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/fieldsafe/riskreactor/errors"
	"github.com/fieldsafe/riskreactor/telemetry"
)

const (
	defaultLockAttempts = 8
	defaultLockDelay    = 5 * time.Millisecond
)

// lockTable hands out per-cell mutexes so concurrent engine operations
// on disjoint cells never serialize. Keys are acquired in sorted order,
// which makes overlapping operations deadlock-free. A key may also be
// taken shared: any number of shared holders coexist, but a shared key
// blocks an exclusive taker and vice versa. Mutations hold their cell
// keys exclusive plus the tenant key shared, so a rebuild holding the
// tenant key exclusive runs alone.
type lockTable struct {
	mu        sync.Mutex
	exclusive map[string]struct{}
	shared    map[string]int
}

func newLockTable() *lockTable {
	return &lockTable{
		exclusive: make(map[string]struct{}),
		shared:    make(map[string]int),
	}
}

// tryAcquire takes every key or none.
func (t *lockTable) tryAcquire(excl, shared []string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, k := range excl {
		if _, taken := t.exclusive[k]; taken {
			return false
		}
		if t.shared[k] > 0 {
			return false
		}
	}
	for _, k := range shared {
		if _, taken := t.exclusive[k]; taken {
			return false
		}
	}
	for _, k := range excl {
		t.exclusive[k] = struct{}{}
	}
	for _, k := range shared {
		t.shared[k]++
	}
	return true
}

func (t *lockTable) release(excl, shared []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, k := range excl {
		delete(t.exclusive, k)
	}
	for _, k := range shared {
		if t.shared[k]--; t.shared[k] <= 0 {
			delete(t.shared, k)
		}
	}
}

// Engine keeps the cluster pyramid consistent as locations are
// inserted, moved, and archived.
type Engine struct {
	store   Store
	locks   *lockTable
	log     *slog.Logger
	metrics *telemetry.Metrics

	lockAttempts int
	lockDelay    time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithTelemetry attaches operation counters.
func WithTelemetry(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLockRetry tunes the contention retry loop.
func WithLockRetry(attempts int, delay time.Duration) Option {
	return func(e *Engine) {
		e.lockAttempts = attempts
		e.lockDelay = delay
	}
}

// NewEngine builds an engine over the given store.
func NewEngine(store Store, log *slog.Logger, opts ...Option) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		store:        store,
		locks:        newLockTable(),
		log:          log.With("component", "clustering"),
		lockAttempts: defaultLockAttempts,
		lockDelay:    defaultLockDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func cellLockKey(tenant uuid.UUID, cell maptile.Tile) string {
	return fmt.Sprintf("%s/%d/%d/%d", tenant, cell.Z, cell.X, cell.Y)
}

func tenantLockKey(tenant uuid.UUID) string {
	return "tenant/" + tenant.String()
}

// acquire locks the given keys, retrying with a short randomized delay
// while another operation holds any of them.
func (e *Engine) acquire(ctx context.Context, excl, shared []string) error {
	sort.Strings(excl)
	for attempt := 0; attempt < e.lockAttempts; attempt++ {
		if e.locks.tryAcquire(excl, shared) {
			return nil
		}
		if e.metrics != nil {
			e.metrics.LockRetries.Inc()
		}
		delay := e.lockDelay + time.Duration(rand.Int63n(int64(e.lockDelay)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return errors.WrapTransient(errors.ErrLockContended, "clustering", "acquire", "lock cells")
}

func (e *Engine) count(op string, err error) error {
	if e.metrics != nil {
		e.metrics.ClusterOps.WithLabelValues(op).Inc()
		if err != nil {
			e.metrics.ClusterOpErrors.WithLabelValues(op).Inc()
		}
	}
	return err
}

// Insert adds a live location to the pyramid: at every zoom the
// location joins the cluster of its cell, creating the cluster when
// the cell was empty, and the cluster centroid is recomputed.
func (e *Engine) Insert(ctx context.Context, loc Location) error {
	return e.count("insert", e.insert(ctx, loc))
}

func (e *Engine) insert(ctx context.Context, loc Location) error {
	if loc.ID == uuid.Nil || loc.Tenant == uuid.Nil {
		return errors.WrapInvalid(fmt.Errorf("location id and tenant are required"), "clustering", "Insert", "validate location")
	}
	if loc.Archived {
		return errors.WrapInvalid(fmt.Errorf("cannot cluster archived location %s", loc.ID), "clustering", "Insert", "validate location")
	}

	cells := cellsOf(loc.Point)
	keys := make([]string, 0, len(cells))
	for _, c := range cells {
		keys = append(keys, cellLockKey(loc.Tenant, c))
	}
	shared := []string{tenantLockKey(loc.Tenant)}
	if err := e.acquire(ctx, keys, shared); err != nil {
		return err
	}
	defer e.locks.release(keys, shared)

	for z, cell := range cells {
		cluster, ok, err := e.store.ClusterByCell(ctx, loc.Tenant, cell)
		if err != nil {
			return errors.Wrap(err, "clustering", "Insert", "find cluster")
		}
		if !ok {
			cluster = Cluster{
				ID:      uuid.New(),
				Tenant:  loc.Tenant,
				Zoom:    z,
				Cell:    cell,
				Polygon: TilePolygon(cell),
			}
		}
		loc.Path[z] = cluster.ID
		if err := e.store.PutCluster(ctx, cluster); err != nil {
			return errors.Wrap(err, "clustering", "Insert", "store cluster")
		}
	}
	if err := e.store.PutLocation(ctx, loc); err != nil {
		return errors.Wrap(err, "clustering", "Insert", "store location")
	}
	for z := range cells {
		if err := e.refreshCentroid(ctx, loc.Path[z], z); err != nil {
			return err
		}
	}
	e.log.Debug("location clustered", "location", loc.ID, "tenant", loc.Tenant)
	return nil
}

// Update moves a location to a new point. Levels where the cell is
// unchanged keep their cluster identity and polygon and only refresh
// the centroid; levels where the cell changed migrate the membership,
// reaping the old cluster if it emptied.
func (e *Engine) Update(ctx context.Context, loc Location) error {
	return e.count("update", e.update(ctx, loc))
}

func (e *Engine) update(ctx context.Context, loc Location) error {
	old, ok, err := e.store.GetLocation(ctx, loc.ID)
	if err != nil {
		return errors.Wrap(err, "clustering", "Update", "load location")
	}
	if !ok || old.Archived {
		return e.insert(ctx, loc)
	}
	if loc.Archived {
		return e.archive(ctx, loc.ID)
	}

	oldCells := cellsOf(old.Point)
	newCells := cellsOf(loc.Point)
	keySet := make(map[string]struct{}, 2*len(newCells))
	for z := range newCells {
		keySet[cellLockKey(loc.Tenant, oldCells[z])] = struct{}{}
		keySet[cellLockKey(loc.Tenant, newCells[z])] = struct{}{}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	shared := []string{tenantLockKey(loc.Tenant)}
	if err := e.acquire(ctx, keys, shared); err != nil {
		return err
	}
	defer e.locks.release(keys, shared)

	touched := make(map[int]uuid.UUID) // zoom -> departed cluster
	for z := range newCells {
		if oldCells[z] == newCells[z] {
			loc.Path[z] = old.Path[z]
			continue
		}
		touched[z] = old.Path[z]
		cluster, found, err := e.store.ClusterByCell(ctx, loc.Tenant, newCells[z])
		if err != nil {
			return errors.Wrap(err, "clustering", "Update", "find cluster")
		}
		if !found {
			cluster = Cluster{
				ID:      uuid.New(),
				Tenant:  loc.Tenant,
				Zoom:    z,
				Cell:    newCells[z],
				Polygon: TilePolygon(newCells[z]),
			}
			if err := e.store.PutCluster(ctx, cluster); err != nil {
				return errors.Wrap(err, "clustering", "Update", "store cluster")
			}
		}
		loc.Path[z] = cluster.ID
	}

	if err := e.store.PutLocation(ctx, loc); err != nil {
		return errors.Wrap(err, "clustering", "Update", "store location")
	}
	for z := 0; z <= ZMax; z++ {
		if err := e.refreshCentroid(ctx, loc.Path[z], z); err != nil {
			return err
		}
	}
	for z, departed := range touched {
		if err := e.reapOrRefresh(ctx, departed, z); err != nil {
			return err
		}
	}
	return nil
}

// Archive removes a location from the pyramid. Clusters left empty by
// the departure are deleted.
func (e *Engine) Archive(ctx context.Context, id uuid.UUID) error {
	return e.count("archive", e.archive(ctx, id))
}

func (e *Engine) archive(ctx context.Context, id uuid.UUID) error {
	loc, ok, err := e.store.GetLocation(ctx, id)
	if err != nil {
		return errors.Wrap(err, "clustering", "Archive", "load location")
	}
	if !ok || loc.Archived {
		return nil
	}

	cells := cellsOf(loc.Point)
	keys := make([]string, 0, len(cells))
	for _, c := range cells {
		keys = append(keys, cellLockKey(loc.Tenant, c))
	}
	shared := []string{tenantLockKey(loc.Tenant)}
	if err := e.acquire(ctx, keys, shared); err != nil {
		return err
	}
	defer e.locks.release(keys, shared)

	oldPath := loc.Path
	loc.Archived = true
	loc.Path = Path{}
	if err := e.store.PutLocation(ctx, loc); err != nil {
		return errors.Wrap(err, "clustering", "Archive", "store location")
	}
	for z := 0; z <= ZMax; z++ {
		if err := e.reapOrRefresh(ctx, oldPath[z], z); err != nil {
			return err
		}
	}
	e.log.Debug("location archived", "location", id, "tenant", loc.Tenant)
	return nil
}

// Recreate drops a tenant's entire pyramid and rebuilds it from the
// live locations. Used after bulk imports and by the repair CLI.
func (e *Engine) Recreate(ctx context.Context, tenant uuid.UUID) error {
	return e.count("recreate", e.recreate(ctx, tenant))
}

func (e *Engine) recreate(ctx context.Context, tenant uuid.UUID) error {
	// The exclusive tenant key conflicts with the shared hold every
	// mutation takes, so the rebuild sees a quiescent pyramid.
	keys := []string{tenantLockKey(tenant)}
	if err := e.acquire(ctx, keys, nil); err != nil {
		return err
	}
	defer e.locks.release(keys, nil)

	live, err := e.store.LiveLocations(ctx, tenant)
	if err != nil {
		return errors.Wrap(err, "clustering", "Recreate", "list locations")
	}
	if err := e.store.DeleteTenantClusters(ctx, tenant); err != nil {
		return errors.Wrap(err, "clustering", "Recreate", "drop clusters")
	}

	byCell := make(map[cellKey]*Cluster)
	for i := range live {
		loc := &live[i]
		for z, cell := range cellsOf(loc.Point) {
			k := keyOf(tenant, cell)
			cluster, ok := byCell[k]
			if !ok {
				cluster = &Cluster{
					ID:      uuid.New(),
					Tenant:  tenant,
					Zoom:    z,
					Cell:    cell,
					Polygon: TilePolygon(cell),
				}
				byCell[k] = cluster
			}
			loc.Path[z] = cluster.ID
		}
		if err := e.store.PutLocation(ctx, *loc); err != nil {
			return errors.Wrap(err, "clustering", "Recreate", "store location")
		}
	}
	for _, cluster := range byCell {
		if err := e.store.PutCluster(ctx, *cluster); err != nil {
			return errors.Wrap(err, "clustering", "Recreate", "store cluster")
		}
		if err := e.refreshCentroid(ctx, cluster.ID, cluster.Zoom); err != nil {
			return err
		}
	}
	e.log.Info("pyramid recreated", "tenant", tenant, "locations", len(live), "clusters", len(byCell))
	return nil
}

// UpdateCentroids recomputes every cluster centroid of a tenant from
// the current member points.
func (e *Engine) UpdateCentroids(ctx context.Context, tenant uuid.UUID) error {
	clusters, err := e.store.ClustersByTenant(ctx, tenant, -1)
	if err != nil {
		return errors.Wrap(err, "clustering", "UpdateCentroids", "list clusters")
	}
	for _, c := range clusters {
		if err := e.refreshCentroid(ctx, c.ID, c.Zoom); err != nil {
			return err
		}
	}
	return nil
}

// refreshCentroid recomputes and stores the centroid of one cluster.
func (e *Engine) refreshCentroid(ctx context.Context, id uuid.UUID, zoom int) error {
	if id == uuid.Nil {
		return nil
	}
	cluster, ok, err := e.store.GetCluster(ctx, id)
	if err != nil || !ok {
		return errors.Wrap(err, "clustering", "refreshCentroid", "load cluster")
	}
	members, err := e.store.Members(ctx, id, zoom)
	if err != nil {
		return errors.Wrap(err, "clustering", "refreshCentroid", "list members")
	}
	points := make([]orb.Point, 0, len(members))
	for _, m := range members {
		points = append(points, m.Point)
	}
	cluster.Centroid = Centroid(points)
	if err := e.store.PutCluster(ctx, cluster); err != nil {
		return errors.Wrap(err, "clustering", "refreshCentroid", "store cluster")
	}
	return nil
}

// reapOrRefresh deletes the cluster when its last member left,
// otherwise refreshes its centroid.
func (e *Engine) reapOrRefresh(ctx context.Context, id uuid.UUID, zoom int) error {
	if id == uuid.Nil {
		return nil
	}
	members, err := e.store.Members(ctx, id, zoom)
	if err != nil {
		return errors.Wrap(err, "clustering", "reapOrRefresh", "list members")
	}
	if len(members) == 0 {
		if err := e.store.DeleteCluster(ctx, id); err != nil {
			return errors.Wrap(err, "clustering", "reapOrRefresh", "delete cluster")
		}
		return nil
	}
	return e.refreshCentroid(ctx, id, zoom)
}

func cellsOf(p orb.Point) [ZMax + 1]maptile.Tile {
	var cells [ZMax + 1]maptile.Tile
	for z := 0; z <= ZMax; z++ {
		cells[z] = TileAt(p, maptile.Zoom(z))
	}
	return cells
}
