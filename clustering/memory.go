package clustering

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

type cellKey struct {
	tenant  uuid.UUID
	z, x, y uint32
}

func keyOf(tenant uuid.UUID, cell maptile.Tile) cellKey {
	return cellKey{tenant: tenant, z: uint32(cell.Z), x: cell.X, y: cell.Y}
}

// Memory is an in-process Store used by tests and single-node
// deployments without PostGIS.
type Memory struct {
	mu        sync.RWMutex
	clusters  map[uuid.UUID]Cluster
	byCell    map[cellKey]uuid.UUID
	locations map[uuid.UUID]Location
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		clusters:  make(map[uuid.UUID]Cluster),
		byCell:    make(map[cellKey]uuid.UUID),
		locations: make(map[uuid.UUID]Location),
	}
}

func (m *Memory) GetCluster(_ context.Context, id uuid.UUID) (Cluster, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clusters[id]
	return c, ok, nil
}

func (m *Memory) ClusterByCell(_ context.Context, tenant uuid.UUID, cell maptile.Tile) (Cluster, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byCell[keyOf(tenant, cell)]
	if !ok {
		return Cluster{}, false, nil
	}
	return m.clusters[id], true, nil
}

func (m *Memory) PutCluster(_ context.Context, c Cluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.clusters[c.ID]; ok {
		delete(m.byCell, keyOf(old.Tenant, old.Cell))
	}
	m.clusters[c.ID] = c
	m.byCell[keyOf(c.Tenant, c.Cell)] = c.ID
	return nil
}

func (m *Memory) DeleteCluster(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clusters[id]; ok {
		delete(m.byCell, keyOf(c.Tenant, c.Cell))
		delete(m.clusters, id)
	}
	return nil
}

func (m *Memory) ClustersByTenant(_ context.Context, tenant uuid.UUID, zoom int) ([]Cluster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Cluster
	for _, c := range m.clusters {
		if c.Tenant != tenant {
			continue
		}
		if zoom >= 0 && c.Zoom != zoom {
			continue
		}
		out = append(out, c)
	}
	sortClusters(out)
	return out, nil
}

func (m *Memory) ClustersInBound(_ context.Context, tenant uuid.UUID, zoom int, b orb.Bound) ([]Cluster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Cluster
	for _, c := range m.clusters {
		if c.Tenant != tenant || c.Zoom != zoom {
			continue
		}
		if b.Intersects(c.Polygon.Bound()) {
			out = append(out, c)
		}
	}
	sortClusters(out)
	return out, nil
}

func (m *Memory) DeleteTenantClusters(_ context.Context, tenant uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.clusters {
		if c.Tenant == tenant {
			delete(m.byCell, keyOf(c.Tenant, c.Cell))
			delete(m.clusters, id)
		}
	}
	return nil
}

func (m *Memory) GetLocation(_ context.Context, id uuid.UUID) (Location, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loc, ok := m.locations[id]
	return loc, ok, nil
}

func (m *Memory) PutLocation(_ context.Context, loc Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[loc.ID] = loc
	return nil
}

func (m *Memory) LiveLocations(_ context.Context, tenant uuid.UUID) ([]Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Location
	for _, loc := range m.locations {
		if loc.Tenant == tenant && !loc.Archived {
			out = append(out, loc)
		}
	}
	sortLocations(out)
	return out, nil
}

func (m *Memory) Members(_ context.Context, clusterID uuid.UUID, zoom int) ([]Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if zoom < 0 || zoom > ZMax {
		return nil, nil
	}
	var out []Location
	for _, loc := range m.locations {
		if !loc.Archived && loc.Path[zoom] == clusterID {
			out = append(out, loc)
		}
	}
	sortLocations(out)
	return out, nil
}

func (m *Memory) LocationsInBound(_ context.Context, tenant uuid.UUID, b orb.Bound) ([]Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Location
	for _, loc := range m.locations {
		if loc.Tenant == tenant && !loc.Archived && b.Contains(loc.Point) {
			out = append(out, loc)
		}
	}
	sortLocations(out)
	return out, nil
}

func sortClusters(cs []Cluster) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Zoom != cs[j].Zoom {
			return cs[i].Zoom < cs[j].Zoom
		}
		return cs[i].ID.String() < cs[j].ID.String()
	})
}

func sortLocations(ls []Location) {
	sort.Slice(ls, func(i, j int) bool {
		return ls[i].ID.String() < ls[j].ID.String()
	})
}

var _ Store = (*Memory)(nil)
