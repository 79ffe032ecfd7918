package clustering

import (
	"context"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// Store persists the cluster pyramid and the locations it covers.
// Implementations must make PutCluster an upsert keyed by id and keep
// the (tenant, cell) index unique.
type Store interface {
	GetCluster(ctx context.Context, id uuid.UUID) (Cluster, bool, error)
	ClusterByCell(ctx context.Context, tenant uuid.UUID, cell maptile.Tile) (Cluster, bool, error)
	PutCluster(ctx context.Context, c Cluster) error
	DeleteCluster(ctx context.Context, id uuid.UUID) error

	// ClustersByTenant lists a tenant's clusters at one zoom, or at
	// every zoom when zoom is negative.
	ClustersByTenant(ctx context.Context, tenant uuid.UUID, zoom int) ([]Cluster, error)
	ClustersInBound(ctx context.Context, tenant uuid.UUID, zoom int, b orb.Bound) ([]Cluster, error)
	DeleteTenantClusters(ctx context.Context, tenant uuid.UUID) error

	GetLocation(ctx context.Context, id uuid.UUID) (Location, bool, error)
	PutLocation(ctx context.Context, loc Location) error
	LiveLocations(ctx context.Context, tenant uuid.UUID) ([]Location, error)

	// Members returns the live locations whose clustering path points
	// at the cluster at the given zoom.
	Members(ctx context.Context, clusterID uuid.UUID, zoom int) ([]Location, error)
	LocationsInBound(ctx context.Context, tenant uuid.UUID, b orb.Bound) ([]Location, error)
}
