package clustering

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/maptile"

	"github.com/fieldsafe/riskreactor/errors"
)

// Postgres persists the pyramid in PostGIS.
//
// Expected schema:
//
//	CREATE TABLE locations_clustering (
//	    id        uuid PRIMARY KEY,
//	    tenant_id uuid NOT NULL,
//	    zoom      int  NOT NULL,
//	    cell_x    bigint NOT NULL,
//	    cell_y    bigint NOT NULL,
//	    geom      geometry(Polygon, 4326) NOT NULL,
//	    centroid  geometry(Point, 4326)   NOT NULL,
//	    UNIQUE (tenant_id, zoom, cell_x, cell_y)
//	);
//	CREATE INDEX locations_clustering_geom_idx
//	    ON locations_clustering USING GIST (geom);
//
//	CREATE TABLE project_locations (
//	    id          uuid PRIMARY KEY,
//	    tenant_id   uuid NOT NULL,
//	    name        text NOT NULL DEFAULT '',
//	    status      text NOT NULL DEFAULT 'active',
//	    geom        geometry(Point, 4326) NOT NULL,
//	    archived_at timestamptz,
//	    clustering  uuid[] NOT NULL DEFAULT '{}'
//	);
//	CREATE INDEX project_locations_geom_idx
//	    ON project_locations USING GIST (geom);
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const clusterColumns = `id, tenant_id, zoom, cell_x, cell_y, ST_AsBinary(geom), ST_AsBinary(centroid)`

func (s *Postgres) GetCluster(ctx context.Context, id uuid.UUID) (Cluster, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+clusterColumns+` FROM locations_clustering WHERE id = $1`, id)
	return scanCluster(row)
}

func (s *Postgres) ClusterByCell(ctx context.Context, tenant uuid.UUID, cell maptile.Tile) (Cluster, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+clusterColumns+` FROM locations_clustering
		 WHERE tenant_id = $1 AND zoom = $2 AND cell_x = $3 AND cell_y = $4`,
		tenant, int(cell.Z), int64(cell.X), int64(cell.Y))
	return scanCluster(row)
}

func (s *Postgres) PutCluster(ctx context.Context, c Cluster) error {
	geom, err := wkb.Marshal(c.Polygon)
	if err != nil {
		return errors.WrapInvalid(err, "clustering", "PutCluster", "encode polygon")
	}
	centroid, err := wkb.Marshal(c.Centroid)
	if err != nil {
		return errors.WrapInvalid(err, "clustering", "PutCluster", "encode centroid")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO locations_clustering (id, tenant_id, zoom, cell_x, cell_y, geom, centroid)
		 VALUES ($1, $2, $3, $4, $5, ST_GeomFromWKB($6, 4326), ST_GeomFromWKB($7, 4326))
		 ON CONFLICT (id) DO UPDATE SET
		     zoom = EXCLUDED.zoom, cell_x = EXCLUDED.cell_x, cell_y = EXCLUDED.cell_y,
		     geom = EXCLUDED.geom, centroid = EXCLUDED.centroid`,
		c.ID, c.Tenant, c.Zoom, int64(c.Cell.X), int64(c.Cell.Y), geom, centroid)
	return errors.Wrap(err, "clustering", "PutCluster", "upsert cluster")
}

func (s *Postgres) DeleteCluster(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM locations_clustering WHERE id = $1`, id)
	return errors.Wrap(err, "clustering", "DeleteCluster", "delete cluster")
}

func (s *Postgres) ClustersByTenant(ctx context.Context, tenant uuid.UUID, zoom int) ([]Cluster, error) {
	query := `SELECT ` + clusterColumns + ` FROM locations_clustering WHERE tenant_id = $1`
	args := []any{tenant}
	if zoom >= 0 {
		query += ` AND zoom = $2`
		args = append(args, zoom)
	}
	query += ` ORDER BY zoom, id`
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "clustering", "ClustersByTenant", "query clusters")
	}
	return collectClusters(rows)
}

func (s *Postgres) ClustersInBound(ctx context.Context, tenant uuid.UUID, zoom int, b orb.Bound) ([]Cluster, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+clusterColumns+` FROM locations_clustering
		 WHERE tenant_id = $1 AND zoom = $2
		   AND geom && ST_MakeEnvelope($3, $4, $5, $6, 4326)
		 ORDER BY id`,
		tenant, zoom, b.Min[0], b.Min[1], b.Max[0], b.Max[1])
	if err != nil {
		return nil, errors.Wrap(err, "clustering", "ClustersInBound", "query clusters")
	}
	return collectClusters(rows)
}

func (s *Postgres) DeleteTenantClusters(ctx context.Context, tenant uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM locations_clustering WHERE tenant_id = $1`, tenant)
	return errors.Wrap(err, "clustering", "DeleteTenantClusters", "delete clusters")
}

const locationColumns = `id, tenant_id, name, status, ST_AsBinary(geom), archived_at IS NOT NULL, clustering`

func (s *Postgres) GetLocation(ctx context.Context, id uuid.UUID) (Location, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+locationColumns+` FROM project_locations WHERE id = $1`, id)
	return scanLocation(row)
}

func (s *Postgres) PutLocation(ctx context.Context, loc Location) error {
	geom, err := wkb.Marshal(loc.Point)
	if err != nil {
		return errors.WrapInvalid(err, "clustering", "PutLocation", "encode point")
	}
	path := make([]uuid.UUID, len(loc.Path))
	copy(path, loc.Path[:])
	_, err = s.pool.Exec(ctx,
		`INSERT INTO project_locations (id, tenant_id, name, status, geom, archived_at, clustering)
		 VALUES ($1, $2, $3, $4, ST_GeomFromWKB($5, 4326),
		         CASE WHEN $6 THEN now() ELSE NULL END, $7)
		 ON CONFLICT (id) DO UPDATE SET
		     name = EXCLUDED.name, status = EXCLUDED.status, geom = EXCLUDED.geom,
		     archived_at = CASE WHEN $6 THEN COALESCE(project_locations.archived_at, now()) ELSE NULL END,
		     clustering = EXCLUDED.clustering`,
		loc.ID, loc.Tenant, loc.Name, loc.Status, geom, loc.Archived, path)
	return errors.Wrap(err, "clustering", "PutLocation", "upsert location")
}

func (s *Postgres) LiveLocations(ctx context.Context, tenant uuid.UUID) ([]Location, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+locationColumns+` FROM project_locations
		 WHERE tenant_id = $1 AND archived_at IS NULL ORDER BY id`, tenant)
	if err != nil {
		return nil, errors.Wrap(err, "clustering", "LiveLocations", "query locations")
	}
	return collectLocations(rows)
}

func (s *Postgres) Members(ctx context.Context, clusterID uuid.UUID, zoom int) ([]Location, error) {
	if zoom < 0 || zoom > ZMax {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+locationColumns+` FROM project_locations
		 WHERE archived_at IS NULL AND clustering[$1] = $2 ORDER BY id`,
		zoom+1, clusterID) // postgres arrays are 1-based
	if err != nil {
		return nil, errors.Wrap(err, "clustering", "Members", "query members")
	}
	return collectLocations(rows)
}

func (s *Postgres) LocationsInBound(ctx context.Context, tenant uuid.UUID, b orb.Bound) ([]Location, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+locationColumns+` FROM project_locations
		 WHERE tenant_id = $1 AND archived_at IS NULL
		   AND geom && ST_MakeEnvelope($2, $3, $4, $5, 4326)
		 ORDER BY id`,
		tenant, b.Min[0], b.Min[1], b.Max[0], b.Max[1])
	if err != nil {
		return nil, errors.Wrap(err, "clustering", "LocationsInBound", "query locations")
	}
	return collectLocations(rows)
}

func scanCluster(row pgx.Row) (Cluster, bool, error) {
	var (
		c             Cluster
		zoom          int
		cellX, cellY  int64
		geomB, centrB []byte
	)
	err := row.Scan(&c.ID, &c.Tenant, &zoom, &cellX, &cellY, &geomB, &centrB)
	if err == pgx.ErrNoRows {
		return Cluster{}, false, nil
	}
	if err != nil {
		return Cluster{}, false, errors.Wrap(err, "clustering", "scanCluster", "scan row")
	}
	c.Zoom = zoom
	c.Cell = maptile.New(uint32(cellX), uint32(cellY), maptile.Zoom(zoom))
	if c.Polygon, err = decodePolygon(geomB); err != nil {
		return Cluster{}, false, err
	}
	if c.Centroid, err = decodePoint(centrB); err != nil {
		return Cluster{}, false, err
	}
	return c, true, nil
}

func collectClusters(rows pgx.Rows) ([]Cluster, error) {
	defer rows.Close()
	var out []Cluster
	for rows.Next() {
		c, _, err := scanCluster(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "clustering", "collectClusters", "iterate rows")
}

func scanLocation(row pgx.Row) (Location, bool, error) {
	var (
		loc   Location
		geomB []byte
		path  []uuid.UUID
	)
	err := row.Scan(&loc.ID, &loc.Tenant, &loc.Name, &loc.Status, &geomB, &loc.Archived, &path)
	if err == pgx.ErrNoRows {
		return Location{}, false, nil
	}
	if err != nil {
		return Location{}, false, errors.Wrap(err, "clustering", "scanLocation", "scan row")
	}
	if loc.Point, err = decodePoint(geomB); err != nil {
		return Location{}, false, err
	}
	for i := 0; i < len(path) && i <= ZMax; i++ {
		loc.Path[i] = path[i]
	}
	return loc, true, nil
}

func collectLocations(rows pgx.Rows) ([]Location, error) {
	defer rows.Close()
	var out []Location
	for rows.Next() {
		loc, _, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, errors.Wrap(rows.Err(), "clustering", "collectLocations", "iterate rows")
}

func decodePoint(data []byte) (orb.Point, error) {
	geom, err := wkb.Unmarshal(data)
	if err != nil {
		return orb.Point{}, errors.WrapInvalid(err, "clustering", "decodePoint", "decode wkb")
	}
	p, ok := geom.(orb.Point)
	if !ok {
		return orb.Point{}, errors.WrapInvalid(fmt.Errorf("expected point, got %T", geom), "clustering", "decodePoint", "decode wkb")
	}
	return p, nil
}

func decodePolygon(data []byte) (orb.Polygon, error) {
	geom, err := wkb.Unmarshal(data)
	if err != nil {
		return nil, errors.WrapInvalid(err, "clustering", "decodePolygon", "decode wkb")
	}
	poly, ok := geom.(orb.Polygon)
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("expected polygon, got %T", geom), "clustering", "decodePolygon", "decode wkb")
	}
	return poly, nil
}

var _ Store = (*Postgres)(nil)
