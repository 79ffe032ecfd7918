package clustering

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/paulmach/orb/project"

	"github.com/fieldsafe/riskreactor/errors"
)

// centroidTolerance is the acceptable Web-Mercator drift, in metres,
// between a stored centroid and the recomputed member mean.
const centroidTolerance = 1e-6

// Violation is one consistency finding from a pyramid check.
type Violation struct {
	Kind     string    `json:"kind"`
	Zoom     int       `json:"zoom"`
	Cluster  uuid.UUID `json:"cluster,omitempty"`
	Location uuid.UUID `json:"location,omitempty"`
	Detail   string    `json:"detail"`
}

const (
	ViolationMissingCluster = "missing_cluster"
	ViolationWrongCell      = "wrong_cell"
	ViolationEmptyCluster   = "empty_cluster"
	ViolationStaleCentroid  = "stale_centroid"
	ViolationBrokenPath     = "broken_path"
)

// Report summarizes a consistency check over one tenant's pyramid.
type Report struct {
	Tenant     uuid.UUID   `json:"tenant"`
	Locations  int         `json:"locations"`
	Clusters   int         `json:"clusters"`
	Violations []Violation `json:"violations,omitempty"`
}

// Clean reports whether the check found no violations.
func (r Report) Clean() bool { return len(r.Violations) == 0 }

// CheckClusters verifies the pyramid invariants for one tenant: every
// live location holds a complete path pointing at existing clusters in
// the cells its point maps to, every cluster has at least one member,
// and every centroid matches the member mean.
func (e *Engine) CheckClusters(ctx context.Context, tenant uuid.UUID) (Report, error) {
	report := Report{Tenant: tenant}

	live, err := e.store.LiveLocations(ctx, tenant)
	if err != nil {
		return report, errors.Wrap(err, "clustering", "CheckClusters", "list locations")
	}
	report.Locations = len(live)

	for _, loc := range live {
		cells := cellsOf(loc.Point)
		for z := 0; z <= ZMax; z++ {
			if loc.Path[z] == uuid.Nil {
				report.Violations = append(report.Violations, Violation{
					Kind: ViolationBrokenPath, Zoom: z, Location: loc.ID,
					Detail: "live location has no cluster at this zoom",
				})
				continue
			}
			cluster, ok, err := e.store.GetCluster(ctx, loc.Path[z])
			if err != nil {
				return report, errors.Wrap(err, "clustering", "CheckClusters", "load cluster")
			}
			if !ok {
				report.Violations = append(report.Violations, Violation{
					Kind: ViolationMissingCluster, Zoom: z, Cluster: loc.Path[z], Location: loc.ID,
					Detail: "path references a cluster that does not exist",
				})
				continue
			}
			if cluster.Cell != cells[z] {
				report.Violations = append(report.Violations, Violation{
					Kind: ViolationWrongCell, Zoom: z, Cluster: cluster.ID, Location: loc.ID,
					Detail: fmt.Sprintf("point maps to cell %d/%d but cluster covers %d/%d",
						cells[z].X, cells[z].Y, cluster.Cell.X, cluster.Cell.Y),
				})
			}
		}
	}

	clusters, err := e.store.ClustersByTenant(ctx, tenant, -1)
	if err != nil {
		return report, errors.Wrap(err, "clustering", "CheckClusters", "list clusters")
	}
	report.Clusters = len(clusters)

	for _, cluster := range clusters {
		members, err := e.store.Members(ctx, cluster.ID, cluster.Zoom)
		if err != nil {
			return report, errors.Wrap(err, "clustering", "CheckClusters", "list members")
		}
		if len(members) == 0 {
			report.Violations = append(report.Violations, Violation{
				Kind: ViolationEmptyCluster, Zoom: cluster.Zoom, Cluster: cluster.ID,
				Detail: "cluster has no live members",
			})
			continue
		}
		want := memberMean(members)
		got := project.WGS84.ToMercator(cluster.Centroid)
		if math.Abs(want[0]-got[0]) > centroidTolerance || math.Abs(want[1]-got[1]) > centroidTolerance {
			report.Violations = append(report.Violations, Violation{
				Kind: ViolationStaleCentroid, Zoom: cluster.Zoom, Cluster: cluster.ID,
				Detail: fmt.Sprintf("stored centroid drifts %.9f/%.9f from member mean",
					want[0]-got[0], want[1]-got[1]),
			})
		}
	}
	return report, nil
}

// CheckEmpty scans for empty clusters only, a cheaper probe suited to
// periodic health checks. The scan covers zoom levels 0 through
// upToZoom inclusive; a negative or out-of-range bound means the whole
// pyramid.
func (e *Engine) CheckEmpty(ctx context.Context, tenant uuid.UUID, upToZoom int) (Report, error) {
	if upToZoom < 0 || upToZoom > ZMax {
		upToZoom = ZMax
	}
	report := Report{Tenant: tenant}
	clusters, err := e.store.ClustersByTenant(ctx, tenant, -1)
	if err != nil {
		return report, errors.Wrap(err, "clustering", "CheckEmpty", "list clusters")
	}
	for _, cluster := range clusters {
		if cluster.Zoom > upToZoom {
			continue
		}
		report.Clusters++
		members, err := e.store.Members(ctx, cluster.ID, cluster.Zoom)
		if err != nil {
			return report, errors.Wrap(err, "clustering", "CheckEmpty", "list members")
		}
		if len(members) == 0 {
			report.Violations = append(report.Violations, Violation{
				Kind: ViolationEmptyCluster, Zoom: cluster.Zoom, Cluster: cluster.ID,
				Detail: "cluster has no live members",
			})
		}
	}
	return report, nil
}

func memberMean(members []Location) [2]float64 {
	var sx, sy float64
	for _, m := range members {
		p := project.WGS84.ToMercator(m.Point)
		sx += p[0]
		sy += p[1]
	}
	n := float64(len(members))
	return [2]float64{sx / n, sy / n}
}
