package clustering

import (
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/project"
)

// Path is a location's clustering path: the cluster it belongs to at
// every zoom level of the pyramid, indexed by zoom. A live location
// always has a non-nil id at every index; an archived location's path
// is all zeros.
type Path [ZMax + 1]uuid.UUID

// Zero reports whether the path carries no memberships.
func (p Path) Zero() bool {
	for _, id := range p {
		if id != uuid.Nil {
			return false
		}
	}
	return true
}

// Location is the clustering engine's view of a project location: a
// point plus the attributes the tile server renders.
type Location struct {
	ID       uuid.UUID
	Tenant   uuid.UUID
	Name     string
	Status   string
	Point    orb.Point // WGS84 lon/lat
	Archived bool
	Path     Path
}

// Cluster is one occupied cell of the pyramid. Its polygon is the
// cell's tile footprint and its centroid is the Web-Mercator mean of
// the member points, stored back in WGS84.
type Cluster struct {
	ID       uuid.UUID
	Tenant   uuid.UUID
	Zoom     int
	Cell     maptile.Tile
	Polygon  orb.Polygon
	Centroid orb.Point
}

// Centroid averages the points in Web-Mercator space and returns the
// mean reprojected to WGS84. An empty slice yields the zero point;
// callers reap empty clusters before this matters.
func Centroid(points []orb.Point) orb.Point {
	if len(points) == 0 {
		return orb.Point{}
	}
	var sx, sy float64
	for _, p := range points {
		m := project.WGS84.ToMercator(p)
		sx += m[0]
		sy += m[1]
	}
	n := float64(len(points))
	return project.Mercator.ToWGS84(orb.Point{sx / n, sy / n})
}
