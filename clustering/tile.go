package clustering

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// ZMax is the deepest zoom level of the cluster pyramid. Below ZMax
// individual locations are rendered directly and clustering stops.
const ZMax = 12

// TileAt assigns a WGS84 point to its Web-Mercator tile at the given
// zoom. Assignment is half-open: a point exactly on a tile's east or
// south edge belongs to the neighbouring tile, so every point maps to
// exactly one cell. Longitude wraps at the antimeridian and latitude
// is clamped at the projection's poles.
func TileAt(p orb.Point, z maptile.Zoom) maptile.Tile {
	n := float64(uint32(1) << z)

	xf := math.Floor((p[0] + 180.0) / 360.0 * n)
	xf = math.Mod(xf, n)
	if xf < 0 {
		xf += n
	}

	latRad := p[1] * math.Pi / 180.0
	yf := math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n)
	if yf < 0 {
		yf = 0
	}
	if yf > n-1 {
		yf = n - 1
	}

	return maptile.New(uint32(xf), uint32(yf), z)
}

// TilePolygon is the tile's footprint in WGS84, closed ring, suitable
// for persisting as the cluster geometry.
func TilePolygon(t maptile.Tile) orb.Polygon {
	return t.Bound().ToPolygon()
}
