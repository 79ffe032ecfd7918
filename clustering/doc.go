// Package clustering maintains the per-tenant cluster pyramid: at each
// zoom level 0..ZMax the world is a Web-Mercator tile grid, and a
// cluster is the non-empty set of live locations whose points share a
// tile. Every location carries its clustering path, the ordered tuple
// of cluster ids it belongs to per zoom, so map-tile queries filter
// with a single index lookup. The engine keeps pyramid, centroids, and
// clustering paths consistent across location inserts, moves, and
// archival, and reaps clusters the moment they empty.
package clustering
