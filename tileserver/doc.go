// Package tileserver renders the map surface as Mapbox vector tiles.
// Shallow zooms serve the cluster pyramid; at the deepest cluster zoom
// and below, or whenever a filter is applied, individual locations are
// rendered with their latest total risk score bucketed for coloring.
package tileserver
