package tileserver

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsafe/riskreactor/clustering"
	"github.com/fieldsafe/riskreactor/configstore"
	"github.com/fieldsafe/riskreactor/metricstore"
	"github.com/fieldsafe/riskreactor/riskmodel"
)

type fixture struct {
	tenant  uuid.UUID
	server  *Server
	engine  *clustering.Engine
	metrics *metricstore.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := clustering.NewMemory()
	metrics := metricstore.NewMemory()
	configs := configstore.NewLoader(configstore.NewMemory())
	return &fixture{
		tenant:  uuid.New(),
		server:  NewServer(store, metrics, configs, nil),
		engine:  clustering.NewEngine(store, nil),
		metrics: metrics,
	}
}

func (f *fixture) addLocation(t *testing.T, name, status string, lon, lat float64) uuid.UUID {
	t.Helper()
	loc := clustering.Location{
		ID:     uuid.New(),
		Tenant: f.tenant,
		Name:   name,
		Status: status,
		Point:  orb.Point{lon, lat},
	}
	require.NoError(t, f.engine.Insert(context.Background(), loc))
	return loc.ID
}

func (f *fixture) setRisk(t *testing.T, location uuid.UUID, score float64) {
	t.Helper()
	point := riskmodel.NewPoint(
		riskmodel.LocationTotalTaskRiskScore,
		riskmodel.DatedKey(f.tenant, location, riskmodel.Today()),
		score,
	)
	require.NoError(t, f.metrics.Store(context.Background(), point))
}

func (f *fixture) fetch(t *testing.T, path string) mvt.Layers {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	rec := httptest.NewRecorder()
	f.server.Routes().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code, rec.Body.String())
	assert.Equal(t, contentTypeMVT, rec.Header().Get("Content-Type"))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	layers, err := mvt.UnmarshalGzipped(body)
	require.NoError(t, err)
	return layers
}

func layerByName(layers mvt.Layers, name string) *mvt.Layer {
	for _, l := range layers {
		if l.Name == name {
			return l
		}
	}
	return nil
}

func tilePath(tenant uuid.UUID, p orb.Point, z maptile.Zoom, query string) string {
	tile := clustering.TileAt(p, z)
	path := fmt.Sprintf("/tiles/%s/%d/%d/%d.mvt", tenant, tile.Z, tile.X, tile.Y)
	if query != "" {
		path += "?" + query
	}
	return path
}

func TestShallowZoomServesClusters(t *testing.T) {
	f := newFixture(t)
	f.addLocation(t, "north yard", "active", 10.000, 50.000)
	f.addLocation(t, "south yard", "active", 10.001, 50.000)

	layers := f.fetch(t, tilePath(f.tenant, orb.Point{10, 50}, 5, ""))
	clustersLayer := layerByName(layers, "clusters")
	require.NotNil(t, clustersLayer)
	require.Len(t, clustersLayer.Features, 1)
	assert.EqualValues(t, 2, clustersLayer.Features[0].Properties["count"])
	assert.Nil(t, layerByName(layers, "locations"))
}

func TestClusterCarriesWorstMemberRisk(t *testing.T) {
	f := newFixture(t)
	low := f.addLocation(t, "north yard", "active", 10.000, 50.000)
	high := f.addLocation(t, "south yard", "active", 10.001, 50.000)
	f.setRisk(t, low, 40)
	f.setRisk(t, high, 250) // above the default medium threshold of 210

	layers := f.fetch(t, tilePath(f.tenant, orb.Point{10, 50}, 10, ""))
	clustersLayer := layerByName(layers, "clusters")
	require.NotNil(t, clustersLayer)
	require.Len(t, clustersLayer.Features, 1)
	assert.Equal(t, "high", clustersLayer.Features[0].Properties["risk"])
}

func TestUnscoredClusterIsUnknown(t *testing.T) {
	f := newFixture(t)
	f.addLocation(t, "north yard", "active", 10.000, 50.000)

	layers := f.fetch(t, tilePath(f.tenant, orb.Point{10, 50}, 5, ""))
	clustersLayer := layerByName(layers, "clusters")
	require.NotNil(t, clustersLayer)
	require.Len(t, clustersLayer.Features, 1)
	assert.Equal(t, riskUnknown, clustersLayer.Features[0].Properties["risk"])
}

func TestDeepZoomServesLocationsWithRisk(t *testing.T) {
	f := newFixture(t)
	low := f.addLocation(t, "depot", "active", 10.000, 50.000)
	high := f.addLocation(t, "tower", "active", 10.001, 50.000)
	f.setRisk(t, low, 40)   // below the default low threshold of 85
	f.setRisk(t, high, 300) // above the default medium threshold of 210

	layers := f.fetch(t, tilePath(f.tenant, orb.Point{10, 50}, clustering.ZMax, ""))
	locs := layerByName(layers, "locations")
	require.NotNil(t, locs)
	require.Len(t, locs.Features, 2)

	byID := map[string]string{}
	for _, feat := range locs.Features {
		byID[feat.Properties["id"].(string)] = feat.Properties["risk"].(string)
	}
	assert.Equal(t, "low", byID[low.String()])
	assert.Equal(t, "high", byID[high.String()])
}

func TestUnscoredLocationIsUnknown(t *testing.T) {
	f := newFixture(t)
	f.addLocation(t, "depot", "active", 10.000, 50.000)

	layers := f.fetch(t, tilePath(f.tenant, orb.Point{10, 50}, clustering.ZMax, ""))
	locs := layerByName(layers, "locations")
	require.NotNil(t, locs)
	require.Len(t, locs.Features, 1)
	assert.Equal(t, riskUnknown, locs.Features[0].Properties["risk"])
}

func TestFilterBreaksClustering(t *testing.T) {
	f := newFixture(t)
	f.addLocation(t, "harbor depot", "active", 10.000, 50.000)
	f.addLocation(t, "rail depot", "archived-pending", 10.001, 50.000)

	layers := f.fetch(t, tilePath(f.tenant, orb.Point{10, 50}, 5, "search=harbor"))
	locs := layerByName(layers, "locations")
	require.NotNil(t, locs)
	require.Len(t, locs.Features, 1)
	assert.Equal(t, "harbor depot", locs.Features[0].Properties["name"])
	assert.Nil(t, layerByName(layers, "clusters"))
}

func TestRiskFilterDropsOtherBuckets(t *testing.T) {
	f := newFixture(t)
	low := f.addLocation(t, "depot", "active", 10.000, 50.000)
	high := f.addLocation(t, "tower", "active", 10.001, 50.000)
	f.setRisk(t, low, 40)
	f.setRisk(t, high, 300)

	layers := f.fetch(t, tilePath(f.tenant, orb.Point{10, 50}, clustering.ZMax, "risk=high"))
	locs := layerByName(layers, "locations")
	require.NotNil(t, locs)
	require.Len(t, locs.Features, 1)
	assert.Equal(t, high.String(), locs.Features[0].Properties["id"])
}

func TestRejectsMalformedCoordinates(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{
		"/tiles/not-a-uuid/5/1/1.mvt",
		"/tiles/" + f.tenant.String() + "/-1/0/0.mvt",
		"/tiles/" + f.tenant.String() + "/3/99/0.mvt", // x out of range for zoom 3
		"/tiles/" + f.tenant.String() + "/3/0/abc.mvt",
	} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		f.server.Routes().ServeHTTP(rec, req)
		assert.Equal(t, 400, rec.Code, path)
	}
}

func TestParseFilterIDs(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	q := url.Values{}
	q.Set("ids", a.String()+","+b.String()+",garbage")
	f := ParseFilter(q)
	assert.Equal(t, []uuid.UUID{a, b}, f.IDs)
	assert.False(t, f.Empty())
	assert.True(t, ParseFilter(url.Values{}).Empty())
}
