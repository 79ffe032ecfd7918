package tileserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"

	"github.com/fieldsafe/riskreactor/clustering"
	"github.com/fieldsafe/riskreactor/configstore"
	"github.com/fieldsafe/riskreactor/metricstore"
	"github.com/fieldsafe/riskreactor/riskmodel"
	"github.com/fieldsafe/riskreactor/telemetry"
)

const (
	// maxZoom caps the accepted tile depth; deeper requests are client
	// errors, not clamped.
	maxZoom = 22

	contentTypeMVT = "application/vnd.mapbox-vector-tile"

	riskUnknown = "unknown"
)

// Server renders vector tiles from the clustering store and the metric
// store.
type Server struct {
	clusters clustering.Store
	metrics  metricstore.Store
	configs  *configstore.Loader
	log      *slog.Logger
	tele     *telemetry.Metrics
}

// Option configures a Server.
type Option func(*Server)

// WithTelemetry attaches request counters.
func WithTelemetry(m *telemetry.Metrics) Option {
	return func(s *Server) { s.tele = m }
}

// NewServer wires a tile server over the given stores.
func NewServer(clusters clustering.Store, metrics metricstore.Store, configs *configstore.Loader, log *slog.Logger, opts ...Option) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		clusters: clusters,
		metrics:  metrics,
		configs:  configs,
		log:      log.With("component", "tileserver"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the HTTP surface: GET /tiles/{tenant}/{z}/{x}/{y}
// (an optional .mvt suffix on y is accepted).
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tiles/{tenant}/{z}/{x}/{y}", s.handleTile)
	return mux
}

func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := s.serveTile(w, r)
	if s.tele != nil {
		s.tele.TileRequests.WithLabelValues(strconv.Itoa(status)).Inc()
		s.tele.TileDuration.Observe(time.Since(start).Seconds())
	}
}

func (s *Server) serveTile(w http.ResponseWriter, r *http.Request) int {
	tenant, err := uuid.Parse(r.PathValue("tenant"))
	if err != nil || tenant == uuid.Nil {
		http.Error(w, "invalid tenant", http.StatusBadRequest)
		return http.StatusBadRequest
	}
	tile, err := parseTilePath(r.PathValue("z"), r.PathValue("x"), r.PathValue("y"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return http.StatusBadRequest
	}
	filter := ParseFilter(r.URL.Query())

	layers, err := s.buildLayers(r.Context(), tenant, tile, filter)
	if err != nil {
		s.log.Error("tile render failed", "tenant", tenant, "tile", tile, "error", err)
		http.Error(w, "tile render failed", http.StatusInternalServerError)
		return http.StatusInternalServerError
	}

	layers.ProjectToTile(tile)
	data, err := mvt.MarshalGzipped(layers)
	if err != nil {
		s.log.Error("tile encode failed", "tenant", tenant, "tile", tile, "error", err)
		http.Error(w, "tile encode failed", http.StatusInternalServerError)
		return http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", contentTypeMVT)
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Set("Cache-Control", "private, max-age=30")
	_, _ = w.Write(data)
	return http.StatusOK
}

func parseTilePath(zs, xs, ys string) (maptile.Tile, error) {
	ys = strings.TrimSuffix(ys, ".mvt")
	z, err := strconv.Atoi(zs)
	if err != nil || z < 0 || z > maxZoom {
		return maptile.Tile{}, fmt.Errorf("invalid zoom %q", zs)
	}
	x, err := strconv.ParseUint(xs, 10, 32)
	if err != nil || x >= 1<<uint(z) {
		return maptile.Tile{}, fmt.Errorf("invalid tile x %q", xs)
	}
	y, err := strconv.ParseUint(ys, 10, 32)
	if err != nil || y >= 1<<uint(z) {
		return maptile.Tile{}, fmt.Errorf("invalid tile y %q", ys)
	}
	return maptile.New(uint32(x), uint32(y), maptile.Zoom(z)), nil
}

// buildLayers assembles the tile content. Cluster rendering applies
// above the pyramid floor; at the floor and below, or when any filter
// is in play, locations are rendered individually.
func (s *Server) buildLayers(ctx context.Context, tenant uuid.UUID, tile maptile.Tile, filter Filter) (mvt.Layers, error) {
	bound := tile.Bound()
	collections := make(map[string]*geojson.FeatureCollection)

	if int(tile.Z) < clustering.ZMax && filter.Empty() {
		fc, err := s.clusterFeatures(ctx, tenant, int(tile.Z), bound)
		if err != nil {
			return nil, err
		}
		collections["clusters"] = fc
	} else {
		fc, err := s.locationFeatures(ctx, tenant, bound, filter)
		if err != nil {
			return nil, err
		}
		collections["locations"] = fc
	}
	return mvt.NewLayers(collections), nil
}

func (s *Server) clusterFeatures(ctx context.Context, tenant uuid.UUID, zoom int, bound orb.Bound) (*geojson.FeatureCollection, error) {
	clusters, err := s.clusters.ClustersInBound(ctx, tenant, zoom, bound)
	if err != nil {
		return nil, err
	}

	membership := make([][]clustering.Location, len(clusters))
	var all []clustering.Location
	for i, c := range clusters {
		members, err := s.clusters.Members(ctx, c.ID, c.Zoom)
		if err != nil {
			return nil, err
		}
		membership[i] = members
		all = append(all, members...)
	}
	buckets, err := s.riskBuckets(ctx, tenant, all)
	if err != nil {
		return nil, err
	}

	fc := geojson.NewFeatureCollection()
	for i, c := range clusters {
		members := membership[i]
		f := geojson.NewFeature(c.Centroid)
		f.Properties = geojson.Properties{
			"id":    c.ID.String(),
			"zoom":  c.Zoom,
			"count": len(members),
			"risk":  worstBucket(members, buckets),
		}
		fc.Append(f)
	}
	return fc, nil
}

var bucketSeverity = map[string]int{
	riskUnknown: 0,
	"low":       1,
	"medium":    2,
	"high":      3,
}

// worstBucket reduces a cluster's members to the most severe risk
// bucket among them, so a zoomed-out cluster never hides a high-risk
// location behind lower-ranked neighbours.
func worstBucket(members []clustering.Location, buckets map[uuid.UUID]string) string {
	worst := riskUnknown
	for _, loc := range members {
		if b, ok := buckets[loc.ID]; ok && bucketSeverity[b] > bucketSeverity[worst] {
			worst = b
		}
	}
	return worst
}

func (s *Server) locationFeatures(ctx context.Context, tenant uuid.UUID, bound orb.Bound, filter Filter) (*geojson.FeatureCollection, error) {
	locations, err := s.clusters.LocationsInBound(ctx, tenant, bound)
	if err != nil {
		return nil, err
	}

	matched := locations[:0]
	for _, loc := range locations {
		if filter.matches(loc.Name, loc.Status, loc.ID) {
			matched = append(matched, loc)
		}
	}

	buckets, err := s.riskBuckets(ctx, tenant, matched)
	if err != nil {
		return nil, err
	}

	fc := geojson.NewFeatureCollection()
	for _, loc := range matched {
		bucket := buckets[loc.ID]
		if filter.Risk != "" && bucket != filter.Risk {
			continue
		}
		f := geojson.NewFeature(loc.Point)
		f.Properties = geojson.Properties{
			"id":     loc.ID.String(),
			"name":   loc.Name,
			"status": loc.Status,
			"risk":   bucket,
		}
		fc.Append(f)
	}
	return fc, nil
}

// riskBuckets joins each location with its latest total risk score for
// today and buckets it with the tenant's ranking thresholds. Locations
// without a score map to "unknown".
func (s *Server) riskBuckets(ctx context.Context, tenant uuid.UUID, locations []clustering.Location) (map[uuid.UUID]string, error) {
	out := make(map[uuid.UUID]string, len(locations))
	if len(locations) == 0 {
		return out, nil
	}

	cfg, err := s.configs.LoadRankedConfig(ctx, tenant, configstore.LocationTotalTaskRiskConfig)
	if err != nil {
		return nil, err
	}

	today := riskmodel.Today()
	reqs := make([]metricstore.Request, 0, len(locations))
	for _, loc := range locations {
		reqs = append(reqs, metricstore.Request{
			Type: riskmodel.LocationTotalTaskRiskScore,
			Key:  riskmodel.DatedKey(tenant, loc.ID, today),
		})
	}
	results, err := s.metrics.LoadManyLatest(ctx, reqs)
	if err != nil {
		return nil, err
	}
	for _, res := range results {
		id := res.Request.Key.Entity
		if res.Err != nil {
			if _, missing := riskmodel.IsMissingMetric(res.Err); missing {
				out[id] = riskUnknown
				continue
			}
			return nil, res.Err
		}
		out[id] = strings.ToLower(cfg.Thresholds.RankingFor(res.Point.Value).String())
	}
	return out, nil
}
