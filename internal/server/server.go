// Package server previews a run's scored layer over HTTP: the GeoJSON
// feature collection a map client consumes, a summary endpoint over the
// run report, and prometheus metrics. Layer payloads are served from an
// in-memory LRU so repeated map loads never reread artifacts from disk.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/cerrado-geo/soilhex-cli/internal/config"
	"github.com/cerrado-geo/soilhex-cli/internal/export"
	"github.com/cerrado-geo/soilhex-cli/internal/model"
	"github.com/cerrado-geo/soilhex-cli/internal/store"
)

// ErrNoLayer reports that a run has no published suitability layer,
// usually because the run failed before its artifacts were written.
var ErrNoLayer = eris.New("server: run has no suitability layer")

const layerSuitability = "suitability"

// Server serves the preview API for one pinned run, or the latest
// completed run when none is pinned. Construct with New; safe for
// concurrent requests.
type Server struct {
	cfg      *config.Config
	store    store.Store
	layers   *LayerCache
	metrics  *metrics
	registry *prometheus.Registry
	runID    string
}

// New builds a Server. An empty runID serves the latest completed run,
// re-resolved per request so a finishing run shows up without a restart.
func New(cfg *config.Config, st store.Store, runID string) *Server {
	reg := prometheus.NewRegistry()
	return &Server{
		cfg:      cfg,
		store:    st,
		layers:   NewLayerCache(cfg.Server.CacheSize, time.Duration(cfg.Server.CacheTTLMinutes)*time.Minute),
		metrics:  newMetrics(reg),
		registry: reg,
		runID:    runID,
	}
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))
	r.Use(s.instrument)

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/layers/suitability", s.handleLayer)
		r.Get("/stats", s.handleStats)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return r
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down preview server", zap.String("component", "server"))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	zap.L().Info("preview server listening",
		zap.String("component", "server"),
		zap.Int("port", s.cfg.Server.Port),
		zap.String("run_id", s.runID),
	)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

// instrument records the request counter and duration histogram per
// chi route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.requestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).Inc()
		s.metrics.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLayer(w http.ResponseWriter, r *http.Request) {
	run, err := s.resolveRun(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	data, hit, err := s.layerBytes(r.Context(), run)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("X-Run-ID", run.ID)
	if hit {
		w.Header().Set("X-Cache", "hit")
	} else {
		w.Header().Set("X-Cache", "miss")
	}
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", s.cfg.Server.CacheTTLMinutes*60))
	_, _ = w.Write(data)
}

// runSummary is the run identity block shared by the stats payload.
type runSummary struct {
	ID         string     `json:"id"`
	AOI        string     `json:"aoi"`
	Resolution int        `json:"resolution"`
	Status     string     `json:"status"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type statsResponse struct {
	Run      runSummary     `json:"run"`
	Cells    int            `json:"cells"`
	Grades   map[string]int `json:"grades"`
	Degraded bool           `json:"degraded"`
	Cache    CacheStats     `json:"cache"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	run, err := s.resolveRun(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	data, _, err := s.layerBytes(r.Context(), run)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		s.writeError(w, eris.Wrapf(err, "server: parse layer for run %s", run.ID))
		return
	}
	grades := make(map[string]int)
	for _, f := range fc.Features {
		if g, ok := f.Properties["grade"].(string); ok {
			grades[g]++
		}
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Run: runSummary{
			ID:         run.ID,
			AOI:        run.AOI,
			Resolution: run.Resolution,
			Status:     string(run.Status),
			FinishedAt: run.FinishedAt,
		},
		Cells:    len(fc.Features),
		Grades:   grades,
		Degraded: run.Report != nil && run.Report.Degraded(),
		Cache:    s.layers.Stats(),
	})
}

// resolveRun picks the run a request refers to: explicit ?run= query,
// then the pinned run, then the latest completed one.
func (s *Server) resolveRun(r *http.Request) (*model.Run, error) {
	id := r.URL.Query().Get("run")
	if id == "" {
		id = s.runID
	}
	if id != "" {
		return s.store.GetRun(r.Context(), id)
	}

	runs, err := s.store.ListRuns(r.Context(), store.RunFilter{Status: model.RunStatusComplete, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, eris.Wrap(store.ErrRunNotFound, "server: no completed runs to serve")
	}
	return &runs[0], nil
}

// layerBytes serves the run's GeoJSON layer through the cache, reading
// the artifact file on a miss.
func (s *Server) layerBytes(ctx context.Context, run *model.Run) ([]byte, bool, error) {
	if data := s.layers.Get(run.ID, layerSuitability); data != nil {
		s.metrics.cacheHits.Inc()
		return data, true, nil
	}
	s.metrics.cacheMisses.Inc()

	arts, err := s.store.Artifacts(ctx, run.ID)
	if err != nil {
		return nil, false, err
	}
	for _, art := range arts {
		if art.Kind != export.KindGeoJSON {
			continue
		}
		data, err := os.ReadFile(art.Path)
		if err != nil {
			return nil, false, eris.Wrapf(err, "server: read layer %s", art.Path)
		}
		s.layers.Put(run.ID, layerSuitability, data)
		return data, false, nil
	}
	return nil, false, eris.Wrapf(ErrNoLayer, "run %s", run.ID)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case eris.Is(err, store.ErrRunNotFound), eris.Is(err, ErrNoLayer):
		status = http.StatusNotFound
		zap.L().Warn("server: request failed", zap.Error(err))
	default:
		zap.L().Error("server: request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
