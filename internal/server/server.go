// Package server implements the HTTP query and review API, its middleware and request handlers.
package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/woozymasta/vigil/internal/activity"
	"github.com/woozymasta/vigil/internal/config"
	"github.com/woozymasta/vigil/internal/storage"
)

// New creates a new Server instance with the provided storage, pattern service, and configuration.
func New(store *storage.Repository, patterns *activity.Service, cfg *config.Config) *Server {
	return &Server{
		storage:        store,
		patterns:       patterns,
		now:            time.Now,
		authToken:      cfg.Server.AuthToken,
		trustProxy:     cfg.Server.TrustProxy,
		pageSize:       max(cfg.Server.PageSize, 1),
		silenceWindow:  cfg.Identity.SilenceWindow,
		hardLimitCount: cfg.RateLimit.HardLimitCount,
		hardLimitWin:   cfg.RateLimit.HardLimitWin,
		shutdown:       make(chan struct{}),
	}
}

// Close stops background routines started by the handler.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.shutdown) })
}

// Run configures the HTTP routes and returns the main handler.
func (s *Server) Run() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/servers", s.handleListServers)
	api.HandleFunc("GET /api/servers/{id}", s.handleGetServer)
	api.HandleFunc("GET /api/servers/{id}/snapshots", s.handleSnapshots)
	api.HandleFunc("GET /api/servers/{id}/lineage", s.handleServerLineage)
	api.HandleFunc("GET /api/servers/{id}/pattern", s.handleGetPattern)
	api.HandleFunc("POST /api/servers/{id}/pattern", s.handleRecomputePattern)
	api.HandleFunc("GET /api/servers/{id}/heatmap", s.handleHeatmap)
	api.HandleFunc("GET /api/clusters", s.handleClusters)
	api.HandleFunc("GET /api/lineage", s.handleListLineage)
	api.HandleFunc("GET /api/lineage/{id}", s.handleGetLineage)
	api.HandleFunc("POST /api/lineage/{id}/decision", s.handleDecision)
	api.HandleFunc("GET /api/stats/daily", s.handleDailyStats)

	// The inner mux overwrites r.Pattern, so metrics see the concrete route.
	mux := http.NewServeMux()
	mux.Handle("/api/", s.RateLimitMiddleware(AuthMiddleware(s.authToken, api)))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s.MetricsMiddleware(s.LoggingMiddleware(mux))
}
