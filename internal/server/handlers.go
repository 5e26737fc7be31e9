package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/vigil/internal/models"
	"github.com/woozymasta/vigil/internal/storage"
	"github.com/woozymasta/vigil/internal/vars"
)

// maxDecisionBody caps the review decision payload.
const maxDecisionBody = 4 << 10

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeStoreError maps storage sentinels onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrSuccessorConfirmed):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "database error")
	}
}

// intParam reads a non-negative integer query parameter, def when absent.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New("invalid " + name)
	}

	return v, nil
}

// handleHealth pings the datastore. It is the only unauthenticated API route.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.storage.Ping(r.Context()); err != nil {
		log.Warn().Err(err).Msg("Health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "build": vars.Ver()})
}

// handleListServers lists servers, most recently seen first.
// Query params: ?active=true&address=1.2.3.4&limit=100&offset=0
func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", s.pageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	f := storage.ServerFilter{
		Address: r.URL.Query().Get("address"),
		Limit:   max(limit, 1),
		Offset:  offset,
	}
	if active, _ := strconv.ParseBool(r.URL.Query().Get("active")); active {
		f.SeenSince = s.now().Add(-s.silenceWindow)
	}

	servers, err := s.storage.ListServers(r.Context(), f)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if servers == nil {
		servers = []models.Server{}
	}

	writeJSON(w, http.StatusOK, servers)
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	server, err := s.storage.GetServer(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, server)
}

// handleSnapshots returns the snapshot history of a server.
// Query params: ?since=168h (lookback duration, default one week)
func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	lookback := 7 * 24 * time.Hour
	if raw := r.URL.Query().Get("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid since")
			return
		}
		lookback = d
	}

	id := r.PathValue("id")
	if _, err := s.storage.GetServer(r.Context(), id); err != nil {
		writeStoreError(w, r, err)
		return
	}

	snaps, err := s.storage.ListSnapshots(r.Context(), id, s.now().Add(-lookback))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []models.Snapshot{}
	}

	writeJSON(w, http.StatusOK, snaps)
}

// handleServerLineage returns every edge where the server is either side.
func (s *Server) handleServerLineage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.storage.GetServer(r.Context(), id); err != nil {
		writeStoreError(w, r, err)
		return
	}

	s.writeLineage(w, r, storage.LineageFilter{ServerID: id})
}

// handleListLineage lists edges, newest first.
// Query params: ?status=pending_review&limit=100
func (s *Server) handleListLineage(w http.ResponseWriter, r *http.Request) {
	f := storage.LineageFilter{Status: models.LineageStatus(r.URL.Query().Get("status"))}
	if f.Status != "" && !f.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	limit, err := intParam(r, "limit", s.pageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.Limit = limit

	s.writeLineage(w, r, f)
}

func (s *Server) writeLineage(w http.ResponseWriter, r *http.Request, f storage.LineageFilter) {
	edges, err := s.storage.ListLineage(r.Context(), f)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if edges == nil {
		edges = []models.LineageEdge{}
	}

	writeJSON(w, http.StatusOK, edges)
}

func (s *Server) handleGetLineage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid lineage id")
		return
	}

	edge, err := s.storage.GetLineage(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, edge)
}

// handleDecision confirms or rejects a lineage edge. Servers are never modified.
// Body: {"status": "confirmed", "note": "same discord"}
func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid lineage id")
		return
	}

	var req decisionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDecisionBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	edge, err := s.storage.DecideLineage(r.Context(), id,
		models.LineageStatus(strings.TrimSpace(req.Status)), strings.TrimSpace(req.Note), s.now())
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	log.Info().
		Int64("lineage", edge.ID).
		Str("status", string(edge.Status)).
		Str("current", edge.CurrentServerID).
		Str("previous", edge.PrevServerID).
		Msg("Lineage decided")

	writeJSON(w, http.StatusOK, edge)
}

func (s *Server) handleGetPattern(w http.ResponseWriter, r *http.Request) {
	p, err := s.storage.GetPattern(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// handleRecomputePattern analyzes a server now and replaces its cached pattern.
func (s *Server) handleRecomputePattern(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.storage.GetServer(r.Context(), id); err != nil {
		writeStoreError(w, r, err)
		return
	}

	p, err := s.patterns.Recompute(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.storage.GetServer(r.Context(), id); err != nil {
		writeStoreError(w, r, err)
		return
	}

	cells, err := s.patterns.Heatmap(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if cells == nil {
		cells = []models.HeatmapCell{}
	}

	writeJSON(w, http.StatusOK, cells)
}

// handleClusters lists host clusters, largest first.
// Query params: ?min_members=2&limit=100
func (s *Server) handleClusters(w http.ResponseWriter, r *http.Request) {
	minMembers, err := intParam(r, "min_members", 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intParam(r, "limit", s.pageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	clusters, err := s.storage.ListClusters(r.Context(), minMembers, limit)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if clusters == nil {
		clusters = []models.HostCluster{}
	}

	writeJSON(w, http.StatusOK, clusters)
}

// handleDailyStats returns daily rows in a date range, oldest first.
// Query params: ?from=2025-01-01&to=2025-01-31 (default: the last 30 days)
func (s *Server) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	today := s.now().UTC()
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if to == "" {
		to = today.Format(time.DateOnly)
	}
	if from == "" {
		from = today.AddDate(0, 0, -30).Format(time.DateOnly)
	}
	for _, d := range []string{from, to} {
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			writeError(w, http.StatusBadRequest, "dates must be YYYY-MM-DD")
			return
		}
	}

	stats, err := s.storage.ListDailyStats(r.Context(), from, to)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if stats == nil {
		stats = []models.DailyStat{}
	}

	writeJSON(w, http.StatusOK, stats)
}
