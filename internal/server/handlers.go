package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/dealerlytics/dealerlytics-ai/internal/monitor/alerting"
	"github.com/dealerlytics/dealerlytics-ai/internal/monitor/scheduler"
	"github.com/dealerlytics/dealerlytics-ai/internal/store"
)

// writeJSON writes a JSON response with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

// writeError writes a uniform JSON error body.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ─── Query pipeline ──────────────────────────────────────────────────────────

type queryRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// The orchestrator's envelope contract: even failures come back 200 with
	// the error inside the envelope, so clients have one shape to parse.
	env := s.orchestrator.ProcessQuery(r.Context(), req.Query)
	s.writeJSON(w, http.StatusOK, env)
}

// ─── Metric catalog ──────────────────────────────────────────────────────────

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		s.writeError(w, http.StatusNotFound, "catalog unavailable")
		return
	}
	snap := s.catalog.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"metrics": snap.Metrics(),
		"scopes":  snap.Scopes(),
	})
}

// ─── Alert lifecycle ─────────────────────────────────────────────────────────

func (s *Server) handleAlertList(w http.ResponseWriter, r *http.Request) {
	q := store.AlertQuery{
		MetricName: r.URL.Query().Get("metric"),
		ScopeID:    r.URL.Query().Get("scope"),
		Status:     r.URL.Query().Get("status"),
		Severity:   r.URL.Query().Get("severity"),
		Limit:      parseIntDefault(r.URL.Query().Get("limit"), 50),
		Offset:     parseIntDefault(r.URL.Query().Get("offset"), 0),
	}

	alerts, err := s.alerts.List(r.Context(), q)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	counts, err := s.alerts.CountsByStatus(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if alerts == nil {
		alerts = []*store.AlertRecord{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"counts": counts,
	})
}

func (s *Server) handleAlertGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.alerts.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeAlertError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

type alertActionRequest struct {
	Notes string `json:"notes,omitempty"`
	Actor string `json:"actor"`
}

func (s *Server) handleAlertInvestigate(w http.ResponseWriter, r *http.Request) {
	var req alertActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := s.alerts.Investigate(r.Context(), r.PathValue("id"), req.Notes, req.Actor)
	if err != nil {
		s.writeAlertError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAlertDismiss(w http.ResponseWriter, r *http.Request) {
	var req alertActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := s.alerts.Dismiss(r.Context(), r.PathValue("id"), req.Actor)
	if err != nil {
		s.writeAlertError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAlertResolve(w http.ResponseWriter, r *http.Request) {
	var req alertActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := s.alerts.Resolve(r.Context(), r.PathValue("id"), req.Actor)
	if err != nil {
		s.writeAlertError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// writeAlertError maps lifecycle errors to HTTP statuses.
func (s *Server) writeAlertError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, alerting.ErrAlertNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, alerting.ErrInvalidTransition):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, alerting.ErrActorRequired):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// ─── Scan engine ─────────────────────────────────────────────────────────────

type scanRunRequest struct {
	ScanType string `json:"scan_type"`
}

func (s *Server) handleScanRun(w http.ResponseWriter, r *http.Request) {
	var req scanRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ScanType == "" {
		req.ScanType = store.ScanTypeManual
	}

	rec, err := s.scheduler.Trigger(r.Context(), req.ScanType)
	switch {
	case errors.Is(err, scheduler.ErrScanAlreadyRunning):
		// Concurrent trigger for the same type: reject, don't queue.
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, scheduler.ErrUnknownScanType):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		// The run executed but failed; the record carries the story.
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"run":   rec,
			"error": err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"run": rec})
}

func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.scheduler.Status(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleScanHistory(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListScanRuns(r.Context(),
		r.URL.Query().Get("scan_type"),
		parseIntDefault(r.URL.Query().Get("limit"), 20),
	)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []*store.ScanRunRecord{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
