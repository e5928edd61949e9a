package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sentinelops/sentinel-ai/internal/db"
	"github.com/sentinelops/sentinel-ai/internal/reasoning/investigation"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// mapInvestigationError translates manager errors into HTTP statuses.
func mapInvestigationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, investigation.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case strings.Contains(err.Error(), "invalid state transition"):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// ─── Investigations ──────────────────────────────────────────────────────────

type startInvestigationRequest struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Context     string `json:"context,omitempty"`
	UserID      string `json:"user_id,omitempty"`
}

func (s *Server) handleStartInvestigation(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.LLM.Configured {
		writeError(w, http.StatusServiceUnavailable,
			"LLM backend not configured; set SENTINEL_LLM_API_KEY to enable investigations")
		return
	}

	var req startInvestigationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	inv, err := s.investigations.Start(r.Context(), investigation.StartRequest{
		Type:        investigation.Type(req.Type),
		Description: req.Description,
		Context:     req.Context,
		UserID:      req.UserID,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("investigation started",
		zap.String("id", inv.ID),
		zap.String("type", string(inv.Type)),
		zap.String("user", inv.UserID))
	writeJSON(w, http.StatusAccepted, inv)
}

func (s *Server) handleGetInvestigation(w http.ResponseWriter, r *http.Request) {
	inv, err := s.investigations.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		mapInvestigationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleListInvestigations(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	list, err := s.investigations.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"investigations": list,
		"count":          len(list),
	})
}

func (s *Server) handleCancelInvestigation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.investigations.Cancel(r.Context(), id); err != nil {
		mapInvestigationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "state": string(investigation.StateCancelled)})
}

func (s *Server) handleArchiveInvestigation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.investigations.Archive(r.Context(), id); err != nil {
		mapInvestigationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "state": string(investigation.StateArchived)})
}

func (s *Server) handleAddFinding(w http.ResponseWriter, r *http.Request) {
	var f investigation.Finding
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.investigations.AddFinding(r.Context(), r.PathValue("id"), f); err != nil {
		if errors.Is(err, investigation.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// ─── Budget ──────────────────────────────────────────────────────────────────

func (s *Server) handleBudgetUsage(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user query parameter is required")
		return
	}
	summary, err := s.tracker.GetUsageSummary(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type setLimitRequest struct {
	UserID   string  `json:"user_id"`
	LimitUSD float64 `json:"limit_usd"`
}

func (s *Server) handleBudgetSetLimit(w http.ResponseWriter, r *http.Request) {
	var req setLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" || req.LimitUSD < 0 {
		writeError(w, http.StatusBadRequest, "user_id and a non-negative limit_usd are required")
		return
	}
	if err := s.tracker.SetBudgetLimit(r.Context(), req.UserID, req.LimitUSD); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// ─── Audit ───────────────────────────────────────────────────────────────────

func (s *Server) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	q := db.AuditQuery{
		Resource: r.URL.Query().Get("resource"),
		Action:   r.URL.Query().Get("action"),
		UserID:   r.URL.Query().Get("user"),
		Limit:    queryInt(r, "limit", 100),
		Offset:   queryInt(r, "offset", 0),
	}
	events, err := s.store.QueryAuditEvents(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// ─── Health ──────────────────────────────────────────────────────────────────

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	status := "ready"
	if !s.cfg.LLM.Configured {
		// Store is fine but investigations cannot run.
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
