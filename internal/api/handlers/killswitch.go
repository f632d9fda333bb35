package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/wonny/vigil/internal/contracts"
	"github.com/wonny/vigil/internal/killswitch"
	"github.com/wonny/vigil/pkg/logger"
)

// EventStore persists override records and reads back the audit
// trail. nil when persistence is disabled.
type EventStore interface {
	SaveOverride(ctx context.Context, o *killswitch.Override) error
	RecentEvents(ctx context.Context, limit int) ([]killswitch.Event, error)
}

// KillSwitchHandler handles kill switch API endpoints.
type KillSwitchHandler struct {
	ks     *killswitch.Switch
	events EventStore
	logger *logger.Logger
}

// NewKillSwitchHandler creates a new kill switch handler.
func NewKillSwitchHandler(ks *killswitch.Switch, events EventStore, log *logger.Logger) *KillSwitchHandler {
	return &KillSwitchHandler{ks: ks, events: events, logger: log}
}

// GetStatus returns the kill switch state
// GET /api/killswitch/status
func (h *KillSwitchHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.ks.Status())
}

// OverrideRequest represents an operator override request.
type OverrideRequest struct {
	TriggerMetric string `json:"trigger_metric"`
	Actor         string `json:"actor"`
	Role          string `json:"role"`
}

// Override requests an override for a trigger
// POST /api/killswitch/override
func (h *KillSwitchHandler) Override(w http.ResponseWriter, r *http.Request) {
	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.TriggerMetric == "" || req.Actor == "" || req.Role == "" {
		respondError(w, http.StatusBadRequest, "trigger_metric, actor and role are required")
		return
	}

	override, err := h.ks.RequestOverride(r.Context(), req.TriggerMetric, req.Actor, req.Role)
	if err != nil {
		h.logger.WithError(err).WithFields(map[string]interface{}{
			"actor":  req.Actor,
			"metric": req.TriggerMetric,
		}).Warn("Override rejected")
		respondError(w, overrideStatus(err), err.Error())
		return
	}

	if h.events != nil {
		if err := h.events.SaveOverride(r.Context(), override); err != nil {
			h.logger.WithError(err).Error("Failed to persist override")
		}
	}

	respondJSON(w, http.StatusOK, override)
}

// ResetRequest represents an operator reset request.
type ResetRequest struct {
	Actor string `json:"actor"`
	Role  string `json:"role"`
}

// Reset re-arms the kill switch after execution
// POST /api/killswitch/reset
func (h *KillSwitchHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Actor == "" || req.Role == "" {
		respondError(w, http.StatusBadRequest, "actor and role are required")
		return
	}

	if err := h.ks.Reset(r.Context(), req.Actor, req.Role); err != nil {
		h.logger.WithError(err).WithField("actor", req.Actor).Warn("Reset rejected")
		respondError(w, overrideStatus(err), err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "armed",
	})
}

// GetEvents returns the kill switch audit trail
// GET /api/killswitch/events?limit=50
func (h *KillSwitchHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		respondError(w, http.StatusServiceUnavailable, "Persistence is disabled")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}

	events, err := h.events.RecentEvents(r.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get kill switch events")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve events")
		return
	}
	if events == nil {
		events = []killswitch.Event{}
	}
	respondJSON(w, http.StatusOK, events)
}

func overrideStatus(err error) int {
	if errors.Is(err, contracts.ErrNotAuthorized) {
		return http.StatusForbidden
	}
	return http.StatusConflict
}
