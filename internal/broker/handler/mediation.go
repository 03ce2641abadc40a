package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shaloml/cui/internal/domain"
	"github.com/shaloml/cui/internal/mediation"
	"go.uber.org/zap"
)

// MediationHandler exposes the wire contract both sides of the bridge use:
// the agent-side tool handler (notify, poll, cleanup) and the human-facing
// UI (decide).
type MediationHandler struct {
	gateway *mediation.Gateway
	logger  *zap.Logger
}

func NewMediationHandler(g *mediation.Gateway, logger *zap.Logger) *MediationHandler {
	return &MediationHandler{gateway: g, logger: logger.Named("mediation-handler")}
}

// Notify handles POST /mediate/notify.
func (h *MediationHandler) Notify(w http.ResponseWriter, r *http.Request) {
	var in mediation.NotifyInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	req, err := h.gateway.Notify(in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

// List handles GET /mediate?correlationId=&status=. Both filters are
// optional and AND-combined.
func (h *MediationHandler) List(w http.ResponseWriter, r *http.Request) {
	f := mediation.Filter{
		CorrelationID: r.URL.Query().Get("correlationId"),
		Status:        domain.RequestStatus(r.URL.Query().Get("status")),
	}

	writeJSON(w, http.StatusOK, map[string]any{"requests": h.gateway.List(f)})
}

// Get handles GET /mediate/{id}.
func (h *MediationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, ok := h.gateway.Get(id)
	if !ok {
		writeError(w, h.logger, domain.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// Decide handles POST /mediate/{id}/decide. 404 covers both an unknown id
// and an already-decided request.
func (h *MediationHandler) Decide(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var in mediation.DecideInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.gateway.Decide(id, in); err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Cleanup handles DELETE /mediate?correlationId=, the end-of-run bulk
// removal invoked by the process supervisor.
func (h *MediationHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	correlationID := r.URL.Query().Get("correlationId")
	if correlationID == "" {
		http.Error(w, "correlationId query param is required", http.StatusBadRequest)
		return
	}

	removed := h.gateway.RemoveByCorrelationID(correlationID)
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		logger.Error("request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
