package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/shaloml/cui/internal/domain"
	"github.com/shaloml/cui/internal/live"
	"go.uber.org/zap"
)

// SummaryWriter is the slice of the durable store the supervisor-facing
// upsert needs.
type SummaryWriter interface {
	UpsertSummary(ctx context.Context, s domain.ConversationSummary) error
}

// ConversationHandler serves the merged conversation view: durable
// summaries from postgres overlaid with transient live status.
type ConversationHandler struct {
	correlator *live.Correlator
	writer     SummaryWriter
	logger     *zap.Logger
}

func NewConversationHandler(c *live.Correlator, w SummaryWriter, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{correlator: c, writer: w, logger: logger.Named("conversation-handler")}
}

// List handles GET /conversations. The first call loads the first page;
// ?more=true loads the next page before responding.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	loadMore := r.URL.Query().Get("more") == "true"
	if loadMore || len(h.correlator.Merged()) == 0 {
		if err := h.correlator.LoadMore(r.Context()); err != nil {
			h.logger.Error("failed to load conversation page", zap.Error(err))
			http.Error(w, "failed to fetch conversations", http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": h.correlator.Merged(),
		"hasMore":       h.correlator.HasMore(),
	})
}

// Upsert handles POST /conversations, called by the process supervisor
// when a run starts or its durable record lands.
func (h *ConversationHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var s domain.ConversationSummary
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil || s.ID == "" {
		http.Error(w, "invalid conversation body", http.StatusBadRequest)
		return
	}

	if err := h.writer.UpsertSummary(r.Context(), s); err != nil {
		h.logger.Error("failed to upsert conversation", zap.String("id", s.ID), zap.Error(err))
		http.Error(w, "failed to store conversation", http.StatusInternalServerError)
		return
	}

	// A new ongoing run should start receiving live overlay immediately.
	if s.Status == domain.ConversationOngoing && s.CorrelationID != "" {
		h.correlator.Subscribe(s.CorrelationID)
	}

	w.WriteHeader(http.StatusNoContent)
}
