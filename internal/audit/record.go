package audit

import (
	"encoding/json"
	"time"

	"github.com/shaloml/cui/internal/domain"
)

// DecisionRecord is one row of the decision trail: who asked, what was
// asked, how it was decided, and how long the agent waited.
type DecisionRecord struct {
	ID            string          `json:"id"`
	RequestID     string          `json:"request_id"`
	CorrelationID string          `json:"correlation_id"`
	Kind          string          `json:"kind"`
	Status        string          `json:"status"`
	Payload       json.RawMessage `json:"payload"`
	Decision      json.RawMessage `json:"decision"`
	CreatedAt     time.Time       `json:"created_at"`
	DecidedAt     time.Time       `json:"decided_at"`
	WaitedMs      int64           `json:"waited_ms"`
}

// RecordFromEvent builds a trail record from a decided lifecycle event.
// Created events carry no decision and are not recorded.
func RecordFromEvent(ev domain.Event) (DecisionRecord, bool) {
	if ev.Type != domain.EventRequestDecided || ev.Request.DecidedAt == nil {
		return DecisionRecord{}, false
	}
	req := ev.Request

	var payload json.RawMessage
	if req.Permission != nil {
		payload, _ = json.Marshal(req.Permission)
	} else if req.Question != nil {
		payload, _ = json.Marshal(req.Question)
	}
	decision, _ := json.Marshal(req.Decision)

	return DecisionRecord{
		RequestID:     req.ID,
		CorrelationID: req.CorrelationID,
		Kind:          string(req.Kind),
		Status:        string(req.Status),
		Payload:       payload,
		Decision:      decision,
		CreatedAt:     req.CreatedAt,
		DecidedAt:     *req.DecidedAt,
		WaitedMs:      req.DecidedAt.Sub(req.CreatedAt).Milliseconds(),
	}, true
}
