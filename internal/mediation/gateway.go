package mediation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shaloml/cui/internal/domain"
	"go.uber.org/zap"
)

// Gateway is the boundary both sides of the bridge call through: the
// agent-side tool handler (notify, list) and the human-facing UI (decide).
// A thin translation layer over the store, but it owns all validation.
type Gateway struct {
	store  *Store
	logger *zap.Logger
}

func NewGateway(store *Store, logger *zap.Logger) *Gateway {
	return &Gateway{store: store, logger: logger.Named("mediation-gateway")}
}

// NotifyInput is the wire shape of POST /mediate/notify. Payload is decoded
// according to Kind.
type NotifyInput struct {
	Kind          domain.RequestKind `json:"kind"`
	Payload       json.RawMessage    `json:"payload"`
	CorrelationID string             `json:"correlationId"`
}

// DecideInput is the wire shape of POST /mediate/{id}/decide. Which fields
// are meaningful depends on the kind of the target request. Multi-select
// answers arrive as a list per header and are flattened before storage.
type DecideInput struct {
	Approved      *bool               `json:"approved,omitempty"`
	ModifiedInput json.RawMessage     `json:"modifiedInput,omitempty"`
	DenyReason    string              `json:"denyReason,omitempty"`
	Answers       map[string][]string `json:"answers,omitempty"`
}

// Notify validates the payload shape and creates a pending request. A
// validation failure must surface as an immediate tool failure on the
// agent side; the caller never enters the poll loop.
func (g *Gateway) Notify(in NotifyInput) (domain.MediationRequest, error) {
	switch in.Kind {
	case domain.KindPermission:
		var p domain.PermissionPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return domain.MediationRequest{}, fmt.Errorf("%w: malformed permission payload: %v", domain.ErrValidation, err)
		}
		if strings.TrimSpace(p.ToolName) == "" {
			return domain.MediationRequest{}, fmt.Errorf("%w: tool name must not be empty", domain.ErrValidation)
		}
		return g.store.Create(in.Kind, in.CorrelationID, &p, nil), nil

	case domain.KindQuestion:
		var q domain.QuestionPayload
		if err := json.Unmarshal(in.Payload, &q); err != nil {
			return domain.MediationRequest{}, fmt.Errorf("%w: malformed question payload: %v", domain.ErrValidation, err)
		}
		if len(q.Questions) == 0 {
			return domain.MediationRequest{}, fmt.Errorf("%w: question list must not be empty", domain.ErrValidation)
		}
		for _, item := range q.Questions {
			if len(item.Options) == 0 {
				return domain.MediationRequest{}, fmt.Errorf("%w: question %q has no options", domain.ErrValidation, item.Header)
			}
		}
		return g.store.Create(in.Kind, in.CorrelationID, nil, &q), nil

	default:
		return domain.MediationRequest{}, fmt.Errorf("%w: unknown request kind %q", domain.ErrValidation, in.Kind)
	}
}

// Decide records a human decision exactly once. ErrNotFound covers both an
// unknown id and an already-decided request; the caller reports a
// 404-equivalent either way. ErrValidation means the decision payload does
// not match the request's kind.
func (g *Gateway) Decide(id string, in DecideInput) error {
	req, ok := g.store.Get(id)
	if !ok {
		return domain.ErrNotFound
	}

	decision, err := buildDecision(req, in)
	if err != nil {
		return err
	}

	// The store is the arbiter of the decide-once invariant: the Get above
	// is only for kind validation, the check-and-set happens inside Decide.
	if !g.store.Decide(id, decision) {
		return domain.ErrNotFound
	}
	return nil
}

func buildDecision(req domain.MediationRequest, in DecideInput) (domain.Decision, error) {
	switch req.Kind {
	case domain.KindPermission:
		if in.Approved == nil {
			return domain.Decision{}, fmt.Errorf("%w: permission decision requires an approved flag", domain.ErrValidation)
		}
		return domain.Decision{
			Approved:      in.Approved,
			ModifiedInput: in.ModifiedInput,
			DenyReason:    in.DenyReason,
		}, nil

	case domain.KindQuestion:
		if len(in.Answers) == 0 {
			return domain.Decision{}, fmt.Errorf("%w: question decision requires answers", domain.ErrValidation)
		}
		return domain.Decision{Answers: flattenAnswers(in.Answers)}, nil
	}
	return domain.Decision{}, fmt.Errorf("%w: unknown request kind %q", domain.ErrValidation, req.Kind)
}

// flattenAnswers joins multi-select selections into one comma-separated
// string. Lossy and order-dependent, kept for compatibility with the
// existing decision records.
func flattenAnswers(answers map[string][]string) map[string]string {
	flat := make(map[string]string, len(answers))
	for header, selected := range answers {
		flat[header] = strings.Join(selected, ", ")
	}
	return flat
}

// List returns matching requests in insertion order.
func (g *Gateway) List(f Filter) []domain.MediationRequest {
	return g.store.List(f)
}

// Get returns a request snapshot by id.
func (g *Gateway) Get(id string) (domain.MediationRequest, bool) {
	return g.store.Get(id)
}

// RemoveByCorrelationID is the end-of-run bulk cleanup.
func (g *Gateway) RemoveByCorrelationID(correlationID string) int {
	n := g.store.RemoveByCorrelationID(correlationID)
	if n > 0 {
		g.logger.Info("cleaned up mediation requests",
			zap.String("correlation_id", correlationID),
			zap.Int("removed", n))
	}
	return n
}
