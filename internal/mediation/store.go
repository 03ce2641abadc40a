package mediation

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaloml/cui/internal/domain"
	"go.uber.org/zap"
)

// Store is the single source of truth for outstanding mediation requests.
// It is deliberately not persisted: a pending request is meaningless after
// a restart because the agent call waiting on it is gone too.
//
// Decide holds the mutex across the existence check and the mutation, so
// exactly one of any number of concurrent Decide calls for the same id can
// succeed. All reads return snapshots; callers never see a record that is
// half-decided.
type Store struct {
	mu       sync.Mutex
	requests map[string]*domain.MediationRequest
	order    []string // insertion order, keeps List deterministic

	subMu  sync.Mutex
	subs   map[int]chan domain.Event
	nextID int

	logger *zap.Logger
	now    func() time.Time
}

func NewStore(logger *zap.Logger) *Store {
	return &Store{
		requests: make(map[string]*domain.MediationRequest),
		subs:     make(map[int]chan domain.Event),
		logger:   logger.Named("mediation-store"),
		now:      time.Now,
	}
}

// Filter narrows List results. Zero-value fields are ignored; set fields
// combine with AND semantics.
type Filter struct {
	CorrelationID string
	Status        domain.RequestStatus
}

func (f Filter) matches(r *domain.MediationRequest) bool {
	if f.CorrelationID != "" && r.CorrelationID != f.CorrelationID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// Create stores a fresh pending request and emits request_created. It
// never fails; payload validation is the gateway's job.
func (s *Store) Create(kind domain.RequestKind, correlationID string, perm *domain.PermissionPayload, q *domain.QuestionPayload) domain.MediationRequest {
	req := domain.MediationRequest{
		ID:            uuid.New().String(),
		CorrelationID: correlationID,
		Kind:          kind,
		Status:        domain.StatusPending,
		CreatedAt:     s.now(),
		Permission:    perm,
		Question:      q,
	}

	s.mu.Lock()
	s.requests[req.ID] = &req
	s.order = append(s.order, req.ID)
	s.mu.Unlock()

	s.logger.Info("mediation request created",
		zap.String("id", req.ID),
		zap.String("correlation_id", correlationID),
		zap.String("kind", string(kind)))

	s.emit(domain.Event{Type: domain.EventRequestCreated, Request: req})
	return req
}

// Get returns a snapshot of the request, or ok=false if absent.
func (s *Store) Get(id string) (domain.MediationRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return domain.MediationRequest{}, false
	}
	return *req, true
}

// List returns snapshots of all matching requests in insertion order.
func (s *Store) List(f Filter) []domain.MediationRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Empty slice, not nil: handlers encode this straight to JSON.
	results := make([]domain.MediationRequest, 0)
	for _, id := range s.order {
		req := s.requests[id]
		if f.matches(req) {
			results = append(results, *req)
		}
	}
	return results
}

// Decide atomically transitions a pending request to its decided status.
// Returns false without any change when the id is absent or the request
// has already been decided; the stored decision is never overwritten.
func (s *Store) Decide(id string, d domain.Decision) bool {
	s.mu.Lock()
	req, ok := s.requests[id]
	if !ok || !req.Pending() {
		s.mu.Unlock()
		return false
	}

	decided := s.now()
	req.Status = req.DecidedStatus(d)
	req.Decision = &d
	req.DecidedAt = &decided
	snapshot := *req
	s.mu.Unlock()

	s.logger.Info("mediation request decided",
		zap.String("id", id),
		zap.String("status", string(snapshot.Status)))

	s.emit(domain.Event{Type: domain.EventRequestDecided, Request: snapshot})
	return true
}

// RemoveByCorrelationID drops every request for a finished agent run,
// regardless of status, and returns how many were removed. Safe to call
// repeatedly; subsequent calls return 0.
func (s *Store) RemoveByCorrelationID(correlationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	kept := s.order[:0]
	for _, id := range s.order {
		if s.requests[id].CorrelationID == correlationID {
			delete(s.requests, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed
}

// PendingCount reports how many requests currently await a decision.
// Exported for the metrics gauge.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, req := range s.requests {
		if req.Pending() {
			n++
		}
	}
	return n
}

// Subscribe registers a lifecycle event listener. The store knows nothing
// about its subscribers; a slow subscriber is load-shed, never blocks a
// mutation. The returned func unsubscribes and closes the channel.
func (s *Store) Subscribe() (<-chan domain.Event, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan domain.Event, 64)
	s.subs[id] = ch

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (s *Store) emit(ev domain.Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Warn("event subscriber buffer full, dropping event",
				zap.String("type", string(ev.Type)),
				zap.String("request_id", ev.Request.ID))
		}
	}
}
