// Package live overlays best-effort streaming status onto durable
// conversation records. It never writes to the durable store; everything
// here is a local, repeatable projection.
package live

import (
	"context"
	"sync"

	"github.com/shaloml/cui/internal/domain"
	"go.uber.org/zap"
)

// SummarySource is the paged view of the durable conversation store.
type SummarySource interface {
	ListSummaries(ctx context.Context, limit, offset int) ([]domain.ConversationSummary, error)
}

const DefaultPageSize = 20

// Correlator merges a push-based live-status feed (keyed by correlationId)
// into paginated conversation summaries. Given the same summaries and live
// statuses it always yields the same merged view: no hidden counters, no
// one-shot mutations.
type Correlator struct {
	mu         sync.RWMutex
	summaries  []domain.ConversationSummary
	seen       map[string]struct{} // dedup by summary id, not content
	live       map[string]domain.LiveStatus
	subscribed map[string]struct{}
	hasMore    bool

	source   SummarySource
	pageSize int
	logger   *zap.Logger
}

func NewCorrelator(source SummarySource, pageSize int, logger *zap.Logger) *Correlator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Correlator{
		seen:       make(map[string]struct{}),
		live:       make(map[string]domain.LiveStatus),
		subscribed: make(map[string]struct{}),
		hasMore:    true,
		source:     source,
		pageSize:   pageSize,
		logger:     logger.Named("live-correlator"),
	}
}

// Subscribe registers interest in a correlationId. Idempotent: returns
// true only the first time, so callers can skip redundant feed wiring.
func (c *Correlator) Subscribe(correlationID string) bool {
	if correlationID == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.subscribed[correlationID]; ok {
		return false
	}
	c.subscribed[correlationID] = struct{}{}
	return true
}

// Apply ingests one live-status update. Later Merged calls re-derive the
// display status of every summary sharing the correlationId.
func (c *Correlator) Apply(status domain.LiveStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live[status.CorrelationID] = status
}

// Forget drops the live entry for a finished run, typically after the
// durable record has landed and reconciliation is done.
func (c *Correlator) Forget(correlationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.live, correlationID)
	delete(c.subscribed, correlationID)
}

// LoadMore fetches the next page of durable summaries (ordered by
// last-updated descending) and appends only those whose id has not been
// seen. A short page turns "more available" off.
func (c *Correlator) LoadMore(ctx context.Context) error {
	c.mu.RLock()
	offset := len(c.summaries)
	c.mu.RUnlock()

	page, err := c.source.ListSummaries(ctx, c.pageSize, offset)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range page {
		if _, dup := c.seen[s.ID]; dup {
			continue
		}
		c.seen[s.ID] = struct{}{}
		c.summaries = append(c.summaries, s)

		// Every ongoing summary with a known correlationId gets a feed
		// subscription so updates reach it.
		if s.Status == domain.ConversationOngoing && s.CorrelationID != "" {
			c.subscribed[s.CorrelationID] = struct{}{}
		}
	}
	c.hasMore = len(page) >= c.pageSize
	return nil
}

// HasMore reports whether another page may be available.
func (c *Correlator) HasMore() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasMore
}

// Merged projects the current (summaries, live statuses) pair into the
// view served to the UI. Pure with respect to the correlator state: it
// mutates nothing and is safe to call repeatedly.
func (c *Correlator) Merged() []domain.ConversationView {
	c.mu.RLock()
	defer c.mu.RUnlock()

	views := make([]domain.ConversationView, 0, len(c.summaries))
	for _, s := range c.summaries {
		views = append(views, mergeOne(s, c.live))
	}
	return views
}

func mergeOne(s domain.ConversationSummary, live map[string]domain.LiveStatus) domain.ConversationView {
	view := domain.ConversationView{
		ConversationSummary: s,
		DisplayStatus:       s.Status,
	}

	status, ok := live[s.CorrelationID]
	if !ok || s.CorrelationID == "" {
		return view
	}

	ls := status
	view.Live = &ls

	// Promotion rule: the stream dropped after reaching a terminal phase,
	// so the run is over even though the durable record still says
	// ongoing. Promote locally; the durable status field is untouched.
	if s.Status == domain.ConversationOngoing && !status.Connected && domain.TerminalPhase(status.Phase) {
		view.DisplayStatus = domain.ConversationCompleted
	}
	return view
}
