package live

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/shaloml/cui/internal/domain"
	"go.uber.org/zap"
)

// fakeSource serves fixed summaries in pages, newest first.
type fakeSource struct {
	summaries []domain.ConversationSummary
	calls     int
	err       error
}

func (f *fakeSource) ListSummaries(_ context.Context, limit, offset int) ([]domain.ConversationSummary, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if offset >= len(f.summaries) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.summaries) {
		end = len(f.summaries)
	}
	return f.summaries[offset:end], nil
}

func summary(id, correlationID string, status domain.ConversationStatus) domain.ConversationSummary {
	return domain.ConversationSummary{
		ID:            id,
		CorrelationID: correlationID,
		Title:         "conversation " + id,
		Status:        status,
		UpdatedAt:     time.Now(),
	}
}

func TestMergedAttachesLiveStatus(t *testing.T) {
	src := &fakeSource{summaries: []domain.ConversationSummary{
		summary("c1", "run-1", domain.ConversationOngoing),
		summary("c2", "", domain.ConversationCompleted),
	}}
	c := NewCorrelator(src, 10, zap.NewNop())
	if err := c.LoadMore(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	c.Apply(domain.LiveStatus{CorrelationID: "run-1", Phase: domain.PhaseRunning, Connected: true})

	views := c.Merged()
	if len(views) != 2 {
		t.Fatalf("want 2 views, got %d", len(views))
	}
	if views[0].Live == nil || views[0].Live.Phase != domain.PhaseRunning {
		t.Fatalf("live status not attached: %+v", views[0])
	}
	// Connected run in a non-terminal phase: supplementary data only, no
	// status change.
	if views[0].DisplayStatus != domain.ConversationOngoing {
		t.Fatalf("status must not change while connected, got %s", views[0].DisplayStatus)
	}
	if views[1].Live != nil {
		t.Fatalf("summary without correlation id must stay bare: %+v", views[1])
	}
}

func TestMergedPromotesDroppedTerminalRun(t *testing.T) {
	src := &fakeSource{summaries: []domain.ConversationSummary{
		summary("c1", "run-1", domain.ConversationOngoing),
	}}
	c := NewCorrelator(src, 10, zap.NewNop())
	if err := c.LoadMore(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	// Dropped connection, but the last phase was not terminal: no promotion.
	c.Apply(domain.LiveStatus{CorrelationID: "run-1", Phase: domain.PhaseRunning, Connected: false})
	if got := c.Merged()[0].DisplayStatus; got != domain.ConversationOngoing {
		t.Fatalf("non-terminal drop must not promote, got %s", got)
	}

	// Dropped after a terminal phase: promoted locally to completed.
	c.Apply(domain.LiveStatus{CorrelationID: "run-1", Phase: domain.PhaseCompleted, Connected: false})
	if got := c.Merged()[0].DisplayStatus; got != domain.ConversationCompleted {
		t.Fatalf("terminal drop must promote, got %s", got)
	}
	// The durable status field is untouched.
	if got := c.Merged()[0].Status; got != domain.ConversationOngoing {
		t.Fatalf("durable status mutated to %s", got)
	}
}

func TestMergedIsRepeatable(t *testing.T) {
	src := &fakeSource{summaries: []domain.ConversationSummary{
		summary("c1", "run-1", domain.ConversationOngoing),
		summary("c2", "run-2", domain.ConversationOngoing),
	}}
	c := NewCorrelator(src, 10, zap.NewNop())
	if err := c.LoadMore(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	c.Apply(domain.LiveStatus{CorrelationID: "run-1", Phase: domain.PhaseCompleted, Connected: false})

	first := c.Merged()
	second := c.Merged()
	if !reflect.DeepEqual(first, second) {
		t.Fatal("projection must be repeatable for the same inputs")
	}
}

func TestLoadMorePaginationAndDedup(t *testing.T) {
	var all []domain.ConversationSummary
	for i := 0; i < 5; i++ {
		all = append(all, summary(fmt.Sprintf("c%d", i), "", domain.ConversationCompleted))
	}
	src := &fakeSource{summaries: all}
	c := NewCorrelator(src, 2, zap.NewNop())

	if err := c.LoadMore(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(c.Merged()) != 2 || !c.HasMore() {
		t.Fatalf("after page 1: %d views, hasMore=%v", len(c.Merged()), c.HasMore())
	}

	// The durable store may shift under pagination: a fresh conversation
	// jumps to the head and pushes already-seen ids into later pages. A
	// re-served id must not appear twice.
	src.summaries = append([]domain.ConversationSummary{summary("fresh", "", domain.ConversationCompleted)}, all...)
	if err := c.LoadMore(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	seen := map[string]int{}
	for _, v := range c.Merged() {
		seen[v.ID]++
		if seen[v.ID] > 1 {
			t.Fatalf("duplicate summary id %s", v.ID)
		}
	}

	// Drain the rest; the short final page flips hasMore off.
	for i := 0; c.HasMore(); i++ {
		if i > 10 {
			t.Fatal("hasMore never turned off")
		}
		if err := c.LoadMore(context.Background()); err != nil {
			t.Fatalf("load failed: %v", err)
		}
	}
	if len(c.Merged()) != 5 {
		t.Fatalf("want all 5 summaries after drain, got %d", len(c.Merged()))
	}
}

func TestSubscribeIdempotent(t *testing.T) {
	c := NewCorrelator(&fakeSource{}, 10, zap.NewNop())

	if !c.Subscribe("run-1") {
		t.Fatal("first subscribe should report new")
	}
	if c.Subscribe("run-1") {
		t.Fatal("re-subscribe must be a no-op")
	}
	if c.Subscribe("") {
		t.Fatal("empty correlation id must not subscribe")
	}

	c.Forget("run-1")
	if !c.Subscribe("run-1") {
		t.Fatal("subscribe after forget should report new again")
	}
}
