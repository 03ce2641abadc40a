package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shaloml/cui/internal/domain"
	"go.uber.org/zap"
)

type memStorage struct {
	mu      sync.Mutex
	records []DecisionRecord
	batches int
}

func (m *memStorage) WriteBatch(_ context.Context, records []DecisionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	m.batches++
	return nil
}

func TestTrailFlushesOnStop(t *testing.T) {
	storage := &memStorage{}
	trail := NewTrail(storage, zap.NewNop())
	trail.Start()

	for i := 0; i < 7; i++ {
		trail.Log(DecisionRecord{RequestID: "req", CorrelationID: "run-1"})
	}
	trail.Stop()

	if len(storage.records) != 7 {
		t.Fatalf("want all 7 records flushed on stop, got %d", len(storage.records))
	}
	for _, r := range storage.records {
		if r.ID == "" {
			t.Fatal("record id must be assigned on intake")
		}
	}
}

func TestRecordFromEvent(t *testing.T) {
	created := time.Now().Add(-30 * time.Second)
	decided := time.Now()
	approved := true

	ev := domain.Event{
		Type: domain.EventRequestDecided,
		Request: domain.MediationRequest{
			ID:            "req-1",
			CorrelationID: "run-1",
			Kind:          domain.KindPermission,
			Status:        domain.StatusApproved,
			CreatedAt:     created,
			Permission:    &domain.PermissionPayload{ToolName: "edit_file"},
			Decision:      &domain.Decision{Approved: &approved},
			DecidedAt:     &decided,
		},
	}

	record, ok := RecordFromEvent(ev)
	if !ok {
		t.Fatal("decided event must produce a record")
	}
	if record.Status != "approved" || record.Kind != "permission" {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.WaitedMs < 29_000 {
		t.Fatalf("waited duration wrong: %d", record.WaitedMs)
	}

	if _, ok := RecordFromEvent(domain.Event{Type: domain.EventRequestCreated}); ok {
		t.Fatal("created events are not recorded")
	}
}
