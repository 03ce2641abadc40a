// Package audit persists an append-only trail of mediation decisions.
// Writes are batched off the hot path: a slow database never delays the
// decide response the human is waiting on.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StorageInterface is where batches physically land.
type StorageInterface interface {
	WriteBatch(ctx context.Context, records []DecisionRecord) error
}

type Trail struct {
	ch     chan DecisionRecord
	repo   StorageInterface
	logger *zap.Logger
	wg     sync.WaitGroup

	// guards Log against racing a Stop; the channel close is the real
	// shutdown signal
	isClosed int32
}

func NewTrail(repo StorageInterface, logger *zap.Logger) *Trail {
	return &Trail{
		ch:     make(chan DecisionRecord, 10000),
		repo:   repo,
		logger: logger.With(zap.String("mod", "decision-trail")),
	}
}

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop locks the intake and waits for the worker to drain and flush the
// remaining buffer. Records accepted before Stop are never lost to a
// clean shutdown.
func (t *Trail) Stop() {
	atomic.StoreInt32(&t.isClosed, 1)
	time.Sleep(10 * time.Millisecond) // let in-flight Log calls pass

	t.logger.Info("stopping decision trail: closing channel and flushing buffer")
	close(t.ch)
	t.wg.Wait()
	t.logger.Info("decision trail stopped")
}

// Log queues one record. Load shedding: when the buffer is full the record
// is dropped with an error log rather than blocking the event loop.
func (t *Trail) Log(record DecisionRecord) {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if atomic.LoadInt32(&t.isClosed) == 1 {
		t.logger.Warn("decision record dropped: trail is stopping",
			zap.String("request_id", record.RequestID))
		return
	}

	select {
	case t.ch <- record:
	default:
		t.logger.Error("decision_trail_overflow",
			zap.String("request_id", record.RequestID),
			zap.String("correlation_id", record.CorrelationID))
	}
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]DecisionRecord, 0, 100)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background context: the parent may already be gone during the
		// final flush.
		if err := t.repo.WriteBatch(context.Background(), batch); err != nil {
			t.logger.Error("decision trail flush failed", zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case record, ok := <-t.ch:
			if !ok {
				flush()
				t.logger.Info("decision trail worker finished")
				return
			}
			batch = append(batch, record)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
