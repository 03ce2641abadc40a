package live

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shaloml/cui/internal/domain"
	"github.com/shaloml/cui/internal/infra"
	"go.uber.org/zap"
)

// Listener feeds the correlator from the redis live-status channel. The
// feed is best-effort: a lost subscription degrades the UI to durable
// statuses only, it never affects mediation semantics.
type Listener struct {
	rdb        *redis.Client
	correlator *Correlator
	logger     *zap.Logger
}

func NewListener(rdb *redis.Client, correlator *Correlator, logger *zap.Logger) *Listener {
	return &Listener{
		rdb:        rdb,
		correlator: correlator,
		logger:     logger.Named("live-listener"),
	}
}

// Run subscribes to the live-status channel and keeps the subscription
// alive across reconnects until the context is cancelled.
func (l *Listener) Run(ctx context.Context) {
	for {
		pubsub := l.rdb.Subscribe(ctx, infra.RedisChanLiveStatus)

		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			l.logger.Error("live status subscribe failed, retrying",
				zap.String("chan", infra.RedisChanLiveStatus), zap.Error(err))
			select {
			case <-time.After(5 * time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // channel closed, resubscribe
				}
				l.process(msg.Payload)
			}
		}
		pubsub.Close()
	}
}

func (l *Listener) process(payload string) {
	var status domain.LiveStatus
	if err := json.Unmarshal([]byte(payload), &status); err != nil {
		l.logger.Error("invalid live status payload",
			zap.String("payload", payload), zap.Error(err))
		return
	}
	if status.CorrelationID == "" {
		l.logger.Warn("live status without correlation id dropped")
		return
	}
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now()
	}
	l.correlator.Apply(status)
}
