// Package push forwards mediation lifecycle events onto redis pub/sub so
// UI sessions receive pushed updates instead of polling. The channel is an
// optimization layered over the HTTP contract: losing it degrades latency,
// never correctness, so every failure here is contained.
package push

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shaloml/cui/internal/domain"
	"github.com/shaloml/cui/internal/infra"
	"go.uber.org/zap"
)

// Sink publishes one serialized event. RedisSink is the production
// implementation; ReliableSink wraps any Sink with failure containment.
type Sink interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type RedisSink struct {
	rdb *redis.Client
}

func NewRedisSink(rdb *redis.Client) *RedisSink {
	return &RedisSink{rdb: rdb}
}

func (s *RedisSink) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := s.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish to %s: %w", channel, err)
	}
	return nil
}

// Forwarder drains a store event subscription and publishes each event to
// the shared broadcast channel, plus a per-run channel for decided events
// so a UI session can watch a single agent run.
type Forwarder struct {
	events <-chan domain.Event
	cancel func()
	sink   Sink
	logger *zap.Logger
	done   chan struct{}
}

func NewForwarder(events <-chan domain.Event, cancel func(), sink Sink, logger *zap.Logger) *Forwarder {
	return &Forwarder{
		events: events,
		cancel: cancel,
		sink:   sink,
		logger: logger.Named("push-forwarder"),
		done:   make(chan struct{}),
	}
}

// Start consumes events until the subscription channel closes.
func (f *Forwarder) Start(ctx context.Context) {
	go func() {
		defer close(f.done)
		for ev := range f.events {
			f.publish(ctx, ev)
		}
	}()
}

// Stop unsubscribes from the store and waits for the in-flight event to be
// published.
func (f *Forwarder) Stop() {
	f.cancel()
	<-f.done
}

func (f *Forwarder) publish(ctx context.Context, ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		f.logger.Error("failed to encode event", zap.Error(err))
		return
	}

	if err := f.sink.Publish(ctx, infra.RedisChanMediationEvents, payload); err != nil {
		// Best-effort by contract: log and move on, a waiting agent still
		// resolves via polling and a UI still sees the change on refresh.
		f.logger.Warn("push signal delivery failed",
			zap.String("type", string(ev.Type)),
			zap.String("request_id", ev.Request.ID),
			zap.Error(err))
		return
	}

	if ev.Type == domain.EventRequestDecided {
		ch := infra.MediationDecisionChannel(ev.Request.CorrelationID)
		if err := f.sink.Publish(ctx, ch, payload); err != nil {
			f.logger.Warn("per-run decision signal failed",
				zap.String("channel", ch), zap.Error(err))
		}
	}
}
