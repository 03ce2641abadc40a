package push

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ThrottleError lets a sink report an explicit backoff hint (for example a
// parsed Retry-After) that overrides the exponential delay.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// ReliableSink shields the event loop from a misbehaving transport: a rate
// limiter smooths bursts from noisy agent runs, the breaker stops hammering
// a dead redis, and short retries absorb transient blips.
type ReliableSink struct {
	next    Sink
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewReliableSink(next Sink) *ReliableSink {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "push-sink",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second, // time before the breaker retries a half-open probe
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	// Push traffic is one message per lifecycle transition; 100/s with a
	// small burst is far above any legitimate load.
	limiter := rate.NewLimiter(rate.Limit(100), 20)

	return &ReliableSink{
		next:    next,
		cb:      cb,
		limiter: limiter,
	}
}

func (s *ReliableSink) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			return s.next.Publish(tCtx, channel, payload)
		})
		return nil, retryErr
	})
	return err
}
