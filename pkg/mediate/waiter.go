package mediate

import (
	"context"
	"fmt"
	"time"

	"github.com/shaloml/cui/internal/domain"
	"go.uber.org/zap"
)

// Poll constants. Fixed by design; tests inject smaller values through
// WaiterConfig.
const (
	DefaultPollInterval = 1 * time.Second
	DefaultWaitTimeout  = 1 * time.Hour
)

// Resolution classifies how a wait ended.
type Resolution string

const (
	// ResolutionDecided: a human decision was recorded on the broker.
	ResolutionDecided Resolution = "decided"
	// ResolutionTimeout: the wall-clock budget ran out; the synthesized
	// outcome is a denial (fail closed).
	ResolutionTimeout Resolution = "timeout"
	// ResolutionVanished: the request disappeared from the broker without
	// a decision, normally only after an end-of-run cleanup. Fails closed.
	ResolutionVanished Resolution = "vanished"
)

// Outcome is the terminal result of a wait, mapped by the caller into the
// tool-call return payload.
type Outcome struct {
	Resolution Resolution
	Status     domain.RequestStatus
	Decision   *domain.Decision
}

// waitState is the explicit poll state machine. Keeping the states named
// (rather than burying transitions in loop-exit conditions) keeps the
// timeout and failure paths in one place.
type waitState int

const (
	stateCreated waitState = iota
	statePolling
	stateResolved
)

type WaiterConfig struct {
	Client        RequestLister
	CorrelationID string

	// Zero values fall back to the defaults above.
	PollInterval time.Duration
	WaitTimeout  time.Duration

	Logger *zap.Logger
}

// Waiter runs the two-phase bounded poll for a single mediation request.
// There is no external cancel signal: a waiter always runs to a decision,
// a timeout, or a hard transport error. Run teardown relies on the
// broker's cleanup endpoint, which lands the waiter in ResolutionVanished.
type Waiter struct {
	client        RequestLister
	correlationID string
	interval      time.Duration
	timeout       time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

func NewWaiter(cfg WaiterConfig) *Waiter {
	w := &Waiter{
		client:        cfg.Client,
		correlationID: cfg.CorrelationID,
		interval:      cfg.PollInterval,
		timeout:       cfg.WaitTimeout,
		logger:        cfg.Logger,
		now:           time.Now,
	}
	if w.interval <= 0 {
		w.interval = DefaultPollInterval
	}
	if w.timeout <= 0 {
		w.timeout = DefaultWaitTimeout
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	return w
}

// Await polls the broker until the request identified by id is decided,
// times out, or vanishes. Transport failures are not retried: they
// terminate the wait with an error so a broker outage is never mistaken
// for a slow human. The returned error is nil for all three resolutions.
func (w *Waiter) Await(ctx context.Context, id string) (Outcome, error) {
	deadline := w.now().Add(w.timeout)
	state := stateCreated
	var out Outcome

	for state != stateResolved {
		switch state {
		case stateCreated:
			state = statePolling

		case statePolling:
			// Timeout check sits at the top of every iteration, before
			// phase A. Wall-clock based, so a slow round trip can overshoot
			// by at most one call.
			if !w.now().Before(deadline) {
				w.logger.Warn("mediation wait timed out",
					zap.String("request_id", id),
					zap.Duration("timeout", w.timeout))
				out = timeoutOutcome()
				state = stateResolved
				continue
			}

			if err := w.pause(ctx); err != nil {
				return Outcome{}, fmt.Errorf("mediate: wait interrupted: %w", err)
			}

			// Phase A: is the request still in the pending set?
			pending, err := w.client.Requests(ctx, w.correlationID, domain.StatusPending)
			if err != nil {
				return Outcome{}, fmt.Errorf("mediate: pending poll failed: %w", err)
			}
			if containsID(pending, id) {
				continue // no decision yet, remain polling
			}

			// Absent from the pending set is ambiguous: just decided, or
			// never there at all. Phase B disambiguates against the full
			// set. Decide may land at any point between the two phases;
			// that race is exactly what this phase closes.
			all, err := w.client.Requests(ctx, w.correlationID, "")
			if err != nil {
				return Outcome{}, fmt.Errorf("mediate: resolve poll failed: %w", err)
			}

			target, found := findID(all, id)
			switch {
			case found && !target.Pending():
				out = Outcome{
					Resolution: ResolutionDecided,
					Status:     target.Status,
					Decision:   target.Decision,
				}
				state = stateResolved
			case found:
				// Reappeared as pending: phase A raced a stale read.
				continue
			default:
				// Gone entirely. Resolve to an error outcome instead of
				// re-entering the loop, so store corruption or an early
				// cleanup cannot spin the waiter forever.
				w.logger.Error("mediation request vanished before decision",
					zap.String("request_id", id),
					zap.String("correlation_id", w.correlationID))
				out = vanishedOutcome()
				state = stateResolved
			}
		}
	}
	return out, nil
}

func (w *Waiter) pause(ctx context.Context) error {
	timer := time.NewTimer(w.interval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func timeoutOutcome() Outcome {
	denied := false
	return Outcome{
		Resolution: ResolutionTimeout,
		Status:     domain.StatusDenied,
		Decision: &domain.Decision{
			Approved:   &denied,
			DenyReason: "timed out waiting for a human decision",
		},
	}
}

func vanishedOutcome() Outcome {
	denied := false
	return Outcome{
		Resolution: ResolutionVanished,
		Status:     domain.StatusDenied,
		Decision: &domain.Decision{
			Approved:   &denied,
			DenyReason: "mediation request disappeared before a decision was recorded",
		},
	}
}

func containsID(requests []domain.MediationRequest, id string) bool {
	_, ok := findID(requests, id)
	return ok
}

func findID(requests []domain.MediationRequest, id string) (domain.MediationRequest, bool) {
	for _, r := range requests {
		if r.ID == id {
			return r, true
		}
	}
	return domain.MediationRequest{}, false
}
