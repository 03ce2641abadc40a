package mediate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shaloml/cui/internal/domain"
	"github.com/shaloml/cui/internal/mediation"
	"go.uber.org/zap"
)

func newBrokerFixture(t *testing.T) (*mediation.Gateway, domain.MediationRequest) {
	t.Helper()
	g := mediation.NewGateway(mediation.NewStore(zap.NewNop()), zap.NewNop())
	req, err := g.Notify(mediation.NotifyInput{
		Kind:          domain.KindPermission,
		Payload:       json.RawMessage(`{"toolName":"edit_file","toolInput":{"path":"main.go"}}`),
		CorrelationID: "run-1",
	})
	if err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	return g, req
}

// gatewayLister adapts a real gateway to the waiter's client interface and
// lets a test inject a decide call mid-flight.
type gatewayLister struct {
	g *mediation.Gateway

	phaseACalls int
	phaseBCalls int

	// decide is invoked while phase A call number decideOnCall is in
	// flight: the pending snapshot the waiter receives is taken after the
	// decision committed.
	decideOnCall int
	decide       func()
	decided      bool

	phaseAErr error
	phaseBErr error
}

func (l *gatewayLister) Requests(_ context.Context, correlationID string, status domain.RequestStatus) ([]domain.MediationRequest, error) {
	if status == domain.StatusPending {
		l.phaseACalls++
		if l.phaseAErr != nil {
			return nil, l.phaseAErr
		}
		if l.decide != nil && !l.decided && l.phaseACalls == l.decideOnCall {
			l.decide()
			l.decided = true
		}
		return l.g.List(mediation.Filter{CorrelationID: correlationID, Status: status}), nil
	}
	l.phaseBCalls++
	if l.phaseBErr != nil {
		return nil, l.phaseBErr
	}
	return l.g.List(mediation.Filter{CorrelationID: correlationID}), nil
}

func newTestWaiter(client RequestLister) *Waiter {
	return NewWaiter(WaiterConfig{
		Client:        client,
		CorrelationID: "run-1",
		PollInterval:  time.Millisecond,
		WaitTimeout:   5 * time.Second,
	})
}

// The core race the two-phase design exists to close: the request is
// pending during earlier iterations and the decision lands in the window
// between phase A and phase B of iteration N. The waiter must resolve with
// that decision in iteration N, not N+1.
func TestTwoPhaseRaceResolvesInSameIteration(t *testing.T) {
	g, req := newBrokerFixture(t)

	approved := true
	lister := &gatewayLister{
		g:            g,
		decideOnCall: 3,
		decide: func() {
			if err := g.Decide(req.ID, mediation.DecideInput{Approved: &approved}); err != nil {
				t.Errorf("injected decide failed: %v", err)
			}
		},
	}

	out, err := newTestWaiter(lister).Await(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}

	if out.Resolution != ResolutionDecided {
		t.Fatalf("want decided, got %s", out.Resolution)
	}
	if out.Status != domain.StatusApproved || out.Decision == nil || out.Decision.Approved == nil || !*out.Decision.Approved {
		t.Fatalf("wrong decision carried back: %+v", out)
	}
	// Same iteration: the phase A call that missed the request must be the
	// last one, followed by exactly one phase B call.
	if lister.phaseACalls != 3 {
		t.Fatalf("resolved in iteration %d, want 3", lister.phaseACalls)
	}
	if lister.phaseBCalls != 1 {
		t.Fatalf("phase B ran %d times, want 1", lister.phaseBCalls)
	}
}

func TestAwaitTimesOutAndFailsClosed(t *testing.T) {
	g, req := newBrokerFixture(t)
	lister := &gatewayLister{g: g} // nobody ever decides

	w := NewWaiter(WaiterConfig{
		Client:        lister,
		CorrelationID: "run-1",
		PollInterval:  time.Millisecond,
		WaitTimeout:   25 * time.Millisecond,
	})

	start := time.Now()
	out, err := w.Await(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if out.Resolution != ResolutionTimeout {
		t.Fatalf("want timeout, got %s", out.Resolution)
	}
	if out.Status != domain.StatusDenied || out.Decision == nil || *out.Decision.Approved {
		t.Fatalf("timeout must synthesize a denial, got %+v", out)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Fatalf("resolved before the wall-clock budget: %v", elapsed)
	}
}

func TestAwaitVanishedRequestResolvesWithoutLooping(t *testing.T) {
	g, _ := newBrokerFixture(t)
	lister := &gatewayLister{g: g}

	// An id the broker has never seen: absent from phase A, absent from
	// phase B. Must resolve immediately instead of polling forever.
	out, err := newTestWaiter(lister).Await(context.Background(), "ghost-id")
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if out.Resolution != ResolutionVanished {
		t.Fatalf("want vanished, got %s", out.Resolution)
	}
	if out.Status != domain.StatusDenied {
		t.Fatalf("vanished must fail closed, got %s", out.Status)
	}
	if lister.phaseACalls != 1 || lister.phaseBCalls != 1 {
		t.Fatalf("expected a single two-phase iteration, got A=%d B=%d", lister.phaseACalls, lister.phaseBCalls)
	}
}

func TestAwaitTransportErrorIsFatal(t *testing.T) {
	g, req := newBrokerFixture(t)
	transportErr := errors.New("connection refused")

	// Phase A failure.
	lister := &gatewayLister{g: g, phaseAErr: transportErr}
	if _, err := newTestWaiter(lister).Await(context.Background(), req.ID); !errors.Is(err, transportErr) {
		t.Fatalf("phase A transport error must propagate, got %v", err)
	}
	if lister.phaseACalls != 1 {
		t.Fatalf("transport errors must not be retried, got %d calls", lister.phaseACalls)
	}

	// Phase B failure: reachable only once phase A reports the id absent.
	lister = &gatewayLister{g: g, phaseBErr: transportErr}
	if _, err := newTestWaiter(lister).Await(context.Background(), "ghost-id"); !errors.Is(err, transportErr) {
		t.Fatalf("phase B transport error must propagate, got %v", err)
	}
	if lister.phaseBCalls != 1 {
		t.Fatalf("transport errors must not be retried, got %d calls", lister.phaseBCalls)
	}
}
