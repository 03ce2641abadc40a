package mediation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shaloml/cui/internal/domain"
)

type Metrics struct {
	// Traffic: created mediation requests by kind
	RequestsTotal *prometheus.CounterVec

	// Outcomes: decisions by kind and resulting status
	DecisionsTotal *prometheus.CounterVec

	// Latency: how long a human took to decide, from creation to decision
	DecisionLatency *prometheus.HistogramVec
}

// NewMetrics registers the mediation metric set. A pending-requests gauge
// is registered as a GaugeFunc reading straight from the store, so it can
// never drift from the real count.
func NewMetrics(reg prometheus.Registerer, store *Store) *Metrics {
	// Null Object: callers without a registry get unregistered metrics.
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mediation_pending_requests",
		Help: "Number of mediation requests currently awaiting a decision.",
	}, func() float64 { return float64(store.PendingCount()) }))

	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "mediation_requests_total",
			Help: "Total number of mediation requests created.",
		}, []string{"kind"}),

		DecisionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "mediation_decisions_total",
			Help: "Total number of decisions by kind and outcome.",
		}, []string{"kind", "status"}),

		DecisionLatency: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mediation_decision_latency_seconds",
			Help:    "Time between request creation and the human decision.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"kind"}),
	}
}

// Observe consumes one lifecycle event from the store's subscription
// stream and updates the counters.
func (m *Metrics) Observe(ev domain.Event) {
	kind := string(ev.Request.Kind)
	switch ev.Type {
	case domain.EventRequestCreated:
		m.RequestsTotal.WithLabelValues(kind).Inc()
	case domain.EventRequestDecided:
		m.DecisionsTotal.WithLabelValues(kind, string(ev.Request.Status)).Inc()
		if ev.Request.DecidedAt != nil {
			latency := ev.Request.DecidedAt.Sub(ev.Request.CreatedAt).Seconds()
			m.DecisionLatency.WithLabelValues(kind).Observe(latency)
		}
	}
}
