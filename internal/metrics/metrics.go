package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gate outcomes
const (
	GateBypassed    = "bypassed"
	GatePassthrough = "passthrough"
	GateRefreshed   = "refreshed"
	GateRedirected  = "redirected"
)

// Webhook outcomes
const (
	WebhookApplied  = "applied"
	WebhookIgnored  = "ignored"
	WebhookRejected = "rejected"
	WebhookFailed   = "failed"
)

// Metrics holds the Prometheus collectors for the session gate and billing.
type Metrics struct {
	GateRequestsTotal       *prometheus.CounterVec
	WebhookEventsTotal      *prometheus.CounterVec
	BestEffortFailuresTotal *prometheus.CounterVec
}

// New creates the collectors and registers them on registry.
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		GateRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "familynest_gate_requests_total",
				Help: "Requests seen by the session gate, by outcome",
			},
			[]string{"outcome"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "familynest_webhook_events_total",
				Help: "Stripe webhook deliveries, by event type and outcome",
			},
			[]string{"event_type", "outcome"},
		),
		BestEffortFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "familynest_best_effort_failures_total",
				Help: "Secondary side effects that failed and were suppressed",
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(
		m.GateRequestsTotal,
		m.WebhookEventsTotal,
		m.BestEffortFailuresTotal,
	)
	return m
}

// NewNop returns collectors that are not registered anywhere. Tests and
// callers without a registry use it.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) Gate(outcome string) {
	if m == nil {
		return
	}
	m.GateRequestsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Webhook(eventType, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) BestEffortFailure(operation string) {
	if m == nil {
		return
	}
	m.BestEffortFailuresTotal.WithLabelValues(operation).Inc()
}

// RegisterEndpoint registers the /metrics endpoint
func RegisterEndpoint(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
