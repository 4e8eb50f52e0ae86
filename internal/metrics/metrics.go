// Package metrics exposes Prometheus collectors for lead intake, CRM sync and
// conversion reconciliation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/leadsync/internal/resilience"
)

const namespace = "leadsync"

// Metrics holds the application's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	reg prometheus.Gatherer

	leads         *prometheus.CounterVec
	leadScore     prometheus.Histogram
	crmCalls      *prometheus.CounterVec
	notifications *prometheus.CounterVec
	touches       *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
	conversions   *prometheus.CounterVec
	runs          *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		reg: reg,
		leads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leads_total",
			Help:      "Lead submissions by outcome.",
		}, []string{"outcome"}),
		leadScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lead_score",
			Help:      "Server-computed lead scores.",
			Buckets:   []float64{4, 9, 14, 20},
		}),
		crmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crm_calls_total",
			Help:      "CRM calls by operation and result.",
		}, []string{"op", "result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Hot-lead notifications by result.",
		}, []string{"result"}),
		touches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attribution_touches_total",
			Help:      "Recorded attribution touches by kind (first or repeat).",
		}, []string{"kind"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open).",
		}, []string{"name"}),
		conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_total",
			Help:      "Conversion events by delivery mode.",
		}, []string{"mode"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_runs_total",
			Help:      "Reconciliation runs by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.leads, m.leadScore, m.crmCalls, m.notifications, m.touches,
		m.breakerState, m.conversions, m.runs,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Lead records a submission outcome and, for scored leads, its score.
func (m *Metrics) Lead(outcome string, score int) {
	if m == nil {
		return
	}
	m.leads.WithLabelValues(outcome).Inc()
	if score >= 0 {
		m.leadScore.Observe(float64(score))
	}
}

// CRMCall records a CRM call result.
func (m *Metrics) CRMCall(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = resilience.Classify(err)
	}
	m.crmCalls.WithLabelValues(op, result).Inc()
}

// Notification records a notification attempt.
func (m *Metrics) Notification(err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.notifications.WithLabelValues(result).Inc()
}

// Touch records an attribution touch.
func (m *Metrics) Touch(first bool) {
	if m == nil {
		return
	}
	kind := "repeat"
	if first {
		kind = "first"
	}
	m.touches.WithLabelValues(kind).Inc()
}

// BreakerStateChange matches resilience.BreakerConfig.OnStateChange.
func (m *Metrics) BreakerStateChange(name string, _, to resilience.State) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(float64(to))
}

// Conversions adds n conversions delivered through mode.
func (m *Metrics) Conversions(mode string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.conversions.WithLabelValues(mode).Add(float64(n))
}

// Run records a finished reconciliation run.
func (m *Metrics) Run(result string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
}
