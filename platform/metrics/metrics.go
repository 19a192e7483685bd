// Package metrics provides Prometheus instrumentation for the application.
// This is part of the platform layer and contains no business logic.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the application's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	// DispatchOutcomes counts per-recipient dispatch results by outcome.
	DispatchOutcomes *prometheus.CounterVec
	// ProviderCallDuration observes upstream provider call latency by provider.
	ProviderCallDuration *prometheus.HistogramVec
	// WebhookEvents counts normalized webhook events by provider and whether
	// the reconciliation engine applied them.
	WebhookEvents *prometheus.CounterVec
	// CreditDeductions counts credit ledger deductions by reason.
	CreditDeductions *prometheus.CounterVec
	// DuplicatesBlocked counts sends suppressed by the duplicate detector.
	DuplicatesBlocked prometheus.Counter
}

// New creates and registers the application collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		DispatchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campaign_dispatch_outcomes_total",
			Help: "Per-recipient dispatch outcomes.",
		}, []string{"outcome"}),
		ProviderCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "provider_call_duration_seconds",
			Help:    "Upstream provider send call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Normalized provider webhook events.",
		}, []string{"provider", "applied"}),
		CreditDeductions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_deductions_total",
			Help: "Tenant credit deductions.",
		}, []string{"reason"}),
		DuplicatesBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duplicates_blocked_total",
			Help: "Sends suppressed by the duplicate detector.",
		}),
	}

	registry.MustRegister(
		m.DispatchOutcomes,
		m.ProviderCallDuration,
		m.WebhookEvents,
		m.CreditDeductions,
		m.DuplicatesBlocked,
	)

	return m
}

// Handler returns a gin handler serving the /metrics endpoint.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
