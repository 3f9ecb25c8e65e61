// Package metrics exposes membership lifecycle health counters through the
// Prometheus default registry, scraped from the server's /metrics endpoint.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	CheckoutOutcomeCreated     = "created"
	CheckoutOutcomeUnavailable = "unavailable"
	CheckoutOutcomeError       = "error"
)

// Config carries low-cardinality const labels for all series.
type Config struct {
	ServiceName string
	Environment string
}

// Metrics captures membership lifecycle and payment ingestion signals.
type Metrics struct {
	transitions      *prometheus.CounterVec
	paymentEvents    *prometheus.CounterVec
	checkoutSessions *prometheus.CounterVec
	sweepRuns        *prometheus.CounterVec
	sweepExpired     *prometheus.CounterVec
	sweepDuration    prometheus.Observer
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// Default returns the singleton metrics registry.
func Default() *Metrics {
	return WithConfig(Config{})
}

// WithConfig returns the singleton metrics registry using config labels.
func WithConfig(cfg Config) *Metrics {
	metricsOnce.Do(func() {
		metrics = newMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return metrics
}

// ResetForTest resets the metrics singleton for tests.
func ResetForTest() {
	metricsOnce = sync.Once{}
	metrics = nil
}

func newMetrics(registerer prometheus.Registerer, cfg Config) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "homecare"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "homecare_membership_transition_total",
		Help:        "Membership lifecycle transitions by from/to status.",
		ConstLabels: constLabels,
	}, []string{"from", "to"})
	paymentEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "homecare_payment_event_total",
		Help:        "Gateway webhook events ingested by provider and type.",
		ConstLabels: constLabels,
	}, []string{"provider", "type"})
	checkoutSessions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "homecare_checkout_session_total",
		Help:        "Redirect checkout sessions requested by provider and outcome.",
		ConstLabels: constLabels,
	}, []string{"provider", "outcome"})
	sweepRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "homecare_sweep_runs_total",
		Help:        "Expiry sweep runs by job.",
		ConstLabels: constLabels,
	}, []string{"job"})
	sweepExpired := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "homecare_sweep_expired_total",
		Help:        "Memberships flipped to EXPIRED by sweep job.",
		ConstLabels: constLabels,
	}, []string{"job"})
	sweepDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "homecare_sweep_duration_seconds",
		Help:        "Expiry sweep latency.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		transitions,
		paymentEvents,
		checkoutSessions,
		sweepRuns,
		sweepExpired,
		sweepDuration,
	)

	return &Metrics{
		transitions:      transitions,
		paymentEvents:    paymentEvents,
		checkoutSessions: checkoutSessions,
		sweepRuns:        sweepRuns,
		sweepExpired:     sweepExpired,
		sweepDuration:    sweepDuration,
	}
}

// RecordTransition increments the lifecycle transition counter.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordPaymentEvent increments the ingested webhook event counter.
func (m *Metrics) RecordPaymentEvent(provider, eventType string) {
	if m == nil || m.paymentEvents == nil {
		return
	}
	m.paymentEvents.WithLabelValues(provider, eventType).Inc()
}

// RecordCheckout increments the checkout session counter.
func (m *Metrics) RecordCheckout(provider, outcome string) {
	if m == nil || m.checkoutSessions == nil {
		return
	}
	m.checkoutSessions.WithLabelValues(provider, outcome).Inc()
}

// RecordSweep records one sweep run with its expired row count and latency.
func (m *Metrics) RecordSweep(job string, expired int64, duration time.Duration) {
	if m == nil {
		return
	}
	if m.sweepRuns != nil {
		m.sweepRuns.WithLabelValues(job).Inc()
	}
	if m.sweepExpired != nil && expired > 0 {
		m.sweepExpired.WithLabelValues(job).Add(float64(expired))
	}
	if m.sweepDuration != nil {
		m.sweepDuration.Observe(duration.Seconds())
	}
}
