package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "authface"

// Outcome label values
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	logins             *prometheus.CounterVec
	tokensIssued       *prometheus.CounterVec
	tokenVerifications *prometheus.CounterVec
	sessionsActive     prometheus.Gauge
	sessionsEvicted    prometheus.Counter
	snapshotStores     *prometheus.CounterVec
	exchangeLatency    *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors on a fresh registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Completed provider logins by provider and outcome.",
		}, []string{"provider", "outcome"}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Bearer tokens minted, by reason (login or refresh).",
		}, []string{"reason"}),
		tokenVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_verifications_total",
			Help:      "Token verifications by outcome.",
		}, []string{"outcome"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently held in the registry.",
		}),
		sessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Sessions removed by expiry cleanup.",
		}),
		snapshotStores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_store_total",
			Help:      "Session snapshot writes by outcome.",
		}, []string{"outcome"}),
		exchangeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_exchange_seconds",
			Help:      "Latency of the code exchange and userinfo round trip.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.logins,
		m.tokensIssued,
		m.tokenVerifications,
		m.sessionsActive,
		m.sessionsEvicted,
		m.snapshotStores,
		m.exchangeLatency,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordLogin counts a login attempt
func (m *Metrics) RecordLogin(provider, outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(provider, outcome).Inc()
}

// RecordExchangeLatency observes one provider round trip
func (m *Metrics) RecordExchangeLatency(provider string, seconds float64) {
	if m == nil {
		return
	}
	m.exchangeLatency.WithLabelValues(provider).Observe(seconds)
}

// RecordTokenIssued counts a minted token
func (m *Metrics) RecordTokenIssued(reason string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(reason).Inc()
}

// RecordTokenVerification counts a verification by outcome
func (m *Metrics) RecordTokenVerification(outcome string) {
	if m == nil {
		return
	}
	m.tokenVerifications.WithLabelValues(outcome).Inc()
}

// SetActiveSessions records the registry size
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}

// RecordEvictions counts sessions removed by cleanup
func (m *Metrics) RecordEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsEvicted.Add(float64(n))
}

// RecordSnapshotStore counts a snapshot write by outcome
func (m *Metrics) RecordSnapshotStore(outcome string) {
	if m == nil {
		return
	}
	m.snapshotStores.WithLabelValues(outcome).Inc()
}
