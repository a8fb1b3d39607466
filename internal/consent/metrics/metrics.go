package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for consent lifecycle operations.
type Metrics struct {
	ConsentsCreated      *prometheus.CounterVec
	ConsentsDecided      *prometheus.CounterVec
	ConsentsRevoked      prometheus.Counter
	IdempotentReplays    prometheus.Counter
	CreateLatency        prometheus.Histogram
	DecideConflicts      prometheus.Counter
	ActiveConsentsTotal  prometheus.Gauge
}

// New registers and returns consent metrics collectors.
func New() *Metrics {
	return &Metrics{
		ConsentsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "datashare_consents_created_total",
			Help: "Total number of consents created, labeled by purpose",
		}, []string{"purpose"}),
		ConsentsDecided: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "datashare_consents_decided_total",
			Help: "Total number of consent decisions, labeled by outcome",
		}, []string{"outcome"}),
		ConsentsRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "datashare_consents_revoked_total",
			Help: "Total number of consents revoked",
		}),
		IdempotentReplays: promauto.NewCounter(prometheus.CounterOpts{
			Name: "datashare_consent_idempotent_replays_total",
			Help: "Total number of consent creations answered from the idempotency store",
		}),
		CreateLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "datashare_consent_create_latency_seconds",
			Help:    "Latency of consent create operations in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		DecideConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "datashare_consent_decide_conflicts_total",
			Help: "Total number of decide attempts rejected because the consent was already decided",
		}),
		ActiveConsentsTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "datashare_active_consents_total",
			Help: "Current number of approved, unexpired consents system-wide",
		}),
	}
}

func (m *Metrics) IncrementCreated(purpose string) {
	m.ConsentsCreated.WithLabelValues(purpose).Inc()
}

func (m *Metrics) IncrementDecided(outcome string) {
	m.ConsentsDecided.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementRevoked() {
	m.ConsentsRevoked.Inc()
}

func (m *Metrics) IncrementIdempotentReplays() {
	m.IdempotentReplays.Inc()
}

func (m *Metrics) ObserveCreateLatency(seconds float64) {
	m.CreateLatency.Observe(seconds)
}

func (m *Metrics) IncrementDecideConflicts() {
	m.DecideConflicts.Inc()
}

func (m *Metrics) AddActiveConsents(delta float64) {
	m.ActiveConsentsTotal.Add(delta)
}
