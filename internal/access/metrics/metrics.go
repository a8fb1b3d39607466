package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for data access decisions.
type Metrics struct {
	AccessRequests    *prometheus.CounterVec
	AccessDenials     *prometheus.CounterVec
	RecordLoadLatency prometheus.Histogram
	ConsentsConsumed  prometheus.Counter
}

// New registers and returns access gate metrics collectors.
func New() *Metrics {
	return &Metrics{
		AccessRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "datashare_access_requests_total",
			Help: "Total number of data access requests, labeled by outcome",
		}, []string{"outcome"}),
		AccessDenials: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "datashare_access_denials_total",
			Help: "Total number of denied data access requests, labeled by reason",
		}, []string{"reason"}),
		RecordLoadLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "datashare_access_record_load_latency_seconds",
			Help:    "Latency of customer record loads during access, in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		ConsentsConsumed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "datashare_access_consents_consumed_total",
			Help: "Total number of single-use consents consumed by a retrieval",
		}),
	}
}

func (m *Metrics) IncrementGranted() {
	m.AccessRequests.WithLabelValues("granted").Inc()
}

func (m *Metrics) IncrementDenied(reason string) {
	m.AccessRequests.WithLabelValues("denied").Inc()
	m.AccessDenials.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveRecordLoadLatency(seconds float64) {
	m.RecordLoadLatency.Observe(seconds)
}

func (m *Metrics) IncrementConsumed() {
	m.ConsentsConsumed.Inc()
}
