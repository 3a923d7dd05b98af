package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the release gate.
type Metrics struct {
	Releases          *prometheus.CounterVec
	SignatureChecks   *prometheus.CounterVec
	LedgerRetries     prometheus.Counter
	LedgerBreakerOpen prometheus.Gauge
	ReleaseLatency    prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Releases: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "keygate_release_attempts_total",
			Help: "Release attempts by outcome",
		}, []string{"outcome"}), // outcome: "released" or the denial error code
		SignatureChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "keygate_release_signature_checks_total",
			Help: "Signature verifications by result",
		}, []string{"result"}),
		LedgerRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "keygate_release_ledger_retries_total",
			Help: "Ledger status reads retried by the release gate",
		}),
		LedgerBreakerOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "keygate_release_ledger_breaker_open",
			Help: "1 while the ledger circuit breaker is open",
		}),
		ReleaseLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "keygate_release_duration_ms",
			Help:    "Release latency in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
	}
}

func (m *Metrics) IncrementRelease(outcome string) {
	if m != nil {
		m.Releases.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncrementSignatureCheck(result string) {
	if m != nil {
		m.SignatureChecks.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncrementLedgerRetry() {
	if m != nil {
		m.LedgerRetries.Inc()
	}
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.LedgerBreakerOpen.Set(1)
		return
	}
	m.LedgerBreakerOpen.Set(0)
}

func (m *Metrics) ObserveReleaseLatency(d time.Duration) {
	if m != nil {
		m.ReleaseLatency.Observe(float64(d.Milliseconds()))
	}
}
