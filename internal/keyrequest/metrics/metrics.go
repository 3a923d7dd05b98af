package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for key request orchestration.
type Metrics struct {
	// Create outcomes: "created", "policy_rejected", "error"
	RequestsCreated *prometheus.CounterVec

	RequestsApproved prometheus.Counter
	RequestsExpired  prometheus.Counter

	PollLatency prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		RequestsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "keygate_key_requests_total",
			Help: "Key request creations by outcome",
		}, []string{"outcome"}),
		RequestsApproved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "keygate_key_requests_approved_total",
			Help: "Key requests that transitioned to approved",
		}),
		RequestsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "keygate_key_requests_expired_total",
			Help: "Key requests rejected after outliving their TTL",
		}),
		PollLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "keygate_key_request_poll_duration_seconds",
			Help:    "Duration of status polls including the ledger read",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) IncrementCreated(outcome string) {
	if m != nil {
		m.RequestsCreated.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncrementApproved() {
	if m != nil {
		m.RequestsApproved.Inc()
	}
}

func (m *Metrics) IncrementExpired() {
	if m != nil {
		m.RequestsExpired.Inc()
	}
}

func (m *Metrics) ObservePollLatency(d time.Duration) {
	if m != nil {
		m.PollLatency.Observe(d.Seconds())
	}
}
