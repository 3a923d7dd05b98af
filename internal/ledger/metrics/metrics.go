package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the approval ledger.
type Metrics struct {
	ApprovalsRecorded  prometheus.Counter
	ApprovalDuplicates prometheus.Counter
	ApprovalsRejected  *prometheus.CounterVec
	QuorumReached      prometheus.Counter
	StoreErrors        *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		ApprovalsRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "keygate_ledger_approvals_recorded_total",
			Help: "Distinct approvals appended to the ledger",
		}),
		ApprovalDuplicates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "keygate_ledger_approval_duplicates_total",
			Help: "Approval submissions that repeated an existing approval",
		}),
		ApprovalsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "keygate_ledger_approvals_rejected_total",
			Help: "Approval submissions rejected by the ledger",
		}, []string{"reason"}), // reason: "unauthorized_approver", "unknown_request"
		QuorumReached: promauto.NewCounter(prometheus.CounterOpts{
			Name: "keygate_ledger_quorum_reached_total",
			Help: "Keys whose approval count reached the threshold",
		}),
		StoreErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "keygate_ledger_store_errors_total",
			Help: "Ledger store failures by operation",
		}, []string{"op"}),
	}
}

func (m *Metrics) IncrementRecorded() {
	if m != nil {
		m.ApprovalsRecorded.Inc()
	}
}

func (m *Metrics) IncrementDuplicate() {
	if m != nil {
		m.ApprovalDuplicates.Inc()
	}
}

func (m *Metrics) IncrementRejected(reason string) {
	if m != nil {
		m.ApprovalsRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncrementQuorumReached() {
	if m != nil {
		m.QuorumReached.Inc()
	}
}

func (m *Metrics) IncrementStoreError(op string) {
	if m != nil {
		m.StoreErrors.WithLabelValues(op).Inc()
	}
}
