// Package simulation records approvals on behalf of roster authorities. It is
// a demo path, mounted only when approval simulation is enabled, and is never
// consulted by the release gate.
package simulation

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	ledgermodels "keygate/internal/ledger/models"
	"keygate/internal/quorum"
	id "keygate/pkg/domain"
	dErrors "keygate/pkg/domain-errors"
	audit "keygate/pkg/platform/audit"
	"keygate/pkg/platform/middleware/request"
)

// Outcome statuses.
const (
	StatusRecorded             = "recorded"
	StatusDuplicate            = "duplicate"
	StatusDuplicateInBatch     = "duplicate_in_batch"
	StatusInvalidIdentity      = "invalid_identity"
	StatusUnauthorizedApprover = "unauthorized_approver"
	StatusUnknownRequest       = "unknown_request"
	StatusLedgerUnavailable    = "ledger_unavailable"
)

const defaultConcurrency = 4

type Ledger interface {
	RecordApproval(ctx context.Context, keyID id.KeyID, authority id.Address) (*ledgermodels.Receipt, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Outcome is the per-authority result. Callers retry only the items whose
// Status is not recorded or duplicate.
type Outcome struct {
	Authority string
	Status    string
	TxHash    string
	Count     int
	Approved  bool
	Message   string
}

// Succeeded reports whether the approval is on the ledger after this call.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusRecorded || o.Status == StatusDuplicate
}

type Simulator struct {
	ledger         Ledger
	registry       *quorum.Registry
	concurrency    int
	logger         *slog.Logger
	auditPublisher AuditPublisher
}

type Option func(*Simulator)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Simulator) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Simulator) {
		s.auditPublisher = publisher
	}
}

// WithConcurrency bounds how many approvals are submitted at once.
func WithConcurrency(n int) Option {
	return func(s *Simulator) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func New(ledger Ledger, registry *quorum.Registry, opts ...Option) (*Simulator, error) {
	if ledger == nil || registry == nil {
		return nil, errors.New("simulation: ledger and registry are required")
	}
	s := &Simulator{ledger: ledger, registry: registry, concurrency: defaultConcurrency}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SubmitApprovals records an approval from each listed authority. An empty
// list approves with the first threshold authorities of the roster. Items are
// independent: one failure never aborts the rest, and outcomes are returned
// in input order.
func (s *Simulator) SubmitApprovals(ctx context.Context, keyID id.KeyID, authorities []string) []Outcome {
	if len(authorities) == 0 {
		for _, a := range s.registry.Addresses()[:s.registry.Threshold()] {
			authorities = append(authorities, a.String())
		}
	}

	outcomes := make([]Outcome, len(authorities))
	parsed := make([]id.Address, len(authorities))
	submit := make([]bool, len(authorities))
	seen := make(map[id.Address]struct{}, len(authorities))
	for i, raw := range authorities {
		raw = strings.TrimSpace(raw)
		outcomes[i].Authority = raw
		addr, err := id.ParseAddress(raw)
		if err != nil {
			outcomes[i].Status = StatusInvalidIdentity
			outcomes[i].Message = "authority must be a 20-byte hex address"
			continue
		}
		outcomes[i].Authority = addr.String()
		if _, dup := seen[addr]; dup {
			outcomes[i].Status = StatusDuplicateInBatch
			outcomes[i].Message = "authority listed more than once"
			continue
		}
		seen[addr] = struct{}{}
		parsed[i] = addr
		submit[i] = true
	}

	// Each goroutine writes only its own slot.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range authorities {
		if !submit[i] {
			continue
		}
		g.Go(func() error {
			outcomes[i] = s.submitOne(gctx, keyID, parsed[i])
			return nil
		})
	}
	_ = g.Wait()

	recorded := 0
	for _, o := range outcomes {
		if o.Status == StatusRecorded {
			recorded++
		}
	}
	s.logAudit(ctx, keyID, len(authorities), recorded)
	return outcomes
}

func (s *Simulator) submitOne(ctx context.Context, keyID id.KeyID, authority id.Address) Outcome {
	out := Outcome{Authority: authority.String()}
	receipt, err := s.ledger.RecordApproval(ctx, keyID, authority)
	if err != nil {
		out.Status = statusFor(err)
		out.Message = err.Error()
		var de *dErrors.Error
		if errors.As(err, &de) {
			out.Message = de.Message
		}
		return out
	}
	out.Status = StatusRecorded
	if receipt.Duplicate {
		out.Status = StatusDuplicate
	}
	out.TxHash = receipt.TxHash
	out.Count = receipt.Status.Count
	out.Approved = receipt.Status.Approved
	return out
}

func statusFor(err error) string {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeUnauthorizedApprover:
		return StatusUnauthorizedApprover
	case dErrors.CodeUnknownRequest:
		return StatusUnknownRequest
	default:
		return StatusLedgerUnavailable
	}
}

func (s *Simulator) logAudit(ctx context.Context, keyID id.KeyID, submitted, recorded int) {
	event := string(audit.EventApprovalsSimulated)
	requestID := request.GetRequestID(ctx)
	if s.logger != nil {
		s.logger.WarnContext(ctx, event,
			"event", event,
			"log_type", "audit",
			"request_id", requestID,
			"key_id", keyID.String(),
			"submitted", submitted,
			"recorded", recorded,
		)
	}
	if s.auditPublisher == nil {
		return
	}
	_ = s.auditPublisher.Emit(ctx, audit.Event{
		Subject:   keyID.String(),
		Action:    event,
		RequestID: requestID,
	})
}
