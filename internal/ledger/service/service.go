// Package service is the approval ledger: an append-only record of which
// authorities approved which key, and whether the quorum threshold is met.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"keygate/internal/ledger/metrics"
	"keygate/internal/ledger/models"
	"keygate/internal/quorum"
	"keygate/pkg/attrs"
	id "keygate/pkg/domain"
	dErrors "keygate/pkg/domain-errors"
	audit "keygate/pkg/platform/audit"
	"keygate/pkg/platform/middleware/request"
	"keygate/pkg/platform/sentinel"
)

var tracer = otel.Tracer("keygate/ledger")

// Store persists ledger entries. AddApproval must be atomic per key: under
// any interleaving at most one record exists per (key, authority), and the
// approved flag is set by whichever call takes the count to the threshold.
type Store interface {
	Register(ctx context.Context, keyID id.KeyID, threshold int) error
	AddApproval(ctx context.Context, keyID id.KeyID, authority id.Address) (entry *models.Entry, added bool, err error)
	Get(ctx context.Context, keyID id.KeyID) (*models.Entry, error)
	Ping(ctx context.Context) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	store          Store
	registry       *quorum.Registry
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(store Store, registry *quorum.Registry, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("ledger store is required")
	}
	if registry == nil {
		return nil, errors.New("quorum registry is required")
	}
	s := &Service{store: store, registry: registry}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Registry exposes the roster the ledger validates approvers against.
func (s *Service) Registry() *quorum.Registry { return s.registry }

// Register opens a ledger entry for keyID using the registry's current
// threshold. Approvals for unregistered keys are refused.
func (s *Service) Register(ctx context.Context, keyID id.KeyID) error {
	if keyID.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "key id is required")
	}
	if err := s.store.Register(ctx, keyID, s.registry.Threshold()); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.New(dErrors.CodeConflict, "key already registered")
		}
		s.metrics.IncrementStoreError("register")
		return dErrors.Wrap(err, dErrors.CodeLedgerUnavailable, "ledger unavailable")
	}
	return nil
}

// RecordApproval appends authority's approval for keyID. Repeating an
// approval succeeds with Duplicate set and leaves the count unchanged.
func (s *Service) RecordApproval(ctx context.Context, keyID id.KeyID, authority id.Address) (*models.Receipt, error) {
	ctx, span := tracer.Start(ctx, "ledger.RecordApproval")
	defer span.End()
	span.SetAttributes(
		attribute.String("key_id", keyID.String()),
		attribute.String("authority", authority.String()),
	)

	if !s.registry.IsActiveAuthority(authority) {
		s.metrics.IncrementRejected(string(dErrors.CodeUnauthorizedApprover))
		s.logAudit(ctx, string(audit.EventApprovalRejected),
			"key_id", keyID.String(),
			"actor_id", authority.String(),
			"reason", string(dErrors.CodeUnauthorizedApprover),
		)
		span.SetStatus(codes.Error, "unauthorized approver")
		return nil, dErrors.New(dErrors.CodeUnauthorizedApprover, "address is not an active authority").
			WithDetail("authority", authority.String())
	}

	entry, added, err := s.store.AddApproval(ctx, keyID, authority)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "add approval failed")
		return nil, s.translateStoreError(err, "add_approval")
	}

	status := s.toStatus(entry)
	receipt := &models.Receipt{
		KeyID:     keyID,
		Authority: authority,
		TxHash:    models.TxHash(keyID, authority),
		Duplicate: !added,
		Status:    status,
	}

	if !added {
		s.metrics.IncrementDuplicate()
		s.logAudit(ctx, string(audit.EventApprovalDuplicate),
			"key_id", keyID.String(),
			"actor_id", authority.String(),
		)
		return receipt, nil
	}

	s.metrics.IncrementRecorded()
	s.logAudit(ctx, string(audit.EventApprovalRecorded),
		"key_id", keyID.String(),
		"actor_id", authority.String(),
		"tx_hash", receipt.TxHash,
	)
	// Only the call that moved the count onto the threshold reports the transition.
	if status.Approved && status.Count == status.Threshold {
		s.metrics.IncrementQuorumReached()
		s.logAudit(ctx, string(audit.EventQuorumReached),
			"key_id", keyID.String(),
			"actor_id", authority.String(),
		)
	}
	return receipt, nil
}

// Status reads the current approval state. It never writes.
func (s *Service) Status(ctx context.Context, keyID id.KeyID) (*models.Status, error) {
	ctx, span := tracer.Start(ctx, "ledger.Status")
	defer span.End()
	span.SetAttributes(attribute.String("key_id", keyID.String()))

	entry, err := s.store.Get(ctx, keyID)
	if err != nil {
		span.RecordError(err)
		return nil, s.translateStoreError(err, "get")
	}
	status := s.toStatus(entry)
	return &status, nil
}

// Health reports whether the backing store is reachable.
func (s *Service) Health(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return dErrors.Wrap(err, dErrors.CodeLedgerUnavailable, "ledger unavailable")
	}
	return nil
}

func (s *Service) translateStoreError(err error, op string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		s.metrics.IncrementRejected(string(dErrors.CodeUnknownRequest))
		return dErrors.New(dErrors.CodeUnknownRequest, "unknown key request")
	}
	s.metrics.IncrementStoreError(op)
	return dErrors.Wrap(err, dErrors.CodeLedgerUnavailable, "ledger unavailable")
}

// toStatus orders approvers by roster position for stable display.
func (s *Service) toStatus(entry *models.Entry) models.Status {
	approvers := append([]id.Address(nil), entry.Approvers...)
	sort.SliceStable(approvers, func(i, j int) bool {
		return s.rosterIndex(approvers[i]) < s.rosterIndex(approvers[j])
	})
	return models.Status{
		KeyID:     entry.KeyID,
		Count:     len(approvers),
		Threshold: entry.Threshold,
		Approved:  entry.Approved,
		Approvers: approvers,
	}
}

func (s *Service) rosterIndex(addr id.Address) int {
	if a, ok := s.registry.Lookup(addr); ok {
		return a.Index
	}
	return s.registry.Size() + 1
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if requestID := request.GetRequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	if s.logger != nil {
		s.logger.InfoContext(ctx, event, args...)
	}
	if s.auditPublisher == nil {
		return
	}
	_ = s.auditPublisher.Emit(ctx, audit.Event{
		Subject:   attrs.ExtractString(attributes, "key_id"),
		Action:    event,
		ActorID:   attrs.ExtractString(attributes, "actor_id"),
		Reason:    attrs.ExtractString(attributes, "reason"),
		RequestID: attrs.ExtractString(attributes, "request_id"),
	})
}
