// Package service is the release gate. A key leaves the service only after
// the caller's current attributes satisfy the file policy, the ledger reports
// quorum, a verified wallet signature is presented and the request has not
// been consumed before.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	filemodels "keygate/internal/files/models"
	keyrequest "keygate/internal/keyrequest/models"
	ledgermodels "keygate/internal/ledger/models"
	"keygate/internal/policy"
	"keygate/internal/release/metrics"
	"keygate/internal/release/models"
	"keygate/internal/signature"
	"keygate/pkg/attrs"
	id "keygate/pkg/domain"
	dErrors "keygate/pkg/domain-errors"
	audit "keygate/pkg/platform/audit"
	"keygate/pkg/platform/circuit"
	"keygate/pkg/platform/middleware/request"
	"keygate/pkg/platform/sentinel"
	"keygate/pkg/requestcontext"
)

var tracer = otel.Tracer("keygate/release")

const (
	defaultTicketTTL     = 2 * time.Minute
	defaultLedgerRetries = 3
	defaultLedgerBackoff = 100 * time.Millisecond
)

// KeyRequests is the slice of the key request service the gate drives.
type KeyRequests interface {
	Get(ctx context.Context, keyID id.KeyID) (*keyrequest.KeyRequest, error)
	Reject(ctx context.Context, keyID id.KeyID, reason string) error
	MarkApproved(ctx context.Context, keyID id.KeyID, count int) error
	Consume(ctx context.Context, keyID id.KeyID) (*keyrequest.KeyRequest, error)
}

type Ledger interface {
	Status(ctx context.Context, keyID id.KeyID) (*ledgermodels.Status, error)
}

type Tickets interface {
	Save(ctx context.Context, ticket *models.Ticket) error
	Consume(ctx context.Context, ticketID string, now time.Time) (*models.Ticket, error)
}

// KeyVault resolves files and hands out their key material.
type KeyVault interface {
	Resolve(ctx context.Context, fileID id.FileID) (*filemodels.File, error)
	KeyMaterial(ctx context.Context, fileID id.FileID) ([]byte, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	requests       KeyRequests
	ledger         Ledger
	tickets        Tickets
	vault          KeyVault
	breaker        *circuit.Breaker
	ticketTTL      time.Duration
	retries        int
	backoff        time.Duration
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

func WithTicketTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ticketTTL = ttl
		}
	}
}

// WithLedgerRetries bounds ledger status reads per release. Attempt n waits
// backoff * 2^(n-1) before running.
func WithLedgerRetries(attempts int, backoff time.Duration) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.retries = attempts
		}
		if backoff >= 0 {
			s.backoff = backoff
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Service) {
		if b != nil {
			s.breaker = b
		}
	}
}

func New(requests KeyRequests, ledger Ledger, tickets Tickets, vault KeyVault, opts ...Option) (*Service, error) {
	if requests == nil || ledger == nil || tickets == nil || vault == nil {
		return nil, errors.New("release: key requests, ledger, tickets and vault are required")
	}
	s := &Service{
		requests:  requests,
		ledger:    ledger,
		tickets:   tickets,
		vault:     vault,
		breaker:   circuit.New("ledger"),
		ticketTTL: defaultTicketTTL,
		retries:   defaultLedgerRetries,
		backoff:   defaultLedgerBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// VerifySignature checks a wallet signature over the file's challenge and
// issues a single-use ticket bound to the request, caller and signer.
func (s *Service) VerifySignature(ctx context.Context, req models.VerifyRequest) (*models.Verified, error) {
	ctx, span := tracer.Start(ctx, "release.VerifySignature")
	defer span.End()
	span.SetAttributes(
		attribute.String("key_id", req.KeyID.String()),
		attribute.String("file_id", req.FileID.String()),
	)

	kr, err := s.loadOwned(ctx, req.KeyID, req.FileID, req.UserID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := checkOpen(kr); err != nil {
		return nil, err
	}

	if req.Message != signature.ChallengeMessage(req.FileID) {
		s.signatureFailed(ctx, req, "challenge_mismatch")
		span.SetStatus(codes.Error, "challenge mismatch")
		return nil, dErrors.New(dErrors.CodeSignatureInvalid, "message is not the challenge for this file").
			WithDetail("reason", "challenge_mismatch")
	}
	result := signature.Verify(req.Message, req.Signature, req.Claimed)
	if !result.Verified {
		s.signatureFailed(ctx, req, result.Reason)
		span.SetStatus(codes.Error, result.Reason)
		return nil, dErrors.New(dErrors.CodeSignatureInvalid, "signature verification failed").
			WithDetail("reason", result.Reason)
	}

	now := requestcontext.Now(ctx)
	ticket := &models.Ticket{
		ID:        uuid.NewString(),
		KeyID:     req.KeyID,
		FileID:    req.FileID,
		UserID:    req.UserID,
		Signer:    result.Recovered,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ticketTTL),
	}
	if err := s.tickets.Save(ctx, ticket); err != nil {
		span.RecordError(err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue verification ticket")
	}

	s.metrics.IncrementSignatureCheck("verified")
	s.logAudit(ctx, string(audit.EventSignatureVerified),
		"user_id", req.UserID.String(),
		"key_id", req.KeyID.String(),
		"file_id", req.FileID.String(),
		"actor_id", result.Recovered.String(),
	)
	return &models.Verified{
		TicketID:  ticket.ID,
		Signer:    ticket.Signer,
		ExpiresAt: ticket.ExpiresAt,
	}, nil
}

// Release hands out the file key once. Every gate is checked at call time;
// nothing cached from request creation is trusted.
func (s *Service) Release(ctx context.Context, req models.ReleaseRequest) (*models.Released, error) {
	ctx, span := tracer.Start(ctx, "release.Release")
	defer span.End()
	span.SetAttributes(
		attribute.String("key_id", req.KeyID.String()),
		attribute.String("file_id", req.FileID.String()),
	)
	start := time.Now()
	defer func() { s.metrics.ObserveReleaseLatency(time.Since(start)) }()

	released, err := s.release(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		s.metrics.IncrementRelease(string(dErrors.CodeOf(err)))
		s.logAudit(ctx, string(audit.EventReleaseDenied),
			"user_id", req.UserID.String(),
			"key_id", req.KeyID.String(),
			"file_id", req.FileID.String(),
			"reason", string(dErrors.CodeOf(err)),
		)
		return nil, err
	}

	s.metrics.IncrementRelease("released")
	s.logAudit(ctx, string(audit.EventKeyReleased),
		"user_id", req.UserID.String(),
		"key_id", req.KeyID.String(),
		"file_id", req.FileID.String(),
		"actor_id", released.Signer.String(),
	)
	return released, nil
}

func (s *Service) release(ctx context.Context, req models.ReleaseRequest) (*models.Released, error) {
	kr, err := s.loadOwned(ctx, req.KeyID, req.FileID, req.UserID)
	if err != nil {
		return nil, err
	}
	if err := checkOpen(kr); err != nil {
		return nil, err
	}

	file, err := s.vault.Resolve(ctx, req.FileID)
	if err != nil {
		return nil, fileError(err)
	}
	result := policy.Explain(file.Policy, policy.AttributesFor(req.Subject))
	if !result.Satisfied {
		if err := s.requests.Reject(ctx, req.KeyID, keyrequest.ReasonPolicyNotSatisfied); err != nil && s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to reject key request",
				"request_id", request.GetRequestID(ctx),
				"key_id", req.KeyID.String(),
				"error", err,
			)
		}
		return nil, policyError(result)
	}

	status, err := s.ledgerStatus(ctx, req.KeyID)
	if err != nil {
		return nil, err
	}
	if !status.Approved {
		return nil, dErrors.New(dErrors.CodeQuorumNotReached, "quorum not reached").
			WithDetail("count", strconv.Itoa(status.Count)).
			WithDetail("threshold", strconv.Itoa(status.Threshold))
	}
	if err := s.requests.MarkApproved(ctx, req.KeyID, status.Count); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	ticket, err := s.tickets.Consume(ctx, req.TicketID, now)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeSignatureInvalid, "no valid signature verification").
				WithDetail("reason", "ticket_missing")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to redeem verification ticket")
	}
	if !ticket.Matches(req.KeyID, req.FileID, req.UserID) {
		return nil, dErrors.New(dErrors.CodeSignatureInvalid, "verification does not match this release").
			WithDetail("reason", "ticket_mismatch")
	}

	// Material is read before the consume so a vault failure leaves the
	// request releasable.
	material, err := s.vault.KeyMaterial(ctx, req.FileID)
	if err != nil {
		return nil, fileError(err)
	}

	consumed, err := s.requests.Consume(ctx, req.KeyID)
	if err != nil {
		return nil, err
	}
	releasedAt := now
	if consumed.ReleasedAt != nil {
		releasedAt = *consumed.ReleasedAt
	}
	return &models.Released{
		KeyID:       req.KeyID,
		FileID:      req.FileID,
		KeyMaterial: material,
		Signer:      ticket.Signer,
		Approvals:   status.Count,
		ReleasedAt:  releasedAt,
	}, nil
}

// ledgerStatus reads the ledger with bounded retries. An open breaker allows
// a single probe per call.
func (s *Service) ledgerStatus(ctx context.Context, keyID id.KeyID) (*ledgermodels.Status, error) {
	attempts := s.retries
	if s.breaker.IsOpen() {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			s.metrics.IncrementLedgerRetry()
			if err := sleep(ctx, s.backoff<<(attempt-1)); err != nil {
				lastErr = err
				break
			}
		}
		status, err := s.ledger.Status(ctx, keyID)
		if err == nil {
			if _, change := s.breaker.RecordSuccess(); change.Closed {
				s.metrics.SetBreakerOpen(false)
				if s.logger != nil {
					s.logger.InfoContext(ctx, "ledger circuit breaker closed", "request_id", request.GetRequestID(ctx))
				}
			}
			return status, nil
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err
		degraded, change := s.breaker.RecordFailure()
		if change.Opened {
			s.metrics.SetBreakerOpen(true)
			if s.logger != nil {
				s.logger.WarnContext(ctx, "ledger circuit breaker opened",
					"request_id", request.GetRequestID(ctx),
					"error", err,
				)
			}
		}
		if degraded {
			break
		}
	}
	return nil, dErrors.Wrap(lastErr, dErrors.CodeLedgerUnavailable, "ledger unavailable")
}

func retryable(err error) bool {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeLedgerUnavailable, dErrors.CodeUnavailable, dErrors.CodeTimeout, dErrors.CodeInternal:
		return true
	default:
		return false
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// loadOwned fetches the request and checks it belongs to userID and fileID.
func (s *Service) loadOwned(ctx context.Context, keyID id.KeyID, fileID id.FileID, userID id.UserID) (*keyrequest.KeyRequest, error) {
	kr, err := s.requests.Get(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if kr.RequesterID != userID {
		return nil, dErrors.New(dErrors.CodeForbidden, "key request belongs to another user")
	}
	if kr.FileID != fileID {
		return nil, dErrors.New(dErrors.CodeValidation, "file does not match key request")
	}
	return kr, nil
}

func checkOpen(kr *keyrequest.KeyRequest) error {
	if kr.Consumed {
		return dErrors.New(dErrors.CodeAlreadyConsumed, "key already released")
	}
	if kr.State == keyrequest.StateRejected {
		return dErrors.New(dErrors.CodeRequestRejected, "key request was rejected").
			WithDetail("reason", kr.RejectReason)
	}
	return nil
}

func fileError(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "invalid file")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "key vault failure")
}

func policyError(result policy.Result) error {
	err := dErrors.New(dErrors.CodePolicyNotSatisfied, "attributes do not satisfy the file policy")
	if result.Malformed {
		return err.WithDetail("policy", "malformed")
	}
	return err.WithDetail("clause", result.FailedClause)
}

func (s *Service) signatureFailed(ctx context.Context, req models.VerifyRequest, reason string) {
	s.metrics.IncrementSignatureCheck(reason)
	s.logAudit(ctx, string(audit.EventSignatureFailed),
		"user_id", req.UserID.String(),
		"key_id", req.KeyID.String(),
		"file_id", req.FileID.String(),
		"actor_id", req.Claimed.String(),
		"reason", reason,
	)
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
	userID, _ := id.ParseUserID(attrs.ExtractString(attributes, "user_id"))
	_ = s.auditPublisher.Emit(ctx, audit.Event{
		UserID:    userID,
		Subject:   attrs.ExtractString(attributes, "key_id"),
		Action:    event,
		FileID:    attrs.ExtractString(attributes, "file_id"),
		Reason:    attrs.ExtractString(attributes, "reason"),
		ActorID:   attrs.ExtractString(attributes, "actor_id"),
		RequestID: attrs.ExtractString(attributes, "request_id"),
		ClientIP:  requestcontext.ClientIP(ctx),
		UserAgent: requestcontext.UserAgent(ctx),
	})
}
