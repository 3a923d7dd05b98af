// Package service coordinates key requests: it binds a file and requester to
// a fresh key id, registers the id on the approval ledger and keeps a local
// projection of the ledger's status for the release gate.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	filemodels "keygate/internal/files/models"
	"keygate/internal/keyrequest/metrics"
	"keygate/internal/keyrequest/models"
	ledgermodels "keygate/internal/ledger/models"
	"keygate/internal/policy"
	"keygate/internal/quorum"
	"keygate/pkg/attrs"
	id "keygate/pkg/domain"
	dErrors "keygate/pkg/domain-errors"
	audit "keygate/pkg/platform/audit"
	"keygate/pkg/platform/middleware/request"
	"keygate/pkg/platform/sentinel"
	"keygate/pkg/requestcontext"
)

var tracer = otel.Tracer("keygate/keyrequest")

const defaultRequestTTL = time.Hour

type Store interface {
	Create(ctx context.Context, req *models.KeyRequest) error
	FindByKeyID(ctx context.Context, keyID id.KeyID) (*models.KeyRequest, error)
	ListByRequester(ctx context.Context, userID id.UserID) ([]*models.KeyRequest, error)
	Execute(ctx context.Context, keyID id.KeyID, validate func(*models.KeyRequest) error, mutate func(*models.KeyRequest)) (*models.KeyRequest, error)
}

type FileResolver interface {
	Resolve(ctx context.Context, fileID id.FileID) (*filemodels.File, error)
}

type Ledger interface {
	Register(ctx context.Context, keyID id.KeyID) error
	Status(ctx context.Context, keyID id.KeyID) (*ledgermodels.Status, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	store          Store
	files          FileResolver
	ledger         Ledger
	registry       *quorum.Registry
	ttl            time.Duration
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

// WithRequestTTL sets how long an unapproved request stays open.
func WithRequestTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func New(store Store, files FileResolver, ledger Ledger, registry *quorum.Registry, opts ...Option) (*Service, error) {
	if store == nil || files == nil || ledger == nil || registry == nil {
		return nil, errors.New("keyrequest: store, file resolver, ledger and registry are required")
	}
	s := &Service{
		store:    store,
		files:    files,
		ledger:   ledger,
		registry: registry,
		ttl:      defaultRequestTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateRequest opens a key request for fileID on behalf of requester.
// A subject whose attributes fail the file's policy gets a rejected request
// on record and a PolicyNotSatisfied error naming the failing clause.
func (s *Service) CreateRequest(ctx context.Context, fileID id.FileID, requester id.UserID, subject policy.Subject) (*models.Created, error) {
	ctx, span := tracer.Start(ctx, "keyrequest.CreateRequest")
	defer span.End()
	span.SetAttributes(attribute.String("file_id", fileID.String()))

	file, err := s.resolveFile(ctx, fileID)
	if err != nil {
		s.metrics.IncrementCreated("error")
		return nil, err
	}

	keyID, err := id.NewKeyID()
	if err != nil {
		s.metrics.IncrementCreated("error")
		return nil, err
	}
	span.SetAttributes(attribute.String("key_id", keyID.String()))

	attributes := policy.AttributesFor(subject)
	now := requestcontext.Now(ctx)
	req, err := models.NewKeyRequest(keyID, fileID, requester, attributes.Tokens(), s.registry.Version(), now, s.ttl)
	if err != nil {
		s.metrics.IncrementCreated("error")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build key request")
	}

	result := policy.Explain(file.Policy, attributes)
	if !result.Satisfied {
		_ = req.Reject(models.ReasonPolicyNotSatisfied)
		if err := s.store.Create(ctx, req); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist key request")
		}
		s.metrics.IncrementCreated("policy_rejected")
		s.logAudit(ctx, string(audit.EventKeyRequestRejected),
			"user_id", requester.String(),
			"key_id", keyID.String(),
			"file_id", fileID.String(),
			"reason", models.ReasonPolicyNotSatisfied,
		)
		span.SetStatus(codes.Error, "policy not satisfied")
		return nil, policyError(result)
	}

	if err := s.ledger.Register(ctx, keyID); err != nil {
		s.metrics.IncrementCreated("error")
		span.RecordError(err)
		return nil, err
	}
	req.State = models.StateAwaitingApprovals
	if err := s.store.Create(ctx, req); err != nil {
		s.metrics.IncrementCreated("error")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist key request")
	}

	s.metrics.IncrementCreated("created")
	s.logAudit(ctx, string(audit.EventKeyRequestCreated),
		"user_id", requester.String(),
		"key_id", keyID.String(),
		"file_id", fileID.String(),
	)

	return &models.Created{
		Request:      req,
		Roster:       s.roster(),
		Threshold:    s.registry.Threshold(),
		Description:  s.registry.Describe(),
		PollInterval: models.RecommendedPollInterval,
	}, nil
}

// PollStatus reads the ledger for keyID and folds the reading into the
// local projection. Each call performs one ledger read, plus one more when
// an overdue request has to be checked before it is expired.
func (s *Service) PollStatus(ctx context.Context, keyID id.KeyID) (*models.PollResult, error) {
	ctx, span := tracer.Start(ctx, "keyrequest.PollStatus")
	defer span.End()
	span.SetAttributes(attribute.String("key_id", keyID.String()))
	start := time.Now()
	defer func() { s.metrics.ObservePollLatency(time.Since(start)) }()

	req, err := s.Get(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if req.State == models.StateRejected {
		return s.pollResult(req, req.ApprovalCount, s.registry.Threshold(), nil), nil
	}

	status, err := s.ledger.Status(ctx, keyID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	synced, err := s.syncApprovals(ctx, keyID, status.Count, status.Approved)
	if err != nil {
		return nil, err
	}
	return s.pollResult(synced, status.Count, status.Threshold, status.Approvers), nil
}

// syncApprovals folds a ledger reading into the stored projection.
func (s *Service) syncApprovals(ctx context.Context, keyID id.KeyID, count int, approved bool) (*models.KeyRequest, error) {
	now := requestcontext.Now(ctx)
	var transitioned bool
	synced, err := s.store.Execute(ctx, keyID,
		func(*models.KeyRequest) error { return nil },
		func(r *models.KeyRequest) {
			transitioned = r.SyncApprovals(count, approved, now)
		},
	)
	if err != nil {
		return nil, s.translateStoreError(err)
	}
	if transitioned {
		s.metrics.IncrementApproved()
		if s.logger != nil {
			s.logger.InfoContext(ctx, "key request approved",
				"request_id", request.GetRequestID(ctx),
				"key_id", keyID.String(),
				"approvals", count,
			)
		}
	}
	return synced, nil
}

// Get loads a request, rejecting it first if it has expired. The ledger is
// authoritative: an overdue request whose quorum the ledger already holds
// is synced to approved instead of expired.
func (s *Service) Get(ctx context.Context, keyID id.KeyID) (*models.KeyRequest, error) {
	req, err := s.store.FindByKeyID(ctx, keyID)
	if err != nil {
		return nil, s.translateStoreError(err)
	}
	now := requestcontext.Now(ctx)
	if !req.IsExpired(now) {
		return req, nil
	}

	status, err := s.ledger.Status(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if status.Approved {
		return s.syncApprovals(ctx, keyID, status.Count, status.Approved)
	}

	expired, err := s.store.Execute(ctx, keyID,
		func(r *models.KeyRequest) error {
			if !r.IsExpired(now) {
				return errNotExpired
			}
			return nil
		},
		func(r *models.KeyRequest) { _ = r.Reject(models.ReasonExpired) },
	)
	if errors.Is(err, errNotExpired) {
		return expired, nil
	}
	if err != nil {
		return nil, s.translateStoreError(err)
	}
	s.metrics.IncrementExpired()
	s.logAudit(ctx, string(audit.EventKeyRequestRejected),
		"user_id", expired.RequesterID.String(),
		"key_id", keyID.String(),
		"file_id", expired.FileID.String(),
		"reason", models.ReasonExpired,
	)
	return expired, nil
}

var errNotExpired = errors.New("request not expired")

// List returns the caller's requests, newest first.
func (s *Service) List(ctx context.Context, requester id.UserID) ([]*models.KeyRequest, error) {
	reqs, err := s.store.ListByRequester(ctx, requester)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list key requests")
	}
	return reqs, nil
}

// Reject terminates a request. Rejecting an already rejected request is a no-op.
func (s *Service) Reject(ctx context.Context, keyID id.KeyID, reason string) error {
	req, err := s.store.Execute(ctx, keyID,
		func(r *models.KeyRequest) error {
			if r.State == models.StateRejected {
				return errAlreadyRejected
			}
			if r.State.IsTerminal() {
				return dErrors.New(dErrors.CodeAlreadyConsumed, "key already released")
			}
			cp := *r
			return cp.Reject(reason)
		},
		func(r *models.KeyRequest) { _ = r.Reject(reason) },
	)
	if errors.Is(err, errAlreadyRejected) {
		return nil
	}
	if err != nil {
		return s.translateStoreError(err)
	}
	s.logAudit(ctx, string(audit.EventKeyRequestRejected),
		"user_id", req.RequesterID.String(),
		"key_id", keyID.String(),
		"file_id", req.FileID.String(),
		"reason", reason,
	)
	return nil
}

var errAlreadyRejected = errors.New("request already rejected")

// Consume is the release compare-and-swap: of any number of concurrent
// callers exactly one succeeds, the rest get AlreadyConsumed.
func (s *Service) Consume(ctx context.Context, keyID id.KeyID) (*models.KeyRequest, error) {
	now := requestcontext.Now(ctx)
	req, err := s.store.Execute(ctx, keyID,
		func(r *models.KeyRequest) error {
			if r.Consumed {
				return dErrors.New(dErrors.CodeAlreadyConsumed, "key already released")
			}
			if r.State == models.StateRejected {
				return dErrors.New(dErrors.CodeRequestRejected, "key request was rejected").
					WithDetail("reason", r.RejectReason)
			}
			if !r.Approved {
				return dErrors.New(dErrors.CodeQuorumNotReached, "quorum not reached")
			}
			// The transition is checked on a copy so a refusal aborts the
			// swap before anything is written.
			cp := *r
			return cp.Consume(now)
		},
		func(r *models.KeyRequest) { _ = r.Consume(now) },
	)
	if err != nil {
		return nil, s.translateStoreError(err)
	}
	return req, nil
}

// MarkApproved records a ledger approval the caller has just confirmed, so a
// release does not depend on the client having polled first.
func (s *Service) MarkApproved(ctx context.Context, keyID id.KeyID, count int) error {
	_, err := s.syncApprovals(ctx, keyID, count, true)
	return err
}

// Requirements describes the file's policy and the quorum rule.
func (s *Service) Requirements(ctx context.Context, fileID id.FileID) (*models.Requirements, error) {
	file, err := s.resolveFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return &models.Requirements{
		FileID:     fileID,
		Policy:     file.Policy,
		Categories: policy.RequiredCategories(file.Policy),
		Threshold:  s.registry.Threshold(),
		Total:      s.registry.Size(),
	}, nil
}

// CheckAttributes evaluates the file's policy for subject without creating
// a request.
func (s *Service) CheckAttributes(ctx context.Context, fileID id.FileID, subject policy.Subject) (*models.AttributeCheck, error) {
	file, err := s.resolveFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	result := policy.Explain(file.Policy, policy.AttributesFor(subject))
	return &models.AttributeCheck{
		FileID:       fileID,
		Satisfied:    result.Satisfied,
		FailedClause: result.FailedClause,
	}, nil
}

// Roster lists the authorities in provisioning order.
func (s *Service) Roster() ([]models.Authority, int, string) {
	return s.roster(), s.registry.Threshold(), s.registry.Describe()
}

func (s *Service) roster() []models.Authority {
	authorities := s.registry.Authorities()
	out := make([]models.Authority, 0, len(authorities))
	for _, a := range authorities {
		if a.Active {
			out = append(out, models.Authority{Address: a.Address, Index: a.Index})
		}
	}
	return out
}

func (s *Service) resolveFile(ctx context.Context, fileID id.FileID) (*filemodels.File, error) {
	file, err := s.files.Resolve(ctx, fileID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "invalid file")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve file")
	}
	return file, nil
}

func (s *Service) pollResult(req *models.KeyRequest, count, threshold int, approvers []id.Address) *models.PollResult {
	return &models.PollResult{
		KeyID:        req.KeyID,
		State:        req.State,
		Count:        count,
		Threshold:    threshold,
		Approved:     req.Approved,
		Percentage:   models.Percentage(count, threshold),
		Approvers:    approvers,
		RejectReason: req.RejectReason,
		ExpiresAt:    req.ExpiresAt,
		PollInterval: models.RecommendedPollInterval,
	}
}

func (s *Service) translateStoreError(err error) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeUnknownRequest, "unknown key request")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "key request store failure")
}

// policyError names the failing clause. It never echoes the caller's attributes.
func policyError(result policy.Result) error {
	err := dErrors.New(dErrors.CodePolicyNotSatisfied, "attributes do not satisfy the file policy")
	if result.Malformed {
		return err.WithDetail("policy", "malformed")
	}
	return err.WithDetail("clause", result.FailedClause)
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
		RequestID: attrs.ExtractString(attributes, "request_id"),
		ClientIP:  requestcontext.ClientIP(ctx),
		UserAgent: requestcontext.UserAgent(ctx),
	})
}
