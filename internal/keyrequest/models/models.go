package models

import (
	"time"

	id "keygate/pkg/domain"
	dErrors "keygate/pkg/domain-errors"
)

// State is the lifecycle position of a key request.
type State string

const (
	StateCreated           State = "created"
	StateAwaitingApprovals State = "awaiting_approvals"
	StateApproved          State = "approved"
	StateReleased          State = "released"
	StateRejected          State = "rejected"
)

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateReleased || s == StateRejected
}

// Reject reasons.
const (
	ReasonPolicyNotSatisfied = "policy_not_satisfied"
	ReasonExpired            = "expired"
)

// KeyRequest is the orchestrator's projection of one request for a file's
// decryption key. The ledger owns the canonical approval count; this record
// mirrors it and adds the consumed flag and the requester's attribute snapshot.
type KeyRequest struct {
	KeyID           id.KeyID
	FileID          id.FileID
	RequesterID     id.UserID
	Attributes      []string
	RegistryVersion int
	State           State
	ApprovalCount   int
	Approved        bool
	Consumed        bool
	RejectReason    string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	ApprovedAt      *time.Time
	ReleasedAt      *time.Time
}

// NewKeyRequest builds a request in the created state.
func NewKeyRequest(keyID id.KeyID, fileID id.FileID, requester id.UserID, attributes []string,
	registryVersion int, now time.Time, ttl time.Duration) (*KeyRequest, error) {
	if keyID.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "key id is required")
	}
	if fileID == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "file id is required")
	}
	if requester.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "requester is required")
	}
	if ttl <= 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "ttl must be positive")
	}
	return &KeyRequest{
		KeyID:           keyID,
		FileID:          fileID,
		RequesterID:     requester,
		Attributes:      append([]string(nil), attributes...),
		RegistryVersion: registryVersion,
		State:           StateCreated,
		CreatedAt:       now,
		ExpiresAt:       now.Add(ttl),
	}, nil
}

// IsExpired reports whether an unapproved request has outlived its TTL.
// Approved requests stay releasable until consumed.
func (r *KeyRequest) IsExpired(now time.Time) bool {
	return !r.Approved && !r.State.IsTerminal() && now.After(r.ExpiresAt)
}

// SyncApprovals folds a ledger reading into the projection. The count never
// decreases. It reports whether this call moved the request to approved.
func (r *KeyRequest) SyncApprovals(count int, approved bool, now time.Time) bool {
	if r.State.IsTerminal() {
		return false
	}
	if count > r.ApprovalCount {
		r.ApprovalCount = count
	}
	if approved && !r.Approved {
		r.Approved = true
		if r.State == StateAwaitingApprovals || r.State == StateCreated {
			r.State = StateApproved
			t := now
			r.ApprovedAt = &t
			return true
		}
	}
	return false
}

// Reject moves a non-terminal request to rejected.
func (r *KeyRequest) Reject(reason string) error {
	if r.State.IsTerminal() {
		return dErrors.New(dErrors.CodeInvariantViolation, "request is already "+string(r.State))
	}
	r.State = StateRejected
	r.RejectReason = reason
	return nil
}

// Consume marks the request released. It fails if already consumed.
func (r *KeyRequest) Consume(now time.Time) error {
	if r.Consumed {
		return dErrors.New(dErrors.CodeAlreadyConsumed, "key already released")
	}
	if r.State != StateApproved {
		return dErrors.New(dErrors.CodeInvariantViolation, "request is "+string(r.State))
	}
	r.Consumed = true
	r.State = StateReleased
	t := now
	r.ReleasedAt = &t
	return nil
}

// Percentage is the approval progress, capped at 100.
func Percentage(count, threshold int) int {
	if threshold <= 0 {
		return 0
	}
	p := count * 100 / threshold
	if p > 100 {
		return 100
	}
	return p
}

// RecommendedPollInterval is the cadence clients should poll status at until
// the request is approved or rejected. Stopping is the only cancellation.
const RecommendedPollInterval = 3 * time.Second

// Authority is the roster entry shown to a requester.
type Authority struct {
	Address id.Address
	Index   int
}

// Created is returned when a request is accepted and awaiting approvals.
type Created struct {
	Request      *KeyRequest
	Roster       []Authority
	Threshold    int
	Description  string
	PollInterval time.Duration
}

// PollResult is one read-through of the ledger for a request.
type PollResult struct {
	KeyID        id.KeyID
	State        State
	Count        int
	Threshold    int
	Approved     bool
	Percentage   int
	Approvers    []id.Address
	RejectReason string
	ExpiresAt    time.Time
	PollInterval time.Duration
}

// Requirements describes what a file demands before release.
type Requirements struct {
	FileID     id.FileID
	Policy     string
	Categories []string
	Threshold  int
	Total      int
}

// AttributeCheck is the result of checking a caller against a file policy.
type AttributeCheck struct {
	FileID       id.FileID
	Satisfied    bool
	FailedClause string
}
