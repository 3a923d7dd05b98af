package audit

import (
	"context"
	"time"

	id "keygate/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events that prove who obtained which key and
	// under which approvals. Long retention, never sampled.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers rejected approvals, failed signatures and denied
	// releases. These feed alerting.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity useful for debugging.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	UserID    id.UserID
	// Subject is the key request the event is about (0x-prefixed key id).
	Subject  string
	Action   string
	FileID   string
	Decision string
	Reason   string
	// ActorID identifies the authority or signer when different from UserID.
	ActorID   string
	RequestID string
	ClientIP  string
	UserAgent string
}

type AuditEvent string

const (
	// Key request lifecycle
	EventKeyRequestCreated  AuditEvent = "key_request_created"
	EventKeyRequestRejected AuditEvent = "key_request_rejected"
	EventQuorumReached      AuditEvent = "quorum_reached"

	// Ledger events
	EventApprovalRecorded   AuditEvent = "approval_recorded"
	EventApprovalDuplicate  AuditEvent = "approval_duplicate"
	EventApprovalRejected   AuditEvent = "approval_rejected"
	EventApprovalsSimulated AuditEvent = "approvals_simulated"

	// Release gate events
	EventSignatureVerified AuditEvent = "signature_verified"
	EventSignatureFailed   AuditEvent = "signature_failed"
	EventKeyReleased       AuditEvent = "key_released"
	EventReleaseDenied     AuditEvent = "release_denied"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventKeyRequestCreated: CategoryCompliance,
	EventQuorumReached:     CategoryCompliance,
	EventApprovalRecorded:  CategoryCompliance,
	EventKeyReleased:       CategoryCompliance,

	EventKeyRequestRejected: CategorySecurity,
	EventApprovalRejected:   CategorySecurity,
	EventSignatureFailed:    CategorySecurity,
	EventReleaseDenied:      CategorySecurity,
	EventApprovalsSimulated: CategorySecurity,

	EventApprovalDuplicate: CategoryOperations,
	EventSignatureVerified: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events. Implementations must be append-only.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByUser(ctx context.Context, userID id.UserID) ([]Event, error)
}
