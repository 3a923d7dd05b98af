package models

import (
	"time"

	"keygate/internal/policy"
	id "keygate/pkg/domain"
)

// Ticket proves a wallet signature over a file's challenge was verified for
// one key request. It is consumed by exactly one release.
type Ticket struct {
	ID        string
	KeyID     id.KeyID
	FileID    id.FileID
	UserID    id.UserID
	Signer    id.Address
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IsExpired reports whether the ticket can no longer be redeemed.
func (t *Ticket) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Matches reports whether the ticket was issued for this release.
func (t *Ticket) Matches(keyID id.KeyID, fileID id.FileID, userID id.UserID) bool {
	return t.KeyID == keyID && t.FileID == fileID && t.UserID == userID
}

// VerifyRequest asks the gate to check a signature for a key request.
type VerifyRequest struct {
	KeyID     id.KeyID
	FileID    id.FileID
	UserID    id.UserID
	Message   string
	Signature string
	Claimed   id.Address
}

type Verified struct {
	TicketID  string
	Signer    id.Address
	ExpiresAt time.Time
}

// ReleaseRequest carries the caller's current attributes. They are checked
// against the file policy at release time, not taken from the request record.
type ReleaseRequest struct {
	KeyID    id.KeyID
	FileID   id.FileID
	UserID   id.UserID
	Subject  policy.Subject
	TicketID string
}

type Released struct {
	KeyID       id.KeyID
	FileID      id.FileID
	KeyMaterial []byte
	Signer      id.Address
	Approvals   int
	ReleasedAt  time.Time
}
