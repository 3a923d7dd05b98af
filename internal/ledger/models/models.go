package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	id "keygate/pkg/domain"
)

// Entry is the ledger's record for one registered key. Approvers holds each
// distinct approving authority exactly once.
type Entry struct {
	KeyID        id.KeyID
	Threshold    int
	Approvers    []id.Address
	Approved     bool
	RegisteredAt time.Time
}

// Count is the number of distinct approvals recorded.
func (e *Entry) Count() int { return len(e.Approvers) }

// HasApproved reports whether authority already approved this key.
func (e *Entry) HasApproved(authority id.Address) bool {
	for _, a := range e.Approvers {
		if a == authority {
			return true
		}
	}
	return false
}

// Status is the read view returned to pollers.
type Status struct {
	KeyID     id.KeyID
	Count     int
	Threshold int
	Approved  bool
	Approvers []id.Address
}

// Receipt acknowledges one approval submission. Duplicate submissions return
// a receipt with Duplicate set and an unchanged count.
type Receipt struct {
	KeyID     id.KeyID
	Authority id.Address
	TxHash    string
	Duplicate bool
	Status    Status
}

// TxHash is the stable reference for an approval of keyID by authority.
// Retries of the same approval yield the same hash.
func TxHash(keyID id.KeyID, authority id.Address) string {
	sum := sha256.Sum256([]byte(keyID.String() + ":" + authority.String()))
	return "0x" + hex.EncodeToString(sum[:])
}
