package models

import (
	"time"

	id "keygate/pkg/domain"
	dErrors "keygate/pkg/domain-errors"
)

// File is the catalog view of a stored encrypted file. Key material is kept
// apart and only handed out by the release gate.
type File struct {
	ID        id.FileID
	Policy    string
	OwnerID   id.UserID
	CreatedAt time.Time
}

// NewFile validates catalog invariants.
func NewFile(fileID id.FileID, policy string, owner id.UserID, createdAt time.Time) (*File, error) {
	if fileID == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "file id is required")
	}
	if policy == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "file policy is required")
	}
	return &File{ID: fileID, Policy: policy, OwnerID: owner, CreatedAt: createdAt}, nil
}
