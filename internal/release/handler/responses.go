package handler

import (
	"encoding/base64"
	"time"

	"keygate/internal/release/models"
)

// VerifySignatureResponse is the HTTP response for POST /access/verify-signature.
type VerifySignatureResponse struct {
	Verified  bool      `json:"verified"`
	Ticket    string    `json:"ticket"`
	Signer    string    `json:"signer"`
	ExpiresAt time.Time `json:"expires_at"`
}

func FromVerified(v *models.Verified) *VerifySignatureResponse {
	return &VerifySignatureResponse{
		Verified:  true,
		Ticket:    v.TicketID,
		Signer:    v.Signer.String(),
		ExpiresAt: v.ExpiresAt,
	}
}

// ReleaseResponse is the HTTP response for POST /access/release. Key is
// standard base64.
type ReleaseResponse struct {
	KeyID      string    `json:"key_id"`
	FileID     string    `json:"file_id"`
	Key        string    `json:"key"`
	Signer     string    `json:"signer"`
	Approvals  int       `json:"approvals"`
	ReleasedAt time.Time `json:"released_at"`
}

func FromReleased(r *models.Released) *ReleaseResponse {
	return &ReleaseResponse{
		KeyID:      r.KeyID.String(),
		FileID:     r.FileID.String(),
		Key:        base64.StdEncoding.EncodeToString(r.KeyMaterial),
		Signer:     r.Signer.String(),
		Approvals:  r.Approvals,
		ReleasedAt: r.ReleasedAt,
	}
}
