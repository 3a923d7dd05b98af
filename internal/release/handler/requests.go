package handler

import (
	"strings"

	id "keygate/pkg/domain"
	dErrors "keygate/pkg/domain-errors"
)

// VerifySignatureRequest is the HTTP request body for POST /access/verify-signature.
type VerifySignatureRequest struct {
	KeyID     string `json:"key_id"`
	FileID    string `json:"file_id"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
	Address   string `json:"address"`

	parsedKeyID   id.KeyID
	parsedFileID  id.FileID
	parsedAddress id.Address
}

// Validate implements httputil.Validatable.
func (r *VerifySignatureRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	var err error
	if r.parsedKeyID, err = id.ParseKeyID(r.KeyID); err != nil {
		return err
	}
	if r.parsedFileID, err = id.ParseFileID(r.FileID); err != nil {
		return err
	}
	if r.parsedAddress, err = id.ParseAddress(r.Address); err != nil {
		return err
	}
	r.Signature = strings.TrimSpace(r.Signature)
	if r.Signature == "" {
		return dErrors.New(dErrors.CodeValidation, "signature is required")
	}
	if r.Message == "" {
		return dErrors.New(dErrors.CodeValidation, "message is required")
	}
	return nil
}

func (r *VerifySignatureRequest) ParsedKeyID() id.KeyID     { return r.parsedKeyID }
func (r *VerifySignatureRequest) ParsedFileID() id.FileID   { return r.parsedFileID }
func (r *VerifySignatureRequest) ParsedAddress() id.Address { return r.parsedAddress }

// ReleaseRequest is the HTTP request body for POST /access/release.
type ReleaseRequest struct {
	KeyID  string `json:"key_id"`
	FileID string `json:"file_id"`
	Ticket string `json:"ticket"`

	parsedKeyID  id.KeyID
	parsedFileID id.FileID
}

// Validate implements httputil.Validatable.
func (r *ReleaseRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	var err error
	if r.parsedKeyID, err = id.ParseKeyID(r.KeyID); err != nil {
		return err
	}
	if r.parsedFileID, err = id.ParseFileID(r.FileID); err != nil {
		return err
	}
	r.Ticket = strings.TrimSpace(r.Ticket)
	if r.Ticket == "" {
		return dErrors.New(dErrors.CodeValidation, "ticket is required")
	}
	return nil
}

func (r *ReleaseRequest) ParsedKeyID() id.KeyID   { return r.parsedKeyID }
func (r *ReleaseRequest) ParsedFileID() id.FileID { return r.parsedFileID }
