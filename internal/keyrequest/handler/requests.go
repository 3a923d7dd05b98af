package handler

import (
	id "keygate/pkg/domain"
	dErrors "keygate/pkg/domain-errors"
)

// CreateRequest is the HTTP request body for POST /access/requests.
type CreateRequest struct {
	FileID string `json:"file_id"`

	parsedFileID id.FileID
}

// Validate implements httputil.Validatable.
func (r *CreateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	fileID, err := id.ParseFileID(r.FileID)
	if err != nil {
		return err
	}
	r.parsedFileID = fileID
	return nil
}

func (r *CreateRequest) ParsedFileID() id.FileID {
	return r.parsedFileID
}
