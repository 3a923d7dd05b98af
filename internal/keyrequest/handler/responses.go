package handler

import (
	"time"

	"keygate/internal/keyrequest/models"
	id "keygate/pkg/domain"
)

type AuthorityResponse struct {
	Address string `json:"address"`
	Index   int    `json:"index"`
}

// CreateResponse is the HTTP response for POST /access/requests.
type CreateResponse struct {
	KeyID               string              `json:"key_id"`
	FileID              string              `json:"file_id"`
	State               string              `json:"state"`
	Authorities         []AuthorityResponse `json:"authorities"`
	Threshold           int                 `json:"threshold"`
	Description         string              `json:"description"`
	ExpiresAt           time.Time           `json:"expires_at"`
	PollIntervalSeconds int                 `json:"poll_interval_seconds"`
}

// StatusResponse is the HTTP response for GET /access/requests/{keyID}/status.
type StatusResponse struct {
	KeyID               string    `json:"key_id"`
	State               string    `json:"state"`
	Count               int       `json:"count"`
	Threshold           int       `json:"threshold"`
	Approved            bool      `json:"approved"`
	Percentage          int       `json:"percentage"`
	Approvers           []string  `json:"approvers"`
	RejectReason        string    `json:"reject_reason,omitempty"`
	ExpiresAt           time.Time `json:"expires_at"`
	PollIntervalSeconds int       `json:"poll_interval_seconds"`
}

type RequestSummary struct {
	KeyID         string    `json:"key_id"`
	FileID        string    `json:"file_id"`
	State         string    `json:"state"`
	ApprovalCount int       `json:"approval_count"`
	RejectReason  string    `json:"reject_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type ListResponse struct {
	Requests []RequestSummary `json:"requests"`
}

type AuthoritiesResponse struct {
	Authorities []AuthorityResponse `json:"authorities"`
	Threshold   int                 `json:"threshold"`
	Description string              `json:"description"`
}

type RequirementsResponse struct {
	FileID     string   `json:"file_id"`
	Policy     string   `json:"policy"`
	Categories []string `json:"categories"`
	Threshold  int      `json:"threshold"`
	Total      int      `json:"total"`
}

type AttributeCheckResponse struct {
	FileID       string `json:"file_id"`
	Satisfied    bool   `json:"satisfied"`
	FailedClause string `json:"failed_clause,omitempty"`
}

func toAuthorities(in []models.Authority) []AuthorityResponse {
	out := make([]AuthorityResponse, len(in))
	for i, a := range in {
		out[i] = AuthorityResponse{Address: a.Address.String(), Index: a.Index}
	}
	return out
}

func addresses(in []id.Address) []string {
	out := make([]string, len(in))
	for i, a := range in {
		out[i] = a.String()
	}
	return out
}

func FromCreated(c *models.Created) *CreateResponse {
	return &CreateResponse{
		KeyID:               c.Request.KeyID.String(),
		FileID:              c.Request.FileID.String(),
		State:               string(c.Request.State),
		Authorities:         toAuthorities(c.Roster),
		Threshold:           c.Threshold,
		Description:         c.Description,
		ExpiresAt:           c.Request.ExpiresAt,
		PollIntervalSeconds: int(c.PollInterval / time.Second),
	}
}

func FromPoll(p *models.PollResult) *StatusResponse {
	return &StatusResponse{
		KeyID:               p.KeyID.String(),
		State:               string(p.State),
		Count:               p.Count,
		Threshold:           p.Threshold,
		Approved:            p.Approved,
		Percentage:          p.Percentage,
		Approvers:           addresses(p.Approvers),
		RejectReason:        p.RejectReason,
		ExpiresAt:           p.ExpiresAt,
		PollIntervalSeconds: int(p.PollInterval / time.Second),
	}
}

func FromRequests(reqs []*models.KeyRequest) *ListResponse {
	out := &ListResponse{Requests: make([]RequestSummary, 0, len(reqs))}
	for _, r := range reqs {
		out.Requests = append(out.Requests, RequestSummary{
			KeyID:         r.KeyID.String(),
			FileID:        r.FileID.String(),
			State:         string(r.State),
			ApprovalCount: r.ApprovalCount,
			RejectReason:  r.RejectReason,
			CreatedAt:     r.CreatedAt,
			ExpiresAt:     r.ExpiresAt,
		})
	}
	return out
}
