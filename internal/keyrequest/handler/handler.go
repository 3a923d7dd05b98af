package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"keygate/internal/keyrequest/models"
	"keygate/internal/policy"
	id "keygate/pkg/domain"
	dErrors "keygate/pkg/domain-errors"
	"keygate/pkg/platform/httputil"
	authmw "keygate/pkg/platform/middleware/auth"
	"keygate/pkg/requestcontext"
)

// Service defines the key request operations exposed over HTTP.
type Service interface {
	CreateRequest(ctx context.Context, fileID id.FileID, requester id.UserID, subject policy.Subject) (*models.Created, error)
	PollStatus(ctx context.Context, keyID id.KeyID) (*models.PollResult, error)
	List(ctx context.Context, requester id.UserID) ([]*models.KeyRequest, error)
	Requirements(ctx context.Context, fileID id.FileID) (*models.Requirements, error)
	CheckAttributes(ctx context.Context, fileID id.FileID, subject policy.Subject) (*models.AttributeCheck, error)
	Roster() ([]models.Authority, int, string)
}

// Handler wires key request endpoints to the orchestrator.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts key request endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/access/requests", h.HandleCreate)
	r.Get("/access/requests", h.HandleList)
	r.Get("/access/requests/{keyID}/status", h.HandleStatus)
	r.Get("/access/authorities", h.HandleAuthorities)
	r.Get("/access/files/{fileID}/requirements", h.HandleRequirements)
	r.Post("/access/files/{fileID}/verify-attributes", h.HandleVerifyAttributes)
}

// HandleCreate handles POST /access/requests.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	principal, ok := authmw.PrincipalFrom(ctx)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[CreateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	created, err := h.service.CreateRequest(ctx, req.ParsedFileID(), principal.UserID, subjectOf(principal))
	if err != nil {
		h.logger.WarnContext(ctx, "key request not created",
			"request_id", requestID,
			"user_id", principal.UserID.String(),
			"file_id", req.FileID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "key request created",
		"request_id", requestID,
		"user_id", principal.UserID.String(),
		"key_id", created.Request.KeyID.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, FromCreated(created))
}

// HandleList handles GET /access/requests.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := authmw.PrincipalFrom(ctx)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	reqs, err := h.service.List(ctx, principal.UserID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRequests(reqs))
}

// HandleStatus handles GET /access/requests/{keyID}/status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	keyID, err := id.ParseKeyID(chi.URLParam(r, "keyID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	result, err := h.service.PollStatus(ctx, keyID)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeUnknownRequest) {
			h.logger.ErrorContext(ctx, "status poll failed",
				"request_id", requestcontext.RequestID(ctx),
				"key_id", keyID.String(),
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromPoll(result))
}

// HandleAuthorities handles GET /access/authorities.
func (h *Handler) HandleAuthorities(w http.ResponseWriter, _ *http.Request) {
	roster, threshold, description := h.service.Roster()
	httputil.WriteJSON(w, http.StatusOK, &AuthoritiesResponse{
		Authorities: toAuthorities(roster),
		Threshold:   threshold,
		Description: description,
	})
}

// HandleRequirements handles GET /access/files/{fileID}/requirements.
func (h *Handler) HandleRequirements(w http.ResponseWriter, r *http.Request) {
	fileID, err := id.ParseFileID(chi.URLParam(r, "fileID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	reqs, err := h.service.Requirements(r.Context(), fileID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	categories := reqs.Categories
	if categories == nil {
		categories = []string{}
	}
	httputil.WriteJSON(w, http.StatusOK, &RequirementsResponse{
		FileID:     reqs.FileID.String(),
		Policy:     reqs.Policy,
		Categories: categories,
		Threshold:  reqs.Threshold,
		Total:      reqs.Total,
	})
}

// HandleVerifyAttributes handles POST /access/files/{fileID}/verify-attributes.
func (h *Handler) HandleVerifyAttributes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := authmw.PrincipalFrom(ctx)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	fileID, err := id.ParseFileID(chi.URLParam(r, "fileID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	check, err := h.service.CheckAttributes(ctx, fileID, subjectOf(principal))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &AttributeCheckResponse{
		FileID:       check.FileID.String(),
		Satisfied:    check.Satisfied,
		FailedClause: check.FailedClause,
	})
}

func subjectOf(p authmw.Principal) policy.Subject {
	return policy.Subject{Role: p.Role, Department: p.Department, Clearance: p.Clearance}
}
