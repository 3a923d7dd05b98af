package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"keygate/internal/policy"
	"keygate/internal/release/models"
	dErrors "keygate/pkg/domain-errors"
	"keygate/pkg/platform/httputil"
	authmw "keygate/pkg/platform/middleware/auth"
	"keygate/pkg/requestcontext"
)

type Service interface {
	VerifySignature(ctx context.Context, req models.VerifyRequest) (*models.Verified, error)
	Release(ctx context.Context, req models.ReleaseRequest) (*models.Released, error)
}

// Handler exposes the release gate.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/access/verify-signature", h.HandleVerifySignature)
	r.Post("/access/release", h.HandleRelease)
}

// HandleVerifySignature handles POST /access/verify-signature.
func (h *Handler) HandleVerifySignature(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	principal, ok := authmw.PrincipalFrom(ctx)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	req, ok := httputil.DecodeAndPrepare[VerifySignatureRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	verified, err := h.service.VerifySignature(ctx, models.VerifyRequest{
		KeyID:     req.ParsedKeyID(),
		FileID:    req.ParsedFileID(),
		UserID:    principal.UserID,
		Message:   req.Message,
		Signature: req.Signature,
		Claimed:   req.ParsedAddress(),
	})
	if err != nil {
		h.logger.WarnContext(ctx, "signature not verified",
			"request_id", requestID,
			"user_id", principal.UserID.String(),
			"key_id", req.KeyID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromVerified(verified))
}

// HandleRelease handles POST /access/release.
func (h *Handler) HandleRelease(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	principal, ok := authmw.PrincipalFrom(ctx)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	req, ok := httputil.DecodeAndPrepare[ReleaseRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	released, err := h.service.Release(ctx, models.ReleaseRequest{
		KeyID:  req.ParsedKeyID(),
		FileID: req.ParsedFileID(),
		UserID: principal.UserID,
		Subject: policy.Subject{
			Role:       principal.Role,
			Department: principal.Department,
			Clearance:  principal.Clearance,
		},
		TicketID: req.Ticket,
	})
	if err != nil {
		log := h.logger.WarnContext
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			log = h.logger.ErrorContext
		}
		log(ctx, "key release denied",
			"request_id", requestID,
			"user_id", principal.UserID.String(),
			"key_id", req.KeyID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "key released",
		"request_id", requestID,
		"user_id", principal.UserID.String(),
		"key_id", req.KeyID,
		"file_id", req.FileID,
	)
	httputil.WriteJSON(w, http.StatusOK, FromReleased(released))
}
