package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"keygate/internal/simulation"
	id "keygate/pkg/domain"
	dErrors "keygate/pkg/domain-errors"
	"keygate/pkg/platform/httputil"
	"keygate/pkg/requestcontext"
)

type Simulator interface {
	SubmitApprovals(ctx context.Context, keyID id.KeyID, authorities []string) []simulation.Outcome
}

type Handler struct {
	simulator Simulator
	logger    *slog.Logger
}

func New(simulator Simulator, logger *slog.Logger) *Handler {
	return &Handler{simulator: simulator, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/access/simulate-approvals", h.HandleSimulate)
}

// SimulateRequest is the body for POST /access/simulate-approvals.
type SimulateRequest struct {
	KeyID       string   `json:"key_id"`
	Authorities []string `json:"authorities"`

	parsedKeyID id.KeyID
}

const maxBatch = 64

func (r *SimulateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Authorities) > maxBatch {
		return dErrors.New(dErrors.CodeValidation, "too many authorities in one batch")
	}
	keyID, err := id.ParseKeyID(r.KeyID)
	if err != nil {
		return err
	}
	r.parsedKeyID = keyID
	return nil
}

func (r *SimulateRequest) ParsedKeyID() id.KeyID { return r.parsedKeyID }

type OutcomeResponse struct {
	Authority string `json:"authority"`
	Status    string `json:"status"`
	TxHash    string `json:"tx_hash,omitempty"`
	Count     int    `json:"count,omitempty"`
	Approved  bool   `json:"approved"`
	Message   string `json:"message,omitempty"`
}

type SimulateResponse struct {
	KeyID    string            `json:"key_id"`
	Results  []OutcomeResponse `json:"results"`
	Failures int               `json:"failures"`
}

// HandleSimulate always answers 200 with per-item results; a partial failure
// is described item by item so the caller can retry the failed subset.
func (h *Handler) HandleSimulate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[SimulateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	outcomes := h.simulator.SubmitApprovals(ctx, req.ParsedKeyID(), req.Authorities)
	resp := SimulateResponse{KeyID: req.ParsedKeyID().String(), Results: make([]OutcomeResponse, len(outcomes))}
	for i, o := range outcomes {
		resp.Results[i] = OutcomeResponse{
			Authority: o.Authority,
			Status:    o.Status,
			TxHash:    o.TxHash,
			Count:     o.Count,
			Approved:  o.Approved,
			Message:   o.Message,
		}
		if !o.Succeeded() {
			resp.Failures++
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
