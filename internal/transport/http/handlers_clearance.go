package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	clearanceModels "mortuary/internal/clearance/models"
	id "mortuary/pkg/domain"
	"mortuary/pkg/platform/httputil"
	"mortuary/pkg/requestcontext"
)

type ClearanceService interface {
	UpdateGate(ctx context.Context, caseID id.CaseID, gateType clearanceModels.GateType, change clearanceModels.Change) (*clearanceModels.Gate, error)
	Evaluate(ctx context.Context, caseID id.CaseID) (clearanceModels.Decision, error)
	Gates(ctx context.Context, caseID id.CaseID) ([]*clearanceModels.Gate, error)
}

type ClearanceHandler struct {
	clearance ClearanceService
	logger    *slog.Logger
}

func NewClearanceHandler(clearance ClearanceService, logger *slog.Logger) *ClearanceHandler {
	return &ClearanceHandler{clearance: clearance, logger: logger}
}

func (h *ClearanceHandler) Register(r chi.Router) {
	r.Get("/cases/{caseID}/clearance", h.handleGet)
	r.Put("/cases/{caseID}/clearance/{gate}", h.handleUpdate)
}

type clearanceResponse struct {
	Decision clearanceModels.Decision `json:"decision"`
	Gates    []*clearanceModels.Gate  `json:"gates"`
}

func (h *ClearanceHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID, err := caseIDParam(r)
	if err != nil {
		writeError(ctx, w, h.logger, "get_clearance", err)
		return
	}
	decision, err := h.clearance.Evaluate(ctx, caseID)
	if err != nil {
		writeError(ctx, w, h.logger, "get_clearance", err)
		return
	}
	gates, err := h.clearance.Gates(ctx, caseID)
	if err != nil {
		writeError(ctx, w, h.logger, "get_clearance", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, clearanceResponse{Decision: decision, Gates: gates})
}

func (h *ClearanceHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID, err := caseIDParam(r)
	if err != nil {
		writeError(ctx, w, h.logger, "update_gate", err)
		return
	}
	gateType, err := clearanceModels.ParseGateType(chi.URLParam(r, "gate"))
	if err != nil {
		writeError(ctx, w, h.logger, "update_gate", err)
		return
	}
	body, ok := httputil.DecodeAndPrepare[GateUpdateRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	gate, err := h.clearance.UpdateGate(ctx, caseID, gateType, body.change(requestcontext.Actor(ctx)))
	if err != nil {
		writeError(ctx, w, h.logger, "update_gate", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, gate)
}
