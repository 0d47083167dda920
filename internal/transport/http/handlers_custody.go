package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	custodyModels "mortuary/internal/custody/models"
	id "mortuary/pkg/domain"
	"mortuary/pkg/platform/httputil"
	"mortuary/pkg/requestcontext"
)

type CustodyService interface {
	AppendTransfer(ctx context.Context, caseID id.CaseID, req custodyModels.TransferRequest) (*custodyModels.TransferRecord, error)
	CurrentHolder(ctx context.Context, caseID id.CaseID) (custodyModels.Holder, error)
	History(ctx context.Context, caseID id.CaseID) ([]*custodyModels.TransferRecord, error)
	VerifyChain(ctx context.Context, caseID id.CaseID) error
}

type CustodyHandler struct {
	custody CustodyService
	logger  *slog.Logger
}

func NewCustodyHandler(custody CustodyService, logger *slog.Logger) *CustodyHandler {
	return &CustodyHandler{custody: custody, logger: logger}
}

func (h *CustodyHandler) Register(r chi.Router) {
	r.Get("/cases/{caseID}/custody", h.handleHistory)
	r.Post("/cases/{caseID}/custody", h.handleTransfer)
	r.Get("/cases/{caseID}/custody/verify", h.handleVerify)
}

type custodyResponse struct {
	CurrentHolder custodyModels.Holder            `json:"current_holder"`
	History       []*custodyModels.TransferRecord `json:"history"`
}

func (h *CustodyHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID, err := caseIDParam(r)
	if err != nil {
		writeError(ctx, w, h.logger, "custody_history", err)
		return
	}
	holder, err := h.custody.CurrentHolder(ctx, caseID)
	if err != nil {
		writeError(ctx, w, h.logger, "custody_history", err)
		return
	}
	history, err := h.custody.History(ctx, caseID)
	if err != nil {
		writeError(ctx, w, h.logger, "custody_history", err)
		return
	}
	if history == nil {
		history = []*custodyModels.TransferRecord{}
	}
	httputil.WriteJSON(w, http.StatusOK, custodyResponse{CurrentHolder: holder, History: history})
}

func (h *CustodyHandler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID, err := caseIDParam(r)
	if err != nil {
		writeError(ctx, w, h.logger, "custody_transfer", err)
		return
	}
	body, ok := httputil.DecodeAndPrepare[TransferBody](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	rec, err := h.custody.AppendTransfer(ctx, caseID, body.request(requestcontext.Actor(ctx)))
	if err != nil {
		writeError(ctx, w, h.logger, "custody_transfer", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, rec)
}

func (h *CustodyHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID, err := caseIDParam(r)
	if err != nil {
		writeError(ctx, w, h.logger, "custody_verify", err)
		return
	}
	if err := h.custody.VerifyChain(ctx, caseID); err != nil {
		writeError(ctx, w, h.logger, "custody_verify", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"intact": true})
}
