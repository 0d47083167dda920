package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	custodyModels "mortuary/internal/custody/models"
	retrievalModels "mortuary/internal/retrieval/models"
	retrievalService "mortuary/internal/retrieval/service"
	id "mortuary/pkg/domain"
	"mortuary/pkg/platform/httputil"
	"mortuary/pkg/requestcontext"
)

type RetrievalService interface {
	RecordSignedAct(ctx context.Context, req retrievalService.SignedActRequest) (*retrievalModels.SignedAct, error)
	Finalize(ctx context.Context, caseID id.CaseID, req retrievalService.FinalizeRequest) (*retrievalModels.RetrievalRecord, error)
	Get(ctx context.Context, caseID id.CaseID) (*retrievalModels.RetrievalRecord, error)
}

type RetrievalHandler struct {
	retrieval RetrievalService
	logger    *slog.Logger
}

func NewRetrievalHandler(retrieval RetrievalService, logger *slog.Logger) *RetrievalHandler {
	return &RetrievalHandler{retrieval: retrieval, logger: logger}
}

func (h *RetrievalHandler) Register(r chi.Router) {
	r.Post("/signed-acts", h.handleRecordAct)
	r.Post("/cases/{caseID}/retrieval", h.handleFinalize)
	r.Get("/cases/{caseID}/retrieval", h.handleGet)
}

func (h *RetrievalHandler) handleRecordAct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, ok := httputil.DecodeAndPrepare[SignedActBody](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	act, err := h.retrieval.RecordSignedAct(ctx, retrievalService.SignedActRequest{
		ID:       body.actID,
		CaseID:   body.caseID,
		SignedBy: body.SignedBy,
		Complete: body.Complete,
		SignedAt: body.SignedAt,
		Actor:    requestcontext.Actor(ctx),
	})
	if err != nil {
		writeError(ctx, w, h.logger, "record_signed_act", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, act)
}

func (h *RetrievalHandler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID, err := caseIDParam(r)
	if err != nil {
		writeError(ctx, w, h.logger, "finalize", err)
		return
	}
	body, ok := httputil.DecodeAndPrepare[FinalizeBody](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	rec, err := h.retrieval.Finalize(ctx, caseID, retrievalService.FinalizeRequest{
		SignedActID:         body.actID,
		ReceivedBy:          custodyModels.Holder(body.ReceivedBy),
		DestinationLocation: body.Destination,
		Actor:               requestcontext.Actor(ctx),
	})
	if err != nil {
		writeError(ctx, w, h.logger, "finalize", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

func (h *RetrievalHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID, err := caseIDParam(r)
	if err != nil {
		writeError(ctx, w, h.logger, "get_retrieval", err)
		return
	}
	rec, err := h.retrieval.Get(ctx, caseID)
	if err != nil {
		writeError(ctx, w, h.logger, "get_retrieval", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}
