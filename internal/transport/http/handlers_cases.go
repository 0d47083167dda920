package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	caseModels "mortuary/internal/caserecord/models"
	caseService "mortuary/internal/caserecord/service"
	custodyModels "mortuary/internal/custody/models"
	id "mortuary/pkg/domain"
	"mortuary/pkg/platform/httputil"
	"mortuary/pkg/requestcontext"
)

// CaseService is the case lifecycle surface used by the edge.
type CaseService interface {
	Intake(ctx context.Context, req caseService.IntakeRequest) (*caseModels.CaseRecord, error)
	Trigger(ctx context.Context, caseID id.CaseID, req caseService.TriggerRequest) (*caseService.TriggerResult, error)
	Invalidate(ctx context.Context, caseID id.CaseID, reason string, actor id.Actor) (*caseModels.CaseRecord, error)
	Get(ctx context.Context, caseID id.CaseID) (*caseModels.CaseRecord, error)
	GetByCode(ctx context.Context, code string) (*caseModels.CaseRecord, error)
	List(ctx context.Context, states ...caseModels.State) ([]*caseModels.CaseRecord, error)
}

type CaseHandler struct {
	cases  CaseService
	logger *slog.Logger
}

func NewCaseHandler(cases CaseService, logger *slog.Logger) *CaseHandler {
	return &CaseHandler{cases: cases, logger: logger}
}

func (h *CaseHandler) Register(r chi.Router) {
	r.Post("/cases", h.handleIntake)
	r.Get("/cases", h.handleList)
	r.Get("/cases/by-code/{code}", h.handleGetByCode)
	r.Get("/cases/{caseID}", h.handleGet)
	r.Post("/cases/{caseID}/triggers/{trigger}", h.handleTrigger)
	r.Post("/cases/{caseID}/invalidate", h.handleInvalidate)
}

func (h *CaseHandler) handleIntake(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[IntakeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	c, err := h.cases.Intake(ctx, caseService.IntakeRequest{
		Code:          req.Code,
		Holder:        custodyModels.Holder(req.Holder),
		Location:      req.Location,
		NotApplicable: req.gates,
		Actor:         requestcontext.Actor(ctx),
	})
	if err != nil {
		writeError(ctx, w, h.logger, "intake", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, c)
}

func (h *CaseHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	states, err := parseCaseStates(r.URL.Query()["state"])
	if err != nil {
		writeError(ctx, w, h.logger, "list_cases", err)
		return
	}
	cases, err := h.cases.List(ctx, states...)
	if err != nil {
		writeError(ctx, w, h.logger, "list_cases", err)
		return
	}
	if cases == nil {
		cases = []*caseModels.CaseRecord{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"cases": cases})
}

func (h *CaseHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID, err := caseIDParam(r)
	if err != nil {
		writeError(ctx, w, h.logger, "get_case", err)
		return
	}
	c, err := h.cases.Get(ctx, caseID)
	if err != nil {
		writeError(ctx, w, h.logger, "get_case", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

func (h *CaseHandler) handleGetByCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := h.cases.GetByCode(ctx, chi.URLParam(r, "code"))
	if err != nil {
		writeError(ctx, w, h.logger, "get_case_by_code", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

func (h *CaseHandler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID, err := caseIDParam(r)
	if err != nil {
		writeError(ctx, w, h.logger, "trigger", err)
		return
	}
	trigger, err := caseModels.ParseTrigger(chi.URLParam(r, "trigger"))
	if err != nil {
		writeError(ctx, w, h.logger, "trigger", err)
		return
	}
	body, ok := httputil.DecodeAndPrepare[TriggerBody](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.cases.Trigger(ctx, caseID, caseService.TriggerRequest{
		Trigger:     trigger,
		Actor:       requestcontext.Actor(ctx),
		Reason:      body.Reason,
		SlotID:      body.slotID,
		Holder:      custodyModels.Holder(body.Holder),
		Location:    body.Location,
		SignedActID: body.actID,
	})
	if err != nil {
		writeError(ctx, w, h.logger, "trigger."+string(trigger), err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *CaseHandler) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID, err := caseIDParam(r)
	if err != nil {
		writeError(ctx, w, h.logger, "invalidate", err)
		return
	}
	body, ok := httputil.DecodeAndPrepare[ReasonBody](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	c, err := h.cases.Invalidate(ctx, caseID, body.Reason, requestcontext.Actor(ctx))
	if err != nil {
		writeError(ctx, w, h.logger, "invalidate", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}
