package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	slotModels "mortuary/internal/slot/models"
	id "mortuary/pkg/domain"
	"mortuary/pkg/platform/httputil"
	"mortuary/pkg/requestcontext"
)

// SlotService is the slot registry surface used by the edge. Slots are
// assigned through the assign_slot case trigger, never directly.
type SlotService interface {
	Register(ctx context.Context, code string, actor id.Actor) (*slotModels.Slot, error)
	Release(ctx context.Context, slotID id.SlotID, actor id.Actor) (*slotModels.Release, error)
	ManualEmergencyRelease(ctx context.Context, slotID id.SlotID, reason string, actor id.Actor) (*slotModels.Release, error)
	BeginMaintenance(ctx context.Context, slotID id.SlotID, actor id.Actor) (*slotModels.Slot, error)
	EndMaintenance(ctx context.Context, slotID id.SlotID, actor id.Actor) (*slotModels.Slot, error)
	Decommission(ctx context.Context, slotID id.SlotID, actor id.Actor) (*slotModels.Slot, error)
	Recommission(ctx context.Context, slotID id.SlotID, actor id.Actor) (*slotModels.Slot, error)
	Get(ctx context.Context, slotID id.SlotID) (*slotModels.Slot, error)
	List(ctx context.Context, states ...slotModels.State) ([]*slotModels.Slot, error)
	FindByOccupant(ctx context.Context, caseID id.CaseID) (*slotModels.Slot, error)
}

type SlotHandler struct {
	slots  SlotService
	logger *slog.Logger
}

func NewSlotHandler(slots SlotService, logger *slog.Logger) *SlotHandler {
	return &SlotHandler{slots: slots, logger: logger}
}

type slotAction func(ctx context.Context, slotID id.SlotID, actor id.Actor) (*slotModels.Slot, error)

func (h *SlotHandler) Register(r chi.Router) {
	r.Post("/slots", h.handleRegister)
	r.Get("/slots", h.handleList)
	r.Get("/slots/{slotID}", h.handleGet)
	r.Get("/cases/{caseID}/slot", h.handleFindByOccupant)
	r.Post("/slots/{slotID}/release", h.handleRelease)
	r.Post("/slots/{slotID}/emergency-release", h.handleEmergencyRelease)
	r.Post("/slots/{slotID}/maintenance", h.action("begin_maintenance", h.slots.BeginMaintenance))
	r.Delete("/slots/{slotID}/maintenance", h.action("end_maintenance", h.slots.EndMaintenance))
	r.Post("/slots/{slotID}/decommission", h.action("decommission", h.slots.Decommission))
	r.Post("/slots/{slotID}/recommission", h.action("recommission", h.slots.Recommission))
}

func (h *SlotHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[RegisterSlotRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	slot, err := h.slots.Register(ctx, req.Code, requestcontext.Actor(ctx))
	if err != nil {
		writeError(ctx, w, h.logger, "register_slot", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, slot)
}

func (h *SlotHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var states []slotModels.State
	for _, v := range splitList(r.URL.Query()["state"]) {
		st, err := slotModels.ParseState(v)
		if err != nil {
			writeError(ctx, w, h.logger, "list_slots", err)
			return
		}
		states = append(states, st)
	}
	slots, err := h.slots.List(ctx, states...)
	if err != nil {
		writeError(ctx, w, h.logger, "list_slots", err)
		return
	}
	if slots == nil {
		slots = []*slotModels.Slot{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"slots": slots})
}

func (h *SlotHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slotID, err := slotIDParam(r)
	if err != nil {
		writeError(ctx, w, h.logger, "get_slot", err)
		return
	}
	slot, err := h.slots.Get(ctx, slotID)
	if err != nil {
		writeError(ctx, w, h.logger, "get_slot", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, slot)
}

func (h *SlotHandler) handleFindByOccupant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID, err := caseIDParam(r)
	if err != nil {
		writeError(ctx, w, h.logger, "find_slot_by_occupant", err)
		return
	}
	slot, err := h.slots.FindByOccupant(ctx, caseID)
	if err != nil {
		writeError(ctx, w, h.logger, "find_slot_by_occupant", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, slot)
}

func (h *SlotHandler) handleRelease(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slotID, err := slotIDParam(r)
	if err != nil {
		writeError(ctx, w, h.logger, "release_slot", err)
		return
	}
	rel, err := h.slots.Release(ctx, slotID, requestcontext.Actor(ctx))
	if err != nil {
		writeError(ctx, w, h.logger, "release_slot", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rel)
}

func (h *SlotHandler) handleEmergencyRelease(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slotID, err := slotIDParam(r)
	if err != nil {
		writeError(ctx, w, h.logger, "emergency_release", err)
		return
	}
	body, ok := httputil.DecodeAndPrepare[ReasonBody](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	rel, err := h.slots.ManualEmergencyRelease(ctx, slotID, body.Reason, requestcontext.Actor(ctx))
	if err != nil {
		writeError(ctx, w, h.logger, "emergency_release", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rel)
}

func (h *SlotHandler) action(op string, fn slotAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		slotID, err := slotIDParam(r)
		if err != nil {
			writeError(ctx, w, h.logger, op, err)
			return
		}
		slot, err := fn(ctx, slotID, requestcontext.Actor(ctx))
		if err != nil {
			writeError(ctx, w, h.logger, op, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, slot)
	}
}
