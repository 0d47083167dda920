package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	id "mortuary/pkg/domain"
	dErrors "mortuary/pkg/domain-errors"
	"mortuary/pkg/platform/httputil"
	"mortuary/pkg/requestcontext"
)

// writeError logs err at a level matching its class and writes the reply.
// Integrity failures are always logged as data-integrity alerts.
func writeError(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"op", op,
		"code", string(dErrors.CodeOf(err)),
		"error", err,
	}
	if actor := requestcontext.Actor(ctx); actor.ID != "" {
		attrs = append(attrs, "actor_id", actor.ID, "actor_role", actor.Role.String())
	}
	switch dErrors.ClassOf(err) {
	case dErrors.ClassIntegrity:
		logger.ErrorContext(ctx, "data integrity failure", append(attrs, "alert", "data_integrity")...)
	case dErrors.ClassInternal:
		logger.ErrorContext(ctx, "request failed", attrs...)
	default:
		logger.WarnContext(ctx, "request rejected", attrs...)
	}
	httputil.WriteError(w, err)
}

func caseIDParam(r *http.Request) (id.CaseID, error) {
	return id.ParseCaseID(chi.URLParam(r, "caseID"))
}

func slotIDParam(r *http.Request) (id.SlotID, error) {
	return id.ParseSlotID(chi.URLParam(r, "slotID"))
}
