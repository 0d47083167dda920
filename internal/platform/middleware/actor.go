package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	id "mortuary/pkg/domain"
	"mortuary/pkg/requestcontext"
)

// Actor identity is resolved by the gateway in front of this service and
// forwarded in these headers.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

// RequireActor rejects requests without a resolvable actor and stores the
// actor in the context.
func RequireActor(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := id.Actor{
				ID:   strings.TrimSpace(r.Header.Get(HeaderActorID)),
				Role: id.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderActorRole)))),
			}
			if err := actor.Validate(); err != nil {
				logger.WarnContext(r.Context(), "request without actor",
					"request_id", requestcontext.RequestID(r.Context()),
					"path", r.URL.Path,
					"error", err,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"actor headers are required"}`))
				return
			}
			ctx := requestcontext.WithActor(r.Context(), actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
