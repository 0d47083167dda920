// Package httputil writes JSON responses and maps coded domain errors onto
// HTTP statuses.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	dErrors "mortuary/pkg/domain-errors"
)

const maxBodyBytes = 1 << 20

var statusByCode = map[dErrors.Code]int{
	dErrors.CodeInvalidInput:            http.StatusBadRequest,
	dErrors.CodeValidation:              http.StatusBadRequest,
	dErrors.CodeUnauthorized:            http.StatusUnauthorized,
	dErrors.CodeForbidden:               http.StatusForbidden,
	dErrors.CodeNotFound:                http.StatusNotFound,
	dErrors.CodeConflict:                http.StatusConflict,
	dErrors.CodeInvalidTransition:       http.StatusConflict,
	dErrors.CodeSlotConflict:            http.StatusConflict,
	dErrors.CodeClearanceBlocked:        http.StatusUnprocessableEntity,
	dErrors.CodeIncompleteDocumentation: http.StatusUnprocessableEntity,
	dErrors.CodeInvariantViolation:      http.StatusUnprocessableEntity,
	dErrors.CodeTimeout:                 http.StatusGatewayTimeout,
	dErrors.CodeChainDiscontinuity:      http.StatusInternalServerError,
	dErrors.CodeInternal:                http.StatusInternalServerError,
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error       string   `json:"error"`
	Description string   `json:"error_description,omitempty"`
	Class       string   `json:"class,omitempty"`
	Details     []string `json:"details,omitempty"`
	Retryable   bool     `json:"retryable,omitempty"`
}

// StatusFor returns the HTTP status for err.
func StatusFor(err error) int {
	if dErrors.IsIntegrity(err) {
		return http.StatusInternalServerError
	}
	if status, ok := statusByCode[dErrors.CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteError writes err as JSON. Messages of server-side failures are not
// exposed.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	code := dErrors.CodeOf(err)
	if dErrors.IsIntegrity(err) {
		code = dErrors.CodeChainDiscontinuity
	}
	resp := ErrorResponse{
		Error:     string(code),
		Class:     string(dErrors.ClassOf(err)),
		Retryable: dErrors.Retryable(err),
	}
	if code == dErrors.CodeInternal {
		resp.Error = "internal_error"
		resp.Class = ""
	}
	if status < http.StatusInternalServerError {
		var de *dErrors.Error
		if errors.As(err, &de) {
			resp.Description = de.Message
		}
		resp.Details = dErrors.DetailsOf(err)
	}
	WriteJSON(w, status, resp)
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// Validatable request bodies are checked and normalized after decoding.
type Validatable interface {
	Validate() error
}

// DecodeAndPrepare decodes a JSON body into T and validates it when T
// implements Validatable. On failure it writes the error and returns false.
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	var req T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		logger.WarnContext(ctx, "failed to decode request",
			"request_id", requestID,
			"error", err,
		)
		WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid JSON body"))
		return nil, false
	}
	if v, ok := any(&req).(Validatable); ok {
		if err := v.Validate(); err != nil {
			logger.WarnContext(ctx, "invalid request",
				"request_id", requestID,
				"error", err,
			)
			WriteError(w, err)
			return nil, false
		}
	}
	return &req, true
}
