package api

import (
	"encoding/json"
	"net/http"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

func statusForKind(k apperr.Kind) int {
	switch k {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindInvalidState:
		return http.StatusConflict
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, body apperr.Body) {
	writeJSON(w, status, body)
}

// writeAppError translates a service error into the shared error envelope.
// Unclassified errors are logged and reported as internal_error without the
// underlying message.
func writeAppError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	e, ok := apperr.As(err)
	if !ok {
		logger.Error("unhandled error", "path", r.URL.Path, "request_id", GetRequestID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, apperr.Body{Error: "internal_error", Details: "internal server error"})
		return
	}

	status := statusForKind(e.Kind)
	if status >= http.StatusInternalServerError {
		logger.Warn("dependency failure", "path", r.URL.Path, "request_id", GetRequestID(r.Context()), "code", e.Code, "error", err)
	}
	writeError(w, status, apperr.Body{Error: e.Code, Kind: e.Kind, Details: e.Message})
}

func badRequest(code, details string) *apperr.Error {
	return apperr.Validation(code, details)
}
