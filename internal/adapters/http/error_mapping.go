package httpadapter

import (
	"encoding/json"
	"net/http"

	"github.com/vmelnikau/docqa/internal/core/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message})
}

// statusForError maps domain error kinds to HTTP status codes. Unclassified
// errors stay opaque 500s so internal details never leak to clients.
func statusForError(err error) (int, string) {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput), domain.IsKind(err, domain.ErrMissingField):
		return http.StatusBadRequest, err.Error()
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable, "dependency temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func writeError(w http.ResponseWriter, err error) {
	statusCode, message := statusForError(err)
	writeJSONError(w, statusCode, message)
}
