// ABOUTME: Shared JSON request/response helpers for API handlers
// ABOUTME: Maps store sentinel errors onto HTTP status codes

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lisa-sim/lisa-backend/internal/store"
)

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// storeError maps store sentinels to an HTTP error response. Unexpected
// errors are logged and reported as a generic 500.
func (s *Server) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.sendJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrDuplicateName):
		s.sendJSONError(w, http.StatusConflict, "name already in use")
	case errors.Is(err, store.ErrRoleInUse):
		s.sendJSONError(w, http.StatusConflict, "role is referenced by active agents")
	case errors.Is(err, store.ErrBuildInFlight):
		s.sendJSONError(w, http.StatusConflict, "a build is already pending or running for this agent")
	case errors.Is(err, store.ErrBuildActive):
		s.sendJSONError(w, http.StatusConflict, "build is still in progress")
	default:
		s.logger.Error("internal error", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON decodes a request body, rejecting unknown garbage early.
func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
