package httpapi

import (
	"errors"
	"net/http"
	"strings"
)

type respondRequest struct {
	Message string `json:"message"`
}

// handleRespond exposes the response chain with the same contract the remote
// responder endpoint is expected to honor.
func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	if s.opts.Responder == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "response provider not configured")
		return
	}
	var req respondRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "invalid_request", "message is required")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	text := strings.TrimSpace(req.Message)
	if text == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}
	respondJSON(w, http.StatusOK, s.opts.Responder.GetResponse(r.Context(), text))
}
