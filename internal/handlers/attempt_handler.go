package handlers

import (
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/interfaces"
)

// AttemptHandler exposes login attempt status by id
type AttemptHandler struct {
	login  interfaces.LoginService
	logger arbor.ILogger
}

func NewAttemptHandler(login interfaces.LoginService, logger arbor.ILogger) *AttemptHandler {
	return &AttemptHandler{login: login, logger: logger}
}

// GetAttemptHandler handles GET /api/attempts/{id}
func (h *AttemptHandler) GetAttemptHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	attemptID := PathID(r.URL.Path, "/api/attempts/")
	if attemptID == "" {
		WriteError(w, http.StatusBadRequest, "Attempt ID is required")
		return
	}

	attempt, err := h.login.GetAttempt(r.Context(), attemptID)
	if errors.Is(err, interfaces.ErrAttemptNotFound) {
		WriteError(w, http.StatusNotFound, "Attempt not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("attempt_id", attemptID).Msg("Failed to load attempt")
		WriteError(w, http.StatusInternalServerError, "Failed to load attempt")
		return
	}
	WriteJSON(w, http.StatusOK, attempt)
}
