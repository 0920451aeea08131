package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/common"
	"github.com/ternarybob/urbix/internal/interfaces"
)

type APIHandler struct {
	queue  interfaces.QueueManager
	logger arbor.ILogger
}

func NewAPIHandler(queue interfaces.QueueManager, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		queue:  queue,
		logger: logger,
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version":    common.GetVersion(),
		"build":      common.Build,
		"git_commit": common.GitCommit,
	})
}

// HealthHandler returns health check status with the number of queued login jobs
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	response := map[string]interface{}{
		"status":  "ok",
		"version": common.GetVersion(),
	}
	if h.queue != nil {
		if n, err := h.queue.Len(r.Context()); err == nil {
			response["queued_jobs"] = n
		} else {
			h.logger.Warn().Err(err).Msg("Failed to read queue length")
			response["status"] = "degraded"
		}
	}

	WriteJSON(w, http.StatusOK, response)
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
