package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reportree/internal/common"
)

type APIHandler struct {
	logger    arbor.ILogger
	processor HealthChecker
	scheduler HealthChecker
}

// NewAPIHandler creates the system handler. processor and scheduler may be nil.
func NewAPIHandler(logger arbor.ILogger, processor, scheduler HealthChecker) *APIHandler {
	return &APIHandler{
		logger:    logger,
		processor: processor,
		scheduler: scheduler,
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, common.GetVersionInfo())
}

// HealthHandler returns health check status
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"workers":    running(h.processor),
		"scheduler":  running(h.scheduler),
		"goroutines": common.GetGoroutineCount(),
	})
}

func running(c HealthChecker) bool {
	return c != nil && c.IsRunning()
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
