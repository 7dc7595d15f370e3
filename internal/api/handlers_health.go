// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pdf-batch/backend/internal/models"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version string
	worker  WorkerProber
}

// NewHealthHandler creates a new health handler. worker may be nil when no
// worker URL is configured.
func NewHealthHandler(version string, worker WorkerProber) HealthHandler {
	return &HealthHandlerImpl{
		version: version,
		worker:  worker,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": h.version,
	})
}

// HandleWorkerHealth probes the remote worker. An unreachable worker is
// reported in the body, not as an error status.
func (h *HealthHandlerImpl) HandleWorkerHealth(c echo.Context) error {
	status := models.WorkerStatusUnknown
	if h.worker != nil {
		status = h.worker.Health(c.Request().Context())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"worker": status,
	})
}
