// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/pdf-batch/backend/internal/models"
	"github.com/pdf-batch/backend/internal/session"
	"github.com/pdf-batch/backend/internal/upload"
)

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
	HandleWorkerHealth(c echo.Context) error
}

// SessionHandler handles client session operations
type SessionHandler interface {
	HandleCreateSession(c echo.Context) error
	HandleGetSession(c echo.Context) error
	HandleDeleteSession(c echo.Context) error
	HandleSessionKeepAlive(c echo.Context) error
	HandlePreview(c echo.Context) error
}

// BatchHandler handles batch submission and combined result downloads
type BatchHandler interface {
	HandleStartBatch(c echo.Context) error
	HandleUploadProgress(c echo.Context) error
	HandleGetCombined(c echo.Context) error
	HandleGetCombinedMsgpack(c echo.Context) error
}

// RecordHandler exposes the batch and work item records to the worker
type RecordHandler interface {
	HandleGetBatch(c echo.Context) error
	HandlePatchBatch(c echo.Context) error
	HandleListWorkItems(c echo.Context) error
	HandleGetWorkItem(c echo.Context) error
	HandlePatchWorkItem(c echo.Context) error
}

// StorageHandler serves stored objects and accepts worker results
type StorageHandler interface {
	HandleGetObject(c echo.Context) error
	HandlePutResult(c echo.Context) error
}

// SessionManager defines the interface for session management
// This allows mocking in tests
type SessionManager interface {
	CreateSession() (*session.SessionState, error)
	GetSession(id string) (*session.SessionState, bool)
	TouchSession(id string) bool
	DeleteSession(id string) bool
}

// UploadTracker reports per-batch upload progress
type UploadTracker interface {
	GetJob(batchID string) (upload.Job, bool)
}

// WorkerProber checks the remote worker's reachability
type WorkerProber interface {
	Health(ctx context.Context) models.WorkerStatus
}
