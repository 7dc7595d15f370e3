// routes.go - Route registration helpers
package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pdf-batch/backend/internal/records"
	"github.com/pdf-batch/backend/internal/schema"
	"github.com/pdf-batch/backend/internal/storage"
	"github.com/rs/zerolog"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	SessionMgr   SessionManager
	Uploads      UploadTracker
	Records      records.Store
	Docs         storage.ObjectStore
	Results      storage.ObjectStore
	Worker       WorkerProber
	Matcher      schema.Matcher
	AllowedTypes string
	MaxResult    int64
	Version      string
	Logger       zerolog.Logger
}

// Handlers holds all handler instances
type Handlers struct {
	Health    HealthHandler
	Session   SessionHandler
	Batch     BatchHandler
	Record    RecordHandler
	Storage   StorageHandler
	WebSocket *WebSocketHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(deps.Version, deps.Worker),
		Session:   NewSessionHandler(deps.SessionMgr, deps.Matcher),
		Batch:     NewBatchHandler(deps.SessionMgr, deps.Uploads, deps.Matcher, deps.AllowedTypes),
		Record:    NewRecordHandler(deps.Records),
		Storage:   NewStorageHandler([]storage.ObjectStore{deps.Docs, deps.Results}, []string{deps.Results.Bucket()}, deps.MaxResult),
		WebSocket: NewWebSocketHandler(deps.SessionMgr, deps.Logger),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	// Health checks
	e.GET("/api/health", handlers.Health.HandleHealth)
	e.GET("/api/worker/health", handlers.Health.HandleWorkerHealth)

	// Client session routes
	sessionGroup := e.Group("/api/sessions")
	sessionGroup.POST("", handlers.Session.HandleCreateSession)
	sessionGroup.GET("/:sessionId", handlers.Session.HandleGetSession)
	sessionGroup.DELETE("/:sessionId", handlers.Session.HandleDeleteSession)
	sessionGroup.POST("/:sessionId/keepalive", handlers.Session.HandleSessionKeepAlive)
	sessionGroup.POST("/:sessionId/preview", handlers.Session.HandlePreview)
	sessionGroup.POST("/:sessionId/batches", handlers.Batch.HandleStartBatch)
	sessionGroup.GET("/:sessionId/upload", handlers.Batch.HandleUploadProgress)
	sessionGroup.GET("/:sessionId/combined", handlers.Batch.HandleGetCombined)
	sessionGroup.GET("/:sessionId/combined/msgpack", handlers.Batch.HandleGetCombinedMsgpack)

	// Snapshot push
	e.GET("/api/ws/sessions/:sessionId", handlers.WebSocket.HandleSessionSocket)

	// Worker-facing record routes
	recordGroup := e.Group("/api/records")
	recordGroup.GET("/batches/:id", handlers.Record.HandleGetBatch)
	recordGroup.PATCH("/batches/:id", handlers.Record.HandlePatchBatch)
	recordGroup.GET("/batches/:id/work_items", handlers.Record.HandleListWorkItems)
	recordGroup.GET("/work_items/:id", handlers.Record.HandleGetWorkItem)
	recordGroup.PATCH("/work_items/:id", handlers.Record.HandlePatchWorkItem)

	// Object storage
	e.GET("/storage/:bucket/*", handlers.Storage.HandleGetObject)
	e.PUT("/storage/:bucket/*", handlers.Storage.HandlePutResult)
}

// MiddlewareConfig tunes SetupMiddleware.
type MiddlewareConfig struct {
	AllowOrigins   []string
	EnableCORS     bool
	BodyLimit      string
	RequestLogging bool
	Debug          bool
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg MiddlewareConfig, logger zerolog.Logger) {
	e.HTTPErrorHandler = NewErrorHandler(logger, cfg.Debug)

	e.Use(middleware.Recover())
	if cfg.RequestLogging {
		reqLog := logger.With().Str("component", "http").Logger()
		e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			LogStatus:   true,
			LogURI:      true,
			LogMethod:   true,
			LogLatency:  true,
			LogError:    true,
			HandleError: true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				ev := reqLog.Info()
				if v.Error != nil {
					ev = reqLog.Warn().Err(v.Error)
				}
				ev.Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Dur("latency", v.Latency).Msg("request")
				return nil
			},
		}))
	}
	if cfg.EnableCORS {
		origins := cfg.AllowOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{echo.GET, echo.POST, echo.PUT, echo.PATCH, echo.DELETE, echo.OPTIONS},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, "x-worker-secret"},
		}))
	}
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}
}
