package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pdf-batch/backend/internal/api"
	"github.com/pdf-batch/backend/internal/batch"
	"github.com/pdf-batch/backend/internal/config"
	"github.com/pdf-batch/backend/internal/events"
	"github.com/pdf-batch/backend/internal/logging"
	"github.com/pdf-batch/backend/internal/records"
	"github.com/pdf-batch/backend/internal/remote"
	"github.com/pdf-batch/backend/internal/schema"
	"github.com/pdf-batch/backend/internal/session"
	"github.com/pdf-batch/backend/internal/storage"
	"github.com/pdf-batch/backend/internal/upload"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus, err := newBus(cfg, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	store, err := records.NewDuckStore(cfg.Records.DatabasePath, bus, logger)
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	defer store.Close()

	publicURL := cfg.GetPublicURL()
	docs, err := storage.NewLocalStore(cfg.Storage.DocsBucket, cfg.BucketDir(cfg.Storage.DocsBucket), publicURL)
	if err != nil {
		return fmt.Errorf("initialize document storage: %w", err)
	}
	results, err := storage.NewLocalStore(cfg.Storage.ResultsBucket, cfg.BucketDir(cfg.Storage.ResultsBucket), publicURL)
	if err != nil {
		return fmt.Errorf("initialize result storage: %w", err)
	}

	policy, err := schema.ParsePolicy(cfg.Batch.ExhaustedLabel)
	if err != nil {
		return err
	}
	matcher := schema.Matcher{Policy: policy}

	uploads := upload.NewManager(docs, logger)
	fetcher := remote.NewHTTPFetcher(cfg.Batch.FetchTimeout, cfg.Storage.MaxResultBytes)
	agg := batch.NewAggregator(results, fetcher, cfg.Batch.FetchTimeout, logger)

	// Interfaces stay nil without a worker URL so callers can tell.
	var worker batch.Worker
	var prober api.WorkerProber
	client := remote.NewClient(cfg.Worker.URL, cfg.Worker.Secret, cfg.Worker.NotifyTimeout)
	if client.Configured() {
		worker = client
		prober = client
	} else {
		logger.Warn().Msg("no worker URL configured, batches will not be dispatched")
	}

	opts := batch.Options{
		WatchInterval: cfg.Batch.WatchInterval,
		NotifyTimeout: cfg.Worker.NotifyTimeout,
		HealthTimeout: cfg.Worker.HealthTimeout,
	}
	sessions := session.NewManager(func() *batch.Controller {
		return batch.NewController(store, bus, uploads, worker, agg, opts, logger)
	}, cfg.Sessions.MaxSessions, logger)
	defer sessions.Close()

	go func() {
		ticker := time.NewTicker(cfg.Sessions.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := sessions.CleanupOldSessions(cfg.Sessions.MaxAge); n > 0 {
					logger.Info().Int("removed", n).Msg("expired sessions cleaned up")
				}
				uploads.CleanupOldJobs(cfg.Sessions.MaxAge)
			}
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	api.SetupMiddleware(e, api.MiddlewareConfig{
		AllowOrigins:   cfg.Server.AllowOrigins,
		EnableCORS:     cfg.Server.EnableCORS,
		BodyLimit:      cfg.Server.BodyLimit,
		RequestLogging: cfg.Logging.RequestLogging,
		Debug:          logging.ParseLevel(cfg.Logging.Level) <= zerolog.DebugLevel,
	}, logger)
	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		SessionMgr:   sessions,
		Uploads:      uploads,
		Records:      store,
		Docs:         docs,
		Results:      results,
		Worker:       prober,
		Matcher:      matcher,
		AllowedTypes: cfg.Storage.AllowedFileTypes,
		MaxResult:    cfg.Storage.MaxResultBytes,
		Version:      Version,
		Logger:       logger,
	}))

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("config", cfgFile).
		Str("listen", cfg.GetServerAddr()).
		Str("public_url", publicURL).
		Str("events", cfg.Events.Driver).
		Bool("worker", client.Configured()).
		Msg("server starting")

	serveErr := make(chan error, 1)
	go func() {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newBus(cfg *config.AppConfig, logger zerolog.Logger) (events.Bus, error) {
	switch cfg.Events.Driver {
	case "redis":
		r := cfg.Events.Redis
		bus, err := events.NewRedisBus(events.RedisConfig{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
			PoolSize: r.PoolSize,
			Prefix:   r.Prefix,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect event bus: %w", err)
		}
		return bus, nil
	default:
		return events.NewHub(cfg.Events.Buffer, logger), nil
	}
}
