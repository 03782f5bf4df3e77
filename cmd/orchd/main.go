package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/outerlook/vibe-kanban-sub002/internal/adapter/agentmq"
	orchhttp "github.com/outerlook/vibe-kanban-sub002/internal/adapter/http"
	_ "github.com/outerlook/vibe-kanban-sub002/internal/adapter/lognotify" // register log notifier
	orchnats "github.com/outerlook/vibe-kanban-sub002/internal/adapter/nats"
	"github.com/outerlook/vibe-kanban-sub002/internal/adapter/otel"
	"github.com/outerlook/vibe-kanban-sub002/internal/adapter/postgres"
	"github.com/outerlook/vibe-kanban-sub002/internal/adapter/ristretto"
	"github.com/outerlook/vibe-kanban-sub002/internal/adapter/ws"
	"github.com/outerlook/vibe-kanban-sub002/internal/config"
	"github.com/outerlook/vibe-kanban-sub002/internal/logger"
	"github.com/outerlook/vibe-kanban-sub002/internal/middleware"
	"github.com/outerlook/vibe-kanban-sub002/internal/resilience"
	"github.com/outerlook/vibe-kanban-sub002/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"max_concurrent_executions", cfg.Executions.MaxConcurrent,
	)

	ctx := context.Background()

	// --- Telemetry ---
	provider, err := otel.Init(ctx, cfg.Telemetry, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := orchnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	treeCache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer treeCache.Close()

	// --- Services ---

	hub := ws.NewHub()
	store := postgres.NewStore(pool)
	rt := agentmq.NewRuntime(queue, store)
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)

	dispatcher := service.NewDispatcher(store, metrics, cfg.Dispatcher.MaxSpawned)
	scheduler := service.NewScheduler(store, rt, breaker, hub, metrics, cfg.Executions.MaxConcurrent)
	approvals := service.NewApprovalService(store, queue, hub, metrics, cfg.Approvals.Timeout)
	deps := service.NewDependencyService(store, treeCache, cfg.Graph.TreeMaxDepth, cfg.Cache.TreeTTL)
	projects := service.NewProjectService(store, dispatcher)
	tasks := service.NewTaskService(store, dispatcher)
	workspaces := service.NewWorkspaceService(store, dispatcher, scheduler, approvals)
	notifications := service.NewNotificationService(
		service.BuildNotifiers(cfg.Notify.Providers, cfg.Notify.Settings))

	// Handler registration order is the inline execution order.
	dispatcher.Register(service.NewBroadcastHandler(hub))
	dispatcher.Register(service.NewQueueDrainHandler(scheduler))
	dispatcher.Register(service.NewDependencyCascadeHandler(deps, queue, hub))
	dispatcher.Register(service.NewFollowUpHandler(service.NewTriggerRouter(scheduler, tasks)))
	dispatcher.Register(service.NewNotificationHandler(notifications))

	consumer := service.NewConsumer(store, queue, dispatcher, approvals, metrics)
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("consumer: %w", err)
	}
	defer consumer.Stop()

	// --- HTTP ---

	handlers := &orchhttp.Handlers{
		Projects:     projects,
		Tasks:        tasks,
		Workspaces:   workspaces,
		Dependencies: deps,
		Scheduler:    scheduler,
		Approvals:    approvals,
		Hub:          hub,
		Queue:        queue,
		Breaker:      breaker,
	}

	r := chi.NewRouter()
	r.Use(orchhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(orchhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))

	orchhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}

	consumer.Stop()
	if err := queue.Drain(); err != nil {
		slog.Warn("nats drain", "error", err)
	}

	// Let in-flight spawned handlers land their hook-run records.
	dispatcher.Wait()
	return nil
}
