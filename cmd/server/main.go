package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ErlanBelekov/run-orchestrator/config"
	"github.com/ErlanBelekov/run-orchestrator/internal/collection"
	"github.com/ErlanBelekov/run-orchestrator/internal/health"
	"github.com/ErlanBelekov/run-orchestrator/internal/infrastructure/memory"
	"github.com/ErlanBelekov/run-orchestrator/internal/infrastructure/postgres"
	ctxlog "github.com/ErlanBelekov/run-orchestrator/internal/log"
	"github.com/ErlanBelekov/run-orchestrator/internal/metrics"
	"github.com/ErlanBelekov/run-orchestrator/internal/notify"
	"github.com/ErlanBelekov/run-orchestrator/internal/repository"
	"github.com/ErlanBelekov/run-orchestrator/internal/scheduler"
	httptransport "github.com/ErlanBelekov/run-orchestrator/internal/transport/http"
	"github.com/ErlanBelekov/run-orchestrator/internal/transport/http/handler"
	"github.com/ErlanBelekov/run-orchestrator/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	var (
		scheduleRepo  repository.ScheduleRepository
		executionRepo repository.ExecutionRepository
		pinger        health.Pinger
	)
	switch cfg.Store {
	case "memory":
		scheduleRepo = memory.NewScheduleRepository()
		executionRepo = memory.NewExecutionRepository()
		logger.Warn("using in-memory store, state is lost on restart")
	default:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			stop()
			log.Fatalf("db: %v", err)
		}
		defer pool.Close()
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			stop()
			log.Fatalf("schema: %v", err)
		}
		scheduleRepo = postgres.NewScheduleRepository(pool)
		executionRepo = postgres.NewExecutionRepository(pool)
		pinger = pool
		logger.Info("db connected")
	}

	executor := collection.NewClient(cfg.CollectionExecutorURL)
	environments := collection.NewClient(cfg.EnvironmentProviderURL)
	notifier := notify.NewNotifier(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, cfg.NotifyTo, logger)

	coord := scheduler.NewCoordinator(scheduleRepo, executionRepo, executor, environments, notifier, scheduler.Config{
		MaxRetries:    cfg.MaxRetries,
		RetryInterval: cfg.RetryInterval,
		Overlap:       scheduler.Overlap(cfg.OverlapPolicy),
	}, logger)
	registry := scheduler.NewRegistry(coord.Fire, logger)
	recovery := scheduler.NewRecovery(scheduleRepo, executionRepo, coord, cfg.RecoveryRate, cfg.RecoveryBurst, logger)

	orchestrator := usecase.NewScheduleUsecase(scheduleRepo, executionRepo, coord, registry, recovery, logger)
	scheduleHandler := handler.NewScheduleHandler(orchestrator, logger)

	metrics.Register()
	checker := health.NewChecker(pinger, orchestrator.Running, logger, prometheus.DefaultRegisterer)

	if err := orchestrator.Start(ctx); err != nil {
		stop()
		log.Fatalf("orchestrator: %v", err)
	}

	srv := http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httptransport.NewRouter(logger, scheduleHandler, []byte(cfg.JWTSecret)),
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := orchestrator.Stop(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
