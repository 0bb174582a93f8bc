// Package main is the entrypoint for the voiceforge generation server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/avelinsk/voiceforge/internal/api"
	"github.com/avelinsk/voiceforge/internal/api/handler"
	"github.com/avelinsk/voiceforge/internal/api/response"
	"github.com/avelinsk/voiceforge/internal/artifact"
	"github.com/avelinsk/voiceforge/internal/cache"
	"github.com/avelinsk/voiceforge/internal/cleanup"
	"github.com/avelinsk/voiceforge/internal/config"
	"github.com/avelinsk/voiceforge/internal/executor"
	"github.com/avelinsk/voiceforge/internal/gateway"
	"github.com/avelinsk/voiceforge/internal/generate"
	"github.com/avelinsk/voiceforge/internal/ratelimit"
	"github.com/avelinsk/voiceforge/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — .env is optional, env vars win; fail fast on invalid config
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "engine", cfg.Generation.Engine, "workers", cfg.Generation.Workers, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis result cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Artifact storage
	artifacts, err := artifact.NewFileStore(cfg.Artifacts.Dir)
	if err != nil {
		return fmt.Errorf("create artifact store: %w", err)
	}

	// 6. Generation engine
	gen, err := generate.NewGenerator(cfg.Generation)
	if err != nil {
		return fmt.Errorf("create generation engine: %w", err)
	}
	slog.Info("generation engine initialized", "engine", gen.Name())

	// 7. Pipeline components
	jobStore := store.NewPostgresStore(pool)

	exec := executor.New(jobStore, gen, artifacts, redisCache, executor.Options{
		Workers:    cfg.Generation.Workers,
		QueueDepth: cfg.Generation.QueueDepth,
		JobTimeout: cfg.Generation.JobTimeout,
		ResultTTL:  cfg.Cache.ResultTTL,
	})
	exec.Start()

	if resumed, err := exec.ResumePending(ctx); err != nil {
		slog.Warn("resume pending jobs", "error", err)
	} else if resumed > 0 {
		slog.Info("resumed pending jobs from previous run", "count", resumed)
	}

	limiter := ratelimit.New(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)

	gw := gateway.New(limiter, redisCache, jobStore, exec, artifacts, gateway.Options{
		ResultTTL:       cfg.Cache.ResultTTL,
		MaxRetries:      cfg.Generation.MaxRetries,
		SyncWaitTimeout: cfg.Generation.SyncWaitTimeout,
	})

	sweeper := cleanup.New(jobStore, redisCache, artifacts, limiter, exec, cleanup.Options{
		Interval:     cfg.Cleanup.Interval,
		JobRetention: cfg.Cleanup.JobRetention,
		StaleAfter:   cfg.Cleanup.StaleAfter,
		BucketMaxAge: cfg.Cleanup.BucketMaxAge,
		TempMaxAge:   cfg.Artifacts.TempMaxAge,
	})
	go sweeper.Run(ctx)

	// 8. Build router with dependencies
	deps := api.Dependencies{
		HealthHandler:    healthHandler(jobStore, redisCache),
		GenerateHandler:  handler.NewGenerateHandler(gw),
		JobStatusHandler: handler.NewJobStatusHandler(gw),
		JobResultHandler: handler.NewJobResultHandler(gw),
		CancelJobHandler: handler.NewCancelJobHandler(gw),
		ListJobsHandler:  handler.NewListJobsHandler(gw),
		QueueHandler:     handler.NewQueueStatsHandler(gw),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Generation.SyncWaitTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// Drain in-flight generation jobs; queued jobs stay pending and resume
	// on next start.
	if err := exec.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("executor shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
