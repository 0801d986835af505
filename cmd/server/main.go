package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/examily/examily-backend/internal/attempt"
	"github.com/examily/examily-backend/internal/config"
	"github.com/examily/examily-backend/internal/database"
	"github.com/examily/examily-backend/internal/handler"
	"github.com/examily/examily-backend/internal/logger"
	"github.com/examily/examily-backend/internal/repository"
	"github.com/examily/examily-backend/internal/router"
	"github.com/examily/examily-backend/internal/service"
	"github.com/examily/examily-backend/internal/store"
	"github.com/examily/examily-backend/internal/validator"
	"github.com/examily/examily-backend/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting Examily Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	userRepo := repository.NewUserRepository(pool)
	examRepo := repository.NewExamRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	monitorRepo := repository.NewMonitorRepository(pool)

	// ─── Initialize Redis Stores ───────────────────────────────────────
	examCache := store.NewExamCache(examRepo, rdb, cfg.ExamCacheTTL, log)
	monitor := store.NewMonitor(rdb, log)
	attemptStore := store.NewAttemptStore(attemptRepo, rdb, monitor, log)

	attemptDeps := attempt.Deps{
		Exams: examCache,
		Store: attemptStore,
		Clock: clock.RealClock{},
		Log:   log,
	}
	attemptCfg := attempt.Config{
		TickInterval:          cfg.TickInterval,
		AutosaveInterval:      cfg.AutosaveInterval,
		GracePeriod:           cfg.GracePeriod,
		SubmitRetryMaxElapsed: cfg.SubmitRetryMaxElapsed,
	}

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, userRepo)
	examService := service.NewExamService(examRepo, attemptRepo, examCache, log)
	attemptService := service.NewAttemptService(attemptDeps, attemptCfg, attemptStore, attemptRepo, log)
	dashboardService := service.NewDashboardService(attemptRepo)
	monitorService := service.NewMonitorService(monitorRepo, attemptStore, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:      handler.NewAuthHandler(authService),
		Exam:      handler.NewExamHandler(examService, attemptService),
		Student:   handler.NewStudentHandler(examService, attemptService),
		Dashboard: handler.NewDashboardHandler(dashboardService),
		WS:        handler.NewWSHandler(attemptService, attemptCfg, log, cfg.AllowedOrigins),
		Monitor:   handler.NewMonitorHandler(monitor, examService, monitorService, log),
		System:    handler.NewSystemHandler(pool, rdb, log),
	}

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Exams with attempts in flight are loaded before accepting traffic.
	if err := examService.PrewarmCaches(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	autosaveWorker := worker.NewAutosaveWorker(attemptRepo, attemptStore, rdb, log)
	expiryWorker := worker.NewExpiryWorker(attemptRepo, attemptDeps, attemptCfg, cfg.ExpirySweepInterval, log)

	var workers errgroup.Group
	workers.Go(func() error { autosaveWorker.Start(workerCtx); return nil })
	workers.Go(func() error { expiryWorker.Start(workerCtx); return nil })

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, rdb, cfg, log)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down gracefully...")
	case err := <-serveErr:
		log.Error().Err(err).Msg("Server error")
	}

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for the autosave queue to drain.
	workerCancel()
	_ = workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
