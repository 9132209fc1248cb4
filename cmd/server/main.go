package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ctech/ctech-exam/internal/compiler"
	"github.com/ctech/ctech-exam/internal/config"
	"github.com/ctech/ctech-exam/internal/database"
	"github.com/ctech/ctech-exam/internal/examroom"
	"github.com/ctech/ctech-exam/internal/handler"
	"github.com/ctech/ctech-exam/internal/logger"
	"github.com/ctech/ctech-exam/internal/questiongen"
	"github.com/ctech/ctech-exam/internal/repository"
	"github.com/ctech/ctech-exam/internal/router"
	"github.com/ctech/ctech-exam/internal/service"
	"github.com/ctech/ctech-exam/internal/validator"
	"github.com/ctech/ctech-exam/internal/worker"
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
		Dur("exam_duration", cfg.ExamDuration).
		Dur("grace_period", cfg.GracePeriod).
		Msg("Starting CTECH exam backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	// ─── Connect to NATS (optional) ────────────────────────────────────
	nc, err := database.NewNATSConn(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	if nc != nil {
		defer nc.Drain()
	}

	// ─── Initialize Repositories ───────────────────────────────────────
	studentRepo := repository.NewStudentRepository(pool)
	teacherRepo := repository.NewTeacherRepository(pool)
	submissionRepo := repository.NewSubmissionRepository(pool)
	eventRepo := repository.NewProctorEventRepository(pool)
	monitorRepo := repository.NewMonitorRepository(pool, rdb)

	// ─── Initialize External Clients ──────────────────────────────────
	compilerClient := compiler.NewClient(compiler.Config{
		URL:          cfg.CompilerURL,
		ClientID:     cfg.CompilerClientID,
		ClientSecret: cfg.CompilerClientSecret,
		Timeout:      cfg.CompilerTimeout,
	})
	generator := questiongen.NewClient(questiongen.Config{
		URL:     cfg.AIURL,
		APIKey:  cfg.AIKey,
		Model:   cfg.AIModel,
		Timeout: cfg.AITimeout,
	})
	if cfg.CompilerClientID == "" || cfg.AIKey == "" {
		log.Warn().Msg("JDoodle or AI credentials are empty; compile and question generation will fail")
	}

	// ─── Initialize Services ──────────────────────────────────────────
	rooms := examroom.NewRegistry()

	authService := service.NewAuthService(cfg, rdb)
	studentService := service.NewStudentService(studentRepo, cfg.BcryptCost)
	teacherService := service.NewTeacherService(teacherRepo)
	publisher := service.NewEventPublisher(rdb, nc, log)
	submissionService := service.NewSubmissionService(cfg, submissionRepo, rdb, generator, publisher, rooms, log)
	gradingService := service.NewGradingService(submissionRepo, eventRepo, log)
	monitorService := service.NewMonitorService(monitorRepo, submissionRepo, rdb)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:        handler.NewAuthHandler(authService, studentService, teacherService),
		Student:     handler.NewStudentHandler(submissionService, log),
		StudentMgmt: handler.NewStudentManagementHandler(studentService, authService),
		Teacher:     handler.NewTeacherHandler(gradingService, log),
		Compile:     handler.NewCompileHandler(compilerClient, submissionService, log),
		WS:          handler.NewWSHandler(cfg, submissionService, rooms, log),
		Monitor:     handler.NewMonitorHandler(monitorService, log),
		System:      handler.NewSystemHandler(pool, rdb, rooms, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	for _, w := range []interface{ Start(context.Context) }{
		worker.NewProctorEventWorker(eventRepo, rdb, log),
		worker.NewDraftWorker(eventRepo, rdb, log),
		worker.NewCheckpointWorker(eventRepo, rdb, log),
	} {
		workers.Add(1)
		go func() {
			defer workers.Done()
			w.Start(workerCtx)
		}()
	}

	if n, err := submissionRepo.CountOpen(ctx); err == nil && n > 0 {
		log.Info().Int("open_attempts", n).Msg("Attempts in progress; clients will resume on reconnect")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout). Hijacked WebSocket
	// connections are not tracked by Shutdown; their rooms end when the
	// process exits and the countdown resumes from Redis on reconnect.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for queues to drain.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
