package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/brightcast/brightcast/internal/app"
	"github.com/brightcast/brightcast/internal/auth"
	"github.com/brightcast/brightcast/internal/authz"
	"github.com/brightcast/brightcast/internal/platform/cache"
	"github.com/brightcast/brightcast/internal/platform/db"
	"github.com/brightcast/brightcast/internal/shared"
	"github.com/brightcast/brightcast/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, db.Config{DSN: cfg.PGDSN})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Config{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	issuer := auth.NewTokenIssuer([]byte(cfg.TokenSecret), cfg.TokenIssuer, cfg.TokenTTL, cfg.DeviceTokenTTL)
	revocations := auth.NewRevocationList(redisClient)
	authRepo := auth.NewRepository(pool)
	resolver := authz.NewResolver(logger, nil)
	authService := auth.NewService(authRepo, issuer, revocations, resolver, nil, logger)

	idempotencyStore := shared.NewIdempotencyStore(pool)

	sessionSweep := jobs.NewSessionSweepJob(authService, logger, nil)
	inactivityScan := jobs.NewDeviceInactivityScanJob(pool, logger, nil)
	retentionSweep := jobs.NewRetentionSweepJob(pool, idempotencyStore, logger, nil)

	sweepTask, err := jobs.NewSessionSweepTask(time.Now().UTC())
	if err != nil {
		logger.Error("build session sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	scanTask, err := jobs.NewInactivityScanTask(int(cfg.DeviceInactivityThreshold.Minutes()))
	if err != nil {
		logger.Error("build inactivity scan task", slog.Any("error", err))
		os.Exit(1)
	}
	retentionTask, err := jobs.NewRetentionSweepTask(cfg.AuditRetention)
	if err != nil {
		logger.Error("build retention sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAuthSessionSweep, Handler: sessionSweep.Handle},
			{Type: jobs.TaskDeviceInactivityScan, Handler: inactivityScan.Handle},
			{Type: jobs.TaskAuditRetentionSweep, Handler: retentionSweep.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 * * * *", Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "*/5 * * * *", Task: scanTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
			{Spec: "30 2 * * *", Task: retentionTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	// Sweep once at boot; cron covers the steady state.
	client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Warn("init jobs client", slog.Any("error", err))
	} else {
		if _, err := client.EnqueueSessionSweep(ctx, time.Now().UTC()); err != nil {
			logger.Warn("enqueue boot sweep", slog.Any("error", err))
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("jobs client close", slog.Any("error", err))
			}
		}()
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
