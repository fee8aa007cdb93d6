package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/brightcast/brightcast/internal/app"
	"github.com/brightcast/brightcast/internal/audit"
	"github.com/brightcast/brightcast/internal/auth"
	"github.com/brightcast/brightcast/internal/authz"
	"github.com/brightcast/brightcast/internal/companies"
	"github.com/brightcast/brightcast/internal/content"
	"github.com/brightcast/brightcast/internal/devices"
	"github.com/brightcast/brightcast/internal/observability"
	"github.com/brightcast/brightcast/internal/platform/cache"
	"github.com/brightcast/brightcast/internal/platform/db"
	"github.com/brightcast/brightcast/internal/shared"
	"github.com/brightcast/brightcast/internal/users"
	"github.com/brightcast/brightcast/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, db.Config{DSN: cfg.PGDSN})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	// Redis being down degrades revocation checks but must not block boot.
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

	metrics := observability.NewMetrics()

	auditRepo := audit.NewRepository(dbpool)
	decisionLog := audit.NewRecorder(auditRepo, logger)
	defer decisionLog.Close()
	recorder := authz.MultiRecorder(decisionLog, metrics)

	resolver := authz.NewResolver(logger, recorder)

	issuer := auth.NewTokenIssuer([]byte(cfg.TokenSecret), cfg.TokenIssuer, cfg.TokenTTL, cfg.DeviceTokenTTL)
	revocations := auth.NewRevocationList(redisClient)
	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo, issuer, revocations, resolver, metrics, logger)
	authMW := auth.Middleware{Service: authService, Recorder: recorder, Observer: metrics, Logger: logger}
	authHandler := auth.NewHandler(logger, authService, authMW)

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	companiesRepo := companies.NewRepository(dbpool)
	companiesService := companies.NewService(companiesRepo, auditLogger, authService, logger)
	companiesHandler := companies.NewHandler(logger, companiesService, authMW)

	usersRepo := users.NewRepository(dbpool)
	usersService := users.NewService(usersRepo, auditLogger, authService, logger)
	usersHandler := users.NewHandler(logger, usersService, authMW)

	contentRepo := content.NewRepository(dbpool)
	contentService := content.NewService(contentRepo, auditLogger, idempotencyStore, logger)
	contentHandler := content.NewHandler(logger, contentService, authMW)

	devicesRepo := devices.NewRepository(dbpool)
	devicesService := devices.NewService(devicesRepo, auditLogger, authService, idempotencyStore, logger)
	devicesHandler := devices.NewHandler(logger, devicesService, authMW, authService)

	auditService := audit.NewService(auditRepo)
	auditHandler := audit.NewHandler(logger, auditService, authMW)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		AuthHandler:      authHandler,
		CompaniesHandler: companiesHandler,
		UsersHandler:     usersHandler,
		ContentHandler:   contentHandler,
		DevicesHandler:   devicesHandler,
		AuditHandler:     auditHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exit", slog.Any("error", err))
	}
}
