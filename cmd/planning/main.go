package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/freedayko/redmine-planning/internal/app"
	"github.com/freedayko/redmine-planning/internal/auth"
	"github.com/freedayko/redmine-planning/internal/authz"
	"github.com/freedayko/redmine-planning/internal/observability"
	"github.com/freedayko/redmine-planning/internal/platform/cache"
	"github.com/freedayko/redmine-planning/internal/platform/db"
	"github.com/freedayko/redmine-planning/internal/shared"
	"github.com/freedayko/redmine-planning/internal/timesheets"
	"github.com/freedayko/redmine-planning/internal/view"
	"github.com/freedayko/redmine-planning/internal/workitems"
	"github.com/freedayko/redmine-planning/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "planning_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, templates, sessionManager, csrfManager)

	authzMiddleware := authz.Middleware{Users: authService, Logger: logger}

	auditLogger := shared.NewAuditLogger(dbpool)
	metrics := observability.NewMetrics()

	workItemsRepo := workitems.NewRepository(dbpool)
	workItemsService := workitems.NewService(workItemsRepo)
	workItemsHandler := workitems.NewHandler(logger, workItemsService, templates, csrfManager, authzMiddleware)

	timesheetsRepo := timesheets.NewRepository(dbpool)
	timesheetsService := timesheets.NewService(timesheetsRepo, workItemsService, auditLogger, logger)
	timesheetsHandler := timesheets.NewHandler(logger, timesheetsService, workItemsService, templates, csrfManager, authzMiddleware, metrics)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Templates:         templates,
		SessionManager:    sessionManager,
		CSRFManager:       csrfManager,
		AuthHandler:       authHandler,
		TimesheetsHandler: timesheetsHandler,
		WorkItemsHandler:  workItemsHandler,
		JobHandler:        jobHandler,
		Authz:             authzMiddleware,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
