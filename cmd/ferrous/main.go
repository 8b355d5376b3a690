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

	"github.com/ferrous-erp/ferrous/internal/app"
	"github.com/ferrous-erp/ferrous/internal/catalog"
	"github.com/ferrous-erp/ferrous/internal/collection"
	"github.com/ferrous-erp/ferrous/internal/platform/cache"
	"github.com/ferrous-erp/ferrous/internal/platform/db"
	"github.com/ferrous-erp/ferrous/internal/shared"
	"github.com/ferrous-erp/ferrous/internal/wcn"
	"github.com/ferrous-erp/ferrous/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable", slog.Any("error", err))
	}
	defer func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)

	catalogService := catalog.NewService(
		catalog.NewRepository(pool),
		catalog.NewCache(redisClient, cfg.CatalogCacheTTL),
	)
	collectionService := collection.NewService(collection.NewRepository(pool), auditLogger)
	wcnService := wcn.NewService(logger, wcn.NewRepository(pool), catalogService, idempotency, auditLogger, cfg.TaxRate())

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Warn("jobs client unavailable", slog.Any("error", err))
	}
	var jobsHandler *jobs.Handler
	if jobsClient != nil {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		jobsHandler = jobs.NewHandler(inspector, jobsClient, logger)
		defer func() { _ = jobsClient.Close() }()
	}

	router := app.NewRouter(app.RouterConfig{
		Logger:     logger,
		Config:     cfg,
		Catalog:    catalog.NewHandler(logger, catalogService),
		Collection: collection.NewHandler(logger, collectionService),
		WCN:        wcn.NewHandler(logger, wcnService),
		Jobs:       jobsHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server run", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
