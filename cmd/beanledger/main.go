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
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/beanledger/beanledger/internal/app"
	"github.com/beanledger/beanledger/internal/catalog"
	"github.com/beanledger/beanledger/internal/inventory"
	"github.com/beanledger/beanledger/internal/observability"
	"github.com/beanledger/beanledger/internal/platform/db"
	"github.com/beanledger/beanledger/internal/shared"
	"github.com/beanledger/beanledger/internal/square"
	"github.com/beanledger/beanledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	_ = godotenv.Load()

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

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)

	inventoryRepo := inventory.NewRepository(dbpool)
	inventoryService := inventory.NewService(inventoryRepo, auditLogger)
	inventoryHandler := inventory.NewHandler(logger, inventoryService)

	catalogRepo := catalog.NewRepository(dbpool)
	catalogService := catalog.NewService(catalogRepo)
	catalogHandler := catalog.NewHandler(logger, catalogService)

	metrics := observability.NewMetrics()

	squareRepo := square.NewRepository(dbpool)
	settingsService := square.NewSettingsService(squareRepo, auditLogger)
	mappingService := square.NewMappingService(squareRepo, catalogService, auditLogger)
	engine := square.NewConsumptionEngine(logger, squareRepo, catalogService, inventoryService)
	intake := square.NewWebhookProcessor(logger, settingsService, squareRepo, engine)
	candidateCache := square.NewCandidateCache(redisClient, cfg.CatalogCacheTTL)
	clientFactory := square.NewClientFactory()
	importer := square.NewImporter(logger, settingsService, catalogService, squareRepo, candidateCache, clientFactory, metrics)

	squareHandler := square.NewHandler(square.HandlerParams{
		Logger:         logger,
		Settings:       settingsService,
		Mappings:       mappingService,
		Engine:         engine,
		Intake:         intake,
		Importer:       importer,
		Repo:           squareRepo,
		Products:       catalogService,
		Cache:          candidateCache,
		Client:         clientFactory,
		Audit:          auditLogger,
		Metrics:        metrics,
		WebhookTimeout: cfg.WebhookTimeout,
		WebhookMaxBody: cfg.WebhookMaxBodyBytes,
	})

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
		InventoryHandler: inventoryHandler,
		CatalogHandler:   catalogHandler,
		SquareHandler:    squareHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
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
