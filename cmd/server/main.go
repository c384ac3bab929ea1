package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tcg-inventory/config"
	"tcg-inventory/internal/api"
	"tcg-inventory/internal/broker"
	"tcg-inventory/internal/catalog"
	"tcg-inventory/internal/mailclient"
	"tcg-inventory/internal/redisclient"
	"tcg-inventory/internal/service"
	"tcg-inventory/internal/store"
	"tcg-inventory/internal/util"
	"tcg-inventory/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting tcg inventory service",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port))

	if cfg.Observ.JaegerEndpoint != "" {
		tp, err := util.InitTracer(util.ServiceName, cfg.Server.Env, cfg.Observ.JaegerEndpoint)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Error("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to apply schema", zap.Error(err))
	}
	logger.Info("Database connected")

	var publisher broker.Publisher = broker.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicInventory)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	imageCatalog, closeCatalog := openCatalog(cfg, logger)
	defer closeCatalog()

	ledger := service.NewInventoryLedger(db, db, publisher)
	orderService := service.NewOrderService(db, db, ledger, publisher)
	matcher := service.NewCardMatcher(db, imageCatalog)

	gmailClient, err := mailclient.NewGmailClient(ctx, mailclient.Config{
		ClientID:     cfg.Gmail.ClientID,
		ClientSecret: cfg.Gmail.ClientSecret,
		TokenFile:    cfg.Gmail.TokenFile,
		HandledLabel: cfg.Ingestion.HandledLabel,
	})
	if err != nil {
		logger.Fatal("Failed to create Gmail client", zap.Error(err))
	}

	ingestion := service.NewIngestionService(gmailClient, db, matcher, publisher, mailclient.Filter{
		Sender:       cfg.Ingestion.Sender,
		Subject:      cfg.Ingestion.Subject,
		ExcludeLabel: cfg.Ingestion.HandledLabel,
	})

	ingestionWorker, err := worker.NewIngestionWorker(ingestion, worker.Config{
		Interval:      cfg.Ingestion.PollInterval,
		WindowStart:   cfg.Ingestion.WindowStart,
		WindowEnd:     cfg.Ingestion.WindowEnd,
		ErrorCooldown: cfg.Ingestion.ErrorCooldown,
		Enabled:       cfg.Ingestion.Enabled,
	})
	if err != nil {
		logger.Fatal("Invalid ingestion schedule", zap.Error(err))
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	ingestionWorker.Start(workerCtx)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, ledger, ingestion, ingestionWorker, db.Ping, cfg.Ingestion.ActingUser)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	if err := ingestionWorker.Stop(30 * time.Second); err != nil {
		logger.Warn("Ingestion worker stop", zap.Error(err))
	}
	workerCancel()

	logger.Info("Server exited")
}

// openCatalog opens the reference catalog, fronted by Redis when configured.
// The catalog directory is opened per lookup so a catalog-import run is
// picked up without a restart. A missing catalog only disables the last
// image fallback.
func openCatalog(cfg *config.Config, logger *zap.Logger) (service.ImageCatalog, func()) {
	cat, err := catalog.NewOnDemand(cfg.Catalog.Path)
	if err != nil {
		logger.Warn("Reference catalog unavailable", zap.String("path", cfg.Catalog.Path), zap.Error(err))
		return nil, func() {}
	}

	if cfg.Redis.Addr == "" {
		return cat, func() {}
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, catalog lookups are not cached", zap.Error(err))
		return cat, func() {}
	}
	logger.Info("Redis connected")

	return catalog.NewCachedCatalog(cat, redisClient, cfg.Redis.CacheTTL), func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("Failed to close redis client", zap.Error(err))
		}
	}
}
