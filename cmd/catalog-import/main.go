package main

import (
	"bufio"
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tcg-inventory/config"
	"tcg-inventory/internal/catalog"
	"tcg-inventory/internal/redisclient"
	"tcg-inventory/internal/util"

	"go.uber.org/zap"
)

const (
	openAttempts   = 10
	openRetryDelay = 500 * time.Millisecond
)

func main() {
	cfg := config.Load()

	var (
		in  string
		out string
	)
	flag.StringVar(&in, "in", "default-cards.json", "Scryfall bulk JSON export")
	flag.StringVar(&out, "out", cfg.Catalog.Path, "catalog directory")
	flag.Parse()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()
	logger := util.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	f, err := os.Open(in)
	if err != nil {
		logger.Fatal("Failed to open input", zap.String("path", in), zap.Error(err))
	}
	defer f.Close()

	cat, err := openForWrite(ctx, out)
	if err != nil {
		logger.Fatal("Failed to open catalog", zap.String("path", out), zap.Error(err))
	}
	defer cat.Close()

	start := time.Now()
	n, err := cat.Import(ctx, bufio.NewReaderSize(f, 1<<20))
	if err != nil {
		logger.Fatal("Catalog import failed", zap.Int("imported", n), zap.Error(err))
	}
	logger.Info("Catalog imported",
		zap.Int("cards", n),
		zap.String("path", out),
		zap.Duration("took", time.Since(start)))

	if cfg.Redis.Addr == "" {
		return
	}
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, cached catalog lookups expire on their own", zap.Error(err))
		return
	}
	defer redisClient.Close()

	if err := redisClient.InvalidateCatalog(ctx); err != nil {
		logger.Warn("Failed to invalidate catalog cache", zap.Error(err))
		return
	}
	logger.Info("Catalog cache invalidated")
}

// openForWrite retries while a running server holds the catalog lock for a
// lookup
func openForWrite(ctx context.Context, dir string) (*catalog.Catalog, error) {
	var lastErr error
	for attempt := 0; attempt < openAttempts; attempt++ {
		cat, err := catalog.Open(dir, false)
		if err == nil {
			return cat, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(openRetryDelay):
		}
	}
	return nil, lastErr
}
