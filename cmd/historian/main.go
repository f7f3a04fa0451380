// cmd/historian/main.go drains finished races from the Redis results queue
// and persists them to PostgreSQL.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/typerace/internal/cache"
	"github.com/jason-s-yu/typerace/internal/config"
	"github.com/jason-s-yu/typerace/internal/database"
	"github.com/jason-s-yu/typerace/internal/historian"
)

func main() {
	cfg := config.Load()
	logger := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := cache.Connect(ctx, cfg)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		logger.Fatalf("database: %v", err)
	}

	hs := historian.New(rdb, database.NewResultSink(pool), historian.Options{
		Queue:      cfg.ResultsQueue,
		BatchSize:  cfg.HistorianBatchSize,
		FlushDelay: cfg.HistorianFlush,
	}, logger)
	hs.Run(ctx)
	logger.Info("historian shutdown complete")
}
