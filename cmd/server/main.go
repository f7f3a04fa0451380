// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/typerace/internal/auth"
	"github.com/jason-s-yu/typerace/internal/cache"
	"github.com/jason-s-yu/typerace/internal/config"
	"github.com/jason-s-yu/typerace/internal/database"
	"github.com/jason-s-yu/typerace/internal/gateway"
	"github.com/jason-s-yu/typerace/internal/handlers"
	"github.com/jason-s-yu/typerace/internal/lobby"
	"github.com/jason-s-yu/typerace/internal/middleware"
)

func main() {
	cfg := config.Load()
	logger := cfg.NewLogger()

	if err := auth.Init(); err != nil {
		logger.Fatalf("auth: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := cache.Connect(ctx, cfg)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	// the user directory is optional; without it tokens must carry names
	var dir middleware.UserDirectory
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	switch {
	case err == nil:
		defer pool.Close()
		dir = database.NewDirectory(pool)
	case errors.Is(err, database.ErrNotConfigured):
		logger.Info("no database configured, user directory disabled")
	default:
		logger.Warnf("database unavailable, user directory disabled: %v", err)
	}

	coord := lobby.NewCoordinator(lobby.NewRedisStore(rdb, cfg.LobbyTTL), logger)
	coord.Publisher = cache.NewResultQueue(rdb, cfg.ResultsQueue)

	gw := gateway.New(coord, gateway.NewHub(), cfg.DisconnectGrace, logger)
	defer gw.Close()

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           handlers.NewRouter(cfg, gw, dir, logger),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("shutdown: %v", err)
		}
	}()

	logger.Infof("Running on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("server exited: %v", err)
	}
	logger.Info("server stopped")
}
