package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Neno73/promidata-sync/internal/app"
	"github.com/Neno73/promidata-sync/internal/config"
	"github.com/Neno73/promidata-sync/pkg/logger"
)

// Exit codes: 1 for configuration errors, 2 when a dependency cannot be
// reached during startup.
const (
	exitConfig     = 1
	exitDependency = 2
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(exitConfig)
	}

	log := logger.New("promidata-sync", cfg.LogLevel)
	log.Info("starting sync engine",
		slog.String("environment", cfg.Environment),
		slog.Int("http_port", cfg.HTTPPort),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.NewApp(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize application", slog.String("error", err.Error()))
		os.Exit(exitDependency)
	}

	if err := application.Run(ctx); err != nil {
		log.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log.Info("sync engine stopped")
}
