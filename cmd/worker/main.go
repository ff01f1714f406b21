// Command worker runs CrossBridge's background maintenance loops
// (retention sweep, spill log retry) as a standalone process, for
// deployments that split ingest traffic and maintenance work across
// separately-scaled processes.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"crossbridge/internal/app"
	"crossbridge/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	a, err := app.New(cfg)
	if err != nil {
		slog.Error("failed to initialize worker", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.StartMaintenanceOnly(ctx); err != nil && ctx.Err() == nil {
		a.Logger().Error("worker exited unexpectedly", "error", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.GracefulDeadline())
	defer cancel()
	_ = a.Shutdown(shutdownCtx)
}
