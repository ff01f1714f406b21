// Command server runs the CrossBridge observer: the ingest HTTP service,
// processing pipeline, and every background loop (retention sweep, spill
// retry, drift signal stream tailer) in a single process.
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
		slog.Error("failed to initialize observer", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		a.Logger().Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			a.Logger().Error("observer exited unexpectedly", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.GracefulDeadline())
	defer cancel()

	if err := a.Shutdown(shutdownCtx); err != nil {
		a.Logger().Error("graceful shutdown did not complete cleanly", "error", err)
		os.Exit(1)
	}
}
