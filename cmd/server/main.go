package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/p-n-ai/pai-progress/internal/app"
	"github.com/p-n-ai/pai-progress/internal/platform/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(app.NewLogger(cfg.Log))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.ForwardNotifications(ctx); err != nil {
		slog.Error("failed to subscribe to notifications", "error", err)
		os.Exit(1)
	}

	startReconciler(ctx, a, cfg)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      newMux(newServer(a)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr, "store", cfg.Progress.StoreMode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func startReconciler(ctx context.Context, a *app.App, cfg *config.Config) {
	if cfg.Reconcile.OnStart {
		go func() {
			if _, err := a.Engine.ReconcileAll(ctx); err != nil && ctx.Err() == nil {
				slog.Error("startup reconciliation failed", "error", err)
			}
		}()
	}

	interval := cfg.ReconcileInterval()
	if interval <= 0 {
		slog.Info("scheduled reconciliation disabled")
		return
	}
	go func() {
		if err := a.Engine.Run(ctx, interval); err != nil {
			slog.Error("reconciliation scheduler stopped", "error", err)
		}
	}()
}
