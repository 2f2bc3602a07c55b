// cmd/server is the registration API entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Shivanand-hulikatti/event-seat-registration/internal/config"
	"github.com/Shivanand-hulikatti/event-seat-registration/internal/eventlock"
	"github.com/Shivanand-hulikatti/event-seat-registration/internal/handler"
	"github.com/Shivanand-hulikatti/event-seat-registration/internal/repository"
	"github.com/Shivanand-hulikatti/event-seat-registration/internal/service"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(cfg.NewLogger(os.Stdout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 1. Connect to the store ──────────────────────────────────────────
	store, ping, err := repository.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer store.Close()
	slog.Info("connected to store", "driver", cfg.Database.Driver)

	checks := map[string]handler.Check{"database": ping}
	opts := []service.Option{service.CountUnconfirmedSeats(cfg.CountUnconfirmedSeats)}

	if cfg.RedisURL != "" {
		client, err := eventlock.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		locker := eventlock.NewRedis(client)
		checks["redis"] = locker.Ping
		opts = append(opts, service.WithLocker(locker))
		slog.Info("event lock enabled", "backend", "redis")
	}

	// ── 2. Wire up layers ────────────────────────────────────────────────
	svc := service.NewRegistrationService(store, opts...)
	h := handler.NewRegistrationHandler(svc)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.NewRouter(h, handler.HealthCheck(checks), cfg.AdminToken),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// ── 3. Serve until a shutdown signal arrives ─────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped")
	return nil
}
