// cmd/scheduler runs the registration lifecycle daemon: confirmation
// requests, reminders, expiries and confirmation notices.
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
	"strings"
	"syscall"
	"time"

	"github.com/Shivanand-hulikatti/event-seat-registration/internal/config"
	"github.com/Shivanand-hulikatti/event-seat-registration/internal/eventlock"
	"github.com/Shivanand-hulikatti/event-seat-registration/internal/notify"
	"github.com/Shivanand-hulikatti/event-seat-registration/internal/notify/render"
	"github.com/Shivanand-hulikatti/event-seat-registration/internal/repository"
	"github.com/Shivanand-hulikatti/event-seat-registration/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("scheduler exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, _, err := repository.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer store.Close()

	var locker eventlock.Locker = eventlock.Noop{}
	if cfg.RedisURL != "" {
		client, err := eventlock.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		locker = eventlock.NewRedis(client)
	}

	var gateway notify.Gateway
	switch strings.ToLower(cfg.Mail.Backend) {
	case "smtp":
		gateway = notify.NewSMTPGateway(cfg.Mail)
	default:
		gateway = notify.NewConsoleGateway(logger)
	}
	gateway = notify.NewThrottle(gateway, cfg.Mail.Cooldown)

	sched, err := scheduler.New(
		store,
		gateway,
		render.NewComposer(cfg.Language, cfg.BaseURL),
		scheduler.Config{
			PollInterval:      cfg.PollInterval,
			SkipUndeliverable: cfg.SkipUndeliverable,
		},
		scheduler.WithLocker(locker),
		scheduler.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// A store fault ends Run with an error; the metrics server goes
		// down with it.
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
		return sched.Run(gctx)
	})
	return g.Wait()
}
