package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/command-router/internal/bootstrap"
	"github.com/kirillkom/command-router/internal/config"
	"github.com/kirillkom/command-router/internal/infrastructure/queue/nats"
	"github.com/kirillkom/command-router/internal/observability/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	logger := logging.New(logging.Options{Service: cfg.ServiceName + "-worker", Version: cfg.Version, Level: cfg.LogLevel, Format: cfg.LogFormat})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker, err := bootstrap.NewWorker(ctx, cfg)
	if err != nil {
		slog.Error("worker_bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer worker.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           worker.Metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()

	slog.Info("worker_subscribed", "subject", cfg.NATSSubject, "metrics_port", cfg.WorkerMetricsPort)
	err = worker.Bus.SubscribeCommandHandled(ctx, func(handlerCtx context.Context, event nats.CommandEvent) error {
		done := worker.Metrics.Track(event.Record.Kind)
		worker.Metrics.ObserveDeliveryLatency(worker.Events.DeliveryLatency(event.Record))

		recordCtx, cancel := context.WithTimeout(handlerCtx, cfg.SideEffectTimeout)
		defer cancel()
		err := worker.Events.Handle(recordCtx, event.Record)
		done(err)
		return err
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)

	if err != nil {
		slog.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
	slog.Info("worker_stopped")
}
