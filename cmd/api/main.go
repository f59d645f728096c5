package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/punchamoorthee/thriftpay/internal/api"
	"github.com/punchamoorthee/thriftpay/internal/config"
	"github.com/punchamoorthee/thriftpay/internal/gateway"
	"github.com/punchamoorthee/thriftpay/internal/logging"
	"github.com/punchamoorthee/thriftpay/internal/outbox"
	"github.com/punchamoorthee/thriftpay/internal/ratelimit"
	"github.com/punchamoorthee/thriftpay/internal/service"
	"github.com/punchamoorthee/thriftpay/internal/store"
	amqp "github.com/rabbitmq/amqp091-go"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	fees, err := config.LoadPlans(cfg.PlansFile)
	if err != nil {
		return err
	}

	pool, err := store.Connect(ctx, cfg.DBSource)
	if err != nil {
		return fmt.Errorf("unable to connect to database: %w", err)
	}
	defer pool.Close()
	ledger := store.NewPostgres(pool)

	paystack := gateway.NewPaystack(cfg.Paystack, nil, cfg.GatewayTimeout)
	alatpay := gateway.NewALATPay(cfg.ALATPay, nil, cfg.GatewayTimeout)
	registry := gateway.NewRegistry(paystack, alatpay)

	reconciler := service.NewReconciler(ledger, registry, fees, logger, cfg.GatewayTimeout)
	topups := service.NewTopUpService(ledger, registry, fees, logger, cfg.GatewayTimeout)

	limiter := ratelimit.New(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	go limiter.Run(ctx)

	if cfg.Outbox.AMQPURL != "" {
		conn, err := amqp.Dial(cfg.Outbox.AMQPURL)
		if err != nil {
			return fmt.Errorf("connect to rabbitmq: %w", err)
		}
		defer conn.Close()

		publisher, err := outbox.NewAMQPPublisher(conn, cfg.Outbox.Queue)
		if err != nil {
			return err
		}
		defer publisher.Close()

		relay := outbox.NewRelay(ledger, publisher, logger, cfg.Outbox.Interval, cfg.Outbox.BatchSize)
		go relay.Run(ctx)
		logger.Info("outbox relay started", "queue", cfg.Outbox.Queue, "interval", cfg.Outbox.Interval)
	} else {
		logger.Warn("AMQP_URL not set; outbox events stay in the database")
	}

	handler := api.NewHandler(logger, ledger, reconciler, topups, paystack)
	router := api.NewRouter(logger, api.RouterDependencies{
		Handler: handler,
		Health:  ledger,
		Limiter: limiter,
	})
	srv := api.NewServer(logger, cfg.Port, cfg.HTTP, router)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	return nil
}
