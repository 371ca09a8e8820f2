package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matheusmosca/order-saga-orchestrator/internal/api"
	"github.com/matheusmosca/order-saga-orchestrator/internal/config"
	"github.com/matheusmosca/order-saga-orchestrator/internal/dlq"
	"github.com/matheusmosca/order-saga-orchestrator/internal/downstream"
	"github.com/matheusmosca/order-saga-orchestrator/internal/metrics"
	"github.com/matheusmosca/order-saga-orchestrator/internal/resilience"
	"github.com/matheusmosca/order-saga-orchestrator/internal/saga"
	"github.com/matheusmosca/order-saga-orchestrator/internal/telemetry"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the saga orchestrator",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.OTelEndpoint,
		Enabled:     cfg.OTelEnabled,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Error().Err(err).Msg("Error shutting down telemetry")
		}
	}()

	store, err := openEventStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing event store")
		}
	}()

	var (
		orders saga.OrderRepository
		states saga.StateRepository
	)
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		pool, err := initDB(ctx, cfg.Database.DSN(), logger)
		if err != nil {
			return err
		}
		defer pool.Close()

		repo := saga.NewPostgresRepository(pool)
		if err := repo.Migrate(ctx); err != nil {
			return err
		}
		orders, states = repo, repo
	default:
		repo := saga.NewMemoryRepository()
		orders, states = repo, repo
	}

	breakers := resilience.NewRegistry(logger)
	clientOpts := downstream.Options{
		HTTP:     downstream.NewHTTPClient(cfg.HTTPTimeout),
		Registry: breakers,
		Breaker:  cfg.BreakerConfig(""),
		Retry:    cfg.RetryPolicy(),
		Logger:   logger,
	}

	promRegistry := metrics.NewRegistry()
	sagaMetrics := metrics.NewSagaMetrics(promRegistry)
	promRegistry.MustRegister(metrics.NewBreakerCollector(breakers))

	deps := saga.Dependencies{
		Orders:    orders,
		States:    states,
		Events:    store,
		Inventory: downstream.NewInventoryClient(cfg.InventoryURL, clientOpts),
		Payments:  downstream.NewPaymentClient(cfg.PaymentURL, clientOpts),
		Notifier:  downstream.NewNotificationClient(cfg.NotificationURL, clientOpts),
		Metrics:   sagaMetrics,
		Tracer:    otel.Tracer("saga-orchestrator"),
		Logger:    logger,
	}

	var deadLetters api.DeadLetters
	if cfg.RedisAddr != "" {
		rdb := dlq.NewRedisClient(cfg.RedisAddr)
		defer rdb.Close()

		queue := dlq.New(rdb, cfg.DLQKey, logger)
		deps.DeadLetters = queue
		deadLetters = queue
		logger.Info().Str("addr", cfg.RedisAddr).Str("key", cfg.DLQKey).Msg("📥 dead letter queue enabled")
	}

	orchestrator := saga.NewOrchestrator(deps)

	handler := api.NewHandler(api.Options{
		Service:     orchestrator,
		Events:      store,
		Breakers:    breakers,
		DeadLetters: deadLetters,
		ServiceName: cfg.ServiceName,
		Tracer:      otel.Tracer(cfg.ServiceName),
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(handler, metrics.Handler(promRegistry)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Msgf("🚀 Orders Saga listening on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("🛑 shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
