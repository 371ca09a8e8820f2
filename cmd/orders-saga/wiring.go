package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/matheusmosca/order-saga-orchestrator/internal/config"
	"github.com/matheusmosca/order-saga-orchestrator/internal/eventstore"
	"github.com/rs/zerolog"
)

// openEventStore abre o backend configurado e conecta o publisher Kafka, se houver brokers
func openEventStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*eventstore.Store, error) {
	var (
		log eventstore.Log
		err error
	)
	switch cfg.EventStoreBackend {
	case config.BackendPostgres:
		log, err = eventstore.OpenPostgresLog(ctx, cfg.EventsDSN(), logger)
	case config.BackendBadger:
		log, err = eventstore.OpenBadgerLog(eventstore.BadgerConfig{Dir: cfg.BadgerDir}, logger)
	default:
		log = eventstore.NewMemoryLog()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s event store: %w", cfg.EventStoreBackend, err)
	}

	var publisher eventstore.Publisher
	if p := eventstore.NewKafkaPublisher(eventstore.ParseBrokers(cfg.KafkaBrokers), cfg.KafkaEventsTopic); p != nil {
		publisher = p
		logger.Info().Str("topic", cfg.KafkaEventsTopic).Msg("📡 publishing events to Kafka")
	}

	logger.Info().Str("backend", cfg.EventStoreBackend).Msg("✅ event store ready")
	return eventstore.NewStore(log, publisher, logger), nil
}

func initDB(ctx context.Context, dsn string, logger zerolog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Wait for database to be ready
	for i := 0; i < 30; i++ {
		if err := pool.Ping(ctx); err == nil {
			logger.Info().Msg("✅ Connected to orders database with connection pool")
			return pool, nil
		}
		logger.Warn().Msgf("⏳ Waiting for database... (%d/30)", i+1)
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}

	pool.Close()
	return nil, fmt.Errorf("failed to connect to database after 30 attempts")
}
