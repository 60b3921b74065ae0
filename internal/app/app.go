// Package app wires configuration into the infrastructure clients every binary shares.
package app

import (
	"context"
	"fmt"

	"github.com/amrrdev/quizscan/internal/config"
	"github.com/amrrdev/quizscan/internal/database"
	"github.com/amrrdev/quizscan/internal/logger"
	"github.com/amrrdev/quizscan/internal/queue"
	"github.com/amrrdev/quizscan/internal/storage"
	"github.com/amrrdev/quizscan/internal/worker"
	"github.com/rs/zerolog"
)

func Logger(cfg *config.Config, service string) zerolog.Logger {
	return logger.New(logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: service,
	})
}

// PoolConfig sizes the Postgres pool of the named binary from DATABASE_* settings.
func PoolConfig(cfg *config.Config, service string) database.PoolConfig {
	return database.PoolConfig{
		ApplicationName:   "quizscan-" + service,
		MaxConns:          int32(cfg.Database.MaxConns),
		MinConns:          int32(cfg.Database.MinConns),
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:   cfg.Database.MaxConnIdleTime,
		HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
		ConnectTimeout:    cfg.Database.ConnectTimeout,
	}
}

func Database(ctx context.Context, cfg *config.Config, service string, log zerolog.Logger) (*database.Database, error) {
	pool := PoolConfig(cfg, service)
	db, err := database.Connect(ctx, cfg.Database.URL, pool)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	log.Info().
		Int32("max_conns", pool.MaxConns).
		Int32("open_conns", db.Stats().Total).
		Msg("✓ Connected to PostgreSQL")
	return db, nil
}

func Storage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*storage.Storage, error) {
	s, err := storage.NewStorage(ctx, &storage.Config{
		Endpoint:  cfg.MinIO.Endpoint,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		Bucket:    cfg.MinIO.Bucket,
		UseSSL:    cfg.MinIO.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	log.Info().Str("bucket", cfg.MinIO.Bucket).Msg("✓ Connected to MinIO")
	return s, nil
}

// Broker connects to RabbitMQ, declares the pipeline topology and opens a
// confirming publisher on its own channel.
func Broker(cfg *config.Config, log zerolog.Logger) (*queue.RabbitMQ, *queue.AMQPPublisher, error) {
	rmq, err := queue.NewRabbitMQ(cfg.RabbitMQ.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	if err := queue.DeclareTopology(rmq.Channel); err != nil {
		rmq.Close()
		return nil, nil, err
	}

	pubCh, err := rmq.NewChannel()
	if err != nil {
		rmq.Close()
		return nil, nil, err
	}
	publisher, err := queue.NewPublisher(pubCh)
	if err != nil {
		rmq.Close()
		return nil, nil, err
	}

	log.Info().Msg("✓ Connected to RabbitMQ")
	return rmq, publisher, nil
}

func RetryPolicy(cfg *config.Config) queue.RetryPolicy {
	return queue.RetryPolicy{
		MaxAttempts:    cfg.Pipeline.MaxAttempts,
		InitialBackoff: cfg.Pipeline.InitialBackoff,
		MaxBackoff:     cfg.Pipeline.MaxBackoff,
	}
}

// Pool builds the consumer pool for one stage.
func Pool(rmq *queue.RabbitMQ, stage queue.Stage, cfg *config.Config, handler queue.Handler, settler *queue.Settler, log zerolog.Logger) *worker.Pool {
	return worker.NewPool(rmq, worker.PoolConfig{
		Queue:         stage.Queue,
		Concurrency:   cfg.Pipeline.Concurrency,
		StatsInterval: cfg.Pipeline.StatsInterval,
	}, handler, settler, log)
}
