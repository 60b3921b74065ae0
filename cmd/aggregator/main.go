package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/amrrdev/quizscan/internal/aggregator"
	"github.com/amrrdev/quizscan/internal/app"
	"github.com/amrrdev/quizscan/internal/cache"
	"github.com/amrrdev/quizscan/internal/config"
	"github.com/amrrdev/quizscan/internal/index"
	"github.com/amrrdev/quizscan/internal/queue"
	"github.com/amrrdev/quizscan/internal/repository"
	"github.com/amrrdev/quizscan/internal/scylladb"
	"github.com/amrrdev/quizscan/internal/tokenizer"
	"github.com/rs/zerolog/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logger := app.Logger(cfg, "aggregator")

	db, err := app.Database(ctx, cfg, "aggregator", logger)
	if err != nil {
		logger.Fatal().Err(err).Send()
	}
	defer db.Close()
	jobs := repository.NewJobRepository(db.Pool)

	rmq, publisher, err := app.Broker(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Send()
	}
	defer rmq.Close()

	var store aggregator.Store
	switch cfg.Aggregator.Store {
	case "memory":
		if cfg.Pipeline.Concurrency != 1 {
			logger.Warn().Msg("⚠️ memory store with several consumers; forcing PIPELINE_CONCURRENCY=1")
			cfg.Pipeline.Concurrency = 1
		}
		store = aggregator.NewMemoryStore()
	default:
		store = aggregator.NewPostgresStore(db.Pool)
	}

	var sinks []aggregator.Sink
	if redisClient, err := cache.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); err != nil {
		logger.Warn().Err(err).Msg("⚠️ Redis unavailable, status cache disabled")
	} else {
		defer redisClient.Close()
		sinks = append(sinks, cache.NewStatusCache(redisClient, cfg.Redis.TTL, logger))
	}
	if scylla, err := scylladb.Connect(cfg.Scylla.Keyspace, logger, cfg.Scylla.Hosts...); err != nil {
		logger.Warn().Err(err).Msg("⚠️ ScyllaDB unavailable, question indexing disabled")
	} else {
		defer scylla.Close()
		sinks = append(sinks, index.NewIndexer(index.NewScyllaStore(scylla), jobs, tokenizer.NewTokenizer(), logger))
	}

	agg := aggregator.New(store, jobs, aggregator.Policy(cfg.Aggregator.DeadLetterPolicy), logger, sinks...)

	settler := queue.NewSettler(publisher, app.RetryPolicy(cfg), logger)
	pool := app.Pool(rmq, queue.ResultsStage, cfg, agg.Handle, settler, logger)

	if err := pool.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Aggregator stopped")
	}
	logger.Info().Msg("👋 Aggregator shut down")
}
