package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/amrrdev/quizscan/internal/app"
	"github.com/amrrdev/quizscan/internal/config"
	"github.com/amrrdev/quizscan/internal/oracle"
	"github.com/amrrdev/quizscan/internal/queue"
	"github.com/amrrdev/quizscan/internal/repository"
	"github.com/amrrdev/quizscan/internal/worker"
	"github.com/rs/zerolog/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logger := app.Logger(cfg, "extractor")

	if cfg.Oracle.APIKey == "" {
		logger.Fatal().Msg("ORACLE_API_KEY is required")
	}

	db, err := app.Database(ctx, cfg, "extractor", logger)
	if err != nil {
		logger.Fatal().Err(err).Send()
	}
	defer db.Close()

	objects, err := app.Storage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Send()
	}

	rmq, publisher, err := app.Broker(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Send()
	}
	defer rmq.Close()

	w := worker.NewExtractionWorker(worker.ExtractionConfig{
		Pages:     repository.NewJobRepository(db.Pool),
		Objects:   objects,
		Oracle:    oracle.NewClient(cfg.Oracle.BaseURL, cfg.Oracle.APIKey, cfg.Oracle.Model, cfg.Oracle.Timeout),
		Publisher: publisher,
		Logger:    logger,
	})

	settler := queue.NewSettler(publisher, app.RetryPolicy(cfg), logger).OnDeadLetter(w.OnDeadLetter)
	pool := app.Pool(rmq, queue.ExtractStage, cfg, w.Handle, settler, logger)

	if err := pool.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Extractor stopped")
	}
	logger.Info().Msg("👋 Extractor shut down")
}
