package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/amrrdev/quizscan/internal/app"
	"github.com/amrrdev/quizscan/internal/cache"
	"github.com/amrrdev/quizscan/internal/config"
	"github.com/amrrdev/quizscan/internal/decomposer"
	"github.com/amrrdev/quizscan/internal/queue"
	"github.com/amrrdev/quizscan/internal/rasterizer"
	"github.com/amrrdev/quizscan/internal/repository"
	"github.com/rs/zerolog/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logger := app.Logger(cfg, "decomposer")

	db, err := app.Database(ctx, cfg, "decomposer", logger)
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

	var notifier decomposer.StatusNotifier
	if redisClient, err := cache.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); err != nil {
		logger.Warn().Err(err).Msg("⚠️ Redis unavailable, status cache disabled")
	} else {
		defer redisClient.Close()
		notifier = cache.NewStatusCache(redisClient, cfg.Redis.TTL, logger)
	}

	d := decomposer.New(decomposer.Config{
		Jobs:       repository.NewJobRepository(db.Pool),
		Objects:    objects,
		Rasterizer: rasterizer.New(cfg.Rasterizer.Backend, cfg.Rasterizer.Pdftoppm, cfg.Rasterizer.DPI, logger),
		Publisher:  publisher,
		Notifier:   notifier,
		WorkDir:    cfg.Rasterizer.WorkDir,
		Logger:     logger,
	})

	settler := queue.NewSettler(publisher, app.RetryPolicy(cfg), logger).OnDeadLetter(d.OnDeadLetter)
	pool := app.Pool(rmq, queue.DecomposeStage, cfg, d.Handle, settler, logger)

	if err := pool.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Decomposer stopped")
	}
	logger.Info().Msg("👋 Decomposer shut down")
}
