package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amrrdev/quizscan/internal/aggregator"
	"github.com/amrrdev/quizscan/internal/app"
	"github.com/amrrdev/quizscan/internal/cache"
	"github.com/amrrdev/quizscan/internal/config"
	"github.com/amrrdev/quizscan/internal/handler"
	"github.com/amrrdev/quizscan/internal/index"
	"github.com/amrrdev/quizscan/internal/jwt"
	"github.com/amrrdev/quizscan/internal/middleware"
	"github.com/amrrdev/quizscan/internal/repository"
	"github.com/amrrdev/quizscan/internal/scylladb"
	"github.com/amrrdev/quizscan/internal/server"
	"github.com/amrrdev/quizscan/internal/service"
	"github.com/amrrdev/quizscan/internal/tokenizer"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logger := app.Logger(cfg, "api")
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := app.Database(ctx, cfg, "api", logger)
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

	jobsCfg := service.JobsConfig{
		Jobs:      repository.NewJobRepository(db.Pool),
		Objects:   objects,
		Uploader:  objects,
		Publisher: publisher,
		Results:   aggregator.NewPostgresStore(db.Pool),
		Logger:    logger,
	}
	if redisClient, err := cache.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); err != nil {
		logger.Warn().Err(err).Msg("⚠️ Redis unavailable, status reads go to Postgres")
	} else {
		defer redisClient.Close()
		jobsCfg.Cache = cache.NewStatusCache(redisClient, cfg.Redis.TTL, logger)
	}

	scylla, err := scylladb.Connect(cfg.Scylla.Keyspace, logger, cfg.Scylla.Hosts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to ScyllaDB cluster")
	}
	defer scylla.Close()

	jwtService := jwt.NewService(cfg.Auth.JWTSecretKey, cfg.Auth.AccessTokenTTL)
	authMiddleware := middleware.NewAuthMiddleware(jwtService)

	jobHandler := handler.NewJobHandler(service.NewJobs(jobsCfg))
	searcher := index.NewSearcher(index.NewScyllaStore(scylla), tokenizer.NewTokenizer())
	searchHandler := handler.NewSearchHandler(service.NewSearch(searcher, logger))

	g := server.NewServer(jobHandler, searchHandler, authMiddleware, logger)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           g,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("❌ Graceful shutdown failed")
		}
	}()

	logger.Info().Str("addr", cfg.HTTP.Addr).Msg("🚀 API starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("Failed to start server")
	}
	logger.Info().Msg("👋 API shut down")
}
