package main

import (
	"flag"

	"github.com/amrrdev/quizscan/internal/app"
	"github.com/amrrdev/quizscan/internal/config"
	"github.com/amrrdev/quizscan/internal/database"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		direction = flag.String("direction", "up", "Migration direction: up or down")
		steps     = flag.Int("steps", 0, "Number of steps to rollback (only for down)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logger := app.Logger(cfg, "migrate")

	switch *direction {
	case "up":
		logger.Info().Msg("Running migrations...")
		if err := database.RunMigrations(cfg.Database.MigrationsPath, cfg.Database.URL); err != nil {
			logger.Fatal().Err(err).Msg("Migration failed")
		}
		logger.Info().Msg("✅ Migrations completed successfully")
	case "down":
		logger.Info().Int("steps", *steps).Msg("Rolling back migrations...")
		if err := database.RollbackMigrations(cfg.Database.MigrationsPath, cfg.Database.URL, *steps); err != nil {
			logger.Fatal().Err(err).Msg("Rollback failed")
		}
		logger.Info().Msg("✅ Rollback completed successfully")
	default:
		logger.Fatal().Str("direction", *direction).Msg("Unknown direction")
	}
}
