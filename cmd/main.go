package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"call-monitoring-service/internal/app"
	"call-monitoring-service/internal/config"
)

func main() {
	// .env is optional; real environment variables win
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}

	if err = application.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Service stopped with error")
	}
	log.Info().Msg("Service stopped")
}
