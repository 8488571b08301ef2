package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"fogpulse/internal/config"
	"fogpulse/internal/logger"
	"fogpulse/internal/processor"
)

func main() {
	configPath := flag.String("config", os.Getenv("FOGPULSE_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Init("info")
		logger.Logger.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}
	logger.Init(cfg.LogLevel)
	log := logger.WithComponent("main")

	p, err := processor.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build processor")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := p.Run(ctx); err != nil {
		log.Error().Err(err).Msg("processor exited")
		stop()
		os.Exit(1)
	}
	log.Info().Msg("exited")
}
