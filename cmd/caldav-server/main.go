package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sonroyaalmerol/caldav-core/internal/config"
	"github.com/sonroyaalmerol/caldav-core/internal/httpserver"
	"github.com/sonroyaalmerol/caldav-core/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config: " + err.Error())
	}

	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, cleanup, err := httpserver.NewServer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("server init failed")
	}
	defer cleanup()

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("server stopped with error")
		}
	}()

	logger.Info().Msgf("listening on %s", cfg.HTTP.Addr)

	<-ctx.Done()

	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	logger.Info().Msg("bye")
}
