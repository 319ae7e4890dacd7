package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cuetimer/go/internal/config"
	"github.com/mcdev12/cuetimer/go/internal/events"
	"github.com/mcdev12/cuetimer/go/internal/gateway"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(os.Getenv(config.PathEnv))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	zerolog.SetGlobalLevel(cfg.LogLevel())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publishers, closers := setupPublishers(ctx, cfg)
	defer func() {
		for _, closeFn := range closers {
			closeFn()
		}
	}()

	dispatcher := events.NewDispatcher(events.DefaultDispatcherConfig(), publishers...)
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		dispatcher.Run(ctx)
	}()

	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.HeartbeatInterval = cfg.Timer.HeartbeatInterval
	gatewayConfig.RegistryConfig.TTL = cfg.Timer.RoomTTL
	gatewayConfig.RegistryConfig.SweepInterval = cfg.Timer.SweepInterval
	gatewayConfig.RegistryConfig.DefaultDurationMs = cfg.Timer.DefaultDurationMs
	gatewayConfig.AllowedOrigins = cfg.Server.AllowedOrigins

	gatewayService := gateway.NewService(gatewayConfig, clockwork.NewRealClock(), dispatcher)
	server := setupServer(cfg.Server.Port, gatewayService, dispatcher)

	log.Info().
		Str("port", cfg.Server.Port).
		Dur("heartbeat", cfg.Timer.HeartbeatInterval).
		Dur("room_ttl", cfg.Timer.RoomTTL).
		Int("publishers", len(publishers)).
		Msg("starting cuetimer gateway")

	// Start heartbeat and sweeper
	serviceDone := make(chan struct{})
	go func() {
		defer close(serviceDone)
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	// Start HTTP server
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stop heartbeat, sweeper and event dispatch
	cancel()
	<-serviceDone
	<-dispatcherDone

	log.Info().Msg("cuetimer gateway shutdown complete")
}
