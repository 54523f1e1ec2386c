// Command monque-server wires a Scheduler to a MongoDB store and an
// optional read-only HTTP status surface, and runs until terminated.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/monque/monque/internal/common"
	"github.com/monque/monque/internal/httpapi"
	"github.com/monque/monque/internal/scheduler"
	monquemongo "github.com/monque/monque/internal/storage/mongo"
)

func main() {
	common.LoadVersionFromFile()

	configPath := os.Getenv("MONQUE_CONFIG")
	cfg, err := common.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := common.NewLoggerFromConfig(cfg.Logging)
	logger.Info().Str("version", common.GetVersion()).Msg("monque-server starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := monquemongo.New(ctx, monquemongo.Config{
		URI:        cfg.Mongo.URI,
		Database:   cfg.Mongo.Database,
		Collection: cfg.Scheduler.CollectionName,
	}, logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to mongodb")
	}

	s := scheduler.New(store, scheduler.FromConfig(cfg))
	if err := s.Initialize(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize scheduler")
	}
	if err := s.Start(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("failed to start scheduler")
	}

	var httpSrv *http.Server
	if port := os.Getenv("MONQUE_HTTP_PORT"); port != "" {
		api := httpapi.New(s, logger)
		httpSrv = &http.Server{
			Addr:         ":" + port,
			Handler:      api.Handler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			logger.Info().Str("port", port).Msg("status http server listening")
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("status http server failed")
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownTimeout+5*time.Second)
	defer shutdownCancel()

	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("status http server shutdown failed")
		}
	}

	if err := s.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("scheduler did not drain cleanly")
	}
	if err := s.Close(context.Background()); err != nil {
		logger.Error().Err(err).Msg("failed to close store")
	}

	logger.Info().Msg("monque-server stopped")
}
