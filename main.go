package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/comx-labs/comx-client/config"
	"github.com/comx-labs/comx-client/pkg/metrics"
	"github.com/comx-labs/comx-client/pkg/querymap"
	"github.com/comx-labs/comx-client/pkg/rpc"
	"github.com/comx-labs/comx-client/pkg/server"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Load config
	cfg := config.Load()

	// Register metrics
	metrics.Register()

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	// RPC transport to the node
	client := rpc.NewClient(cfg.NodeURL, rpc.RetryPolicy{
		Timeout:    cfg.RequestTimeout,
		MaxRetries: cfg.MaxRetries,
	})

	// Query map with its cache and refresh worker
	queries, err := querymap.New(client, querymap.Config{
		RefreshInterval: cfg.RefreshInterval,
		CacheTTL:        cfg.CacheTTL,
		MaxCacheEntries: cfg.MaxCacheEntries,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid query map configuration")
	}
	defer queries.Close()

	// Initialize and Start Server
	srv := server.NewServer(cfg, queries)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server startup failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}
