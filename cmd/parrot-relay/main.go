package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	_ "go.uber.org/automaxprocs"

	"github.com/jonmccon/pocket-parrot-sub001/internal/config"
	"github.com/jonmccon/pocket-parrot-sub001/internal/hub"
	"github.com/jonmccon/pocket-parrot-sub001/internal/logging"
	"github.com/jonmccon/pocket-parrot-sub001/internal/metrics"
	"github.com/jonmccon/pocket-parrot-sub001/internal/transport"
)

func main() {
	// Local overrides; absent file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // nolint:errcheck

	metricsRegistry := metrics.NewRegistry()

	relay := hub.New(cfg, logger, metricsRegistry)
	relay.Start()

	server := transport.NewServer(cfg, logger, relay, metricsRegistry)
	if err := server.Start(); err != nil {
		logger.Fatal("transport start failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	// Hub first: it notifies subscribers and closes the sockets, which
	// lets the HTTP handlers drain promptly.
	relay.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", zap.Error(err))
	}
	logger.Info("relay stopped")
}
