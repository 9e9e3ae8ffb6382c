// Command bot runs the emoji-pack backend: it loads configuration, starts
// the container and waits for a shutdown signal.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/packsmith/backend/internal/config"
	"github.com/packsmith/backend/internal/container"
	"github.com/packsmith/backend/internal/logging"
)

func main() {
	// A missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.New("[MAIN] ", logging.LevelError).Errorf("configuration: %v", err)
		os.Exit(1)
	}
	logger := logging.New("[MAIN] ", cfg.LogLevel)

	c := container.New(cfg)
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		logger.Errorf("startup: %v", err)
		os.Exit(1)
	}
	logger.Infof("backend is up, storage at %s", cfg.StoragePath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Infof("received %s, shutting down", sig)

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	c.Stop(shutdownCtx)
}
