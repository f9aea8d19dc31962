package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/fzcomet206/musicshare/internal/config"
	"github.com/fzcomet206/musicshare/internal/server"
	"github.com/fzcomet206/musicshare/internal/utils"
)

func main() {
	// A local .env is a dev convenience; in production the variables are
	// already in the environment and the file is absent.
	_ = godotenv.Load()

	cfg := config.Load()

	if err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger := utils.GetLogger()
	logger.Info("Starting musicshare server")

	srv, err := server.NewServer(cfg)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-sigChan
	logger.Info("Received shutdown signal")

	srv.Stop()
	logger.Info("Server stopped")
}
