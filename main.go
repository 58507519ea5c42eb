package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"arbor/internal/config"
	"arbor/internal/logging"
	"arbor/internal/server"
	"arbor/internal/workspace"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "arbor.json", "path to the JSON config file")
	dir := flag.String("dir", ".", "directory inside the workspace to serve")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger:", err)
	}
	defer logger.Sync()

	root, err := workspace.FindRoot(*dir)
	if err != nil {
		logger.Fatal("failed to find workspace", zap.Error(err))
	}
	ws, err := workspace.Open(root, cfg, logger.Logger)
	if err != nil {
		logger.Fatal("failed to open workspace", zap.Error(err))
	}
	defer ws.Close()
	logger.Info("workspace opened", zap.String("root", root), zap.String("environment", cfg.Environment))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, ws, cfg, logger, nil); err != nil {
		logger.Error("server failed", zap.Error(err))
		os.Exit(1)
	}
}
