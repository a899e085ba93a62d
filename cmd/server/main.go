package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration, using defaults: %v\n", err)
		cfg = config.Default()
	}

	// Flags override environment
	port := flag.String("port", cfg.Server.Port, "Server port")
	host := flag.String("host", cfg.Server.Host, "Server bind address")
	mainModule := flag.String("main", cfg.Runtime.MainModule, "Main module specifier (empty disables the main context)")
	dev := flag.Bool("dev", cfg.Logging.Development, "Development mode (human-readable debug logs)")
	flag.Parse()

	cfg.Server.Port = *port
	cfg.Server.Host = *host
	cfg.Runtime.MainModule = *mainModule
	cfg.Logging.Development = *dev

	logCfg := logging.DefaultConfig()
	if cfg.Logging.Development {
		logCfg = logging.DevelopmentConfig()
	}
	if cfg.Logging.Level != "" && !cfg.Logging.Development {
		logCfg.Level = cfg.Logging.Level
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		// Reached when the main context exhausts its restarts
		logger.Fatal("Script host terminated", zap.Error(err))
	}
	logger.Info("Script host stopped")
}
