package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/application"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/infrastructure/config"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/infrastructure/logger"
)

const (
	appName    = "chatgateway"
	appVersion = "0.1.0"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Printf("%s v%s\n", appName, appVersion)
			return
		case "help", "--help", "-h":
			fmt.Printf("Usage: %s [version]\n\nStarts the chat gateway HTTP server. Configuration is read from\n~/.%s/config.yaml, ./config.yaml and %s_* environment variables.\n",
				appName, appName, config.EnvPrefix)
			return
		}
	}

	loaded, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, level, err := logger.NewLogger(logger.Config{
		Level:      loaded.Log.Level,
		Format:     loaded.Log.Format,
		OutputPath: loaded.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting chat gateway",
		zap.String("name", appName),
		zap.String("version", appVersion),
	)

	app, err := application.NewApp(loaded, log, level)
	if err != nil {
		log.Fatal("Failed to initialize application", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		log.Fatal("Failed to start application", zap.Error(err))
	}

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		log.Error("Error during shutdown", zap.Error(err))
		os.Exit(1)
	}
}
