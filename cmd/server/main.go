// Command server runs the HTTP API, the websocket endpoint and, depending on the topology,
// either the in-process worker or the response-queue reconciler.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/RezaEskandarii/taskrelay/app"
	"github.com/RezaEskandarii/taskrelay/internal/logging"
	"github.com/RezaEskandarii/taskrelay/types/config"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := app.NewContainer(ctx, cfg, app.WithLogger(logger))
	if err != nil {
		logger.Error("failed to start", zap.Error(err))
		return err
	}
	defer func() {
		if err := container.Close(); err != nil {
			logger.Warn("shutdown finished with errors", zap.Error(err))
		}
	}()

	if err := container.Run(ctx); err != nil {
		logger.Error("server stopped", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}
