// Command worker executes tasks from the work queue and reports outcomes on the response queue.
// It is only used with the decoupled topology.
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

	logger := logging.New(cfg.LogLevel, cfg.LogDevelopment).With(zap.String("process", "worker"))
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := app.NewContainer(ctx, cfg, app.WithLogger(logger), app.AsWorker())
	if err != nil {
		logger.Error("failed to start", zap.Error(err))
		return err
	}
	defer func() { _ = container.Close() }()

	if err := container.Run(ctx); err != nil {
		logger.Error("worker stopped", zap.Error(err))
		return err
	}
	logger.Info("worker stopped")
	return nil
}
