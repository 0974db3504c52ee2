package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/portfolio-intake/internal/adapters/cli"
	"github.com/kirillkom/portfolio-intake/internal/bootstrap"
	"github.com/kirillkom/portfolio-intake/internal/config"
	"github.com/kirillkom/portfolio-intake/internal/observability/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(loadServices)
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadServices(ctx context.Context) (*cli.Services, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logging.NewJSONLoggerTo(os.Stderr, "capture", cfg.LogLevel))

	core, err := bootstrap.NewCorroboration(ctx, cfg, bootstrap.ResilienceHooks{})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		return nil, nil, err
	}
	return &cli.Services{
		Corroborator: core.Corroborator,
		Extractor:    core.Extractor,
		Classifier:   core.Gate,
	}, core.Close, nil
}
