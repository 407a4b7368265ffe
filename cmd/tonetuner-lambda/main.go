// Command tonetuner-lambda serves the tonetuner HTTP API behind API Gateway.
//
// The config is read from TONETUNER_CONFIG when set. Without a shared store
// backend counters live in the warm container's memory.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/kadirpekel/tonetuner/pkg/app"
	"github.com/kadirpekel/tonetuner/pkg/config"
	"github.com/kadirpekel/tonetuner/pkg/logger"
	"github.com/kadirpekel/tonetuner/pkg/server"
)

func main() {
	ctx := context.Background()

	cfg, err := loadConfig(ctx)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	level, err := logger.ParseLevel(cfg.Logger.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	logger.Init(level, os.Stderr, "json")

	a, err := app.New(ctx, cfg, app.WithObservability(), app.WithAuth())
	if err != nil {
		slog.Error("Failed to start", "error", err)
		os.Exit(1)
	}

	lambda.Start(proxy(server.New(a).Handler()))
}

func loadConfig(ctx context.Context) (*config.Config, error) {
	path := os.Getenv("TONETUNER_CONFIG")
	if path == "" {
		return config.Default(), nil
	}
	cfg, loader, err := config.LoadConfigFile(ctx, path)
	if err != nil {
		return nil, err
	}
	loader.Close()
	return cfg, nil
}
