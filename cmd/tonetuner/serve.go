// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/tonetuner/pkg/app"
	"github.com/kadirpekel/tonetuner/pkg/config"
	"github.com/kadirpekel/tonetuner/pkg/server"
)

// ServeCmd starts the HTTP API.
type ServeCmd struct {
	Host  string `help:"Host to bind (overrides config)."`
	Port  int    `help:"Port to listen on (overrides config)."`
	Watch bool   `help:"Watch the config source and hot reload the log level."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, loader, err := cli.loadConfig(ctx, config.WithOnChange(func(next *config.Config) {
		// Quota, cost and gate settings stay as they were at startup.
		cli.reloadLogLevel(&next.Logger)
	}))
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	a, err := app.New(ctx, cfg, app.WithObservability(), app.WithAuth())
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("Shutdown incomplete", "error", err)
		}
	}()

	srv := server.New(a)
	printServeInfo(cli, cfg, a, srv)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		return a.RunSweeper(gctx, cfg.Store.SweepInterval)
	})
	if c.Watch && loader != nil {
		g.Go(func() error {
			if err := loader.Watch(gctx); err != nil && gctx.Err() == nil {
				slog.Error("Config watch error", "error", err)
			}
			return nil
		})
	}

	err = g.Wait()
	slog.Info("Server stopped")
	return err
}

func printServeInfo(cli *CLI, cfg *config.Config, a *app.App, srv *server.Server) {
	out := cli.out()
	fmt.Fprintf(out, "\nToneTuner server ready\n")
	fmt.Fprintf(out, "   API:         http://%s/v1/convert\n", srv.Address())
	fmt.Fprintf(out, "   Health:      http://%s/healthz\n", srv.Address())
	fmt.Fprintf(out, "   Provider:    %s (%s)\n", a.Rewriter.Name(), cfg.LLM.Model)
	fmt.Fprintf(out, "   Store:       %s\n", cfg.Store.Backend)
	if a.Limiter != nil {
		fmt.Fprintf(out, "   Rate limit:  %d/min, %d/hour, %d/day\n",
			cfg.RateLimit.Requests.Minute, cfg.RateLimit.Requests.Hour, cfg.RateLimit.Requests.Day)
	} else {
		fmt.Fprintf(out, "   Rate limit:  disabled\n")
	}
	if a.Validator != nil {
		fmt.Fprintf(out, "   Auth:        JWT (%s)\n", cfg.Auth.Issuer)
	}
	if a.Observability.MetricsEnabled() {
		fmt.Fprintf(out, "   Metrics:     http://%s%s\n", srv.Address(), cfg.Observability.Metrics.Endpoint)
	}
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")
}
