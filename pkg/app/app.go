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

// Package app builds the tonetuner components from a Config and hands them
// to the CLI, the HTTP server and the Lambda handler. Nothing in tonetuner
// is a package-level singleton; everything hangs off an App.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kadirpekel/tonetuner/pkg/auth"
	"github.com/kadirpekel/tonetuner/pkg/clock"
	"github.com/kadirpekel/tonetuner/pkg/config"
	"github.com/kadirpekel/tonetuner/pkg/converter"
	"github.com/kadirpekel/tonetuner/pkg/cost"
	"github.com/kadirpekel/tonetuner/pkg/gate"
	"github.com/kadirpekel/tonetuner/pkg/history"
	"github.com/kadirpekel/tonetuner/pkg/httpclient"
	"github.com/kadirpekel/tonetuner/pkg/llms"
	"github.com/kadirpekel/tonetuner/pkg/observability"
	"github.com/kadirpekel/tonetuner/pkg/ratelimit"
	"github.com/kadirpekel/tonetuner/pkg/store"
	"github.com/kadirpekel/tonetuner/pkg/tone"
	"github.com/kadirpekel/tonetuner/pkg/utils"
)

// App holds every component built from one Config.
type App struct {
	Config *config.Config

	Store     store.Store
	Limiter   *ratelimit.Limiter // nil when rate limiting is disabled
	Quota     ratelimit.Quota
	Cost      *cost.Monitor
	Gate      *gate.Gate
	History   *history.History // nil when history is disabled
	Tones     *tone.Registry
	Rewriter  llms.Rewriter
	Converter *converter.Converter

	Observability *observability.Manager
	Validator     auth.TokenValidator // nil when auth is disabled

	clock     clock.Clock
	pool      *config.DBPool
	ownsStore bool
	alerts    *cost.AsyncSink
}

// Option customises New.
type Option func(*options)

type options struct {
	store         store.Store
	rewriter      llms.Rewriter
	clock         clock.Clock
	observability bool
	auth          bool
	alertSinks    []cost.AlertSink
}

// WithStore uses s instead of the configured backend. The caller keeps
// ownership and closes it.
func WithStore(s store.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithRewriter overrides the configured LLM provider.
func WithRewriter(rw llms.Rewriter) Option {
	return func(o *options) {
		o.rewriter = rw
	}
}

// WithClock overrides the time source of every component.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithObservability initialises tracing and metrics from the config.
// The CLI leaves them off.
func WithObservability() Option {
	return func(o *options) {
		o.observability = true
	}
}

// WithAuth builds the JWT validator from the config.
func WithAuth() Option {
	return func(o *options) {
		o.auth = true
	}
}

// WithAlertSink adds a cost alert destination next to the configured ones.
func WithAlertSink(s cost.AlertSink) Option {
	return func(o *options) {
		o.alertSinks = append(o.alertSinks, s)
	}
}

// New builds an App. cfg must already have defaults applied and be valid.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	o := &options{clock: clock.Default}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{Config: cfg, clock: o.clock, Observability: observability.NoopManager()}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if o.store != nil {
		a.Store = o.store
	} else {
		a.pool = config.NewDBPool()
		a.Store, err = store.New(&cfg.Store, a.pool)
		if err != nil {
			return nil, fmt.Errorf("failed to create store: %w", err)
		}
		a.ownsStore = true
	}

	if o.observability {
		a.Observability, err = observability.NewManager(ctx, &cfg.Observability)
		if err != nil {
			return nil, err
		}
	}
	metrics := a.Observability.Metrics()

	if o.auth {
		a.Validator, err = auth.NewValidatorFromConfig(&cfg.Auth)
		if err != nil {
			return nil, err
		}
	}

	prefix := cfg.Store.KeyPrefix

	a.Limiter = ratelimit.NewFromConfig(&cfg.RateLimit, &cfg.Store, a.Store, ratelimit.WithClock(o.clock))
	a.Quota = ratelimit.QuotaFromConfig(&cfg.RateLimit)

	sinks := cost.MultiSink{cost.LogSink{}, metricsSink(metrics)}
	var outbound cost.MultiSink
	if cfg.Cost.Alerts.Desktop {
		outbound = append(outbound, cost.NewDesktopSink())
	}
	if cfg.Cost.Alerts.WebhookURL != "" {
		outbound = append(outbound, cost.NewWebhookSink(cfg.Cost.Alerts.WebhookURL))
	}
	outbound = append(outbound, o.alertSinks...)
	if len(outbound) > 0 {
		// delivery leaves the conversion path
		a.alerts = cost.NewAsyncSink(outbound, cost.DefaultAlertQueueSize)
		sinks = append(sinks, a.alerts)
	}
	a.Cost = cost.New(a.Store, &cfg.Cost,
		cost.WithClock(o.clock),
		cost.WithKeyPrefix(prefix),
		cost.WithAlertSink(sinks))

	a.Gate = gate.New(a.Store, cfg.Gate.MaxDailyConversions,
		gate.WithClock(o.clock),
		gate.WithKeyPrefix(prefix))

	if cfg.History.IsEnabled() {
		a.History = history.New(a.Store,
			history.WithKeyPrefix(prefix),
			history.WithMaxEntries(cfg.History.MaxEntries))
	}

	a.Tones, err = tone.NewRegistry(cfg.Tones, cfg.RateLimit.MaxTokensPerRequest)
	if err != nil {
		return nil, fmt.Errorf("invalid tone configuration: %w", err)
	}

	a.Rewriter = o.rewriter
	if a.Rewriter == nil {
		a.Rewriter, err = llms.New(ctx, &cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("failed to create rewriter: %w", err)
		}
	}

	convOpts := []converter.Option{
		converter.WithGate(a.Gate),
		converter.WithCostMonitor(a.Cost),
		converter.WithClock(o.clock),
		converter.WithEstimator(estimator(&cfg.LLM)),
		converter.WithModel(cfg.LLM.Model),
		converter.WithRetryPolicy(httpclient.PolicyFromConfig(&cfg.Retry)),
		converter.WithAttemptTimeout(cfg.LLM.Timeout),
		converter.WithMaxInputChars(cfg.LLM.MaxInputChars),
		converter.WithObservability(a.Observability.Tracer(), metrics),
	}
	if a.Limiter != nil {
		convOpts = append(convOpts, converter.WithLimiter(a.Limiter, a.Quota))
	}
	if a.History != nil {
		convOpts = append(convOpts, converter.WithHistory(a.History))
	}
	a.Converter = converter.New(a.Rewriter, a.Tones, convOpts...)

	slog.Debug("Components ready",
		"store", cfg.Store.Backend,
		"provider", a.Rewriter.Name(),
		"rate_limit", a.Limiter != nil,
		"cost", a.Cost.Enabled(),
		"history", a.History != nil)
	return a, nil
}

func estimator(cfg *config.LLMConfig) *utils.TokenCounter {
	if cfg.Provider == config.LLMProviderSimulated {
		return utils.NewHeuristicEstimator(cfg.Model)
	}
	return utils.NewEstimator(cfg.Model)
}

// metricsSink counts alerts in the metrics backend.
func metricsSink(m observability.Metrics) cost.AlertSink {
	return cost.AlertSinkFunc(func(ctx context.Context, alert cost.Alert) error {
		m.RecordCostAlert(ctx, string(alert.Kind))
		return nil
	})
}

// Convert runs one conversion.
func (a *App) Convert(ctx context.Context, req converter.Request) (*converter.Result, error) {
	return a.Converter.Convert(ctx, req)
}

// Sweep removes expired rate limit records and cost entries past retention.
func (a *App) Sweep(ctx context.Context) error {
	var errs []error
	if a.Limiter != nil {
		n, err := a.Limiter.Sweep(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("rate limit sweep: %w", err))
		} else if n > 0 {
			slog.Debug("Swept rate limit buckets", "count", n)
		}
	}
	n, err := a.Cost.Sweep(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("cost sweep: %w", err))
	} else if n > 0 {
		slog.Debug("Swept cost entries", "count", n)
	}
	return errors.Join(errs...)
}

// RunSweeper calls Sweep every interval until ctx is done. Sweep failures
// are logged and do not stop the loop.
func (a *App) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.Sweep(ctx); err != nil {
				slog.Warn("Retention sweep failed", "error", err)
			}
		}
	}
}

// Clock returns the time source shared by every component.
func (a *App) Clock() clock.Clock {
	return a.clock
}

// Close flushes queued alerts, then releases the store, the validator and
// the telemetry exporters.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.alerts != nil {
		if err := a.alerts.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush cost alerts: %w", err))
		}
	}
	if a.Validator != nil {
		a.Validator.Close()
	}
	if a.Observability != nil {
		if err := a.Observability.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.ownsStore && a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.pool != nil {
		if err := a.pool.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
