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

package observability

import (
	"context"
	"errors"
	"fmt"
)

// Manager owns the tracer and metrics built from one Config.
type Manager struct {
	tracer  *Tracer
	metrics Metrics
	prom    *PrometheusMetrics
}

// NewManager initialises tracing and metrics. Disabled parts fall back to
// no-op implementations.
func NewManager(ctx context.Context, cfg *Config) (*Manager, error) {
	m := &Manager{metrics: NoopMetrics{}}
	if cfg == nil {
		return m, nil
	}
	cfg.SetDefaults()

	tracer, err := NewTracer(ctx, &cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	m.tracer = tracer

	if cfg.Metrics.Enabled {
		prom, err := NewPrometheusMetrics(&cfg.Metrics)
		if err != nil {
			_ = tracer.Shutdown(ctx)
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
		m.prom = prom
		m.metrics = prom
	}
	return m, nil
}

// NoopManager returns a Manager that records nothing.
func NoopManager() *Manager {
	return &Manager{metrics: NoopMetrics{}}
}

// Tracer returns the tracer, nil when tracing is disabled.
func (m *Manager) Tracer() *Tracer {
	if m == nil {
		return nil
	}
	return m.tracer
}

// Metrics returns the metrics recorder. It is never nil.
func (m *Manager) Metrics() Metrics {
	if m == nil || m.metrics == nil {
		return NoopMetrics{}
	}
	return m.metrics
}

// MetricsEnabled reports whether a Prometheus registry is serving.
func (m *Manager) MetricsEnabled() bool {
	return m != nil && m.prom != nil
}

// Shutdown flushes pending spans and stops the meter provider.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return errors.Join(m.tracer.Shutdown(ctx), m.prom.Shutdown(ctx))
}
