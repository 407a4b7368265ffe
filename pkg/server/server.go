// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/tonetuner/pkg/app"
	"github.com/kadirpekel/tonetuner/pkg/auth"
	"github.com/kadirpekel/tonetuner/pkg/config"
	"github.com/kadirpekel/tonetuner/pkg/observability"
	"github.com/kadirpekel/tonetuner/pkg/ratelimit"
)

// Server is the tonetuner HTTP API.
type Server struct {
	app     *app.App
	cfg     *config.ServerConfig
	handler http.Handler
	server  *http.Server
}

// New builds the router for a. The App's validator, if any, guards every
// route except the configured exclusions.
func New(a *app.App) *Server {
	s := &Server{app: a, cfg: &a.Config.Server}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler with every middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Address returns the listen address.
func (s *Server) Address() string {
	return s.cfg.Address()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	obs := s.app.Observability

	// Order: observability -> recover -> logging -> cors -> ip limit -> auth
	r.Use(observability.HTTPMiddleware(obs.Tracer(), obs.Metrics()))
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(loggingMiddleware)
	r.Use(s.corsMiddleware)

	excluded := []string{"/healthz"}
	metricsPath := s.app.Config.Observability.Metrics.Endpoint
	if obs.MetricsEnabled() {
		excluded = append(excluded, metricsPath)
	}

	if perMinute := s.app.Config.RateLimit.IPRequestsPerMinute; perMinute > 0 && s.app.Limiter != nil {
		r.Use(ratelimit.Middleware(ratelimit.MiddlewareConfig{
			Limiter:       s.app.Limiter,
			Quota:         ratelimit.Quota{Requests: map[ratelimit.TimeWindow]int64{ratelimit.WindowMinute: perMinute}},
			ExcludedPaths: excluded,
		}))
	}

	if s.app.Validator != nil {
		paths := append(excluded, s.app.Config.Auth.ExcludedPaths...)
		r.Use(auth.Middleware(s.app.Validator, paths))
		slog.Info("Authentication enabled", "excluded_paths", paths)
	}

	r.Get("/healthz", s.handleHealth)
	if obs.MetricsEnabled() {
		r.Handle(metricsPath, obs.Metrics().Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/convert", s.handleConvert)
		r.Get("/quota", s.handleQuota)
		r.Get("/history", s.handleHistory)
		r.Get("/tones", s.handleTones)

		r.Group(func(r chi.Router) {
			if s.app.Validator != nil {
				r.Use(auth.RequireRole(s.app.Config.Auth.AdminRole))
			}
			r.Get("/costs", s.handleCosts)
			r.Get("/costs/daily", s.handleDailyCost)
			r.Get("/costs/monthly", s.handleMonthlyCost)
			r.Get("/costs/series", s.handleCostSeries)
			r.Delete("/users/{user}/quota", s.handleResetUser)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.cfg.Address(),
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  2 * time.Minute,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	slog.Info("HTTP server starting", "address", s.cfg.Address())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.WithoutCancel(ctx))
	}
}

// Shutdown stops accepting requests and waits for in-flight conversions.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	slog.Info("HTTP server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	return nil
}

// corsMiddleware adds CORS headers.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	cors := s.cfg.CORS
	if cors == nil {
		cors = &config.CORSConfig{AllowedOrigins: []string{"*"}}
	}
	methods := strings.Join(cors.AllowedMethods, ", ")
	if methods == "" {
		methods = "GET, POST, DELETE, OPTIONS"
	}
	headers := strings.Join(cors.AllowedHeaders, ", ")
	if headers == "" {
		headers = "Content-Type, Authorization"
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			for _, allowed := range cors.AllowedOrigins {
				if allowed == "*" || allowed == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
					break
				}
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.Header().Set("Access-Control-Allow-Headers", headers)
		w.Header().Set("Access-Control-Expose-Headers", "Retry-After, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset, X-User-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs requests at debug level.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}
