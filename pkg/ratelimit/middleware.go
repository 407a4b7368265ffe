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

package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

// IdentifierFunc extracts the rate limit identifier from an HTTP request.
type IdentifierFunc func(r *http.Request) string

// RemoteIPIdentifier keys requests by client IP. It is meant for coarse
// abuse protection in front of authenticated routes.
func RemoteIPIdentifier(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// MiddlewareConfig configures the rate limiting middleware.
type MiddlewareConfig struct {
	// Limiter is the rate limiter to use.
	Limiter *Limiter

	// Quota is enforced per identifier. Only request limits apply here.
	Quota Quota

	// IdentifierFunc extracts the identifier from requests.
	// If nil, RemoteIPIdentifier is used.
	IdentifierFunc IdentifierFunc

	// ExcludedPaths are paths that bypass rate limiting.
	ExcludedPaths []string

	// OnLimited is called when a request is rate limited.
	// If nil, WriteLimited is used.
	OnLimited func(w http.ResponseWriter, r *http.Request, result *Result)
}

// Middleware creates an HTTP middleware that enforces request-count limits.
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	if cfg.Limiter == nil || len(cfg.Quota.Requests) == 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	if cfg.IdentifierFunc == nil {
		cfg.IdentifierFunc = RemoteIPIdentifier
	}
	if cfg.OnLimited == nil {
		cfg.OnLimited = func(w http.ResponseWriter, r *http.Request, result *Result) {
			WriteLimited(w, result, "too many requests")
		}
	}

	quota := Quota{Requests: cfg.Quota.Requests}

	excludedPaths := make(map[string]bool)
	for _, path := range cfg.ExcludedPaths {
		excludedPaths[path] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if excludedPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			identifier := cfg.IdentifierFunc(r)
			if identifier == "" {
				next.ServeHTTP(w, r)
				return
			}

			decision, err := cfg.Limiter.Admit(r.Context(), identifier, quota, 0)
			if err != nil {
				slog.Error("Rate limit check failed", "error", err, "identifier", identifier)
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), decisionKey{}, decision)
			r = r.WithContext(ctx)

			if !decision.Allowed {
				cfg.OnLimited(w, r, decision.Denied)
				return
			}

			SetHeaders(w, mostRestrictive(decision.Results))
			next.ServeHTTP(w, r)
		})
	}
}

type decisionKey struct{}

// DecisionFromContext returns the middleware decision for the request.
func DecisionFromContext(ctx context.Context) *Decision {
	if d, ok := ctx.Value(decisionKey{}).(*Decision); ok {
		return d
	}
	return nil
}

// WriteLimited sends a 429 JSON response describing result.
func WriteLimited(w http.ResponseWriter, result *Result, message string) {
	w.Header().Set("Content-Type", "application/json")
	SetHeaders(w, result)
	if result != nil && result.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(result.RetryAfterSeconds, 10))
	}
	w.WriteHeader(http.StatusTooManyRequests)

	response := map[string]any{
		"error": map[string]any{
			"code":    "rate_limit_exceeded",
			"message": message,
		},
	}
	if result != nil {
		response["retry_after_seconds"] = result.RetryAfterSeconds
		response["window"] = result.Window
		response["limit_type"] = result.LimitType
		response["resets_at"] = result.ResetTime.UTC().Format(time.RFC3339)
	}

	_ = json.NewEncoder(w).Encode(response)
}

// SetHeaders adds the X-RateLimit-* headers for result.
func SetHeaders(w http.ResponseWriter, result *Result) {
	if result == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))
}

// mostRestrictive picks the result with the smallest remaining share.
func mostRestrictive(results []Result) *Result {
	var best *Result
	var bestShare float64
	for i := range results {
		r := &results[i]
		if r.Limit <= 0 {
			continue
		}
		share := float64(r.Remaining) / float64(r.Limit)
		if best == nil || share < bestShare {
			best, bestShare = r, share
		}
	}
	return best
}
