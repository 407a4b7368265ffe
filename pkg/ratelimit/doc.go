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

// Package ratelimit provides per-user sliding-window rate limiting.
//
// Features:
//   - Three trailing windows (minute, hour, day)
//   - Dual tracking (request count AND token usage)
//   - Exact counting over persisted event lists, not fixed buckets
//   - Per-key locking so concurrent checks cannot over-admit
//   - Fail-open on storage errors
//
// # Basic Usage
//
//	limiter := ratelimit.New(store.NewMemoryStore())
//
//	// One request against a 10/minute budget
//	result, err := limiter.CheckLimit(ctx, "user-1", ratelimit.WindowMinute, 10)
//	if !result.Allowed {
//	    // wait result.RetryAfterSeconds
//	}
//
//	// All configured windows at once, all-or-nothing
//	decision, err := limiter.Admit(ctx, "user-1", quota, estimatedTokens)
//
// # Storage Layout
//
// Each (user, window) pair lives under its own key:
//
//	<prefix>rate_limit:<user>:<window>   JSON array of epoch-ms timestamps
//	<prefix>token_limit:<user>:<window>  JSON array of {timestamp, tokens}
//
// A record is dropped once now-timestamp >= window duration.
//
// # Failure Mode
//
// A store read or decode failure admits the request and logs a warning.
// Availability is preferred over strict enforcement; the affected bucket is
// not rewritten so the stored value is left for inspection.
package ratelimit
