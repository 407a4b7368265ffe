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
	"github.com/kadirpekel/tonetuner/pkg/config"
	"github.com/kadirpekel/tonetuner/pkg/store"
)

// NewFromConfig creates a Limiter over s using the key prefix of the store
// configuration. It returns nil when rate limiting is disabled.
//
// Example config:
//
//	store:
//	  backend: sql
//	  key_prefix: tonetuner_
//	  database:
//	    driver: sqlite
//	    database: ./.tonetuner/tonetuner.db
//
//	rate_limit:
//	  enabled: true
//	  requests: {minute: 10, hour: 100, day: 1000}
//	  tokens: {minute: 10000, hour: 100000, day: 1000000}
func NewFromConfig(cfg *config.RateLimitConfig, storeCfg *config.StoreConfig, s store.Store, opts ...Option) *Limiter {
	if !cfg.IsEnabled() {
		return nil
	}
	if storeCfg != nil && storeCfg.KeyPrefix != "" {
		opts = append([]Option{WithKeyPrefix(storeCfg.KeyPrefix)}, opts...)
	}
	return New(s, opts...)
}

// QuotaFromConfig converts the rate limit section into a Quota.
func QuotaFromConfig(cfg *config.RateLimitConfig) Quota {
	if cfg == nil {
		return Quota{}
	}
	return Quota{
		Requests: limitsByWindow(cfg.Requests),
		Tokens:   limitsByWindow(cfg.Tokens),
	}
}

func limitsByWindow(l config.WindowLimits) map[TimeWindow]int64 {
	return map[TimeWindow]int64{
		WindowMinute: l.Minute,
		WindowHour:   l.Hour,
		WindowDay:    l.Day,
	}
}
