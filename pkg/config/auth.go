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
package config

import (
	"errors"
	"time"
)

// AuthConfig turns on bearer-token authentication for the HTTP API. With
// auth on, the token subject replaces the X-User-ID header as the quota
// owner and the admin routes require AdminRole.
//
//	auth:
//	  enabled: true
//	  jwks_url: "https://auth.example.com/.well-known/jwks.json"
//	  issuer: "https://auth.example.com"
//	  audience: "tonetuner-api"
type AuthConfig struct {
	Enabled  bool   `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	JWKSURL  string `yaml:"jwks_url,omitempty" json:"jwks_url,omitempty"`
	Issuer   string `yaml:"issuer,omitempty" json:"issuer,omitempty"`
	Audience string `yaml:"audience,omitempty" json:"audience,omitempty"`

	// RefreshInterval is the floor between JWKS fetches.
	RefreshInterval time.Duration `yaml:"refresh_interval,omitempty" json:"refresh_interval,omitempty"`

	// ExcludedPaths are served without a token, in addition to the health
	// and metrics endpoints.
	ExcludedPaths []string `yaml:"excluded_paths,omitempty" json:"excluded_paths,omitempty"`

	// AdminRole is the role claim allowed to read costs and reset users.
	AdminRole string `yaml:"admin_role,omitempty" json:"admin_role,omitempty"`
}

func (c *AuthConfig) SetDefaults() {
	if c.RefreshInterval == 0 {
		c.RefreshInterval = 15 * time.Minute
	}
	if c.ExcludedPaths == nil {
		c.ExcludedPaths = []string{"/healthz", "/metrics"}
	}
	if c.AdminRole == "" {
		c.AdminRole = "admin"
	}
}

func (c *AuthConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	var errs []error
	for _, f := range []struct{ name, value string }{
		{"jwks_url", c.JWKSURL},
		{"issuer", c.Issuer},
		{"audience", c.Audience},
	} {
		if f.value == "" {
			errs = append(errs, invalid(f.name, "is required when auth is enabled"))
		}
	}
	if c.RefreshInterval < time.Minute {
		errs = append(errs, invalid("refresh_interval", "must be at least 1m, got %s", c.RefreshInterval))
	}
	return errors.Join(errs...)
}

// IsEnabled reports whether tokens will be checked.
func (c *AuthConfig) IsEnabled() bool {
	return c != nil && c.Enabled && c.JWKSURL != "" && c.Issuer != "" && c.Audience != ""
}
