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

// Package auth turns bearer JWTs into the user id that quotas, costs and
// history are charged to. Tokens are checked against a JWKS endpoint.
// Servers running without auth read the user id from a request header
// instead, which is only safe behind a trusted proxy.
//
//	auth:
//	  enabled: true
//	  jwks_url: "https://auth.example.com/.well-known/jwks.json"
//	  issuer: "https://auth.example.com"
//	  audience: "tonetuner-api"
//	  admin_role: admin
package auth

import (
	"context"
	"slices"
)

// Claims is the caller identity taken from a verified token.
type Claims struct {
	// Subject owns the quota, cost and history records of the request.
	Subject string `json:"sub"`
	Email   string `json:"email,omitempty"`

	// Role gates the admin endpoints.
	Role string `json:"role,omitempty"`

	// Extra holds the private claims not mapped above.
	Extra map[string]any `json:"-"`
}

// Lookup returns a private claim when it holds a string.
func (c *Claims) Lookup(key string) (string, bool) {
	s, ok := c.Extra[key].(string)
	return s, ok
}

// HasRole reports whether the caller's role is one of roles.
func (c *Claims) HasRole(roles ...string) bool {
	return c.Role != "" && slices.Contains(roles, c.Role)
}

type claimsKey struct{}

// FromContext returns the claims stored by Middleware, or nil.
func FromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey{}).(*Claims)
	return c
}

// WithClaims attaches c to ctx.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}
