// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

// Package server exposes the conversion service over HTTP.
//
// Routes:
//
//	POST   /v1/convert              convert text to a tone
//	GET    /v1/quota                remaining daily conversions and window usage
//	GET    /v1/history              recent conversions of the caller
//	GET    /v1/tones                supported tone ids
//	GET    /v1/costs                cost summary (admin)
//	GET    /v1/costs/daily          one day, ?date=YYYY-MM-DD (admin)
//	GET    /v1/costs/monthly        one month, ?year=&month= (admin)
//	GET    /v1/costs/series         last n days, ?days= (admin)
//	DELETE /v1/users/{user}/quota   reset a user's counters (admin)
//	GET    /healthz                 liveness
//	GET    /metrics                 Prometheus metrics when enabled
//
// The caller is identified by the JWT subject when auth is enabled and by
// the configured user header otherwise. Admin routes require the admin role
// when auth is enabled and are open otherwise.
package server
