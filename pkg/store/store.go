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

// Package store provides the persistent counter store shared by the rate
// limiter, the cost monitor and the daily conversion gate.
//
// The store is a flat string key-value map. Callers namespace their keys
// (for example "tonetuner_rate_limit:<user>:minute") and serialize their own
// values; the store never interprets them.
//
// Backends:
//   - memory: process-local map, used by tests and short-lived processes
//   - sql: postgres, mysql or sqlite through database/sql
//   - consul: Consul KV under a root prefix
//   - etcd: etcd v3 under a root prefix
package store

import (
	"context"
	"errors"
	"strings"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Store is a durable string key-value map.
//
// Implementations must be safe for concurrent use. Atomicity of
// read-modify-write sequences is the caller's responsibility.
type Store interface {
	// Get returns the value for key. The boolean is false when the key does
	// not exist; that is not an error.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// ListKeys returns all keys starting with prefix, sorted.
	// An empty prefix lists every key.
	ListKeys(ctx context.Context, prefix string) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// Backend identifies a store implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendSQL    Backend = "sql"
	BackendConsul Backend = "consul"
	BackendEtcd   Backend = "etcd"
)

// ParseBackend converts a string to a Backend.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(s) {
	case "memory", "":
		return BackendMemory, nil
	case "sql", "database", "db":
		return BackendSQL, nil
	case "consul":
		return BackendConsul, nil
	case "etcd":
		return BackendEtcd, nil
	default:
		return "", &UnknownBackendError{Backend: s}
	}
}

// UnknownBackendError reports an unsupported backend name.
type UnknownBackendError struct {
	Backend string
}

func (e *UnknownBackendError) Error() string {
	return "unknown store backend: " + e.Backend + " (valid: memory, sql, consul, etcd)"
}
