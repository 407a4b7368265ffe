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

// Package provider fetches the raw configuration document from a local file
// or from a key in consul, etcd or zookeeper.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type names a configuration source.
type Type string

const (
	TypeFile      Type = "file"
	TypeConsul    Type = "consul"
	TypeEtcd      Type = "etcd"
	TypeZookeeper Type = "zookeeper"
)

// ErrUnknownType is returned for a source name ParseType does not know.
var ErrUnknownType = errors.New("unknown config source")

var typeNames = map[string]Type{
	"":          TypeFile,
	"file":      TypeFile,
	"consul":    TypeConsul,
	"etcd":      TypeEtcd,
	"zk":        TypeZookeeper,
	"zookeeper": TypeZookeeper,
}

// ParseType maps a --config-source value to a Type. An empty name means a
// local file.
func ParseType(s string) (Type, error) {
	if t, ok := typeNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownType, s)
}

// Provider hands the loader the current document bytes.
//
// Implementations are safe for concurrent use.
type Provider interface {
	Type() Type

	Load(ctx context.Context) ([]byte, error)

	// Watch signals on the returned channel after the document changes,
	// until ctx ends. A nil channel means the source cannot be watched.
	// Signals coalesce, so one receive may stand for several changes.
	Watch(ctx context.Context) (<-chan struct{}, error)

	Close() error
}

// ProviderConfig selects and addresses a source.
type ProviderConfig struct {
	Type Type

	// Path is the file path, or the key that holds the document remotely.
	Path string

	// Endpoints are the remote cluster addresses. Consul reads the first.
	Endpoints []string

	// Token is sent to consul only.
	Token string
}

// New opens the source named by opts.Type.
func New(opts ProviderConfig) (Provider, error) {
	if opts.Path == "" {
		return nil, errors.New("config path is required")
	}
	t, err := ParseType(string(opts.Type))
	if err != nil {
		return nil, err
	}

	switch t {
	case TypeConsul:
		return NewConsulProvider(opts.Endpoints, opts.Path, opts.Token)
	case TypeEtcd:
		return NewEtcdProvider(opts.Endpoints, opts.Path)
	case TypeZookeeper:
		return NewZookeeperProvider(opts.Endpoints, opts.Path)
	default:
		return NewFileProvider(opts.Path)
	}
}

// notify leaves at most one signal pending on ch.
func notify(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// sleepCtx pauses for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
