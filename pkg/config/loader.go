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

package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/kadirpekel/tonetuner/pkg/config/provider"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Format identifies the encoding of raw config bytes.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatForPath picks the format from a file extension. YAML is the default
// and also reads JSON documents.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// ErrMissingEnv is returned when a ${VAR:?} reference names an unset variable.
var ErrMissingEnv = errors.New("required environment variable is not set")

// Loader turns a provider's bytes into a validated Config and follows
// later changes of the source.
type Loader struct {
	source   provider.Provider
	format   Format
	onChange func(*Config)

	mu      sync.Mutex
	current *Config
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithOnChange registers fn for reloads whose result differs from the
// configuration in effect.
func WithOnChange(fn func(*Config)) LoaderOption {
	return func(l *Loader) {
		l.onChange = fn
	}
}

// WithFormat sets the encoding of the provider's bytes.
func WithFormat(f Format) LoaderOption {
	return func(l *Loader) {
		l.format = f
	}
}

// NewLoader returns a Loader reading from p.
func NewLoader(p provider.Provider, opts ...LoaderOption) *Loader {
	l := &Loader{source: p, format: FormatYAML}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads the source and returns the validated configuration, which
// also becomes the baseline for Watch.
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	cfg, err := l.read(ctx)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

func (l *Loader) read(ctx context.Context) (*Config, error) {
	data, err := l.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	doc, err := parseBytes(data, l.format)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	var missing []string
	doc = expandTree(doc, func(name string) { missing = append(missing, name) }).(map[string]any)
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(slices.Compact(missing), ", "))
	}

	cfg := &Config{}
	unknown, err := decodeConfig(doc, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if len(unknown) > 0 {
		slog.Warn("Ignoring unknown config keys", "keys", unknown, "source", l.source.Type())
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Watch reloads the configuration each time the source signals a change
// until ctx ends. A reload that fails validation keeps the previous
// configuration in effect.
func (l *Loader) Watch(ctx context.Context) error {
	changes, err := l.source.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watching: %w", err)
	}
	if changes == nil {
		slog.Info("Config source cannot be watched", "type", l.source.Type())
		<-ctx.Done()
		return ctx.Err()
	}

	slog.Info("Watching config source", "type", l.source.Type())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			l.reload(ctx)
		}
	}
}

func (l *Loader) reload(ctx context.Context) {
	next, err := l.read(ctx)
	if err != nil {
		slog.Error("Config reload rejected", "error", err)
		return
	}

	l.mu.Lock()
	prev := l.current
	l.current = next
	l.mu.Unlock()

	if prev != nil && reflect.DeepEqual(prev, next) {
		slog.Debug("Config source changed without effect")
		return
	}
	if pinned := changedSections(prev, next, "logger"); len(pinned) > 0 {
		slog.Warn("Config sections changed but need a restart to take effect", "sections", pinned)
	}
	slog.Info("Configuration reloaded")
	if l.onChange != nil {
		l.onChange(next)
	}
}

// Current returns the configuration most recently loaded.
func (l *Loader) Current() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Close releases the provider.
func (l *Loader) Close() error {
	return l.source.Close()
}

// changedSections lists the top-level keys whose values differ between a
// and b, leaving out the names in skip.
func changedSections(a, b *Config, skip ...string) []string {
	if a == nil || b == nil {
		return nil
	}
	av, bv := reflect.ValueOf(a).Elem(), reflect.ValueOf(b).Elem()
	var out []string
	for i := range av.NumField() {
		name, _, _ := strings.Cut(av.Type().Field(i).Tag.Get("yaml"), ",")
		if slices.Contains(skip, name) {
			continue
		}
		if !reflect.DeepEqual(av.Field(i).Interface(), bv.Field(i).Interface()) {
			out = append(out, name)
		}
	}
	return out
}

// parseBytes decodes a YAML, JSON or TOML document into a generic tree.
// An empty document yields an empty map.
func parseBytes(data []byte, format Format) (map[string]any, error) {
	doc := map[string]any{}
	switch format {
	case FormatTOML:
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid TOML: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// decodeConfig fills out from the tree and reports keys no field took.
func decodeConfig(doc map[string]any, out *Config) ([]string, error) {
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		Metadata:         &md,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(doc); err != nil {
		return nil, err
	}
	slices.Sort(md.Unused)
	return md.Unused, nil
}

// expandTree substitutes environment references in every string of v.
// Supported forms are $VAR, ${VAR}, ${VAR:-fallback} and ${VAR:?}, the last
// one calling missing when VAR is empty.
func expandTree(v any, missing func(string)) any {
	switch node := v.(type) {
	case string:
		return os.Expand(node, func(ref string) string {
			return lookupEnv(ref, missing)
		})
	case map[string]any:
		for k, child := range node {
			node[k] = expandTree(child, missing)
		}
		return node
	case []any:
		for i, child := range node {
			node[i] = expandTree(child, missing)
		}
		return node
	default:
		return v
	}
}

func lookupEnv(ref string, missing func(string)) string {
	if name, fallback, ok := strings.Cut(ref, ":-"); ok {
		if val := os.Getenv(name); val != "" {
			return val
		}
		return fallback
	}
	if name, _, ok := strings.Cut(ref, ":?"); ok {
		val := os.Getenv(name)
		if val == "" {
			missing(name)
		}
		return val
	}
	return os.Getenv(ref)
}

// LoadConfig builds the provider described by opts and loads from it. The
// returned Loader owns the provider.
func LoadConfig(ctx context.Context, opts provider.ProviderConfig) (*Config, *Loader, error) {
	p, err := provider.New(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create provider: %w", err)
	}

	l := NewLoader(p, WithFormat(FormatForPath(opts.Path)))
	cfg, err := l.Load(ctx)
	if err != nil {
		_ = p.Close()
		return nil, nil, err
	}
	return cfg, l, nil
}

// LoadConfigFile loads a configuration file from disk.
func LoadConfigFile(ctx context.Context, path string) (*Config, *Loader, error) {
	return LoadConfig(ctx, provider.ProviderConfig{Type: provider.TypeFile, Path: path})
}
