package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kadirpekel/tonetuner/pkg/config/provider"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}
	return path
}

func TestLoader_File_Load(t *testing.T) {
	offlineEnv(t)

	path := writeConfig(t, "tonetuner.yaml", `
llm:
  provider: simulated
rate_limit:
  requests:
    minute: 3
    hour: 30
    day: 300
retry:
  max_retries: 0
  base_delay: 250ms
  max_delay: 2s
gate:
  max_daily_conversions: 2
tones:
  formal:
    system_prompt: "Rewrite formally."
`)

	cfg, loader, err := LoadConfigFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadConfigFile() = %v", err)
	}
	defer loader.Close()

	if cfg.RateLimit.Requests.Minute != 3 {
		t.Errorf("Requests.Minute = %d, want 3", cfg.RateLimit.Requests.Minute)
	}
	if cfg.Retry.Retries() != 0 {
		t.Errorf("Retries() = %d, want explicit 0", cfg.Retry.Retries())
	}
	if cfg.Retry.BaseDelay != 250*time.Millisecond {
		t.Errorf("BaseDelay = %v", cfg.Retry.BaseDelay)
	}
	if cfg.Gate.MaxDailyConversions != 2 {
		t.Errorf("MaxDailyConversions = %d", cfg.Gate.MaxDailyConversions)
	}
	formal := cfg.Tones["formal"]
	if formal == nil || formal.MaxTokens != 1000 {
		t.Errorf("formal tone = %+v, want defaults applied", formal)
	}
}

func TestLoader_File_TOML(t *testing.T) {
	offlineEnv(t)

	path := writeConfig(t, "tonetuner.toml", `
[llm]
provider = "simulated"
timeout = "5s"

[cost]
daily_limit = 2.5

[rate_limit.tokens]
minute = 4000
`)

	cfg, loader, err := LoadConfigFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadConfigFile() = %v", err)
	}
	defer loader.Close()

	if cfg.LLM.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v", cfg.LLM.Timeout)
	}
	if cfg.Cost.DailyLimit != 2.5 {
		t.Errorf("DailyLimit = %v", cfg.Cost.DailyLimit)
	}
	if cfg.RateLimit.Tokens.Minute != 4000 {
		t.Errorf("Tokens.Minute = %d", cfg.RateLimit.Tokens.Minute)
	}
}

func TestLoader_File_NotFound(t *testing.T) {
	_, _, err := LoadConfigFile(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoader_File_InvalidConfig(t *testing.T) {
	offlineEnv(t)

	path := writeConfig(t, "bad.yaml", `
llm:
  provider: openai
  api_key: your_openai_api_key_here
`)

	_, _, err := LoadConfigFile(context.Background(), path)
	if err == nil || !strings.Contains(err.Error(), "placeholder") {
		t.Fatalf("LoadConfigFile() = %v, want placeholder key rejection", err)
	}
}

func TestLoader_EnvVarExpansion(t *testing.T) {
	offlineEnv(t)
	t.Setenv("TT_TEST_OPENAI_KEY", "sk-test-0123456789abcdefgh")

	path := writeConfig(t, "env.yaml", `
llm:
  provider: openai
  api_key: ${TT_TEST_OPENAI_KEY}
store:
  key_prefix: ${TT_TEST_PREFIX:-custom_}
`)

	cfg, loader, err := LoadConfigFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadConfigFile() = %v", err)
	}
	defer loader.Close()

	if cfg.LLM.APIKey != "sk-test-0123456789abcdefgh" {
		t.Errorf("APIKey = %q", cfg.LLM.APIKey)
	}
	if cfg.Store.KeyPrefix != "custom_" {
		t.Errorf("KeyPrefix = %q, want default from ${VAR:-default}", cfg.Store.KeyPrefix)
	}
}

func TestLoader_File_Watch(t *testing.T) {
	offlineEnv(t)

	path := writeConfig(t, "watch.yaml", "logger:\n  level: info\n")

	p, err := provider.NewFileProvider(path)
	if err != nil {
		t.Fatalf("NewFileProvider() = %v", err)
	}

	reloaded := make(chan *Config, 1)
	loader := NewLoader(p, WithOnChange(func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}))
	defer loader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loader.Watch(ctx) }()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("logger:\n  level: debug\n"), 0644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Logger.Level != "debug" {
			t.Errorf("reloaded level = %q, want debug", cfg.Logger.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestParseBytes(t *testing.T) {
	m, err := parseBytes([]byte(`{"gate": {"max_daily_conversions": 4}}`), FormatYAML)
	if err != nil {
		t.Fatalf("parseBytes(JSON) = %v", err)
	}
	if _, ok := m["gate"]; !ok {
		t.Errorf("missing gate section: %v", m)
	}

	empty, err := parseBytes(nil, FormatYAML)
	if err != nil || empty == nil {
		t.Errorf("parseBytes(empty) = %v, %v; want empty map", empty, err)
	}

	if _, err := parseBytes([]byte("not = [valid"), FormatTOML); err == nil {
		t.Error("expected TOML parse error")
	}
}

func TestFormatForPath(t *testing.T) {
	tests := map[string]Format{
		"a.yaml":     FormatYAML,
		"a.yml":      FormatYAML,
		"a.json":     FormatYAML,
		"a.toml":     FormatTOML,
		"dir/A.TOML": FormatTOML,
	}
	for path, want := range tests {
		if got := FormatForPath(path); got != want {
			t.Errorf("FormatForPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestParseType(t *testing.T) {
	for in, want := range map[string]provider.Type{
		"":          provider.TypeFile,
		"consul":    provider.TypeConsul,
		"etcd":      provider.TypeEtcd,
		"zk":        provider.TypeZookeeper,
		"zookeeper": provider.TypeZookeeper,
	} {
		got, err := provider.ParseType(in)
		if err != nil || got != want {
			t.Errorf("ParseType(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := provider.ParseType("s3"); err == nil {
		t.Error("expected error for unknown type")
	}
}

type memSource struct {
	mu      sync.Mutex
	data    []byte
	changes chan struct{}
}

func newMemSource(doc string) *memSource {
	return &memSource{data: []byte(doc), changes: make(chan struct{}, 1)}
}

func (m *memSource) Type() provider.Type { return "memory" }

func (m *memSource) Load(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data, nil
}

func (m *memSource) Watch(context.Context) (<-chan struct{}, error) { return m.changes, nil }

func (m *memSource) Close() error { return nil }

func (m *memSource) set(doc string) {
	m.mu.Lock()
	m.data = []byte(doc)
	m.mu.Unlock()
	m.changes <- struct{}{}
}

func TestLoader_ReloadOnlyNotifiesOnEffectiveChange(t *testing.T) {
	offlineEnv(t)

	src := newMemSource("gate:\n  max_daily_conversions: 2\n")
	reloaded := make(chan *Config, 4)
	loader := NewLoader(src, WithOnChange(func(cfg *Config) { reloaded <- cfg }))

	if _, err := loader.Load(context.Background()); err != nil {
		t.Fatalf("Load() = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loader.Watch(ctx) }()

	// Same values, different spelling.
	src.set("gate: {max_daily_conversions: 2}\n")
	select {
	case <-reloaded:
		t.Fatal("unchanged config must not trigger onChange")
	case <-time.After(200 * time.Millisecond):
	}

	src.set("gate:\n  max_daily_conversions: 5\n")
	select {
	case cfg := <-reloaded:
		if cfg.Gate.MaxDailyConversions != 5 {
			t.Errorf("MaxDailyConversions = %d, want 5", cfg.Gate.MaxDailyConversions)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	if got := loader.Current().Gate.MaxDailyConversions; got != 5 {
		t.Errorf("Current() max = %d, want 5", got)
	}
}

func TestLoader_RejectedReloadKeepsCurrent(t *testing.T) {
	offlineEnv(t)

	src := newMemSource("gate:\n  max_daily_conversions: 2\n")
	loader := NewLoader(src)
	if _, err := loader.Load(context.Background()); err != nil {
		t.Fatalf("Load() = %v", err)
	}

	src.data = []byte("llm:\n  provider: openai\n  api_key: your_openai_api_key_here\n")
	loader.reload(context.Background())

	if got := loader.Current().Gate.MaxDailyConversions; got != 2 {
		t.Errorf("Current() max = %d, want previous value 2", got)
	}
}

func TestLoader_RequiredEnv(t *testing.T) {
	offlineEnv(t)
	t.Setenv("TT_TEST_REQUIRED", "")

	loader := NewLoader(newMemSource("store:\n  key_prefix: ${TT_TEST_REQUIRED:?}\n"))
	_, err := loader.Load(context.Background())
	if !errors.Is(err, ErrMissingEnv) || !strings.Contains(err.Error(), "TT_TEST_REQUIRED") {
		t.Fatalf("Load() = %v, want ErrMissingEnv naming the variable", err)
	}

	t.Setenv("TT_TEST_REQUIRED", "team_")
	cfg, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Store.KeyPrefix != "team_" {
		t.Errorf("KeyPrefix = %q, want team_", cfg.Store.KeyPrefix)
	}
}

func TestDecodeConfig_ReportsUnknownKeys(t *testing.T) {
	var cfg Config
	unknown, err := decodeConfig(map[string]any{
		"gate":    map[string]any{"max_daily_conversions": 3, "max_per_day": 9},
		"mystery": true,
	}, &cfg)
	if err != nil {
		t.Fatalf("decodeConfig() = %v", err)
	}
	if cfg.Gate.MaxDailyConversions != 3 {
		t.Errorf("MaxDailyConversions = %d, want 3", cfg.Gate.MaxDailyConversions)
	}
	want := []string{"gate.max_per_day", "mystery"}
	if !slices.Equal(unknown, want) {
		t.Errorf("unknown = %v, want %v", unknown, want)
	}
}

func TestChangedSections(t *testing.T) {
	a, b := Default(), Default()
	b.Logger.Level = "debug"
	b.Gate.MaxDailyConversions = a.Gate.MaxDailyConversions + 1

	if got := changedSections(a, b, "logger"); !slices.Equal(got, []string{"gate"}) {
		t.Errorf("changedSections() = %v, want [gate]", got)
	}
	if got := changedSections(a, a); len(got) != 0 {
		t.Errorf("changedSections(same) = %v, want none", got)
	}
}
