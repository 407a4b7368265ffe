package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/tonetuner/pkg/app"
	"github.com/kadirpekel/tonetuner/pkg/clock"
	"github.com/kadirpekel/tonetuner/pkg/config"
	"github.com/kadirpekel/tonetuner/pkg/converter"
	"github.com/kadirpekel/tonetuner/pkg/store"
)

const testConfigYAML = `
llm:
  provider: simulated
rate_limit:
  requests: {minute: 2}
  tokens: {day: 1000000}
gate:
  max_daily_conversions: 3
store:
  scope: laptop
`

// testCLI points the CLI at a config file and shares one memory store
// between invocations.
func testCLI(t *testing.T, yaml string) (*CLI, *bytes.Buffer) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tonetuner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	s := store.NewMemoryStore()
	c := clock.NewManual(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	appOptions = []app.Option{app.WithStore(s), app.WithClock(c)}
	t.Cleanup(func() { appOptions = nil })

	out := &bytes.Buffer{}
	return &CLI{Config: path, ConfigSource: "file", stdout: out}, out
}

func TestLogSettings_Priority(t *testing.T) {
	cfg := &config.LoggerConfig{Level: "warn", File: "from-config.log", Format: "json"}

	t.Setenv(LogLevelEnvVar, "")
	t.Setenv(LogFileEnvVar, "")
	t.Setenv(LogFormatEnvVar, "")
	assert.Equal(t, logSettings{Level: "info", Format: DefaultLogFormat}, (&CLI{}).logSettings(nil))
	assert.Equal(t, logSettings{Level: "warn", File: "from-config.log", Format: "json"}, (&CLI{}).logSettings(cfg))

	t.Setenv(LogLevelEnvVar, "error")
	t.Setenv(LogFormatEnvVar, "verbose")
	got := (&CLI{}).logSettings(cfg)
	assert.Equal(t, "error", got.Level)
	assert.Equal(t, "verbose", got.Format)
	assert.Equal(t, "from-config.log", got.File)

	got = (&CLI{LogLevel: "debug", LogFormat: "simple"}).logSettings(cfg)
	assert.Equal(t, "debug", got.Level)
	assert.Equal(t, "simple", got.Format)
}

func TestConvertCmd(t *testing.T) {
	cli, out := testCLI(t, testConfigYAML)

	cmd := &ConvertCmd{Tone: "formal", Text: []string{"thanks,", "I", "can't", "make", "it"}}
	require.NoError(t, cmd.Run(cli))

	lines := strings.Split(out.String(), "\n")
	assert.Equal(t, "With respect, thank you, I cannot make it.", lines[0])
	assert.Contains(t, out.String(), "2 of 3 conversions left today")
}

func TestConvertCmd_Stdin(t *testing.T) {
	cli, out := testCLI(t, testConfigYAML)
	cli.stdin = strings.NewReader("hello friend\n")

	require.NoError(t, (&ConvertCmd{Tone: "friendly", JSON: true}).Run(cli))

	var res converter.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, "Just wanted to say, hi there friend!", res.ConvertedText)
	assert.Equal(t, "friendly", res.Tone)
}

func TestConvertCmd_Errors(t *testing.T) {
	cli, _ := testCLI(t, testConfigYAML)

	err := (&ConvertCmd{Tone: "pirate", Text: []string{"ahoy"}}).Run(cli)
	assert.True(t, converter.IsKind(err, converter.KindValidation))

	cli.stdin = strings.NewReader("   ")
	err = (&ConvertCmd{Tone: "formal"}).Run(cli)
	assert.True(t, converter.IsKind(err, converter.KindValidation))

	for range 2 {
		require.NoError(t, (&ConvertCmd{Tone: "casual", Text: []string{"hi"}}).Run(cli))
	}
	err = (&ConvertCmd{Tone: "casual", Text: []string{"hi"}}).Run(cli)
	require.Error(t, err)
	assert.True(t, converter.IsKind(err, converter.KindRateLimited))
	assert.Contains(t, err.Error(), "try again in 60s")
}

func TestStatusCmd(t *testing.T) {
	cli, out := testCLI(t, testConfigYAML)
	require.NoError(t, (&ConvertCmd{Tone: "casual", Text: []string{"hello"}}).Run(cli))
	out.Reset()

	require.NoError(t, (&StatusCmd{}).Run(cli))
	text := out.String()
	assert.Contains(t, text, "User:        laptop")
	assert.Contains(t, text, "Conversions: 1/3 today (2 left)")
	assert.Regexp(t, `requests\s+minute\s+1\s+2\s+1`, text)

	out.Reset()
	require.NoError(t, (&StatusCmd{User: "someone", JSON: true}).Run(cli))
	var status app.QuotaStatus
	require.NoError(t, json.Unmarshal(out.Bytes(), &status))
	assert.Equal(t, "someone", status.UserID)
	assert.Equal(t, 0, status.Gate.DailyConversionCount)
}

func TestStatsCmd(t *testing.T) {
	cli, out := testCLI(t, testConfigYAML)
	require.NoError(t, (&ConvertCmd{Tone: "casual", Text: []string{"hello"}}).Run(cli))
	out.Reset()

	require.NoError(t, (&StatsCmd{Days: 7, Chart: true}).Run(cli))
	text := out.String()
	assert.Contains(t, text, "Provider:    simulated")
	assert.Contains(t, text, "requests)")
	assert.Contains(t, text, "daily cost (USD), 2026-02-24 to 2026-03-02")

	assert.Error(t, (&StatsCmd{Days: 1, Chart: true}).Run(cli))
}

func TestHistoryAndReset(t *testing.T) {
	cli, out := testCLI(t, testConfigYAML)
	require.NoError(t, (&ConvertCmd{Tone: "professional", Text: []string{"send", "it", "asap"}}).Run(cli))
	out.Reset()

	require.NoError(t, (&HistoryCmd{Limit: 5}).Run(cli))
	assert.Contains(t, out.String(), "For your attention: send it at your earliest convenience.")

	out.Reset()
	require.NoError(t, (&ResetCmd{}).Run(cli))
	assert.Equal(t, "Counters cleared for laptop.\n", out.String())

	out.Reset()
	require.NoError(t, (&HistoryCmd{Limit: 5}).Run(cli))
	assert.Equal(t, "No conversions yet.\n", out.String())

	out.Reset()
	require.NoError(t, (&ResetCmd{Costs: true}).Run(cli))
	assert.Equal(t, "Cost ledger cleared.\n", out.String())
}

func TestZeroConfigPersists(t *testing.T) {
	t.Setenv("TONETUNER_HOME", t.TempDir())
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Chdir(t.TempDir())

	out := &bytes.Buffer{}
	cli := &CLI{ConfigSource: "file", stdout: out}

	require.NoError(t, (&ConvertCmd{Tone: "casual", Text: []string{"hello"}}).Run(cli))
	require.NoError(t, (&ConvertCmd{Tone: "casual", Text: []string{"hello"}}).Run(cli))

	out.Reset()
	require.NoError(t, (&StatusCmd{JSON: true}).Run(cli))
	var status app.QuotaStatus
	require.NoError(t, json.Unmarshal(out.Bytes(), &status))
	assert.Equal(t, "local", status.UserID)
	assert.Equal(t, 2, status.Gate.DailyConversionCount)
	assert.FileExists(t, filepath.Join(os.Getenv("TONETUNER_HOME"), "tonetuner.db"))
}

func TestValidateCmd(t *testing.T) {
	cli, out := testCLI(t, testConfigYAML)

	require.NoError(t, (&ValidateCmd{Config: cli.Config, Format: "compact"}).Run(cli))
	assert.Equal(t, cli.Config+": valid\n", out.String())

	out.Reset()
	require.NoError(t, (&ValidateCmd{Config: cli.Config, Format: "json", PrintConfig: true}).Run(cli))
	var cfg config.Config
	require.NoError(t, json.Unmarshal(out.Bytes(), &cfg))
	assert.Equal(t, 3, cfg.Gate.MaxDailyConversions)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("gate:\n  max_daily_conversions: -1\n"), 0o600))
	out.Reset()
	require.Error(t, (&ValidateCmd{Config: bad, Format: "json"}).Run(cli))
	var report jsonOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.False(t, report.Valid)
	assert.Len(t, report.Errors, 1)
}

func TestRedact(t *testing.T) {
	cfg := &config.Config{
		LLM:   config.LLMConfig{APIKey: "sk-secret"},
		Store: config.StoreConfig{Database: &config.DatabaseConfig{Password: "pw"}},
	}
	masked := redact(cfg)
	assert.Equal(t, "********", masked.LLM.APIKey)
	assert.Equal(t, "********", masked.Store.Database.Password)
	assert.Equal(t, "sk-secret", cfg.LLM.APIKey)
	assert.Equal(t, "pw", cfg.Store.Database.Password)
}

func TestSchemaAndVersion(t *testing.T) {
	out := &bytes.Buffer{}
	cli := &CLI{stdout: out}

	require.NoError(t, (&SchemaCmd{Compact: true}).Run(cli))
	var schema map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &schema))
	assert.Equal(t, config.SchemaID, schema["$id"])

	out.Reset()
	require.NoError(t, (&SchemaCmd{Compact: true, Section: "gate"}).Run(cli))
	assert.Contains(t, out.String(), "max_daily_conversions")
	assert.Error(t, (&SchemaCmd{Section: "billing"}).Run(cli))

	out.Reset()
	require.NoError(t, (&VersionCmd{}).Run(cli))
	assert.True(t, strings.HasPrefix(out.String(), "tonetuner "))
}
