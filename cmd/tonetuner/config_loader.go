package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kadirpekel/tonetuner/pkg/config"
	"github.com/kadirpekel/tonetuner/pkg/config/provider"
	"github.com/kadirpekel/tonetuner/pkg/utils"
)

// defaultConfigFile is picked up from the working directory when --config
// is not given.
const defaultConfigFile = "tonetuner.yaml"

// loadConfig loads the configuration from the selected source, or builds the
// zero-config when there is none. The returned loader is nil in zero-config
// mode.
func (cli *CLI) loadConfig(ctx context.Context, opts ...config.LoaderOption) (*config.Config, *config.Loader, error) {
	path := cli.Config
	if path == "" && cli.ConfigSource == string(provider.TypeFile) && fileExists(defaultConfigFile) {
		path = defaultConfigFile
	}
	if path == "" {
		cfg, err := zeroConfig()
		if err != nil {
			return nil, nil, err
		}
		return cfg, nil, cli.applyConfigLogger(&cfg.Logger)
	}

	if cli.ConfigSource == string(provider.TypeFile) {
		_ = config.LoadDotEnvForConfig(path)
	}

	p, err := provider.New(provider.ProviderConfig{
		Type:      provider.Type(cli.ConfigSource),
		Path:      path,
		Endpoints: cli.ConfigEndpoints,
		Token:     cli.ConfigToken,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create config provider: %w", err)
	}

	opts = append([]config.LoaderOption{config.WithFormat(config.FormatForPath(path))}, opts...)
	loader := config.NewLoader(p, opts...)
	cfg, err := loader.Load(ctx)
	if err != nil {
		loader.Close()
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	slog.Debug("Loaded configuration", "source", cli.ConfigSource, "path", path)

	if err := cli.applyConfigLogger(&cfg.Logger); err != nil {
		loader.Close()
		return nil, nil, err
	}
	return cfg, loader, nil
}

// zeroConfig keeps counters in a sqlite file under the user's home so that
// quota survives between invocations. The provider is detected from the
// environment and falls back to the offline simulator.
func zeroConfig() (*config.Config, error) {
	dir, err := dataDir()
	if err != nil {
		return nil, err
	}
	cfg := &config.Config{
		Store: config.StoreConfig{
			Backend: "sql",
			Database: &config.DatabaseConfig{
				Driver: "sqlite",
				Path:   filepath.Join(dir, "tonetuner.db"),
			},
		},
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid zero-config: %w", err)
	}
	return cfg, nil
}

func dataDir() (string, error) {
	if dir := os.Getenv("TONETUNER_HOME"); dir != "" {
		return dir, os.MkdirAll(dir, 0o755)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate home directory: %w", err)
	}
	return utils.EnsureDataDir(home)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
