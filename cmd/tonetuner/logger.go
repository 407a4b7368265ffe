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

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/kadirpekel/tonetuner/pkg/config"
	"github.com/kadirpekel/tonetuner/pkg/logger"
)

const (
	// LogFileEnvVar is the environment variable name for log file path
	LogFileEnvVar = "LOG_FILE"
	// LogLevelEnvVar is the environment variable name for log level
	LogLevelEnvVar = "LOG_LEVEL"
	// LogFormatEnvVar is the environment variable name for log format
	LogFormatEnvVar = "LOG_FORMAT"
	// DefaultLogFormat is the default log format
	DefaultLogFormat = "simple"
)

type logSettings struct {
	Level  string
	File   string
	Format string
}

var (
	logMu      sync.Mutex
	logCurrent logSettings
	logCleanup func()
)

// logSettings resolves the logger settings.
// Priority: CLI flags > env vars > config file > defaults
func (cli *CLI) logSettings(cfg *config.LoggerConfig) logSettings {
	var fromCfg config.LoggerConfig
	if cfg != nil {
		fromCfg = *cfg
	}
	return logSettings{
		Level:  firstNonEmpty(cli.LogLevel, os.Getenv(LogLevelEnvVar), fromCfg.Level, "info"),
		File:   firstNonEmpty(cli.LogFile, os.Getenv(LogFileEnvVar), fromCfg.File),
		Format: firstNonEmpty(cli.LogFormat, os.Getenv(LogFormatEnvVar), fromCfg.Format, DefaultLogFormat),
	}
}

// initLogger installs the default logger. A previously opened log file is
// closed once the new output is in place.
func initLogger(s logSettings) error {
	level, err := logger.ParseLevel(s.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	var output io.Writer = os.Stderr
	var cleanup func()
	if s.File != "" {
		file, cleanupFn, err := logger.OpenLogFile(s.File)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		cleanup = cleanupFn
	}

	logger.Init(level, output, s.Format)

	logMu.Lock()
	previous := logCleanup
	logCurrent, logCleanup = s, cleanup
	logMu.Unlock()
	if previous != nil {
		previous()
	}
	return nil
}

// applyConfigLogger re-initialises the logger when the config file asks for
// something the flags and env left open.
func (cli *CLI) applyConfigLogger(cfg *config.LoggerConfig) error {
	s := cli.logSettings(cfg)
	logMu.Lock()
	same := s == logCurrent
	logMu.Unlock()
	if same {
		return nil
	}
	return initLogger(s)
}

// reloadLogLevel applies a changed level from a reloaded config. Output and
// format stay as they were.
func (cli *CLI) reloadLogLevel(cfg *config.LoggerConfig) {
	s := cli.logSettings(cfg)
	level, err := logger.ParseLevel(s.Level)
	if err != nil {
		slog.Warn("Ignoring invalid log level from reloaded config", "level", s.Level)
		return
	}
	if level == logger.Level() {
		return
	}
	logger.SetLevel(level)

	logMu.Lock()
	logCurrent.Level = s.Level
	logMu.Unlock()
	slog.Info("Log level changed", "level", s.Level)
}

func closeLogger() {
	logMu.Lock()
	cleanup := logCleanup
	logCleanup = nil
	logMu.Unlock()
	if cleanup != nil {
		cleanup()
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
