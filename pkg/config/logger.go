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
	"slices"

	"github.com/kadirpekel/tonetuner/pkg/logger"
)

// LogFormats lists the accepted logger.format values.
var LogFormats = []string{"simple", "verbose", "json"}

// LoggerConfig is the logger section. CLI flags and the LOG_LEVEL,
// LOG_FILE and LOG_FORMAT variables take precedence over it. Level is the
// only setting a watched reload applies to a running server.
//
//	logger:
//	  level: debug
//	  file: /var/log/tonetuner.log
//	  format: json
type LoggerConfig struct {
	Level string `yaml:"level,omitempty" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`

	// File receives log lines instead of stderr when set.
	File string `yaml:"file,omitempty" json:"file,omitempty"`

	Format string `yaml:"format,omitempty" json:"format,omitempty" jsonschema:"enum=simple,enum=verbose,enum=json"`
}

func (c *LoggerConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = LogFormats[0]
	}
}

func (c *LoggerConfig) Validate() error {
	if _, err := logger.ParseLevel(c.Level); err != nil {
		return invalid("level", "%v", err)
	}
	if c.Format != "" && !slices.Contains(LogFormats, c.Format) {
		return invalid("format", "%q is not one of %v", c.Format, LogFormats)
	}
	return nil
}
