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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/tonetuner/pkg/config"
)

// ValidateCmd validates a configuration file.
type ValidateCmd struct {
	Config string `arg:"" name:"config" help:"Configuration file path." placeholder:"PATH"`

	Format string `short:"f" help:"Output format: compact, verbose, json." default:"compact" enum:"compact,verbose,json"`

	// PrintConfig prints the expanded configuration
	PrintConfig bool `short:"p" name:"print-config" help:"Print the expanded configuration (defaults applied, env vars resolved, secrets masked)."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	_ = config.LoadDotEnvForConfig(c.Config)

	// LoadConfigFile applies defaults and validates.
	cfg, loader, err := config.LoadConfigFile(context.Background(), c.Config)
	if err != nil {
		return printLoadError(cli.out(), c.Format, c.Config, err)
	}
	loader.Close()

	if c.PrintConfig {
		return printExpandedConfig(cli.out(), c.Format, c.Config, redact(cfg))
	}

	printSuccess(cli.out(), c.Format, c.Config)
	return nil
}

// ValidationError is one entry of the JSON report.
type ValidationError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type jsonOutput struct {
	Valid  bool              `json:"valid"`
	File   string            `json:"file"`
	Errors []ValidationError `json:"errors,omitempty"`
}

func printLoadError(out io.Writer, format, file string, err error) error {
	switch format {
	case "json":
		_ = writeJSON(out, jsonOutput{File: file, Errors: []ValidationError{{Type: "load", Message: err.Error()}}})
	case "verbose":
		fmt.Fprintf(os.Stderr, "Configuration Load Error\n")
		fmt.Fprintf(os.Stderr, "========================\n\n")
		fmt.Fprintf(os.Stderr, "File:    %s\n", file)
		fmt.Fprintf(os.Stderr, "Error:   %s\n", err.Error())
	default:
		fmt.Fprintf(os.Stderr, "%s: %s\n", file, err.Error())
	}
	return fmt.Errorf("config is invalid")
}

func printSuccess(out io.Writer, format, file string) {
	switch format {
	case "json":
		_ = writeJSON(out, jsonOutput{Valid: true, File: file})
	case "verbose":
		fmt.Fprintf(out, "Configuration Validation Successful\n")
		fmt.Fprintf(out, "===================================\n\n")
		fmt.Fprintf(out, "File:   %s\n", file)
		fmt.Fprintf(out, "Status: OK Valid\n")
	default:
		fmt.Fprintf(out, "%s: valid\n", file)
	}
}

func printExpandedConfig(out io.Writer, format, file string, cfg *config.Config) error {
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config as JSON: %w", err)
		}
		return nil
	}

	fmt.Fprintf(out, "# Expanded Configuration from: %s\n", file)
	fmt.Fprintf(out, "# (defaults applied, env vars resolved)\n\n")
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config as YAML: %w", err)
	}
	return enc.Close()
}

// redact masks credentials in a copy of cfg.
func redact(cfg *config.Config) *config.Config {
	out := *cfg
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	out.LLM.APIKey = mask(out.LLM.APIKey)
	if db := out.Store.Database; db != nil {
		dbCopy := *db
		dbCopy.Password = mask(dbCopy.Password)
		out.Store.Database = &dbCopy
	}
	if consul := out.Store.Consul; consul != nil {
		consulCopy := *consul
		consulCopy.Token = mask(consulCopy.Token)
		out.Store.Consul = &consulCopy
	}
	return &out
}
