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

// Command tonetuner rewrites text into a chosen tone under per-user rate
// limits, a daily conversion allowance and a cost budget.
//
// Usage:
//
//	tonetuner convert formal "hey, can't make it today"
//	tonetuner status
//	tonetuner stats --chart
//	tonetuner serve --config tonetuner.yaml
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/tonetuner"
	"github.com/kadirpekel/tonetuner/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP API."`
	Convert  ConvertCmd  `cmd:"" help:"Rewrite text into a tone."`
	Status   StatusCmd   `cmd:"" help:"Show remaining quota for a user."`
	Stats    StatsCmd    `cmd:"" help:"Show token usage and cost."`
	History  HistoryCmd  `cmd:"" help:"Show recent conversions."`
	Reset    ResetCmd    `cmd:"" help:"Clear counters for a user or the cost ledger."`
	Validate ValidateCmd `cmd:"" help:"Validate configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Print the JSON Schema of the configuration."`

	Config          string   `short:"c" help:"Config file path, or key path for remote sources." type:"path"`
	ConfigSource    string   `name:"config-source" help:"Where the config lives: file, consul, etcd, zookeeper." default:"file" enum:"file,consul,etcd,zookeeper"`
	ConfigEndpoints []string `name:"config-endpoints" help:"Endpoints of a remote config source." sep:","`
	ConfigToken     string   `name:"config-token" help:"Consul ACL token." env:"CONSUL_HTTP_TOKEN"`
	LogLevel        string   `help:"Log level (debug, info, warn, error)."`
	LogFile         string   `help:"Log file path (empty = stderr)."`
	LogFormat       string   `help:"Log format (simple, verbose, json)."`

	stdout io.Writer
	stdin  io.Reader
}

func (cli *CLI) out() io.Writer {
	if cli.stdout == nil {
		return os.Stdout
	}
	return cli.stdout
}

func (cli *CLI) in() io.Reader {
	if cli.stdin == nil {
		return os.Stdin
	}
	return cli.stdin
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(cli *CLI) error {
	fmt.Fprintln(cli.out(), tonetuner.GetVersion())
	return nil
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("tonetuner"),
		kong.Description("ToneTuner - tone rewriting with quota and cost governance"),
		kong.UsageOnError(),
	)

	// Flags and env win; config file settings apply later when both are unset.
	if err := initLogger(cli.logSettings(nil)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer closeLogger()

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
