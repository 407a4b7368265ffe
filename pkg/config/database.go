// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"net/url"
	"time"
)

// SQL drivers accepted by the sql counter store. "sqlite3" is accepted as
// an alias of DriverSQLite.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

// MemoryPath keeps a sqlite database in RAM for the life of the process.
const MemoryPath = ":memory:"

// DatabaseConfig locates the SQL database holding rate-limit windows, the
// cost ledger, gate states and history.
type DatabaseConfig struct {
	// Driver is postgres, mysql or sqlite.
	Driver string `yaml:"driver" json:"driver" jsonschema:"title=Driver,enum=postgres,enum=mysql,enum=sqlite,enum=sqlite3,default=sqlite"`

	// Path is the sqlite file, or ":memory:".
	Path string `yaml:"path,omitempty" json:"path,omitempty" jsonschema:"title=SQLite Path"`

	// URL is a complete postgres or mysql DSN. When set, the host fields
	// below are ignored.
	URL string `yaml:"url,omitempty" json:"url,omitempty" jsonschema:"title=Connection URL"`

	Host     string `yaml:"host,omitempty" json:"host,omitempty"`
	Port     int    `yaml:"port,omitempty" json:"port,omitempty"`
	Name     string `yaml:"name,omitempty" json:"name,omitempty" jsonschema:"title=Database Name"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	// SSLMode is passed to postgres. Default: disable
	SSLMode string `yaml:"ssl_mode,omitempty" json:"ssl_mode,omitempty"`

	// MaxConns caps open connections for postgres and mysql. sqlite always
	// uses one connection. Default: 10
	MaxConns int `yaml:"max_conns,omitempty" json:"max_conns,omitempty" jsonschema:"minimum=1,default=10"`

	// BusyTimeout is how long sqlite waits for a lock held by another
	// process, such as a CLI run next to serve. Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout,omitempty" json:"busy_timeout,omitempty"`
}

// SetDefaults applies default values to DatabaseConfig.
func (c *DatabaseConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	switch c.Dialect() {
	case DriverSQLite:
		if c.BusyTimeout == 0 {
			c.BusyTimeout = 5 * time.Second
		}
	case DriverPostgres:
		if c.Port == 0 {
			c.Port = 5432
		}
		if c.SSLMode == "" {
			c.SSLMode = "disable"
		}
	case DriverMySQL:
		if c.Port == 0 {
			c.Port = 3306
		}
	}
	if c.MaxConns == 0 {
		c.MaxConns = 10
	}
}

// Validate checks DatabaseConfig.
func (c *DatabaseConfig) Validate() error {
	switch c.Dialect() {
	case DriverSQLite:
		if c.Path == "" {
			return invalid("path", "is required for sqlite")
		}
	case DriverPostgres, DriverMySQL:
		if c.URL == "" && (c.Host == "" || c.Name == "") {
			return invalid("host", "host and name, or url, are required for %s", c.Driver)
		}
	default:
		return invalid("driver", "unsupported driver %q (postgres, mysql, sqlite)", c.Driver)
	}
	if c.MaxConns < 0 {
		return invalid("max_conns", "must be non-negative")
	}
	if c.BusyTimeout < 0 {
		return invalid("busy_timeout", "must be non-negative")
	}
	return nil
}

// Dialect returns the normalized driver, which is also the name the driver
// registers with database/sql.
func (c *DatabaseConfig) Dialect() string {
	if c.Driver == "sqlite3" {
		return DriverSQLite
	}
	return c.Driver
}

// DSN builds the connection string. For sqlite it carries the pragmas the
// counter store relies on: WAL journaling and a busy timeout.
func (c *DatabaseConfig) DSN() string {
	switch c.Dialect() {
	case DriverSQLite:
		if c.Path == MemoryPath {
			return MemoryPath
		}
		q := url.Values{}
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", c.BusyTimeout.Milliseconds()))
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "synchronous(NORMAL)")
		return c.Path + "?" + q.Encode()
	case DriverPostgres:
		if c.URL != "" {
			return c.URL
		}
		u := url.URL{
			Scheme:   "postgres",
			Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
			Path:     "/" + c.Name,
			RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
		}
		if c.Username != "" {
			u.User = url.UserPassword(c.Username, c.Password)
		}
		return u.String()
	case DriverMySQL:
		if c.URL != "" {
			return c.URL
		}
		creds := ""
		if c.Username != "" {
			creds = c.Username + ":" + c.Password + "@"
		}
		return fmt.Sprintf("%stcp(%s:%d)/%s?parseTime=true", creds, c.Host, c.Port, c.Name)
	}
	return ""
}
