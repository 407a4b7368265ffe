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
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// DBPool shares one *sql.DB per DSN, so the store and any other component
// pointed at the same database use a single handle.
type DBPool struct {
	mu  sync.Mutex
	dbs map[string]*sql.DB

	// PingTimeout bounds the connectivity check on first open.
	PingTimeout time.Duration
}

// NewDBPool creates an empty DBPool.
func NewDBPool() *DBPool {
	return &DBPool{dbs: make(map[string]*sql.DB), PingTimeout: 10 * time.Second}
}

// Open returns the handle for cfg, opening and pinging it on first use.
// sqlite handles are limited to one connection: the counter store does
// read-modify-write cycles and a second connection would only wait on the
// file lock.
func (p *DBPool) Open(ctx context.Context, cfg *DatabaseConfig) (*sql.DB, error) {
	dsn := cfg.DSN()

	p.mu.Lock()
	defer p.mu.Unlock()

	if db, ok := p.dbs[dsn]; ok {
		return db, nil
	}

	db, err := sql.Open(cfg.Dialect(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Dialect(), err)
	}
	if cfg.Dialect() == DriverSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetConnMaxLifetime(time.Hour)
	}

	pingCtx, cancel := context.WithTimeout(ctx, p.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach %s database: %w", cfg.Dialect(), err)
	}

	slog.Debug("Opened counter database", "driver", cfg.Dialect())
	p.dbs[dsn] = db
	return db, nil
}

// Len returns the number of open handles.
func (p *DBPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dbs)
}

// Close closes every handle.
func (p *DBPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, db := range p.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	clear(p.dbs)
	return errors.Join(errs...)
}
