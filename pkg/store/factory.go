package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/tonetuner/pkg/config"
)

// New creates a Store from configuration. pool is required for the sql
// backend and shares connections with any other component using the same DSN.
func New(cfg *config.StoreConfig, pool *config.DBPool) (Store, error) {
	if cfg == nil {
		return NewMemoryStore(), nil
	}

	backend, err := ParseBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}

	switch backend {
	case BackendMemory:
		slog.Debug("Using in-memory counter store")
		return NewMemoryStore(), nil

	case BackendSQL:
		if cfg.Database == nil {
			return nil, fmt.Errorf("store.database is required for the sql backend")
		}
		if pool == nil {
			pool = config.NewDBPool()
		}
		db, err := pool.Open(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to open store database: %w", err)
		}
		slog.Debug("Using SQL counter store", "driver", cfg.Database.Driver)
		return NewSQLStore(db, cfg.Database.Dialect())

	case BackendConsul:
		if cfg.Consul == nil {
			return nil, fmt.Errorf("store.consul is required for the consul backend")
		}
		slog.Debug("Using Consul counter store", "address", cfg.Consul.Address)
		return NewConsulStore(cfg.Consul.Address, cfg.Consul.Token, cfg.Consul.Root)

	case BackendEtcd:
		if cfg.Etcd == nil {
			return nil, fmt.Errorf("store.etcd is required for the etcd backend")
		}
		slog.Debug("Using etcd counter store", "endpoints", cfg.Etcd.Endpoints)
		return NewEtcdStore(cfg.Etcd.Endpoints, cfg.Etcd.Root, cfg.Etcd.DialTimeout)
	}

	return nil, fmt.Errorf("unsupported store backend: %s", backend)
}
