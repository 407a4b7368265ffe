package config

import (
	"time"
)

// StoreConfig selects the persistent counter store backend.
//
// Example:
//
//	store:
//	  backend: sql
//	  key_prefix: tonetuner_
//	  database:
//	    driver: sqlite
//	    database: ./tonetuner.db
type StoreConfig struct {
	// Backend is one of memory, sql, consul, etcd.
	// Default: memory
	Backend string `yaml:"backend,omitempty" json:"backend,omitempty" jsonschema:"enum=memory,enum=sql,enum=consul,enum=etcd,default=memory"`

	// KeyPrefix namespaces every key written by this installation.
	// Default: tonetuner_
	KeyPrefix string `yaml:"key_prefix,omitempty" json:"key_prefix,omitempty"`

	// Scope identifies this installation for the CLI conversion gate.
	// Default: local
	Scope string `yaml:"scope,omitempty" json:"scope,omitempty"`

	// Database is used by the sql backend.
	Database *DatabaseConfig `yaml:"database,omitempty" json:"database,omitempty"`

	// Consul is used by the consul backend.
	Consul *ConsulConfig `yaml:"consul,omitempty" json:"consul,omitempty"`

	// Etcd is used by the etcd backend.
	Etcd *EtcdConfig `yaml:"etcd,omitempty" json:"etcd,omitempty"`

	// SweepInterval is how often serve runs retention sweeps. Zero disables.
	// Default: 1h
	SweepInterval time.Duration `yaml:"sweep_interval,omitempty" json:"sweep_interval,omitempty"`
}

// ConsulConfig locates a Consul KV tree.
type ConsulConfig struct {
	Address string `yaml:"address,omitempty" json:"address,omitempty"`
	Token   string `yaml:"token,omitempty" json:"token,omitempty"`
	Root    string `yaml:"root,omitempty" json:"root,omitempty"`
}

// EtcdConfig locates an etcd key prefix.
type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints,omitempty" json:"endpoints,omitempty"`
	Root        string        `yaml:"root,omitempty" json:"root,omitempty"`
	DialTimeout time.Duration `yaml:"dial_timeout,omitempty" json:"dial_timeout,omitempty"`
}

// SetDefaults applies default values to StoreConfig.
func (c *StoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "tonetuner_"
	}
	if c.Scope == "" {
		c.Scope = "local"
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Hour
	}
	if c.Database != nil {
		c.Database.SetDefaults()
	}
	if c.Consul != nil {
		if c.Consul.Address == "" {
			c.Consul.Address = "127.0.0.1:8500"
		}
		if c.Consul.Root == "" {
			c.Consul.Root = "tonetuner"
		}
	}
	if c.Etcd != nil {
		if len(c.Etcd.Endpoints) == 0 {
			c.Etcd.Endpoints = []string{"127.0.0.1:2379"}
		}
		if c.Etcd.Root == "" {
			c.Etcd.Root = "/tonetuner/"
		}
		if c.Etcd.DialTimeout == 0 {
			c.Etcd.DialTimeout = 5 * time.Second
		}
	}
}

// Validate checks the store configuration.
func (c *StoreConfig) Validate() error {
	switch c.Backend {
	case "memory", "":
	case "sql":
		if c.Database == nil {
			return invalid("database", "is required for the sql backend")
		}
		if err := c.Database.Validate(); err != nil {
			return invalid("database", "%v", err)
		}
	case "consul":
		if c.Consul == nil {
			return invalid("consul", "is required for the consul backend")
		}
	case "etcd":
		if c.Etcd == nil {
			return invalid("etcd", "is required for the etcd backend")
		}
	default:
		return invalid("backend", "unknown backend %q (valid: memory, sql, consul, etcd)", c.Backend)
	}
	if c.SweepInterval < 0 {
		return invalid("sweep_interval", "must be non-negative")
	}
	return nil
}
