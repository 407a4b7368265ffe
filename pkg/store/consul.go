package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/consul/api"
)

// ConsulStore keeps entries in Consul KV under a root prefix.
type ConsulStore struct {
	kv   *api.KV
	root string
}

// NewConsulStore connects to the Consul agent at address.
// token may be empty when ACLs are disabled.
func NewConsulStore(address, token, root string) (*ConsulStore, error) {
	cfg := api.DefaultConfig()
	if address != "" {
		cfg.Address = address
	}
	if token != "" {
		cfg.Token = token
	}

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	return &ConsulStore{
		kv:   client.KV(),
		root: normalizeRoot(root),
	}, nil
}

// Get returns the value for key.
func (s *ConsulStore) Get(ctx context.Context, key string) (string, bool, error) {
	pair, _, err := s.kv.Get(s.root+key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return "", false, fmt.Errorf("failed to read consul key %s: %w", key, err)
	}
	if pair == nil {
		return "", false, nil
	}
	return string(pair.Value), true, nil
}

// Set stores value under key.
func (s *ConsulStore) Set(ctx context.Context, key, value string) error {
	pair := &api.KVPair{Key: s.root + key, Value: []byte(value)}
	if _, err := s.kv.Put(pair, (&api.WriteOptions{}).WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to write consul key %s: %w", key, err)
	}
	return nil
}

// Remove deletes key.
func (s *ConsulStore) Remove(ctx context.Context, key string) error {
	if _, err := s.kv.Delete(s.root+key, (&api.WriteOptions{}).WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to delete consul key %s: %w", key, err)
	}
	return nil
}

// ListKeys returns all keys with the given prefix, relative to the root.
func (s *ConsulStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	keys, _, err := s.kv.Keys(s.root+prefix, "", (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list consul keys: %w", err)
	}
	return trimRoot(keys, s.root), nil
}

// Close is a no-op; the consul client holds no persistent connection.
func (s *ConsulStore) Close() error {
	return nil
}

func normalizeRoot(root string) string {
	if root == "" {
		return ""
	}
	return strings.TrimSuffix(root, "/") + "/"
}

func trimRoot(keys []string, root string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, root))
	}
	sort.Strings(out)
	return out
}

var _ Store = (*ConsulStore)(nil)
