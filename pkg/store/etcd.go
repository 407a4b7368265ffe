package store

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdStore keeps entries in etcd v3 under a root prefix.
type EtcdStore struct {
	client *clientv3.Client
	root   string
}

// NewEtcdStore dials the etcd cluster.
func NewEtcdStore(endpoints []string, root string, dialTimeout time.Duration) (*EtcdStore, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints are required")
	}
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	return &EtcdStore{
		client: client,
		root:   normalizeRoot(root),
	}, nil
}

// Get returns the value for key.
func (s *EtcdStore) Get(ctx context.Context, key string) (string, bool, error) {
	resp, err := s.client.Get(ctx, s.root+key)
	if err != nil {
		return "", false, fmt.Errorf("failed to read etcd key %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return "", false, nil
	}
	return string(resp.Kvs[0].Value), true, nil
}

// Set stores value under key.
func (s *EtcdStore) Set(ctx context.Context, key, value string) error {
	if _, err := s.client.Put(ctx, s.root+key, value); err != nil {
		return fmt.Errorf("failed to write etcd key %s: %w", key, err)
	}
	return nil
}

// Remove deletes key.
func (s *EtcdStore) Remove(ctx context.Context, key string) error {
	if _, err := s.client.Delete(ctx, s.root+key); err != nil {
		return fmt.Errorf("failed to delete etcd key %s: %w", key, err)
	}
	return nil
}

// ListKeys returns all keys with the given prefix, relative to the root.
func (s *EtcdStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	resp, err := s.client.Get(ctx, s.root+prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to list etcd keys: %w", err)
	}
	keys := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		keys = append(keys, string(kv.Key))
	}
	return trimRoot(keys, s.root), nil
}

// Close closes the etcd client.
func (s *EtcdStore) Close() error {
	return s.client.Close()
}

var _ Store = (*EtcdStore)(nil)
