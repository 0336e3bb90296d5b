// Package redis is a Store for shared deployments where several gateway
// processes serve the same cache.
package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"

	"github.com/pario-ai/semcache/pkg/store"
)

const scanBatch = 256

// Store keeps each entry as a plain Redis string; TTL is native key expiry.
type Store struct {
	client *redis.Client
}

// New wraps an existing client. Close closes the client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Dial connects to addr and verifies the connection with PING.
func Dial(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, goerr.Wrap(err, "ping redis", goerr.V("addr", addr))
	}
	return New(client), nil
}

var _ store.Store = (*Store)(nil)

// Set implements store.Store. A non-positive ttl means no expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return goerr.Wrap(err, "redis set", goerr.V("key", key))
	}
	return nil
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, goerr.Wrap(err, "redis get", goerr.V("key", key))
	}
	return v, nil
}

// Keys implements store.Store using SCAN so large keyspaces never block the
// server.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, escapeGlob(prefix)+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, goerr.Wrap(err, "redis scan", goerr.V("prefix", prefix))
	}
	return keys, nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return goerr.Wrap(err, "redis del", goerr.V("count", len(keys)))
	}
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	return s.client.Close()
}

func escapeGlob(s string) string {
	return strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`).Replace(s)
}
