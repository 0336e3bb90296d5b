package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pario-ai/semcache/pkg/store"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "store_test.db")
	s, err := New(dbPath, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Set(ctx, "semcache:JavaScript:None:1", []byte(`{"suggestion":"a + b;"}`), time.Hour); err != nil {
		t.Fatal(err)
	}

	data, err := s.Get(ctx, "semcache:JavaScript:None:1")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"suggestion":"a + b;"}` {
		t.Errorf("unexpected value: %s", data)
	}

	if _, err := s.Get(ctx, "semcache:Python:None:1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestOverwrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_ = s.Set(ctx, "k", []byte("old"), time.Hour)
	_ = s.Set(ctx, "k", []byte("new"), time.Hour)

	data, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "new" {
		t.Errorf("expected overwritten value, got %s", data)
	}
}

func TestTTLExpiration(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newTestStore(t, WithClock(func() time.Time { return now }))

	if err := s.Set(ctx, "semcache:a:b:1", []byte("data"), time.Minute); err != nil {
		t.Fatal(err)
	}
	now = now.Add(time.Hour)

	if _, err := s.Get(ctx, "semcache:a:b:1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected miss after TTL expiration, got %v", err)
	}

	keys, err := s.Keys(ctx, "semcache:")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("expired key listed: %v", keys)
	}
}

func TestKeysPrefix(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, k := range []string{"semcache:JavaScript:None:1", "semcache:JavaScript:None:2", "semcache:Python:None:1", "semcacheX:a:b:1"} {
		if err := s.Set(ctx, k, []byte("x"), time.Hour); err != nil {
			t.Fatal(err)
		}
	}

	keys, err := s.Keys(ctx, "semcache:JavaScript:None:")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Errorf("expected 2 keys, got %v", keys)
	}

	all, _ := s.Keys(ctx, "semcache:")
	if len(all) != 3 {
		t.Errorf("expected 3 keys under root prefix, got %v", all)
	}
}

func TestKeysEscapesWildcards(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_ = s.Set(ctx, "p:a_b:x:1", []byte("x"), time.Hour)
	_ = s.Set(ctx, "p:aXb:x:1", []byte("x"), time.Hour)

	keys, err := s.Keys(ctx, "p:a_b:")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "p:a_b:x:1" {
		t.Errorf("underscore treated as wildcard: %v", keys)
	}
}

func TestKeysPrefixIsCaseSensitive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, k := range []string{"semcache:Chat:fix:1", "semcache:Chat:Fix:1", "semcache:Chat:FIX:1", "semcache:python:none:1"} {
		if err := s.Set(ctx, k, []byte("x"), time.Hour); err != nil {
			t.Fatal(err)
		}
	}

	keys, err := s.Keys(ctx, "semcache:Chat:fix:")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "semcache:Chat:fix:1" {
		t.Errorf("expected only the exact-case key, got %v", keys)
	}

	keys, err = s.Keys(ctx, "semcache:Python:None:")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("expected no keys for differently cased namespace, got %v", keys)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_ = s.Set(ctx, "a", []byte("1"), time.Hour)
	_ = s.Set(ctx, "b", []byte("2"), time.Hour)

	if err := s.Delete(ctx, "a", "missing"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, store.ErrNotFound) {
		t.Error("expected a to be deleted")
	}
	if _, err := s.Get(ctx, "b"); err != nil {
		t.Errorf("b should remain: %v", err)
	}
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newTestStore(t, WithClock(func() time.Time { return now }))

	_ = s.Set(ctx, "old", []byte("1"), time.Minute)
	_ = s.Set(ctx, "fresh", []byte("2"), 24*time.Hour)
	_ = s.Set(ctx, "forever", []byte("3"), 0)
	now = now.Add(time.Hour)

	n, err := s.Purge(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged row, got %d", n)
	}
	if _, err := s.Get(ctx, "forever"); err != nil {
		t.Errorf("entry without ttl should survive: %v", err)
	}
}
