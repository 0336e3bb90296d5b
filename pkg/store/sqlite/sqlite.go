// Package sqlite is a durable single-file Store backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/semcache/pkg/store"
)

// Store keeps entries in a single SQLite table. Expiry is checked on read;
// Purge removes rows that have expired but are still physically present.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

const createEntriesTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_at);
`

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New opens (or creates) the database at dbPath.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, goerr.Wrap(err, "open store db", goerr.V("path", dbPath))
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createEntriesTable); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "migrate store db", goerr.V("path", dbPath))
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

var _ store.Store = (*Store)(nil)

// Set implements store.Store. A non-positive ttl means no expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).UnixNano()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)`,
		key, value, expiresAt,
	)
	if err != nil {
		return goerr.Wrap(err, "store set", goerr.V("key", key))
	}
	return nil
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, goerr.Wrap(err, "store get", goerr.V("key", key))
	}
	if expiresAt != 0 && s.now().UnixNano() >= expiresAt {
		return nil, store.ErrNotFound
	}
	return value, nil
}

// Keys implements store.Store. Expired keys are omitted. The prefix is
// compared byte for byte; LIKE would fold ASCII case.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM cache_entries
		 WHERE substr(key, 1, length(?)) = ? AND (expires_at = 0 OR expires_at > ?)
		 ORDER BY key`,
		prefix, prefix, s.now().UnixNano(),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "store keys", goerr.V("prefix", prefix))
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, goerr.Wrap(err, "scan key")
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "iterate keys")
	}
	return keys, nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "begin delete")
	}
	defer func() { _ = tx.Rollback() }()

	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, k); err != nil {
			return goerr.Wrap(err, "store delete", goerr.V("key", k))
		}
	}
	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "commit delete")
	}
	return nil
}

// Purge physically removes expired rows and reports how many were dropped.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at != 0 AND expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, goerr.Wrap(err, "store purge")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
