// Package store defines the key-value contract the semantic cache persists
// entries through, and the key scheme that partitions entries by category.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pario-ai/semcache/pkg/models"
)

// ErrNotFound is returned by Get when a key is missing or expired.
var ErrNotFound = goerr.New("key not found")

// Store is a byte-oriented key-value store with per-entry TTL.
// Implementations must be safe for concurrent use.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Keys(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

const sep = ":"

// Key parts are percent-escaped so a separator inside a part stays
// distinguishable from a literal "%3A" or "_".
var (
	escaper   = strings.NewReplacer("%", "%25", sep, "%3A")
	unescaper = strings.NewReplacer("%3A", sep, "%25", "%")
)

func clean(part string) string {
	return escaper.Replace(part)
}

// NamespacePrefix returns the key prefix shared by every entry of category c,
// including the trailing separator.
func NamespacePrefix(prefix string, c models.Category) string {
	return clean(prefix) + sep + clean(c.Language) + sep + clean(c.Framework) + sep
}

// Key returns the storage key of entry id in category c.
func Key(prefix string, c models.Category, id string) string {
	return NamespacePrefix(prefix, c) + clean(id)
}

// RootPrefix returns the prefix that covers every entry under prefix.
func RootPrefix(prefix string) string {
	return clean(prefix) + sep
}

// ParseKey splits a key produced by Key back into its category and id.
func ParseKey(key string) (models.Category, string, bool) {
	parts := strings.Split(key, sep)
	if len(parts) != 4 || parts[3] == "" {
		return models.Category{}, "", false
	}
	c := models.Category{Language: unescaper.Replace(parts[1]), Framework: unescaper.Replace(parts[2])}
	return c, unescaper.Replace(parts[3]), true
}
