// Package semcache answers "do we already have a usable suggestion for this
// context" and persists new suggestions, bounding the cache by evicting the
// least useful entries.
package semcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/m-mizutani/goerr/v2"

	"github.com/pario-ai/semcache/pkg/ctxbuild"
	"github.com/pario-ai/semcache/pkg/embedding"
	"github.com/pario-ai/semcache/pkg/logging"
	"github.com/pario-ai/semcache/pkg/models"
	"github.com/pario-ai/semcache/pkg/similarity"
	"github.com/pario-ai/semcache/pkg/store"
)

var (
	// ErrEmptySuggestion is returned by Store for blank suggestions.
	ErrEmptySuggestion = goerr.New("suggestion is empty")

	errCorrupt = goerr.New("corrupt cache entry")
)

// Embedder produces normalized context embeddings. It never fails; the
// zero vector signals that no embedding is available.
type Embedder interface {
	Embed(ctx context.Context, text string) []float32
}

// Config controls lookup and eviction.
type Config struct {
	Prefix             string
	TTL                time.Duration
	MaxEntries         int
	EvictMargin        int
	Threshold          float64
	InclusiveThreshold bool
}

// Manager coordinates embedding, similarity search and the store.
type Manager struct {
	store    store.Store
	embedder Embedder
	cfg      Config
	now      func() time.Time
	seq      atomic.Uint64
	hits     atomic.Int64
	misses   atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager.
func New(s store.Store, e Embedder, cfg Config, opts ...Option) *Manager {
	m := &Manager{store: s, embedder: e, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lookup returns the cached suggestion most similar to c within c's
// namespace. A hit bumps the entry's hit count and timestamp. Any store
// problem is logged and reported as a miss.
func (m *Manager) Lookup(ctx context.Context, c ctxbuild.Context) (string, bool) {
	logger := logging.From(ctx)
	category := c.Category()

	vec := m.embedder.Embed(ctx, c.Text())
	if embedding.IsZero(vec) {
		m.misses.Add(1)
		return "", false
	}

	keys, err := m.store.Keys(ctx, store.NamespacePrefix(m.cfg.Prefix, category))
	if err != nil {
		logger.Warn("cache lookup failed", slog.String("category", category.String()), logging.ErrorAttr(err))
		m.misses.Add(1)
		return "", false
	}

	var (
		best      *models.CacheEntry
		bestKey   string
		bestScore = math.Inf(-1)
	)
	for _, key := range keys {
		entry, err := m.load(ctx, key)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				logger.Debug("skip cache entry", slog.String("key", key), logging.ErrorAttr(err))
			}
			continue
		}
		score := similarity.Cosine(vec, entry.Embedding)
		if m.accepts(score) && score > bestScore {
			best, bestKey, bestScore = entry, key, score
		}
	}

	if best == nil {
		m.misses.Add(1)
		logger.Debug("cache miss", slog.String("category", category.String()), slog.Int("candidates", len(keys)))
		return "", false
	}

	best.HitCount++
	best.Timestamp = m.now()
	if err := m.put(ctx, bestKey, best); err != nil {
		logger.Warn("persist cache hit failed", slog.String("key", bestKey), logging.ErrorAttr(err))
	}

	m.hits.Add(1)
	logger.Debug("cache hit",
		slog.String("category", category.String()),
		slog.String("id", best.ID),
		slog.Float64("similarity", bestScore),
		slog.Int64("hit_count", best.HitCount),
	)
	return best.Suggestion, true
}

func (m *Manager) accepts(score float64) bool {
	if m.cfg.InclusiveThreshold {
		return score >= m.cfg.Threshold
	}
	return score > m.cfg.Threshold
}

// Store persists suggestion as the answer for c and then enforces the
// capacity bound. Contexts that cannot be embedded are not cached.
func (m *Manager) Store(ctx context.Context, c ctxbuild.Context, suggestion string) error {
	if strings.TrimSpace(suggestion) == "" {
		return ErrEmptySuggestion
	}
	logger := logging.From(ctx)
	category := c.Category()
	text := c.Text()

	vec := m.embedder.Embed(ctx, text)
	if embedding.IsZero(vec) {
		logger.Warn("skip caching entry without embedding", slog.String("category", category.String()))
		return nil
	}

	now := m.now()
	entry := &models.CacheEntry{
		ID:         m.newID(c, now),
		Context:    text,
		Embedding:  vec,
		Suggestion: suggestion,
		Category:   category,
		Timestamp:  now,
	}
	key := store.Key(m.cfg.Prefix, category, entry.ID)
	if err := m.put(ctx, key, entry); err != nil {
		return err
	}

	if _, err := m.Evict(ctx); err != nil {
		logger.Warn("cache eviction failed", logging.ErrorAttr(err))
	}
	return nil
}

// Evict brings the cache back under MaxEntries-EvictMargin once it exceeds
// MaxEntries, removing entries with the fewest hits first and the oldest
// among equals. Corrupt entries found during the sweep are always removed.
// It returns the number of deleted keys.
func (m *Manager) Evict(ctx context.Context) (int, error) {
	keys, err := m.store.Keys(ctx, store.RootPrefix(m.cfg.Prefix))
	if err != nil {
		return 0, goerr.Wrap(err, "list cache keys")
	}
	if len(keys) <= m.cfg.MaxEntries {
		return 0, nil
	}

	type ranked struct {
		key       string
		hitCount  int64
		timestamp time.Time
	}
	live := make([]ranked, 0, len(keys))
	var corrupt []string
	for _, key := range keys {
		entry, err := m.load(ctx, key)
		switch {
		case err == nil:
			live = append(live, ranked{key: key, hitCount: entry.HitCount, timestamp: entry.Timestamp})
		case errors.Is(err, store.ErrNotFound):
		case errors.Is(err, errCorrupt):
			corrupt = append(corrupt, key)
		default:
			return 0, goerr.Wrap(err, "load cache entry", goerr.V("key", key))
		}
	}

	victims := corrupt
	target := max(m.cfg.MaxEntries-m.cfg.EvictMargin, 0)
	if excess := len(live) - target; excess > 0 {
		sort.SliceStable(live, func(i, j int) bool {
			if live[i].hitCount != live[j].hitCount {
				return live[i].hitCount < live[j].hitCount
			}
			return live[i].timestamp.Before(live[j].timestamp)
		})
		for _, r := range live[:excess] {
			victims = append(victims, r.key)
		}
	}
	if len(victims) == 0 {
		return 0, nil
	}

	if err := m.store.Delete(ctx, victims...); err != nil {
		return 0, goerr.Wrap(err, "delete evicted entries", goerr.V("count", len(victims)))
	}
	logging.From(ctx).Info("cache evicted",
		slog.Int("removed", len(victims)),
		slog.Int("corrupt", len(corrupt)),
		slog.Int("remaining", len(keys)-len(victims)),
	)
	return len(victims), nil
}

// Stats summarizes the cache without modifying it.
func (m *Manager) Stats(ctx context.Context) (models.CacheStats, error) {
	stats := models.CacheStats{
		ByCategory: make(map[string]int64),
		Hits:       m.hits.Load(),
		Misses:     m.misses.Load(),
	}

	keys, err := m.store.Keys(ctx, store.RootPrefix(m.cfg.Prefix))
	if err != nil {
		return stats, goerr.Wrap(err, "list cache keys")
	}

	for _, key := range keys {
		entry, err := m.load(ctx, key)
		if err != nil {
			continue
		}
		stats.Total++
		stats.ByCategory[entry.Category.String()]++

		ts := entry.Timestamp
		if stats.Oldest == nil || ts.Before(*stats.Oldest) {
			stats.Oldest = &ts
		}
		if stats.Newest == nil || ts.After(*stats.Newest) {
			stats.Newest = &ts
		}
	}

	now := m.now()
	if stats.Oldest != nil {
		stats.OldestAgeMs = now.Sub(*stats.Oldest).Milliseconds()
		stats.NewestAgeMs = now.Sub(*stats.Newest).Milliseconds()
	}
	return stats, nil
}

// Clear deletes every entry under the configured prefix.
func (m *Manager) Clear(ctx context.Context) (int, error) {
	keys, err := m.store.Keys(ctx, store.RootPrefix(m.cfg.Prefix))
	if err != nil {
		return 0, goerr.Wrap(err, "list cache keys")
	}
	if err := m.store.Delete(ctx, keys...); err != nil {
		return 0, goerr.Wrap(err, "clear cache")
	}
	return len(keys), nil
}

func (m *Manager) load(ctx context.Context, key string) (*models.CacheEntry, error) {
	raw, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var entry models.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, goerr.Wrap(errCorrupt, err.Error(), goerr.V("key", key))
	}
	if len(entry.Embedding) == 0 {
		return nil, goerr.Wrap(errCorrupt, "missing embedding", goerr.V("key", key))
	}
	return &entry, nil
}

func (m *Manager) put(ctx context.Context, key string, entry *models.CacheEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return goerr.Wrap(err, "marshal cache entry", goerr.V("key", key))
	}
	return m.store.Set(ctx, key, raw, m.cfg.TTL)
}

// newID derives an id from the context's locality and kind plus the
// creation time. The sequence suffix keeps ids unique within a process when
// the clock does not advance between writes.
func (m *Manager) newID(c ctxbuild.Context, now time.Time) string {
	h := xxhash.Sum64String(c.Locality() + "|" + c.Kind())
	return fmt.Sprintf("%016x%s%s", h,
		strconv.FormatInt(now.UnixNano(), 36),
		strconv.FormatUint(m.seq.Add(1), 36))
}
