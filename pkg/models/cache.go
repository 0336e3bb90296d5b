package models

import (
	"strings"
	"time"
)

// ChatLanguage is the language tag that marks a conversational namespace.
const ChatLanguage = "Chat"

// Category is the two-part namespace of a cache entry: (language, framework)
// for code contexts or (Chat, mode) for conversational ones.
type Category struct {
	Language  string `json:"language"`
	Framework string `json:"framework"`
}

// String renders the category as "language/framework".
func (c Category) String() string {
	return c.Language + "/" + c.Framework
}

// IsChat reports whether the category belongs to a chat mode.
func (c Category) IsChat() bool {
	return strings.EqualFold(c.Language, ChatLanguage)
}

// CacheEntry stores a cached AI suggestion together with the embedding of
// the context that produced it.
type CacheEntry struct {
	ID         string    `json:"id"`
	Context    string    `json:"context"`
	Embedding  []float32 `json:"embedding"`
	Suggestion string    `json:"suggestion"`
	Category   Category  `json:"category"`
	Timestamp  time.Time `json:"timestamp"`
	HitCount   int64     `json:"hit_count"`
}

// CacheStats reports the contents of the semantic cache. Ages are in
// milliseconds relative to the time the stats were taken.
type CacheStats struct {
	Total       int64            `json:"total"`
	ByCategory  map[string]int64 `json:"byCategory"`
	Oldest      *time.Time       `json:"oldest,omitempty"`
	Newest      *time.Time       `json:"newest,omitempty"`
	OldestAgeMs int64            `json:"oldestAge"`
	NewestAgeMs int64            `json:"newestAge"`
	Hits        int64            `json:"hits"`
	Misses      int64            `json:"misses"`
}
