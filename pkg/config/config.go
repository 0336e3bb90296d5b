package config

import (
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// Config holds all semcache configuration.
type Config struct {
	Listen     string           `yaml:"listen"`
	DBPath     string           `yaml:"db_path"`
	Log        LogConfig        `yaml:"log"`
	Store      StoreConfig      `yaml:"store"`
	Cache      CacheConfig      `yaml:"cache"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Providers  []ProviderConfig `yaml:"providers"`
	Router     RouterConfig     `yaml:"router"`
	Tracking   TrackingConfig   `yaml:"tracking"`
}

// LogConfig controls the process logger.
// Format is "console" (default) or "json".
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StoreConfig selects the cache store backend.
// Backend is "sqlite" (default), "redis" or "memory".
type StoreConfig struct {
	Backend string      `yaml:"backend"`
	Prefix  string      `yaml:"prefix"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig points at a Redis server.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CacheConfig controls the semantic cache.
type CacheConfig struct {
	Enabled            bool          `yaml:"enabled"`
	TTL                time.Duration `yaml:"ttl"`
	MaxEntries         int           `yaml:"max_entries"`
	EvictMargin        int           `yaml:"evict_margin"`
	Threshold          float64       `yaml:"threshold"`
	InclusiveThreshold bool          `yaml:"inclusive_threshold"`
}

// EmbeddingConfig selects the embedding model.
// Provider is "hashing" (default, local) or "ollama".
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"`
	Dimensions int           `yaml:"dimensions"`
	URL        string        `yaml:"url"`
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"timeout"`
}

// GenerationConfig controls calls to the generation backend.
type GenerationConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// ProviderConfig defines an upstream generation backend.
// Type is "ollama" (default) or "openai".
type ProviderConfig struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	Type   string `yaml:"type"`
	Model  string `yaml:"model"`
}

// RouterConfig defines fallback chains per request kind.
type RouterConfig struct {
	Routes []RouteConfig `yaml:"routes"`
}

// RouteConfig maps a request kind ("completion", "chat", a suggestion type
// or a chat mode) to an ordered list of targets.
type RouteConfig struct {
	Kind    string        `yaml:"kind"`
	Targets []RouteTarget `yaml:"targets"`
}

// RouteTarget identifies a specific provider and model in a fallback chain.
type RouteTarget struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// TrackingConfig controls the per-request tracker.
type TrackingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		DBPath: "semcache.db",
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Store: StoreConfig{
			Backend: "sqlite",
			Prefix:  "semcache",
			Redis:   RedisConfig{Addr: "localhost:6379"},
		},
		Cache: CacheConfig{
			Enabled:     true,
			TTL:         7 * 24 * time.Hour,
			MaxEntries:  1000,
			EvictMargin: 100,
			Threshold:   0.85,
		},
		Embedding: EmbeddingConfig{
			Provider:   "hashing",
			Dimensions: 384,
			URL:        "http://localhost:11434",
			Model:      "all-minilm",
			Timeout:    10 * time.Second,
		},
		Generation: GenerationConfig{
			Timeout: 2 * time.Minute,
		},
		Tracking: TrackingConfig{
			Enabled: true,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "read config", goerr.V("path", path))
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, goerr.Wrap(err, "parse config", goerr.V("path", path))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "sqlite", "redis", "memory":
	default:
		return goerr.New("unknown store backend", goerr.V("backend", c.Store.Backend))
	}
	switch c.Embedding.Provider {
	case "hashing", "ollama":
	default:
		return goerr.New("unknown embedding provider", goerr.V("provider", c.Embedding.Provider))
	}
	if c.Embedding.Dimensions <= 0 {
		return goerr.New("embedding dimensions must be positive", goerr.V("dimensions", c.Embedding.Dimensions))
	}
	if c.Cache.Threshold < -1 || c.Cache.Threshold > 1 {
		return goerr.New("cache threshold must be within [-1, 1]", goerr.V("threshold", c.Cache.Threshold))
	}
	if c.Cache.MaxEntries <= 0 {
		return goerr.New("cache max_entries must be positive", goerr.V("max_entries", c.Cache.MaxEntries))
	}
	if c.Cache.EvictMargin < 0 || c.Cache.EvictMargin > c.Cache.MaxEntries {
		return goerr.New("cache evict_margin must be within [0, max_entries]",
			goerr.V("evict_margin", c.Cache.EvictMargin), goerr.V("max_entries", c.Cache.MaxEntries))
	}
	for _, p := range c.Providers {
		switch p.Type {
		case "", "ollama", "openai":
		default:
			return goerr.New("unknown provider type", goerr.V("provider", p.Name), goerr.V("type", p.Type))
		}
		if p.URL == "" {
			return goerr.New("provider url is required", goerr.V("provider", p.Name))
		}
	}
	return nil
}
