package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"

	"github.com/pario-ai/semcache/pkg/config"
	"github.com/pario-ai/semcache/pkg/embedding"
	"github.com/pario-ai/semcache/pkg/logging"
	"github.com/pario-ai/semcache/pkg/semcache"
	"github.com/pario-ai/semcache/pkg/store"
	"github.com/pario-ai/semcache/pkg/store/memory"
	"github.com/pario-ai/semcache/pkg/store/redis"
	"github.com/pario-ai/semcache/pkg/store/sqlite"
)

// loadConfig reads the config file and installs the process logger. A
// missing file falls back to defaults unless --config was given explicitly.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, context.Context, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || cmd.Flags().Changed("config") {
			return nil, nil, err
		}
		cfg = config.Default()
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}, os.Stderr)
	logging.SetDefault(logger)
	return cfg, logging.With(cmd.Context(), logger), nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return memory.New(), nil
	case "redis":
		r := cfg.Store.Redis
		return redis.Dial(ctx, r.Addr, r.Password, r.DB)
	case "sqlite":
		return sqlite.New(cfg.DBPath)
	default:
		return nil, goerr.New("unknown store backend", goerr.V("backend", cfg.Store.Backend))
	}
}

func newEmbedder(cfg *config.Config) *embedding.Service {
	e := cfg.Embedding
	if e.Provider == "ollama" {
		o := embedding.NewOllama(e.URL, e.Model, e.Dimensions, e.Timeout)
		return embedding.NewService(embedding.OllamaLoader(o), e.Dimensions)
	}
	return embedding.NewService(embedding.HashingLoader(e.Dimensions), e.Dimensions)
}

func cacheConfig(cfg *config.Config) semcache.Config {
	return semcache.Config{
		Prefix:             cfg.Store.Prefix,
		TTL:                cfg.Cache.TTL,
		MaxEntries:         cfg.Cache.MaxEntries,
		EvictMargin:        cfg.Cache.EvictMargin,
		Threshold:          cfg.Cache.Threshold,
		InclusiveThreshold: cfg.Cache.InclusiveThreshold,
	}
}

// openManager wires a cache manager and returns a cleanup func closing its store.
func openManager(ctx context.Context, cfg *config.Config) (*semcache.Manager, func(), error) {
	s, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "open cache store", goerr.V("backend", cfg.Store.Backend))
	}
	closer := func() {
		if err := s.Close(); err != nil {
			logging.From(ctx).Warn("close cache store", logging.ErrorAttr(err))
		}
	}
	m := semcache.New(s, newEmbedder(cfg), cacheConfig(cfg))
	logging.From(ctx).Debug("cache store opened", slog.String("backend", cfg.Store.Backend))
	return m, closer, nil
}
