package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"

	"github.com/pario-ai/semcache/pkg/store/sqlite"
)

func newCacheCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the semantic cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, ctx, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			m, closeStore, err := openManager(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			stats, err := m.Stats(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Entries: %s\n", humanize.Comma(stats.Total))
			if stats.Oldest != nil && stats.Newest != nil {
				fmt.Printf("Oldest:  %s\n", humanize.Time(*stats.Oldest))
				fmt.Printf("Newest:  %s\n", humanize.Time(*stats.Newest))
			}
			if len(stats.ByCategory) == 0 {
				return nil
			}

			cats := make([]string, 0, len(stats.ByCategory))
			for c := range stats.ByCategory {
				cats = append(cats, c)
			}
			sort.Strings(cats)

			fmt.Println()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CATEGORY\tENTRIES")
			for _, c := range cats {
				fmt.Fprintf(w, "%s\t%s\n", c, humanize.Comma(stats.ByCategory[c]))
			}
			return w.Flush()
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cache entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, ctx, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			m, closeStore, err := openManager(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			n, err := m.Clear(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Cleared %s cache entries.\n", humanize.Comma(int64(n)))
			return nil
		},
	}

	evictCmd := &cobra.Command{
		Use:   "evict",
		Short: "Run eviction now if the cache is over its ceiling",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, ctx, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			m, closeStore, err := openManager(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			n, err := m.Evict(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Evicted %s cache entries.\n", humanize.Comma(int64(n)))
			return nil
		},
	}

	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Reclaim expired rows from the SQLite store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, ctx, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			if cfg.Store.Backend != "sqlite" {
				return goerr.New("purge only applies to the sqlite backend", goerr.V("backend", cfg.Store.Backend))
			}

			s, err := sqlite.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			start := time.Now()
			n, err := s.Purge(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Purged %s expired rows in %s.\n", humanize.Comma(n), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.AddCommand(statsCmd, clearCmd, evictCmd, purgeCmd)
	return cmd
}
