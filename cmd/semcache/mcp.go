package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pario-ai/semcache/pkg/logging"
	"github.com/pario-ai/semcache/pkg/mcp"
	"github.com/pario-ai/semcache/pkg/tracker"
)

func newMCPCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve cache and request statistics as an MCP stdio server",
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

			var tr tracker.Tracker
			if cfg.Tracking.Enabled {
				t, err := tracker.New(cfg.DBPath)
				if err != nil {
					return err
				}
				defer func() { _ = t.Close() }()
				tr = t
			}

			logging.From(ctx).Info("semcache mcp server ready")
			return mcp.New(tr, m, version).Run(ctx, os.Stdin, os.Stdout)
		},
	}
}
