package main

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"

	"github.com/pario-ai/semcache/pkg/gateway"
	"github.com/pario-ai/semcache/pkg/logging"
	"github.com/pario-ai/semcache/pkg/tracker"
)

func newServeCmd(configPath *string) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the streaming completion and chat gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, ctx, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}

			manager, closeStore, err := openManager(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			var opts []gateway.Option
			if cfg.Tracking.Enabled {
				tr, err := tracker.New(cfg.DBPath)
				if err != nil {
					return goerr.Wrap(err, "init tracker", goerr.V("path", cfg.DBPath))
				}
				defer func() { _ = tr.Close() }()
				opts = append(opts, gateway.WithTracker(tr))
			}

			srv := gateway.New(cfg, manager, opts...)

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logging.From(ctx).Info("starting semcache",
				slog.String("config", *configPath),
				slog.String("store", cfg.Store.Backend),
				slog.String("embedding", cfg.Embedding.Provider),
				slog.Int("providers", len(cfg.Providers)),
			)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "override the listen address")
	return cmd
}
