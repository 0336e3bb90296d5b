package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"

	"github.com/pario-ai/semcache/pkg/tracker"
)

func newStatsCmd(configPath *string) *cobra.Command {
	var (
		since  string
		recent int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show gateway request statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, ctx, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}

			from := time.Now().UTC().Add(-24 * time.Hour)
			if since != "" {
				from, err = time.Parse("2006-01-02", since)
				if err != nil {
					return goerr.Wrap(err, "invalid --since date (use YYYY-MM-DD)", goerr.V("since", since))
				}
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer tr.Close()

			if recent > 0 {
				records, err := tr.Recent(ctx, recent)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Println("No requests found.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "WHEN\tKIND\tCATEGORY\tOUTCOME\tPROVIDER\tLATENCY\tTOKENS")
				for _, r := range records {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%dms\t%d\n",
						humanize.Time(r.CreatedAt), r.Kind, r.Category, r.Outcome, r.Provider, r.LatencyMs, r.Tokens)
				}
				return w.Flush()
			}

			rows, err := tr.Summary(ctx, from)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Println("No requests found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CATEGORY\tREQUESTS\tHITS\tMISSES\tERRORS\tCANCELLED\tHIT RATE\tAVG LATENCY\tTOKENS")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%.1f%%\t%.0fms\t%s\n",
					r.Category, humanize.Comma(int64(r.RequestCount)), r.Hits, r.Misses, r.Errors, r.Cancelled,
					r.HitRate()*100, r.AvgLatencyMs, humanize.Comma(int64(r.TotalTokens)))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD), defaults to the last 24 hours")
	cmd.Flags().IntVar(&recent, "recent", 0, "list the N most recent requests instead of the summary")
	return cmd
}
