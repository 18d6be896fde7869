package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/simcron/internal/jobs"
	"github.com/aatumaykin/simcron/internal/store"
)

var runsLimit int

// runsCmd lists the most recent job runs recorded in the store.
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent job runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(cfg)
		if err != nil {
			return err
		}

		ctx := context.Background()
		st, err := store.Open(ctx, cfg.Store, log)
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.RecentJobRuns(ctx, runsLimit)
		if err != nil {
			return err
		}
		return printRuns(cmd, runs)
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Number of runs to show")
}

func printRuns(cmd *cobra.Command, runs []jobs.RunRecord) error {
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no job runs recorded")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tJOB\tSTATUS\tEXIT\tDURATION\tHOUR")
	for _, r := range runs {
		hour := "-"
		if r.ForcedHour != nil {
			hour = fmt.Sprintf("%02d", *r.ForcedHour)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime), r.Job, r.Status, r.ExitCode,
			r.Duration().Round(time.Millisecond), hour)
	}
	return w.Flush()
}
