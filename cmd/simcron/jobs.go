package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/simcron/internal/jobs"
)

// jobsCmd prints the job table in dispatch order.
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List and validate the job table",
	Long: `Load the job table referenced by dispatcher.jobs_file, validate it and
print every job in table order. Daily jobs run in this order within a tick.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		table, err := jobs.LoadTable(cfg.Dispatcher.JobsFile)
		if err != nil {
			return err
		}
		return printTable(cmd, table)
	},
}

func printTable(cmd *cobra.Command, table jobs.Table) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tNAME\tCADENCE\tCLOCK\tCOMMAND")
	for i, d := range table.Jobs {
		clockAware := ""
		if d.ClockAware {
			clockAware = "yes"
		}
		command := strings.TrimSpace(d.Command + " " + strings.Join(d.Args, " "))
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, d.Name, d.Cadence, clockAware, command)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n✅ %d jobs (%d frequent, %d daily)\n",
		len(table.Jobs), len(table.Frequent()), len(table.Daily()))
	return nil
}
