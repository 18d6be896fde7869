package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/simcron/internal/app"
)

var runHour int

// runCmd executes one job from the table immediately, outside the schedule.
var runCmd = &cobra.Command{
	Use:   "run <job>",
	Short: "Run a single job once",
	Long: `Run the named job once through the job runner, exactly as the dispatcher
would: output tail, alert on failure and a job run record in the store.

The run does not take the dispatcher's single-run slot, so only use it
while serve is stopped or for jobs that tolerate overlap.`,
	Args: cobra.ExactArgs(1),
	RunE: runHandler,
}

func init() {
	runCmd.Flags().IntVar(&runHour, "hour", -1, "Force the simulated hour (0-23) passed to clock-aware jobs")
}

func runHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyHourFlag(cfg, runHour, cmd.Flags().Changed("hour")); err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := app.New(cfg, log)
	if err := a.Initialize(ctx); err != nil {
		return err
	}
	defer func() { _ = a.Shutdown() }()

	desc, ok := a.Table().Lookup(args[0])
	if !ok {
		return fmt.Errorf("job %q not found in %s", args[0], cfg.Dispatcher.JobsFile)
	}

	res := a.Runner().Execute(ctx, desc, cfg.Clock.ForcedHour)
	out := cmd.OutOrStdout()
	for _, line := range res.Tail {
		fmt.Fprintln(out, line)
	}
	switch {
	case res.Interrupted:
		fmt.Fprintf(out, "⏹ %s interrupted after %s\n", desc.Name, res.Duration.Round(time.Millisecond))
		return nil
	case res.Err != nil:
		return fmt.Errorf("job %s failed: %w", desc.Name, res.Err)
	}
	fmt.Fprintf(out, "✅ %s finished in %s\n", desc.Name, res.Duration.Round(time.Millisecond))
	return nil
}
