package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/simcron/internal/app"
	"github.com/aatumaykin/simcron/internal/logger"
	"github.com/aatumaykin/simcron/internal/version"
)

var serveHour int

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dispatcher and the recovery scheduler (main command)",
	Long: `Start simcron with the given configuration.

Every tick the dispatcher launches the frequent jobs due at the current
minute and then the daily jobs due at the current simulated hour. The
recovery planner rescans failed transfer tasks on its own schedule.

SIGINT or SIGTERM stops the scheduler, interrupts running jobs and exits
with a single shutdown line.`,
	RunE: serveHandler,
}

func init() {
	serveCmd.Flags().IntVar(&serveHour, "hour", -1, "Force the simulated hour (0-23); -1 uses the real clock")
}

func serveHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyHourFlag(cfg, serveHour, cmd.Flags().Changed("hour")); err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	log.Info("🚀 Starting simcron",
		logger.Field{Key: "version", Value: version.Version},
		logger.Field{Key: "git_commit", Value: version.GitCommit},
		logger.Field{Key: "config", Value: configPath},
		logger.Field{Key: "jobs_file", Value: cfg.Dispatcher.JobsFile})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.New(cfg, log).Run(ctx); err != nil {
		log.Error("simcron stopped with error", err)
		return err
	}
	return nil
}
