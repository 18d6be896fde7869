package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/simcron/internal/app"
)

// recoverCmd runs one retry planner scan and exits.
var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Run one recovery scan over failed transfer tasks",
	Long: `Scan failed transfer tasks inside the lookback window once and apply
the recovery strategy chosen for each: automated completion, relay routing,
direct retry or escalation.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a := app.New(cfg, log)
		defer func() { _ = a.Shutdown() }()

		stats, err := a.RecoverOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "🔁 %s\n", stats)
		return nil
	},
}
