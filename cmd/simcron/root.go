package main

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "simcron",
	Short: "simcron - simulation job dispatcher and transfer recovery",
	Long: `simcron drives the background side of a simulation: it launches the
per-minute and daily simulation jobs, keeps at most one run of each job in
flight, and periodically repairs failed resource transfers.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.toml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "Override log level (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(runsCmd)
}
