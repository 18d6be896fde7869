package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/simcron/internal/config"
	"github.com/aatumaykin/simcron/internal/logger"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Validate simcron configuration.`,
}

// configValidateCmd represents the config validate command
var configValidateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file and report every error found.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.NewWithWriter(cmd.OutOrStdout(), "info", "text")

		path := configPath
		if len(args) > 0 {
			path = args[0]
		}

		log.Info("Validating configuration", logger.Field{Key: "path", Value: path})

		cfg, err := config.Load(path)
		if err != nil {
			log.Error("Failed to load config", err)
			return err
		}

		if errs := cfg.Validate(); len(errs) > 0 {
			for _, e := range errs {
				log.Error("Validation error", e)
			}
			return fmt.Errorf("config validation failed: %d errors", len(errs))
		}

		log.Info("Configuration is valid",
			logger.Field{Key: "timezone", Value: cfg.Clock.Timezone},
			logger.Field{Key: "jobs_file", Value: cfg.Dispatcher.JobsFile},
			logger.Field{Key: "telegram_token", Value: cfg.MaskedTelegramToken()})
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}
