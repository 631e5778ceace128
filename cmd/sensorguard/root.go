package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/hed1ad/sensorguard/internal/config"
	"github.com/hed1ad/sensorguard/internal/logging"
)

// newRootCommand returns the sensorguard command tree. Flag defaults come
// from cfg, so flags override the environment.
func newRootCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sensorguard",
		Short:         "Autoencoder anomaly detection for 2-axis position sensors",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(cfg.Log, os.Stderr)
			if err != nil {
				return err
			}
			cmd.SetContext(logging.WithLogger(cmd.Context(), logger))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logging.FromContext(cmd.Context()).Sync()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level: debug, info, warn or error")
	flags.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "log format: console or json")
	flags.StringVar(&cfg.Log.File, "log-file", cfg.Log.File, "also write JSON logs to this rotated file")

	cmd.AddCommand(
		newRunCommand(cfg),
		newScoreCommand(cfg),
	)
	return cmd
}
