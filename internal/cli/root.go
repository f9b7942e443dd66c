// Package cli implements the frontdesk command tree.
package cli

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/frontdesk-ai/frontdesk/pkg/config"
	"github.com/frontdesk-ai/frontdesk/pkg/logging"
)

var (
	cfgFile  string
	logLevel string

	// loaded at init time
	cfg config.Config
	log *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "frontdesk",
		Short: "Frontdesk — telephone voice assistant bridge",
		Long:  "Frontdesk bridges telephone calls to a real-time speech agent: audio transcoding, turn-taking, business function calls, and persisted call records.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Missing .env is fine; real deployments use the environment.
			_ = godotenv.Load()

			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			level := logLevel
			if level == "" {
				level = cfg.Logging.Level
			}
			log = logging.New(nil, level, cfg.Logging.Format)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "frontdesk.yaml", "config file")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, silent)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
