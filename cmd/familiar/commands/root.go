package commands

import (
	"github.com/MEKXH/familiar/internal/config"
	"github.com/spf13/cobra"
)

var logLevelOverride string

// loadConfig is replaced in tests.
var loadConfig = config.Load

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "familiar",
		Short: "Familiar - local sidecar for the Claude agent",
		Long: `Familiar runs between the desktop app and the Claude agent CLI. It streams
agent events over HTTP and brokers tool permission requests.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return configureLogger(cfg, logLevelOverride)
		},
	}

	cmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "", "Override log level (debug|info|warn|error)")

	cmd.AddCommand(
		NewServeCmd(),
		NewStatusCmd(),
		NewApproveCmd(),
		NewAuthCmd(),
		NewVersionCmd(),
	)

	return cmd
}
