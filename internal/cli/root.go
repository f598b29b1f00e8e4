// Package cli provides the omnichat command-line interface.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/omnichat/server/internal/config"
)

// Version is set at build time.
var Version = "0.1.0"

var (
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "omnichat",
	Short: "Two-speaker live translation server",
	Long: `Omnichat lets two people who speak different languages hold one
conversation. Each message is shown to the other speaker in their language,
with smart replies and an on-demand summary.

Without a subcommand the server is started.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger, err = config.NewLogger(cfg.Log)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runServe,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(speakCmd)
	rootCmd.AddCommand(chatCmd)
}
