// Package commands implements quizctl, the operator CLI for the pipeline.
package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/amrrdev/quizscan/internal/config"
	"github.com/spf13/cobra"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "quizctl",
	Short:         "Operate the quizscan pipeline",
	Long:          `quizctl inspects and replays dead-lettered messages, shows job state and mints development tokens.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		return err
	},
}

// Execute runs the root command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
