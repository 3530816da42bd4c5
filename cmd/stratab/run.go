package main

import (
	"fmt"
	"os"

	"github.com/fenilsonani/stratab/internal/explorer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCommand() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "run <config.json>",
		Short: "Run an experiment",
		Long:  "Load the configured synthetic relation and time its queries, printing a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := explorer.LoadConfig(args[0])
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			logger := zap.NewNop()
			if verbose {
				if logger, err = zap.NewDevelopment(); err != nil {
					return fmt.Errorf("failed to build logger: %w", err)
				}
				defer logger.Sync()
			}

			report, err := explorer.NewRunner(cfg, logger).Run()
			if err != nil {
				return fmt.Errorf("experiment failed: %w", err)
			}
			report.Render(os.Stdout)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log engine activity while running")

	return cmd
}
