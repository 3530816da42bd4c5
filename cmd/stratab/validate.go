package main

import (
	"fmt"

	"github.com/fenilsonani/stratab/internal/explorer"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config.json>",
		Short: "Validate an experiment configuration",
		Long:  "Parse and validate a configuration file without running anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := explorer.LoadConfig(args[0]); err != nil {
				return err
			}
			fmt.Printf("%s is valid\n", args[0])
			return nil
		},
	}
}
