package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "stratab",
		Short: "A block storage engine layout explorer",
		Long: `Stratab is a relational storage engine core that experiments with
alternative in-memory tuple layouts: row- versus column-oriented storage,
optional per-attribute compression and auxiliary indexes. The explorer
loads synthetic relations into fixed-size storage blocks and times
predicate evaluation and selection queries across worker pools.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}

	// Add commands
	rootCmd.AddCommand(
		newRunCommand(),
		newValidateCommand(),
		newTablesCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
