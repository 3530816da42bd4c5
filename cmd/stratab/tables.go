package main

import (
	"fmt"

	"github.com/fenilsonani/stratab/internal/explorer"
	"github.com/spf13/cobra"
)

func newTablesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "Describe the synthetic tables",
		Long:  "Print the schema of each synthetic table an experiment can use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, choice := range []explorer.TableChoice{
				explorer.TableNarrowE,
				explorer.TableNarrowU,
				explorer.TableWideE,
				explorer.TableStrings,
			} {
				relation := explorer.NewDataGenerator(choice).GenerateRelation()
				fmt.Printf("%s (%s): %d columns, %d bytes per tuple\n",
					choice, relation.Name(), relation.NumAttributes(), relation.FixedByteLength())
				for _, attr := range relation.Attributes() {
					fmt.Printf("  %2d  %-12s %s\n", attr.ID(), attr.Name(), attr.Type())
				}
			}
			return nil
		},
	}
}
