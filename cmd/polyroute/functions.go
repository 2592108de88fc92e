package main

import (
	"encoding/json"
	"fmt"

	"github.com/polyroute/polyroute/internal/catalog"
	"github.com/polyroute/polyroute/internal/partition"
	"github.com/polyroute/polyroute/pkg/types"
	"github.com/spf13/cobra"
)

func newFunctionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "functions [type]",
		Short: "Print the partition function descriptors as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			factory := partition.NewFactory(catalog.NewMemoryCatalog())

			var out interface{} = factory.Descriptors()
			if len(args) == 1 {
				pt, err := types.ParsePartitionType(args[0])
				if err != nil {
					return err
				}
				if pt == types.PartitionNone {
					return fmt.Errorf("%s is not a partition function", pt)
				}
				m, err := factory.Manager(pt)
				if err != nil {
					return err
				}
				out = m.FunctionInfo()
			}

			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}
