package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/l1jgo/worldcore/internal/data"
	"github.com/l1jgo/worldcore/internal/resource"
)

func newDumpCmd() *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "dump FILE",
		Short: "Print the entries of a binary collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			var desc resource.CollectionDescriptor
			if err := desc.Load(f); err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			if asYAML {
				raw, err := data.MarshalCollectionManifest(&desc)
				if err != nil {
					return err
				}
				_, err = out.Write(raw)
				return err
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tNAME\tID\tSIZE")
			for _, e := range desc.Entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", e.AssetTypeName, e.NiceName, e.ResourceID, e.FileSize)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print as a YAML manifest")
	return cmd
}
